package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"liveboard/internal/display"
	"liveboard/internal/log"
)

// boardwatch is a terminal display client: it keeps one reconnecting channel
// to a liveboard server and prints each fact as it arrives. Useful for
// watching what the wall displays are being fed.

type widgetUpdate struct {
	ID    string `json:"id"`
	Value string `json:"value"`
	Lunar string `json:"lunar"`

	Temp      string `json:"temp"`
	Condition string `json:"condition"`
	High      string `json:"high"`
	Low       string `json:"low"`

	Today    []eventLine `json:"today"`
	Tomorrow []eventLine `json:"tomorrow"`
}

type eventLine struct {
	Summary string `json:"summary"`
	AllDay  bool   `json:"allDay"`
	Time    string `json:"time"`
	Badge   string `json:"badge"`
}

type displayUpdate struct {
	Brightness int `json:"brightness"`
}

func main() {
	serverURL := flag.String("server", "http://127.0.0.1:3000", "liveboard server base URL")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// This process plays the role of a wall display; report the host's own
	// UTC offset in getTimezoneOffset convention (negative east of UTC).
	_, secs := time.Now().Zone()
	offsetMinutes := -secs / 60

	client := display.New(*serverURL, offsetMinutes, display.Handlers{
		OnConfig: func(raw json.RawMessage) {
			fmt.Println("-- baseline received --")
		},
		OnUpdate:  printUpdate,
		OnDisplay: printDisplay,
		OnReload: func() {
			fmt.Println("-- reload requested by server --")
		},
		OnState: func(s display.State) {
			fmt.Printf("[%s]\n", s)
		},
	})

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("boardwatch stopped", err)
		os.Exit(1)
	}
}

func printUpdate(raw json.RawMessage) {
	var u widgetUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		log.Error("bad update payload", err)
		return
	}

	switch u.ID {
	case "date":
		fmt.Printf("date: %s  %s\n", u.Value, u.Lunar)
	case "weather":
		fmt.Printf("weather: %s°C %s (↑%s ↓%s)\n", u.Temp, u.Condition, u.High, u.Low)
	case "calendar":
		printAgenda("today", u.Today)
		printAgenda("tomorrow", u.Tomorrow)
	}
}

func printAgenda(label string, events []eventLine) {
	fmt.Printf("%s:\n", label)
	if len(events) == 0 {
		fmt.Println("  (no events)")
		return
	}
	for _, e := range events {
		when := e.Time
		if e.AllDay {
			when = "終日"
		}
		line := fmt.Sprintf("  %s  %s", when, e.Summary)
		if e.Badge != "" {
			line += "  [" + e.Badge + "]"
		}
		fmt.Println(line)
	}
}

func printDisplay(raw json.RawMessage) {
	var d displayUpdate
	if err := json.Unmarshal(raw, &d); err != nil {
		return
	}
	fmt.Printf("brightness: %d%%\n", d.Brightness)
}
