package display

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"liveboard/internal/log"
)

// State is the connection state of a display client. Transitions:
// Connecting → Connected → (on error) Reconnecting → Connecting.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	baseDelay = time.Second
	maxDelay  = 30 * time.Second
)

// Handlers receives decoded push events. Nil fields are skipped. OnConfig
// carries the full baseline (rebuild the whole display), OnUpdate a per-fact
// delta (patch only named fields), OnReload the full-reload directive.
type Handlers struct {
	OnConfig  func(json.RawMessage)
	OnUpdate  func(json.RawMessage)
	OnDisplay func(json.RawMessage)
	OnReload  func()
	OnState   func(State)
}

// Client maintains one logical channel to the server's /events stream with
// exponential-backoff reconnection. Run is single-threaded, so no two
// reconnect attempts can ever overlap.
type Client struct {
	url           string
	offsetMinutes int
	handlers      Handlers
	httpClient    *http.Client

	attempt int
	state   State
}

// New builds a client for the given server base URL (e.g.
// "http://127.0.0.1:3000"). offsetMinutes is this display's UTC offset in
// minutes, getTimezoneOffset convention.
func New(serverURL string, offsetMinutes int, h Handlers) *Client {
	return &Client{
		url:           strings.TrimSuffix(serverURL, "/"),
		offsetMinutes: offsetMinutes,
		handlers:      h,
		// No overall timeout: the stream is indefinitely lived. Dead peers
		// surface via the server keepalive going silent and read errors.
		httpClient: &http.Client{},
	}
}

// Run connects and keeps the channel alive until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		c.setState(StateConnecting)
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("display stream lost", err, "attempt", c.attempt)

		c.setState(StateReconnecting)
		delay := backoffDelay(c.attempt)
		c.attempt++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func backoffDelay(attempt int) time.Duration {
	if attempt >= 5 {
		return maxDelay
	}
	d := baseDelay << attempt
	if d > maxDelay {
		return maxDelay
	}
	return d
}

func (c *Client) setState(s State) {
	c.state = s
	if c.handlers.OnState != nil {
		c.handlers.OnState(s)
	}
}

func (c *Client) connect(ctx context.Context) error {
	url := c.url + "/events?tz=" + strconv.Itoa(c.offsetMinutes)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("display: connect: %s", resp.Status)
	}

	c.attempt = 0
	c.setState(StateConnected)

	return c.readStream(resp.Body)
}

// readStream parses SSE frames: "event:" selects the kind, "data:" lines
// accumulate the payload, a blank line dispatches, ":" lines are keepalive
// comments.
func (c *Client) readStream(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	event := ""
	var data []string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if len(data) > 0 || event != "" {
				c.dispatch(event, strings.Join(data, "\n"))
			}
			event = ""
			data = data[:0]
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("display: stream closed by server")
}

func (c *Client) dispatch(event, data string) {
	payload := json.RawMessage(data)
	switch event {
	case "config":
		if c.handlers.OnConfig != nil {
			c.handlers.OnConfig(payload)
		}
	case "update":
		if c.handlers.OnUpdate != nil {
			c.handlers.OnUpdate(payload)
		}
	case "display":
		if c.handlers.OnDisplay != nil {
			c.handlers.OnDisplay(payload)
		}
	case "reload":
		if c.handlers.OnReload != nil {
			c.handlers.OnReload()
		}
	default:
		log.Debug("display: unknown event", "event", event)
	}
}
