package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"liveboard/internal/clock"
	"liveboard/internal/config"
	"liveboard/internal/hub"
	"liveboard/internal/ics"
	"liveboard/internal/log"
	"liveboard/internal/scheduler"
	"liveboard/internal/weather"
	"liveboard/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	cacheDir   string
	debug      bool
}

func main() {
	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	flags := parseFlags()
	log.SetDebug(flags.debug)
	defer log.Sync()

	log.Info("liveboard starting")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		log.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if v := os.Getenv("PORT"); v != "" && flags.listen == "" {
		conf.Listen = ":" + v
	}

	log.Info("effective config",
		"listen", conf.Listen,
		"calendar_count", len(conf.Calendars),
		"weather_location", conf.Weather.Location,
		"static_dir", conf.StaticDir,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	offset := &clock.Offset{}
	registry := hub.NewRegistry()
	sched := scheduler.New(conf, registry, offset, ics.NewFetcher(flags.cacheDir), weather.NewFetcher())
	server := web.NewServer(flags.configPath, conf, sched, registry, offset)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.Run(ctx, 15*time.Second)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Start(ctx); err != nil {
			log.Error("scheduler failed", err)
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil {
			log.Error("HTTP server failed", err)
			cancel()
		}
	}()

	wg.Wait()
	log.Info("liveboard exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config/settings.yaml", "Path to settings file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.cacheDir, "cache-dir", "./var/ics-cache", "Directory for the ICS fetch cache")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
