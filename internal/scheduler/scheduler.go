package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"liveboard/internal/agenda"
	"liveboard/internal/clock"
	"liveboard/internal/config"
	"liveboard/internal/hub"
	"liveboard/internal/ics"
	"liveboard/internal/log"
	"liveboard/internal/weather"
)

// Update payload shapes for the "update" push event. The id field selects the
// target widget; recipients merge only the named fields.

type calendarUpdate struct {
	ID       string              `json:"id"`
	Today    []agenda.Occurrence `json:"today"`
	Tomorrow []agenda.Occurrence `json:"tomorrow"`
}

type weatherUpdate struct {
	ID string `json:"id"`
	weather.Data
}

type dateUpdate struct {
	ID    string `json:"id"`
	Value string `json:"value"`
	Lunar string `json:"lunar"`
}

type displayUpdate struct {
	Brightness int `json:"brightness"`
}

// Scheduler owns the periodic refresh jobs and the latest snapshot of every
// fact. Each fact has one cadence: agenda every 5 minutes (deferred until the
// client offset is known), weather every 10 minutes (immediate), brightness
// and the date line every minute.
type Scheduler struct {
	cron    *cron.Cron
	hub     *hub.Registry
	offset  *clock.Offset
	ics     *ics.Fetcher
	weather *weather.Fetcher

	ctx context.Context

	cfgMu sync.RWMutex
	cfg   *config.Config

	factsMu    sync.RWMutex
	agendaData agenda.Days
	weatherNow weather.Data
	brightness int

	// Monotonic cycle tokens: a fetch superseded by a newer cycle discards
	// its late result instead of overwriting a fresher snapshot.
	agendaCycle  atomic.Uint64
	weatherCycle atomic.Uint64

	agendaOnce sync.Once
}

func New(cfg *config.Config, registry *hub.Registry, offset *clock.Offset, icsFetcher *ics.Fetcher, weatherFetcher *weather.Fetcher) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		hub:        registry,
		offset:     offset,
		ics:        icsFetcher,
		weather:    weatherFetcher,
		cfg:        cfg,
		agendaData: agenda.Days{Today: []agenda.Occurrence{}, Tomorrow: []agenda.Occurrence{}},
		weatherNow: weather.Empty(cfg.Weather.Location),
		brightness: cfg.Display.DayBrightness,
	}
}

// Start registers the cron jobs and blocks until ctx is cancelled. Weather is
// fetched immediately; the agenda job is added lazily by StartAgenda once a
// client offset exists.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx

	if _, err := s.cron.AddFunc("*/10 * * * *", func() { s.RefreshWeather() }); err != nil {
		return fmt.Errorf("scheduler: add weather job: %w", err)
	}
	if _, err := s.cron.AddFunc("* * * * *", func() { s.BroadcastBrightness() }); err != nil {
		return fmt.Errorf("scheduler: add brightness job: %w", err)
	}
	if _, err := s.cron.AddFunc("* * * * *", func() { s.broadcastDate() }); err != nil {
		return fmt.Errorf("scheduler: add clock job: %w", err)
	}

	s.cron.Start()
	log.Info("scheduler started")

	go s.RefreshWeather()

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	log.Info("scheduler stopped")
	return nil
}

// StartAgenda begins the 5-minute agenda cycle. Called when the first session
// reports its UTC offset; subsequent calls are no-ops.
func (s *Scheduler) StartAgenda() {
	s.agendaOnce.Do(func() {
		if _, err := s.cron.AddFunc("*/5 * * * *", func() { s.RefreshAgenda() }); err != nil {
			log.Error("scheduler: add agenda job", err)
			return
		}
		log.Info("agenda refresh started")
		go s.RefreshAgenda()
	})
}

// SetConfig swaps the active configuration. The caller is expected to follow
// up with RefreshWeather/RefreshAgenda/BroadcastBrightness.
func (s *Scheduler) SetConfig(cfg *config.Config) {
	s.cfgMu.Lock()
	s.cfg = cfg
	s.cfgMu.Unlock()
}

func (s *Scheduler) config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// CurrentAgenda returns the latest published agenda snapshot.
func (s *Scheduler) CurrentAgenda() agenda.Days {
	s.factsMu.RLock()
	defer s.factsMu.RUnlock()
	return s.agendaData
}

// CurrentWeather returns the latest weather snapshot.
func (s *Scheduler) CurrentWeather() weather.Data {
	s.factsMu.RLock()
	defer s.factsMu.RUnlock()
	return s.weatherNow
}

// CurrentBrightness evaluates the day/night schedule at the client-local
// time of day.
func (s *Scheduler) CurrentBrightness() int {
	local := clock.ToClient(time.Now(), s.offset)
	return s.config().Display.BrightnessAt(clock.TimeKey(local))
}

// RefreshAgenda fetches every configured calendar concurrently, resolves each
// into the two-day window, aggregates, and broadcasts the merged snapshot.
// A cycle superseded before publishing discards its result.
func (s *Scheduler) RefreshAgenda() {
	cycle := s.agendaCycle.Add(1)
	cfg := s.config()

	if _, ok := s.offset.Minutes(); !ok {
		log.Debug("agenda refresh skipped; client offset unknown")
		return
	}

	sources := make([]ics.Source, 0, len(cfg.Calendars))
	for _, cal := range cfg.Calendars {
		if cal.URL == "" {
			continue
		}
		sources = append(sources, ics.Source{Name: cal.Name, URL: cal.URL, Badge: cal.Badge})
	}
	if len(sources) == 0 {
		log.Info("no calendars configured")
		return
	}

	ctx, cancel := context.WithTimeout(s.jobContext(), 30*time.Second)
	defer cancel()

	now := time.Now()
	results, errs := s.ics.FetchAll(ctx, sources)
	for _, err := range errs {
		log.Error("calendar source unavailable", err)
	}

	perSource := make([]agenda.Days, 0, len(results))
	for _, res := range results {
		events, err := ics.Parse(res.Source, res.Body)
		if err != nil {
			// Malformed feed: contributes nothing, the rest still publish.
			continue
		}
		perSource = append(perSource, ics.Resolve(events, res.Source.Badge, s.offset, now))
	}

	snapshot := agenda.Aggregate(perSource)

	// The token check must share the lock with the store: a stale cycle that
	// passed an early check could still overwrite a newer snapshot published
	// in the gap.
	s.factsMu.Lock()
	if s.agendaCycle.Load() != cycle {
		s.factsMu.Unlock()
		log.Debug("agenda refresh superseded; discarding", "cycle", cycle)
		return
	}
	s.agendaData = snapshot
	s.factsMu.Unlock()

	log.Info("calendar updated", "today", len(snapshot.Today), "tomorrow", len(snapshot.Tomorrow))
	s.hub.Broadcast("update", calendarUpdate{ID: "calendar", Today: snapshot.Today, Tomorrow: snapshot.Tomorrow})
}

// RefreshWeather scrapes the configured location and broadcasts the result.
// A timed-out or failed fetch leaves the previous snapshot in place.
func (s *Scheduler) RefreshWeather() {
	cycle := s.weatherCycle.Add(1)
	cfg := s.config()

	ctx, cancel := context.WithTimeout(s.jobContext(), 30*time.Second)
	defer cancel()

	data, err := s.weather.Fetch(ctx, cfg.Weather.TenkiPath, cfg.Weather.Location)
	if err != nil {
		log.Error("weather source unavailable", err, "path", cfg.Weather.TenkiPath)
		return
	}

	s.factsMu.Lock()
	if s.weatherCycle.Load() != cycle {
		s.factsMu.Unlock()
		log.Debug("weather refresh superseded; discarding", "cycle", cycle)
		return
	}
	s.weatherNow = data
	s.factsMu.Unlock()

	log.Info("weather updated", "temp", data.Temp, "condition", data.Condition)
	s.hub.Broadcast("update", weatherUpdate{ID: "weather", Data: data})
}

// BroadcastBrightness re-evaluates the day/night schedule and pushes the
// level to every session.
func (s *Scheduler) BroadcastBrightness() {
	level := s.CurrentBrightness()

	s.factsMu.Lock()
	s.brightness = level
	s.factsMu.Unlock()

	s.hub.Broadcast("display", displayUpdate{Brightness: level})
}

func (s *Scheduler) broadcastDate() {
	s.hub.Broadcast("update", s.DatePayload())
}

// DatePayload builds the date widget update for the current client-local day.
func (s *Scheduler) DatePayload() any {
	local := clock.ToClient(time.Now(), s.offset)
	return dateUpdate{
		ID:    "date",
		Value: clock.FormatDateJapanese(local),
		Lunar: clock.FormatLunar(local),
	}
}

// WeatherPayload builds the weather widget update from the cached snapshot.
func (s *Scheduler) WeatherPayload() any {
	return weatherUpdate{ID: "weather", Data: s.CurrentWeather()}
}

// CalendarPayload builds the calendar widget update from the cached snapshot.
func (s *Scheduler) CalendarPayload() any {
	snap := s.CurrentAgenda()
	return calendarUpdate{ID: "calendar", Today: snap.Today, Tomorrow: snap.Tomorrow}
}

// DisplayPayload builds the display event payload.
func (s *Scheduler) DisplayPayload() any {
	return displayUpdate{Brightness: s.CurrentBrightness()}
}

func (s *Scheduler) jobContext() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
