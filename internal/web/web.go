package web

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"liveboard/internal/config"
	"liveboard/internal/hub"
	"liveboard/internal/log"
	"liveboard/internal/scheduler"

	appclock "liveboard/internal/clock"
)

// Server exposes the push channel and the administrative surface: the
// /events SSE stream, liveness/status probes, the reload trigger, and the
// settings API.
type Server struct {
	cfgPath string
	sched   *scheduler.Scheduler
	hub     *hub.Registry
	offset  *appclock.Offset

	cfgMu sync.RWMutex
	cfg   *config.Config

	started time.Time
	router  chi.Router
}

func NewServer(cfgPath string, cfg *config.Config, sched *scheduler.Scheduler, registry *hub.Registry, offset *appclock.Offset) *Server {
	s := &Server{
		cfgPath: cfgPath,
		sched:   sched,
		hub:     registry,
		offset:  offset,
		cfg:     cfg,
		started: time.Now(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config().Listen,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting HTTP server", "listen", "http://"+srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/events", s.handleEvents)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/reload", s.handleReload)
	r.Get("/api/settings", s.handleSettings)
	r.Get("/api/settings/full", s.handleSettingsFull)
	r.Post("/api/settings", s.handleSettingsUpdate)

	// Display client assets, when present on disk.
	if dir := s.config().StaticDir; dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(dir)))
		}
	}

	return r
}

func (s *Server) config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// handleEvents is the long-lived push channel. Each connection becomes one
// registered session; before any incremental update it receives a full
// baseline of every live fact so it starts consistent with all others.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The first session to report an offset fixes the process-wide client
	// timezone; its absence on reconnects is tolerated.
	if tz := r.URL.Query().Get("tz"); tz != "" {
		if minutes, err := strconv.Atoi(tz); err == nil {
			if s.offset.Set(minutes) {
				log.Info("client timezone offset recorded", "minutes", minutes)
				s.sched.StartAgenda()
			}
		}
	}

	session := hub.NewSession(uuid.NewString(), w, flusher)

	// Baseline: full config, then the current value of every fact. The
	// session joins the broadcast set only after the baseline is on the wire,
	// so no delta can ever reach a session before its baseline. At worst the
	// session misses a delta published during the baseline write, and the
	// next cadence tick covers that.
	if err := session.Send("config", s.configPayload()); err != nil {
		return
	}
	_ = session.Send("update", s.sched.DatePayload())
	_ = session.Send("update", s.sched.WeatherPayload())
	_ = session.Send("display", s.sched.DisplayPayload())

	s.hub.Register(session)
	defer s.hub.Unregister(session.ID)

	<-r.Context().Done()
}

// configPayload builds the full widget baseline sent once per session.
func (s *Server) configPayload() map[string]any {
	snap := s.sched.CurrentAgenda()
	wx := s.sched.CurrentWeather()

	return map[string]any{
		"layout": "single",
		"widgets": []map[string]any{
			{"id": "date", "type": "date", "value": ""},
			{
				"id": "weather", "type": "weather",
				"temp": wx.Temp, "high": wx.High, "low": wx.Low,
				"condition":    wx.Condition,
				"tomorrowHigh": wx.TomorrowHigh, "tomorrowLow": wx.TomorrowLow,
				"tomorrowCondition": wx.TomorrowCondition,
				"location":          wx.Location,
			},
			{
				"id": "calendar", "type": "calendar",
				"today": snap.Today, "tomorrow": snap.Tomorrow,
			},
		},
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.Count(),
		"uptime":  time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	n := s.hub.Count()
	s.hub.Broadcast("reload", struct{}{})
	writeJSON(w, http.StatusOK, map[string]any{"reloaded": n})
}

func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config().Masked())
}

func (s *Server) handleSettingsFull(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config())
}

// handleSettingsUpdate validates and persists a replacement settings
// document. A document failing structural validation is rejected before
// persistence and the previous configuration stays active.
func (s *Server) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var next config.Config
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings document")
		return
	}
	if err := next.Validate(); err != nil {
		log.Error("settings update rejected", err)
		writeError(w, http.StatusBadRequest, "Invalid settings structure")
		return
	}
	next.Normalize()

	if err := next.Save(s.cfgPath); err != nil {
		log.Error("settings save failed", err, "path", s.cfgPath)
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}

	s.cfgMu.Lock()
	s.cfg = &next
	s.cfgMu.Unlock()
	s.sched.SetConfig(&next)

	log.Info("settings updated", "calendars", len(next.Calendars))

	// Refetch with the new settings and push the new brightness right away.
	go s.sched.RefreshWeather()
	go s.sched.RefreshAgenda()
	s.sched.BroadcastBrightness()

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
