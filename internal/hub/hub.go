package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"liveboard/internal/log"
)

// Flusher is the subset of http.Flusher a session needs. Split out so tests
// can register plain buffers.
type Flusher interface {
	Flush()
}

// Session is one open server-sent-events stream to a display.
type Session struct {
	ID string

	mu    sync.Mutex
	w     io.Writer
	flush Flusher
}

// NewSession wraps a writable endpoint. flush may be nil.
func NewSession(id string, w io.Writer, flush Flusher) *Session {
	return &Session{ID: id, w: w, flush: flush}
}

// Send writes one named SSE event with a JSON payload. Concurrent sends to
// the same session are serialized so frames never interleave.
func (s *Session) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("hub: encode %s: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush.Flush()
	}
	return nil
}

// Keepalive writes an SSE comment heartbeat.
func (s *Session) Keepalive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush.Flush()
	}
	return nil
}

// Registry tracks connected display sessions and broadcasts named events to
// all of them. A session whose write fails is pruned after the sweep; one
// broken session never interrupts delivery to the others.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session. From the moment this returns the session is a
// target of every subsequent broadcast.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	total := len(r.sessions)
	r.mu.Unlock()
	log.Info("session connected", "session", s.ID, "total", total)
}

// Unregister removes a session. Idempotent; safe to call from a disconnect
// callback while a broadcast sweep is in flight.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	total := len(r.sessions)
	r.mu.Unlock()
	if ok {
		log.Info("session disconnected", "session", id, "total", total)
	}
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// snapshot returns the current session list so sweeps never iterate the map
// while it can be mutated.
func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Broadcast sends one named event to every registered session, then removes
// the sessions whose write failed.
func (r *Registry) Broadcast(event string, payload any) {
	r.sweep(func(s *Session) error {
		return s.Send(event, payload)
	}, event)
}

func (r *Registry) sweep(send func(*Session) error, event string) {
	var failed []string
	for _, s := range r.snapshot() {
		if err := send(s); err != nil {
			log.Error("session write failed, pruning", err, "session", s.ID, "event", event)
			failed = append(failed, s.ID)
		}
	}
	for _, id := range failed {
		r.Unregister(id)
	}
}

// Run sends a periodic keepalive to every session until ctx is cancelled. A
// failed keepalive prunes the session exactly like a failed broadcast.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(func(s *Session) error {
				return s.Keepalive()
			}, "keepalive")
		}
	}
}
