// Package store keeps a bounded, per-system ring of recently seen killmail
// ids. Rings are reclaimed by GC once a system has gone quiet.
package store

import (
	"log/slog"
	"sync"
	"time"

	"wanderer-kills/pkg/clock"
)

// DefaultMaxEventsPerSystem bounds each per-system ring.
const DefaultMaxEventsPerSystem = 10000

// Event is one (killmail_id, received_at) pair.
type Event struct {
	KillmailID int64
	ReceivedAt time.Time
}

type ring struct {
	events     []Event // newest first
	lastAppend time.Time
}

// EventStore holds the per-system rings.
type EventStore struct {
	clk       clock.Clock
	maxEvents int
	idleTTL   time.Duration

	mu    sync.RWMutex
	rings map[int32]*ring
}

// Option configures an EventStore.
type Option func(*EventStore)

// WithMaxEventsPerSystem overrides the ring bound.
func WithMaxEventsPerSystem(n int) Option {
	return func(s *EventStore) { s.maxEvents = n }
}

// WithIdleTTL overrides how long a quiet system's ring survives before GC.
func WithIdleTTL(d time.Duration) Option {
	return func(s *EventStore) { s.idleTTL = d }
}

// New creates an empty event store.
func New(clk clock.Clock, opts ...Option) *EventStore {
	s := &EventStore{
		clk:       clk,
		maxEvents: DefaultMaxEventsPerSystem,
		idleTTL:   2 * 3600 * time.Second,
		rings:     make(map[int32]*ring),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records a killmail id for a system, evicting the oldest entry when
// the ring is full.
func (s *EventStore) Append(systemID int32, killmailID int64) {
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rings[systemID]
	if !ok {
		r = &ring{}
		s.rings[systemID] = r
	}

	next := make([]Event, 0, len(r.events)+1)
	next = append(next, Event{KillmailID: killmailID, ReceivedAt: now})
	next = append(next, r.events...)
	if len(next) > s.maxEvents {
		next = next[:s.maxEvents]
	}
	r.events = next
	r.lastAppend = now
}

// List returns up to limit killmail ids for a system, newest first. A limit
// of 0 or less returns the full ring.
func (s *EventStore) List(systemID int32, limit int) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rings[systemID]
	if !ok {
		return nil
	}

	n := len(r.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = r.events[i].KillmailID
	}
	return out
}

// ListSince returns killmail ids received at or after the cutoff, newest first.
func (s *EventStore) ListSince(systemID int32, cutoff time.Time, limit int) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rings[systemID]
	if !ok {
		return nil
	}

	out := make([]int64, 0)
	for _, ev := range r.events {
		if ev.ReceivedAt.Before(cutoff) {
			break
		}
		out = append(out, ev.KillmailID)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Count returns the number of retained events for a system.
func (s *EventStore) Count(systemID int32) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.rings[systemID]; ok {
		return len(r.events)
	}
	return 0
}

// Systems returns the ids of systems with a live ring.
func (s *EventStore) Systems() []int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]int32, 0, len(s.rings))
	for id := range s.rings {
		out = append(out, id)
	}
	return out
}

// GC reclaims rings with no appends within the idle TTL. Returns the number
// of systems reclaimed.
func (s *EventStore) GC() int {
	cutoff := s.clk.Now().Add(-s.idleTTL)
	reclaimed := 0

	s.mu.Lock()
	for id, r := range s.rings {
		if r.lastAppend.Before(cutoff) {
			delete(s.rings, id)
			reclaimed++
		}
	}
	s.mu.Unlock()

	if reclaimed > 0 {
		slog.Debug("Event store GC reclaimed quiet systems", "systems", reclaimed)
	}
	return reclaimed
}
