// Package cache provides the namespaced TTL key/value store shared by the
// killmail pipeline and the ESI resolver. Entries past their expiry are
// observationally absent even before the periodic sweep reclaims them.
package cache

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"wanderer-kills/pkg/clock"
)

// Namespace partitions the cache keyspace.
type Namespace string

const (
	NSKillmail        Namespace = "killmail"
	NSSystemKillmails Namespace = "system_killmails"
	NSESICharacter    Namespace = "esi_character"
	NSESICorporation  Namespace = "esi_corporation"
	NSESIAlliance     Namespace = "esi_alliance"
	NSESIType         Namespace = "esi_type"
	NSESIGroup        Namespace = "esi_group"
	NSESIKillmail     Namespace = "esi_killmail"
)

// ErrLoaderTimeout is returned by GetOrCompute when the in-flight loader for a
// key does not finish within the loader timeout.
var ErrLoaderTimeout = errors.New("cache: loader_timeout")

// NoTTL marks an entry that never expires (ship type catalogue).
const NoTTL time.Duration = 0

// DefaultSystemListCap bounds the per-system killmail id list.
const DefaultSystemListCap = 10000

// Stats reports per-namespace cache effectiveness.
type Stats struct {
	Size      int     `json:"size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

type entry struct {
	value   interface{}
	expires time.Time // zero = never
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && e.expires.Before(now)
}

type nsCounters struct {
	hits      int64
	misses    int64
	evictions int64
}

type inflight struct {
	done  chan struct{}
	value interface{}
	err   error
}

// Cache is the process-wide namespaced TTL store.
type Cache struct {
	clk           clock.Clock
	loaderTimeout time.Duration
	systemListCap int

	mu      sync.RWMutex
	entries map[Namespace]map[string]*entry
	stats   map[Namespace]*nsCounters

	loaderMu sync.Mutex
	loaders  map[string]*inflight
}

// Option configures a Cache.
type Option func(*Cache)

// WithLoaderTimeout overrides the GetOrCompute loader timeout.
func WithLoaderTimeout(d time.Duration) Option {
	return func(c *Cache) { c.loaderTimeout = d }
}

// WithSystemListCap overrides the per-system id list bound.
func WithSystemListCap(n int) Option {
	return func(c *Cache) { c.systemListCap = n }
}

// New creates an empty cache.
func New(clk clock.Clock, opts ...Option) *Cache {
	c := &Cache{
		clk:           clk,
		loaderTimeout: 30 * time.Second,
		systemListCap: DefaultSystemListCap,
		entries:       make(map[Namespace]map[string]*entry),
		stats:         make(map[Namespace]*nsCounters),
		loaders:       make(map[string]*inflight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored under (ns, key), or false when absent or expired.
func (c *Cache) Get(ns Namespace, key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[ns][key]
	c.mu.RUnlock()

	if !ok || e.expired(c.clk.Now()) {
		c.count(ns, func(s *nsCounters) { s.misses++ })
		return nil, false
	}
	c.count(ns, func(s *nsCounters) { s.hits++ })
	return e.value, true
}

// Put stores value under (ns, key) with a relative TTL. A ttl of NoTTL makes
// the entry persistent. Last write wins.
func (c *Cache) Put(ns Namespace, key string, value interface{}, ttl time.Duration) {
	e := &entry{value: value}
	if ttl != NoTTL {
		e.expires = c.clk.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[ns]
	if !ok {
		m = make(map[string]*entry)
		c.entries[ns] = m
	}
	m[key] = e
}

// GetOrCompute returns the cached value for (ns, key), running loader at most
// once across concurrent callers on a miss. A second caller blocks on the
// first caller's loader; if the loader has not resolved within the loader
// timeout, ErrLoaderTimeout is returned and the entry is abandoned.
func (c *Cache) GetOrCompute(ns Namespace, key string, loader func() (interface{}, error), ttl time.Duration) (interface{}, error) {
	if v, ok := c.Get(ns, key); ok {
		return v, nil
	}

	flightKey := string(ns) + ":" + key

	c.loaderMu.Lock()
	if call, ok := c.loaders[flightKey]; ok {
		c.loaderMu.Unlock()
		select {
		case <-call.done:
			return call.value, call.err
		case <-time.After(c.loaderTimeout):
			c.abandon(flightKey, call)
			return nil, ErrLoaderTimeout
		}
	}
	call := &inflight{done: make(chan struct{})}
	c.loaders[flightKey] = call
	c.loaderMu.Unlock()

	call.value, call.err = loader()
	if call.err == nil {
		c.Put(ns, key, call.value, ttl)
	}
	close(call.done)

	c.loaderMu.Lock()
	if c.loaders[flightKey] == call {
		delete(c.loaders, flightKey)
	}
	c.loaderMu.Unlock()

	return call.value, call.err
}

// abandon drops a stalled leader so the next caller retries.
func (c *Cache) abandon(flightKey string, call *inflight) {
	c.loaderMu.Lock()
	if c.loaders[flightKey] == call {
		delete(c.loaders, flightKey)
	}
	c.loaderMu.Unlock()
}

// AddSystemKillmail prepends a killmail id to the per-system index, bounded by
// the system list cap. Duplicate ids are ignored.
func (c *Cache) AddSystemKillmail(systemID int32, killmailID int64) {
	key := systemKey(systemID)

	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[NSSystemKillmails]
	if !ok {
		m = make(map[string]*entry)
		c.entries[NSSystemKillmails] = m
	}

	var ids []int64
	if e, ok := m[key]; ok && !e.expired(c.clk.Now()) {
		ids = e.value.([]int64)
		for _, id := range ids {
			if id == killmailID {
				return
			}
		}
	}

	next := make([]int64, 0, len(ids)+1)
	next = append(next, killmailID)
	next = append(next, ids...)
	if len(next) > c.systemListCap {
		next = next[:c.systemListCap]
	}
	m[key] = &entry{value: next}
}

// ListSystemKillmails returns the per-system killmail ids, newest first.
func (c *Cache) ListSystemKillmails(systemID int32) []int64 {
	v, ok := c.Get(NSSystemKillmails, systemKey(systemID))
	if !ok {
		return nil
	}
	ids := v.([]int64)
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}

// Purge removes every entry in a namespace.
func (c *Cache) Purge(ns Namespace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ns)
}

// PurgeAll removes every entry in every namespace.
func (c *Cache) PurgeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Namespace]map[string]*entry)
}

// Sweep removes expired entries and records them as evictions. Returns the
// number of entries reclaimed.
func (c *Cache) Sweep() int {
	now := c.clk.Now()
	reclaimed := 0

	c.mu.Lock()
	for ns, m := range c.entries {
		for key, e := range m {
			if e.expired(now) {
				delete(m, key)
				reclaimed++
				c.statsLocked(ns).evictions++
			}
		}
	}
	c.mu.Unlock()

	return reclaimed
}

// Stats reports effectiveness counters for a namespace.
func (c *Cache) Stats(ns Namespace) Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Size: len(c.entries[ns])}
	if counters, ok := c.stats[ns]; ok {
		s.Hits = counters.hits
		s.Misses = counters.misses
		s.Evictions = counters.evictions
		if total := s.Hits + s.Misses; total > 0 {
			s.HitRate = float64(s.Hits) / float64(total)
		}
	}
	return s
}

// Namespaces returns every namespace with at least one recorded entry or stat.
func (c *Cache) Namespaces() []Namespace {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[Namespace]struct{})
	for ns := range c.entries {
		seen[ns] = struct{}{}
	}
	for ns := range c.stats {
		seen[ns] = struct{}{}
	}
	out := make([]Namespace, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	return out
}

func (c *Cache) count(ns Namespace, fn func(*nsCounters)) {
	c.mu.Lock()
	fn(c.statsLocked(ns))
	c.mu.Unlock()
}

func (c *Cache) statsLocked(ns Namespace) *nsCounters {
	s, ok := c.stats[ns]
	if !ok {
		s = &nsCounters{}
		c.stats[ns] = s
	}
	return s
}

func systemKey(systemID int32) string {
	return strconv.FormatInt(int64(systemID), 10)
}

// KillmailKey formats the canonical cache key for a killmail id.
func KillmailKey(killmailID int64) string {
	return strconv.FormatInt(killmailID, 10)
}

// ESIKillmailKey formats the cache key for a raw ESI killmail body.
func ESIKillmailKey(killmailID int64, hash string) string {
	return fmt.Sprintf("%d:%s", killmailID, hash)
}
