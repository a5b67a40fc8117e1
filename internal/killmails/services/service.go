package services

import (
	"context"
	"log/slog"

	"wanderer-kills/internal/killmails/models"
	"wanderer-kills/pkg/cache"
	"wanderer-kills/pkg/clock"
	"wanderer-kills/pkg/store"
)

// HistoryFetcher backfills a system from the killboard API when the local
// store has nothing. The zkillboard module implements it.
type HistoryFetcher interface {
	Backfill(ctx context.Context, systemID int32, sinceHours, limit int) (int, error)
}

// Service answers killmail queries from the cache and event store, falling
// back to a historical backfill for cold systems.
type Service struct {
	cache   *cache.Cache
	events  *store.EventStore
	clk     clock.Clock
	history HistoryFetcher
}

// NewService creates the query service.
func NewService(c *cache.Cache, events *store.EventStore, clk clock.Clock) *Service {
	return &Service{cache: c, events: events, clk: clk}
}

// SetHistoryFetcher attaches the killboard backfill.
func (s *Service) SetHistoryFetcher(h HistoryFetcher) {
	s.history = h
}

// KillsForSystem returns up to limit enriched killmails for a system within
// the window, newest first. A cold system triggers a paced backfill first.
func (s *Service) KillsForSystem(ctx context.Context, systemID int32, sinceHours, limit int) ([]*models.Killmail, error) {
	cutoff := s.clk.HoursAgo(sinceHours)

	ids := s.events.ListSince(systemID, cutoff, limit)
	if len(ids) == 0 && s.history != nil {
		if _, err := s.history.Backfill(ctx, systemID, sinceHours, limit); err != nil {
			slog.Warn("Historical backfill failed", "system_id", systemID, "error", err)
		}
		ids = s.events.ListSince(systemID, cutoff, limit)
	}

	return s.resolve(ids), nil
}

// KillsForSystems answers the bulk query across several systems.
func (s *Service) KillsForSystems(ctx context.Context, systemIDs []int32, sinceHours, limit int) (map[int32][]*models.Killmail, error) {
	out := make(map[int32][]*models.Killmail, len(systemIDs))
	for _, systemID := range systemIDs {
		kms, err := s.KillsForSystem(ctx, systemID, sinceHours, limit)
		if err != nil {
			return nil, err
		}
		out[systemID] = kms
	}
	return out, nil
}

// CachedKills serves a system strictly from cache, filtered for recency.
func (s *Service) CachedKills(systemID int32, sinceHours int) []*models.Killmail {
	if sinceHours <= 0 {
		sinceHours = 1
	}
	cutoff := s.clk.HoursAgo(sinceHours)

	out := make([]*models.Killmail, 0)
	for _, id := range s.cache.ListSystemKillmails(systemID) {
		km, ok := s.Killmail(id)
		if !ok {
			continue
		}
		if km.KillTime.Before(cutoff) {
			continue
		}
		out = append(out, km)
	}
	return out
}

// Killmail returns a single cached killmail.
func (s *Service) Killmail(killmailID int64) (*models.Killmail, bool) {
	v, ok := s.cache.Get(cache.NSKillmail, cache.KillmailKey(killmailID))
	if !ok {
		return nil, false
	}
	return v.(*models.Killmail), true
}

// KillCount reports how many killmails are retained for a system. The count
// covers this process's bounded ring, not upstream history.
func (s *Service) KillCount(systemID int32) int {
	return s.events.Count(systemID)
}

// RecentCached returns killmails for the ids, skipping anything already
// evicted from the cache.
func (s *Service) RecentCached(ids []int64) []*models.Killmail {
	return s.resolve(ids)
}

// CacheStats surfaces per-namespace cache effectiveness for /status.
func (s *Service) CacheStats() map[string]cache.Stats {
	out := make(map[string]cache.Stats)
	for _, ns := range s.cache.Namespaces() {
		out[string(ns)] = s.cache.Stats(ns)
	}
	return out
}

func (s *Service) resolve(ids []int64) []*models.Killmail {
	out := make([]*models.Killmail, 0, len(ids))
	for _, id := range ids {
		if km, ok := s.Killmail(id); ok {
			out = append(out, km)
		}
	}
	return out
}

// HealthCheck verifies the store is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	_ = s.events.Systems()
	return nil
}
