package services

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"wanderer-kills/internal/killmails/models"
	"wanderer-kills/pkg/cache"
	"wanderer-kills/pkg/metrics"
	"wanderer-kills/pkg/pubsub"
	"wanderer-kills/pkg/store"
)

// KillmailBroadcaster receives stored killmails and refreshed counts for
// subscriber fanout. The subscription manager implements it.
type KillmailBroadcaster interface {
	BroadcastKillmails(systemID int32, kms []*models.Killmail)
	BroadcastKillCount(systemID int32, count int)
}

// KillCount is the payload published on system count topics.
type KillCount struct {
	SystemID  int32     `json:"system_id"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// Pipeline runs each parsed killmail through enrich → store → broadcast. A
// bounded fan-out pool processes batch members independently; a failure on
// one killmail never stops the batch.
type Pipeline struct {
	cache       *cache.Cache
	events      *store.EventStore
	enricher    *Enricher
	broadcaster KillmailBroadcaster
	bus         *pubsub.Broadcaster

	killmailTTL time.Duration
	pool        *semaphore.Weighted
}

// NewPipeline wires the pipeline. broadcaster may be set later with
// SetBroadcaster to break the construction cycle with the subscription
// manager.
func NewPipeline(c *cache.Cache, events *store.EventStore, enricher *Enricher, bus *pubsub.Broadcaster, killmailTTL time.Duration, batchConcurrency int) *Pipeline {
	if batchConcurrency <= 0 {
		batchConcurrency = 100
	}
	return &Pipeline{
		cache:       c,
		events:      events,
		enricher:    enricher,
		bus:         bus,
		killmailTTL: killmailTTL,
		pool:        semaphore.NewWeighted(int64(batchConcurrency)),
	}
}

// SetBroadcaster attaches the subscriber fanout.
func (p *Pipeline) SetBroadcaster(b KillmailBroadcaster) {
	p.broadcaster = b
}

// Process runs one killmail through the full pipeline.
func (p *Pipeline) Process(ctx context.Context, km *models.Killmail) error {
	if err := km.Validate(); err != nil {
		return err
	}

	key := cache.KillmailKey(km.KillmailID)
	if cached, ok := p.cache.Get(cache.NSKillmail, key); ok {
		if existing := cached.(*models.Killmail); existing.Enriched {
			p.emit(existing)
			return nil
		}
	}

	p.enricher.Enrich(ctx, km)

	p.cache.Put(cache.NSKillmail, key, km, p.killmailTTL)
	p.cache.AddSystemKillmail(km.SystemID, km.KillmailID)
	p.events.Append(km.SystemID, km.KillmailID)
	metrics.KillmailsStored.Inc()

	p.emit(km)
	return nil
}

// ProcessBatch fans a batch out over the bounded pool. Ordering within the
// batch is not preserved; each killmail is emitted independently.
func (p *Pipeline) ProcessBatch(ctx context.Context, kms []*models.Killmail) {
	for _, km := range kms {
		if err := p.pool.Acquire(ctx, 1); err != nil {
			return
		}
		go func(km *models.Killmail) {
			defer p.pool.Release(1)
			if err := p.Process(ctx, km); err != nil {
				slog.Error("Pipeline failed for killmail", "killmail_id", km.KillmailID, "error", err)
			}
		}(km)
	}
}

// emit hands the killmail to the subscription fabric and the pub/sub bus.
func (p *Pipeline) emit(km *models.Killmail) {
	if p.broadcaster != nil {
		p.broadcaster.BroadcastKillmails(km.SystemID, []*models.Killmail{km})
		p.broadcaster.BroadcastKillCount(km.SystemID, p.events.Count(km.SystemID))
	}

	p.bus.Publish(pubsub.TopicSystem(km.SystemID), km)
	p.bus.Publish(pubsub.TopicSystemDetailed(km.SystemID), km)
	p.bus.Publish(pubsub.TopicAllSystems, km)
	p.bus.Publish(pubsub.TopicSystemCount(km.SystemID), KillCount{
		SystemID:  km.SystemID,
		Count:     p.events.Count(km.SystemID),
		Timestamp: time.Now().UTC(),
	})
}
