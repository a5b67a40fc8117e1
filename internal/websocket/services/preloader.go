package services

import (
	"context"
	"log/slog"
	"time"

	killmails "wanderer-kills/internal/killmails/models"
	killmailsServices "wanderer-kills/internal/killmails/services"
	zkb "wanderer-kills/internal/zkillboard/services"
	"wanderer-kills/internal/websocket/dto"
	subs "wanderer-kills/internal/subscriptions/services"
	"wanderer-kills/pkg/metrics"
	"wanderer-kills/pkg/ratelimit"
)

// Preload caps and defaults.
const (
	MaxPreloadLimitPerSystem = 200
	MaxPreloadSinceHours     = 168
	DefaultPreloadBatchSize  = 10
	MaxPreloadBatchSize      = 50
	DefaultPreloadInterval   = time.Second
	DefaultCacheOnlyHours    = 1
)

// HistorySource backfills a cold system from the killboard API, invoking the
// callback for each stored killmail. The zkillboard backfiller implements it.
type HistorySource interface {
	BackfillEach(ctx context.Context, systemID int32, sinceHours, limit int, fn func(*killmails.Killmail)) (zkb.BackfillResult, error)
}

// PreloadStatus is the progress event payload.
type PreloadStatus struct {
	Status       string `json:"status"`
	SystemsTotal int    `json:"systems_total"`
	SystemsDone  int    `json:"systems_done"`
	KillsFound   int    `json:"kills_found"`
}

// PreloadBatch carries one delivery batch.
type PreloadBatch struct {
	Batch int                   `json:"batch"`
	Count int                   `json:"count"`
	Kills []*killmails.Killmail `json:"kills"`
}

// PreloadComplete is the terminal event payload.
type PreloadComplete struct {
	TotalKills   int              `json:"total_kills"`
	SystemsTotal int              `json:"systems_total"`
	Errors       map[int32]string `json:"errors,omitempty"`
}

// Preloader serves the on-join historical backfill: recent kills come from
// the local store, cold systems are fetched from the killboard, and delivery
// is batched and paced over the joining channel. Events for one channel are
// strictly ordered status* → batch* → complete.
type Preloader struct {
	service *killmailsServices.Service
	history HistorySource

	// realtimePriority lets preload fetches compete with the live stream.
	realtimePriority bool
}

// NewPreloader creates the preloader.
func NewPreloader(service *killmailsServices.Service, history HistorySource, realtimePriority bool) *Preloader {
	return &Preloader{service: service, history: history, realtimePriority: realtimePriority}
}

// Run executes one channel's preload. Cancelling ctx (the channel left)
// abandons outstanding fetches and drops scheduled deliveries.
func (p *Preloader) Run(ctx context.Context, ch subs.Channel, systems []int32, params dto.PreloadParams) {
	limit := clamp(params.LimitPerSystem, 1, MaxPreloadLimitPerSystem, MaxPreloadLimitPerSystem)
	sinceHours := clamp(params.SinceHours, 1, MaxPreloadSinceHours, 24)
	batchSize := clamp(params.DeliveryBatchSize, 1, MaxPreloadBatchSize, DefaultPreloadBatchSize)
	interval := DefaultPreloadInterval
	if params.DeliveryIntervalMs > 0 {
		interval = time.Duration(params.DeliveryIntervalMs) * time.Millisecond
	}

	priority := ratelimit.PriorityPreload
	if p.realtimePriority {
		priority = ratelimit.PriorityRealtime
	}
	ctx = ratelimit.ContextWithPriority(ctx, priority)

	collected := make([]*killmails.Killmail, 0)
	errors := make(map[int32]string)

	p.push(ch, dto.EventPreloadStatus, PreloadStatus{
		Status:       "starting",
		SystemsTotal: len(systems),
	})

	for i, systemID := range systems {
		if ctx.Err() != nil {
			return
		}

		kills := p.service.CachedKills(systemID, DefaultCacheOnlyHours)
		if len(kills) == 0 {
			if _, err := p.history.BackfillEach(ctx, systemID, sinceHours, limit, func(km *killmails.Killmail) {
				kills = append(kills, km)
			}); err != nil {
				slog.Warn("Preload backfill failed", "system_id", systemID, "error", err)
				errors[systemID] = err.Error()
			}
		}
		if len(kills) > limit {
			kills = kills[:limit]
		}
		collected = append(collected, kills...)

		p.push(ch, dto.EventPreloadStatus, PreloadStatus{
			Status:       "fetching",
			SystemsTotal: len(systems),
			SystemsDone:  i + 1,
			KillsFound:   len(collected),
		})
	}

	batch := 0
	for start := 0; start < len(collected); start += batchSize {
		if ctx.Err() != nil {
			return
		}

		end := start + batchSize
		if end > len(collected) {
			end = len(collected)
		}
		batch++

		p.push(ch, dto.EventPreloadBatch, PreloadBatch{
			Batch: batch,
			Count: end - start,
			Kills: collected[start:end],
		})
		metrics.PreloadBatches.Inc()

		if end < len(collected) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}

	p.push(ch, dto.EventPreloadComplete, PreloadComplete{
		TotalKills:   len(collected),
		SystemsTotal: len(systems),
		Errors:       errors,
	})
}

func (p *Preloader) push(ch subs.Channel, event string, payload interface{}) {
	if err := ch.Push(event, payload); err != nil {
		slog.Debug("Preload push failed, channel gone", "event", event, "error", err)
	}
}

func clamp(v, min, max, def int) int {
	if v <= 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
