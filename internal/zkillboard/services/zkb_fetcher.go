package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wanderer-kills/internal/killmails/models"
	"wanderer-kills/internal/zkillboard/dto"
	"wanderer-kills/pkg/fetch"
	"wanderer-kills/pkg/ratelimit"
)

// FetchOptions bounds a historical fetch.
type FetchOptions struct {
	PastSeconds int
	Limit       int
}

// ZkbFetcher pulls historical killmail references for a system from the
// killboard API. Calls run at background priority, or at the caller's
// context priority for preload traffic.
type ZkbFetcher struct {
	fetcher *fetch.Client
	baseURL string
}

// NewZkbFetcher creates the historical fetcher.
func NewZkbFetcher(fetcher *fetch.Client, baseURL string) *ZkbFetcher {
	return &ZkbFetcher{fetcher: fetcher, baseURL: baseURL}
}

// FetchSystemKillmails returns historical references for a system in the
// order the killboard serves them, truncated to the limit.
func (z *ZkbFetcher) FetchSystemKillmails(ctx context.Context, systemID int32, opts FetchOptions) ([]*dto.KillmailRef, error) {
	if opts.PastSeconds <= 0 {
		opts.PastSeconds = 3600
	}

	url := fmt.Sprintf("%s/kills/systemID/%d/pastSeconds/%d/", z.baseURL, systemID, opts.PastSeconds)
	priority := ratelimit.PriorityFromContext(ctx, ratelimit.PriorityBackground)

	body, err := z.fetcher.Get(ctx, fetch.ServiceZkb, url, priority, nil)
	if err != nil {
		return nil, fmt.Errorf("zkb: api_error: %w", err)
	}

	// The killboard returns an empty page either as [] or as an empty body.
	if len(body) == 0 {
		return nil, nil
	}

	var refs []*dto.KillmailRef
	if err := json.Unmarshal(body, &refs); err != nil {
		return nil, fmt.Errorf("zkb: bad_response: %w", err)
	}

	if opts.Limit > 0 && len(refs) > opts.Limit {
		refs = refs[:opts.Limit]
	}
	return refs, nil
}

// BackfillResult summarizes one system's backfill.
type BackfillResult struct {
	SystemID  int32
	Fetched   int
	Processed int
	Skipped   int
}

// Backfiller converts references into stored killmails through the parser and
// pipeline. It implements the killmails service's HistoryFetcher and serves
// the preloader.
type Backfiller struct {
	zkb    *ZkbFetcher
	parser *Parser
	sink   KillmailSink
}

// NewBackfiller wires the backfill path.
func NewBackfiller(zkb *ZkbFetcher, parser *Parser, sink KillmailSink) *Backfiller {
	return &Backfiller{zkb: zkb, parser: parser, sink: sink}
}

// Backfill fetches, resolves and stores up to limit historical killmails for
// a system. Returns the number processed.
func (b *Backfiller) Backfill(ctx context.Context, systemID int32, sinceHours, limit int) (int, error) {
	result, err := b.backfill(ctx, systemID, sinceHours, limit, nil)
	if err != nil {
		return 0, err
	}
	return result.Processed, nil
}

// BackfillEach behaves like Backfill but hands each stored killmail to fn as
// it lands, for paced preload delivery.
func (b *Backfiller) BackfillEach(ctx context.Context, systemID int32, sinceHours, limit int, fn func(*models.Killmail)) (BackfillResult, error) {
	return b.backfill(ctx, systemID, sinceHours, limit, fn)
}

func (b *Backfiller) backfill(ctx context.Context, systemID int32, sinceHours, limit int, fn func(*models.Killmail)) (BackfillResult, error) {
	result := BackfillResult{SystemID: systemID}
	start := time.Now()
	window := time.Duration(sinceHours) * time.Hour

	refs, err := b.zkb.FetchSystemKillmails(ctx, systemID, FetchOptions{
		PastSeconds: sinceHours * 3600,
		Limit:       limit,
	})
	if err != nil {
		return result, err
	}
	result.Fetched = len(refs)

	for _, ref := range refs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		km, err := b.parser.ParseReferenceWithin(ctx, ref, window)
		if err != nil {
			if errors.Is(err, ErrSkippedOld) || errors.Is(err, ErrInvalidFormat) {
				result.Skipped++
				continue
			}
			slog.Warn("Backfill reference failed", "system_id", systemID, "killmail_id", ref.KillmailID, "error", err)
			result.Skipped++
			continue
		}

		if err := b.sink.Process(ctx, km); err != nil {
			slog.Warn("Backfill processing failed", "killmail_id", km.KillmailID, "error", err)
			result.Skipped++
			continue
		}

		result.Processed++
		if fn != nil {
			fn(km)
		}
	}

	slog.Debug("System backfill complete",
		"system_id", systemID,
		"fetched", result.Fetched,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"window_hours", sinceHours,
		"elapsed", time.Since(start).Round(time.Millisecond).String())
	return result, nil
}
