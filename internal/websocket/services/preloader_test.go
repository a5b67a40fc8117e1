package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	killmails "wanderer-kills/internal/killmails/models"
	killmailsServices "wanderer-kills/internal/killmails/services"
	zkb "wanderer-kills/internal/zkillboard/services"
	"wanderer-kills/internal/websocket/dto"
	"wanderer-kills/pkg/cache"
	"wanderer-kills/pkg/clock"
	"wanderer-kills/pkg/store"
)

func ptr[T any](v T) *T { return &v }

// fakeChannel records pushed events in order.
type fakeChannel struct {
	mu     sync.Mutex
	events []pushedEvent
	done   chan struct{}
}

type pushedEvent struct {
	event   string
	payload interface{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{done: make(chan struct{})}
}

func (f *fakeChannel) Push(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, pushedEvent{event: event, payload: payload})
	return nil
}

func (f *fakeChannel) Done() <-chan struct{} { return f.done }

func (f *fakeChannel) recorded() []pushedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pushedEvent, len(f.events))
	copy(out, f.events)
	return out
}

// stubHistory serves a fixed number of killmails per system.
type stubHistory struct {
	perSystem map[int32][]*killmails.Killmail
	err       error
}

func (s *stubHistory) BackfillEach(ctx context.Context, systemID int32, sinceHours, limit int, fn func(*killmails.Killmail)) (zkb.BackfillResult, error) {
	result := zkb.BackfillResult{SystemID: systemID}
	if s.err != nil {
		return result, s.err
	}
	kms := s.perSystem[systemID]
	if limit > 0 && len(kms) > limit {
		kms = kms[:limit]
	}
	for _, km := range kms {
		fn(km)
		result.Processed++
	}
	return result, nil
}

func makeKills(systemID int32, n int) []*killmails.Killmail {
	out := make([]*killmails.Killmail, n)
	for i := range out {
		out[i] = &killmails.Killmail{
			KillmailID: int64(i + 1),
			KillTime:   time.Now().UTC(),
			SystemID:   systemID,
			Victim:     killmails.Participant{CharacterID: ptr(int64(1)), CorporationID: 2, ShipTypeID: 671, DamageTaken: 1},
			Attackers:  []killmails.Participant{{CorporationID: 4, DamageDone: 1, FinalBlow: true}},
			ZKB:        killmails.ZKB{Hash: fmt.Sprintf("h%d", i)},
		}
	}
	return out
}

func newTestPreloader(history HistorySource) *Preloader {
	clk := clock.NewSystem()
	service := killmailsServices.NewService(cache.New(clk), store.New(clk), clk)
	return NewPreloader(service, history, false)
}

func TestPreloadOrderingAndBatchSizes(t *testing.T) {
	history := &stubHistory{perSystem: map[int32][]*killmails.Killmail{
		30000142: makeKills(30000142, 25),
	}}
	p := newTestPreloader(history)

	ch := newFakeChannel()
	p.Run(context.Background(), ch, []int32{30000142}, dto.PreloadParams{
		Enabled:            true,
		LimitPerSystem:     25,
		SinceHours:         24,
		DeliveryBatchSize:  10,
		DeliveryIntervalMs: 1,
	})

	events := ch.recorded()
	require.NotEmpty(t, events)

	// Strict order: status* → batch* → complete.
	var statuses, batches []pushedEvent
	var completes []pushedEvent
	phase := 0
	for _, ev := range events {
		switch ev.event {
		case dto.EventPreloadStatus:
			assert.Equal(t, 0, phase, "status after batches started")
			statuses = append(statuses, ev)
		case dto.EventPreloadBatch:
			phase = 1
			batches = append(batches, ev)
		case dto.EventPreloadComplete:
			phase = 2
			completes = append(completes, ev)
		default:
			t.Fatalf("unexpected event %q", ev.event)
		}
	}

	assert.GreaterOrEqual(t, len(statuses), 1)
	require.Len(t, batches, 3, "25 kills in batches of 10 → 10/10/5")
	assert.Equal(t, 10, batches[0].payload.(PreloadBatch).Count)
	assert.Equal(t, 10, batches[1].payload.(PreloadBatch).Count)
	assert.Equal(t, 5, batches[2].payload.(PreloadBatch).Count)

	require.Len(t, completes, 1)
	complete := completes[0].payload.(PreloadComplete)
	assert.Equal(t, 25, complete.TotalKills)
	assert.Empty(t, complete.Errors)
}

func TestPreloadCapsApplied(t *testing.T) {
	history := &stubHistory{perSystem: map[int32][]*killmails.Killmail{
		30000142: makeKills(30000142, 500),
	}}
	p := newTestPreloader(history)

	ch := newFakeChannel()
	p.Run(context.Background(), ch, []int32{30000142}, dto.PreloadParams{
		Enabled:            true,
		LimitPerSystem:     1000, // above cap
		SinceHours:         720,  // above cap
		DeliveryBatchSize:  100,  // above cap
		DeliveryIntervalMs: 1,
	})

	var complete *PreloadComplete
	for _, ev := range ch.recorded() {
		if ev.event == dto.EventPreloadComplete {
			c := ev.payload.(PreloadComplete)
			complete = &c
		}
		if ev.event == dto.EventPreloadBatch {
			assert.LessOrEqual(t, ev.payload.(PreloadBatch).Count, MaxPreloadBatchSize)
		}
	}
	require.NotNil(t, complete)
	assert.Equal(t, MaxPreloadLimitPerSystem, complete.TotalKills, "limit_per_system capped at 200")
}

func TestPreloadReportsPerSystemErrors(t *testing.T) {
	history := &stubHistory{err: fmt.Errorf("zkb: api_error: boom")}
	p := newTestPreloader(history)

	ch := newFakeChannel()
	p.Run(context.Background(), ch, []int32{30000142, 30000143}, dto.PreloadParams{
		Enabled:            true,
		DeliveryIntervalMs: 1,
	})

	events := ch.recorded()
	last := events[len(events)-1]
	require.Equal(t, dto.EventPreloadComplete, last.event)

	complete := last.payload.(PreloadComplete)
	assert.Equal(t, 0, complete.TotalKills)
	assert.Len(t, complete.Errors, 2, "every failed system is reported")
}

func TestPreloadCancelledMidDelivery(t *testing.T) {
	history := &stubHistory{perSystem: map[int32][]*killmails.Killmail{
		30000142: makeKills(30000142, 30),
	}}
	p := newTestPreloader(history)

	ctx, cancel := context.WithCancel(context.Background())
	ch := newFakeChannel()

	go func() {
		// Let the first batch out, then cancel as the pacing delay runs.
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	p.Run(ctx, ch, []int32{30000142}, dto.PreloadParams{
		Enabled:            true,
		LimitPerSystem:     30,
		DeliveryBatchSize:  10,
		DeliveryIntervalMs: 500,
	})

	var sawComplete bool
	for _, ev := range ch.recorded() {
		if ev.event == dto.EventPreloadComplete {
			sawComplete = true
		}
	}
	assert.False(t, sawComplete, "cancelled preload drops scheduled deliveries")
}
