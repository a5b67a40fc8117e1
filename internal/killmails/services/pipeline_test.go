package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wanderer-kills/internal/killmails/models"
	"wanderer-kills/pkg/cache"
	"wanderer-kills/pkg/clock"
	"wanderer-kills/pkg/pubsub"
	"wanderer-kills/pkg/store"
)

// recordingBroadcaster captures fanout calls.
type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []*models.Killmail
}

func (r *recordingBroadcaster) BroadcastKillmails(systemID int32, kms []*models.Killmail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, kms...)
}

func (r *recordingBroadcaster) BroadcastKillCount(systemID int32, count int) {}

func (r *recordingBroadcaster) received() []*models.Killmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Killmail, len(r.calls))
	copy(out, r.calls)
	return out
}

func newTestPipeline(t *testing.T) (*Pipeline, *cache.Cache, *store.EventStore, *recordingBroadcaster, *pubsub.Broadcaster) {
	t.Helper()
	c := cache.New(clock.NewSystem())
	events := store.New(clock.NewSystem())
	bus := pubsub.New()
	enricher := NewEnricher(namedResolver(), emptyCatalogue())

	p := NewPipeline(c, events, enricher, bus, 300*time.Second, 10)
	rec := &recordingBroadcaster{}
	p.SetBroadcaster(rec)
	return p, c, events, rec, bus
}

func TestProcessStoresAndBroadcasts(t *testing.T) {
	p, c, events, rec, _ := newTestPipeline(t)

	km := unenriched()
	require.NoError(t, p.Process(context.Background(), km))

	// Stored enriched and indexed.
	v, ok := c.Get(cache.NSKillmail, cache.KillmailKey(1))
	require.True(t, ok)
	stored := v.(*models.Killmail)
	assert.True(t, stored.Enriched)
	assert.Equal(t, "Raven", stored.Victim.ShipName)

	assert.Equal(t, []int64{1}, events.List(30000142, 0))
	assert.Equal(t, []int64{1}, c.ListSystemKillmails(30000142))

	// Broadcast once.
	got := rec.received()
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].KillmailID)
}

func TestProcessSkipsEnrichmentWhenCachedEnriched(t *testing.T) {
	p, c, events, rec, _ := newTestPipeline(t)

	enriched := unenriched()
	enriched.Enriched = true
	enriched.Victim.ShipName = "Cached Raven"
	c.Put(cache.NSKillmail, cache.KillmailKey(1), enriched, time.Minute)

	km := unenriched()
	require.NoError(t, p.Process(context.Background(), km))

	got := rec.received()
	require.Len(t, got, 1)
	assert.Equal(t, "Cached Raven", got[0].Victim.ShipName, "cached enriched record is re-emitted untouched")
	assert.Empty(t, events.List(30000142, 0), "no duplicate store for cached killmail")
}

func TestProcessRejectsInvalid(t *testing.T) {
	p, _, _, rec, _ := newTestPipeline(t)

	km := unenriched()
	km.Attackers = nil
	assert.Error(t, p.Process(context.Background(), km))
	assert.Empty(t, rec.received())
}

func TestProcessPublishesTopics(t *testing.T) {
	p, _, _, _, bus := newTestPipeline(t)

	system := bus.Subscribe(pubsub.TopicSystem(30000142), 0)
	all := bus.Subscribe(pubsub.TopicAllSystems, 0)
	count := bus.Subscribe(pubsub.TopicSystemCount(30000142), 0)
	defer system.Unsubscribe()
	defer all.Unsubscribe()
	defer count.Unsubscribe()

	require.NoError(t, p.Process(context.Background(), unenriched()))

	for name, sub := range map[string]*pubsub.Subscription{"system": system, "all_systems": all} {
		select {
		case msg := <-sub.C():
			assert.Equal(t, int64(1), msg.Payload.(*models.Killmail).KillmailID, name)
		case <-time.After(time.Second):
			t.Fatalf("no publish on %s topic", name)
		}
	}

	select {
	case msg := <-count.C():
		kc := msg.Payload.(KillCount)
		assert.Equal(t, int32(30000142), kc.SystemID)
		assert.Equal(t, 1, kc.Count)
	case <-time.After(time.Second):
		t.Fatal("no publish on count topic")
	}
}

func TestProcessBatchIndependentFailures(t *testing.T) {
	p, _, events, rec, _ := newTestPipeline(t)

	good := unenriched()
	bad := unenriched()
	bad.KillmailID = 2
	bad.Attackers = nil
	alsoGood := unenriched()
	alsoGood.KillmailID = 3

	p.ProcessBatch(context.Background(), []*models.Killmail{good, bad, alsoGood})

	require.Eventually(t, func() bool {
		return len(rec.received()) == 2
	}, 2*time.Second, 10*time.Millisecond, "batch continues past per-killmail failures")
	assert.Equal(t, 2, events.Count(30000142))
}
