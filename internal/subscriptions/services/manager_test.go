package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	killmails "wanderer-kills/internal/killmails/models"
	"wanderer-kills/internal/subscriptions/models"
	"wanderer-kills/pkg/clock"
	"wanderer-kills/pkg/pubsub"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	notifier := NewWebhookNotifier(pubsub.New(), WithRetrySchedule([]time.Duration{time.Millisecond}))
	m := NewManager(clock.NewSystem(), notifier)
	t.Cleanup(func() {
		m.Stop()
		notifier.Stop()
	})
	return m
}

func TestAddValidatesSubscription(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Add(&models.Subscription{Kind: models.KindWebSocket}, newFakeChannel())
	assert.Error(t, err, "empty filter set rejected")

	_, err = m.Add(&models.Subscription{
		Kind:      models.KindWebSocket,
		SystemIDs: []int32{30000142},
	}, nil)
	assert.Error(t, err, "websocket subscription requires a channel")

	_, err = m.Add(&models.Subscription{
		Kind:      models.KindWebhook,
		SystemIDs: []int32{30000142},
	}, nil)
	assert.Error(t, err, "webhook subscription requires a callback url")
}

func TestAddGetListRemove(t *testing.T) {
	m := newTestManager(t)

	ch := newFakeChannel()
	id, err := m.Add(&models.Subscription{
		SubscriberID: "client-1",
		Kind:         models.KindWebSocket,
		SystemIDs:    []int32{30000142},
	}, ch)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "client-1", snap.Subscription.SubscriberID)

	assert.Len(t, m.List(), 1)

	require.NoError(t, m.Remove(id))
	require.Eventually(t, func() bool { return len(m.List()) == 0 }, time.Second, 5*time.Millisecond)

	_, err = m.Get(id)
	assert.Error(t, err)
}

func TestBroadcastReachesSystemSubscriber(t *testing.T) {
	m := newTestManager(t)

	ch := newFakeChannel()
	_, err := m.Add(&models.Subscription{
		Kind:      models.KindWebSocket,
		SystemIDs: []int32{30000142},
	}, ch)
	require.NoError(t, err)

	m.BroadcastKillmails(30000142, []*killmails.Killmail{testKillmail(1, 30000142, 3)})

	require.Eventually(t, func() bool { return len(ch.events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestBroadcastORMatchByCharacter(t *testing.T) {
	// Subscription on systems [30000999] and characters [3]; the kill is in
	// 30000142 but attacker character 3 matches.
	m := newTestManager(t)

	ch := newFakeChannel()
	_, err := m.Add(&models.Subscription{
		Kind:         models.KindWebSocket,
		SystemIDs:    []int32{30000999},
		CharacterIDs: []int64{3},
	}, ch)
	require.NoError(t, err)

	m.BroadcastKillmails(30000142, []*killmails.Killmail{testKillmail(1, 30000142, 3)})

	require.Eventually(t, func() bool { return len(ch.events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestBroadcastSkipsNonCandidates(t *testing.T) {
	m := newTestManager(t)

	ch := newFakeChannel()
	_, err := m.Add(&models.Subscription{
		Kind:      models.KindWebSocket,
		SystemIDs: []int32{30000999},
	}, ch)
	require.NoError(t, err)

	m.BroadcastKillmails(30000142, []*killmails.Killmail{testKillmail(1, 30000142, 3)})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, ch.events())
}

func TestBroadcastIsolatesSubscribers(t *testing.T) {
	m := newTestManager(t)

	dead := newFakeChannel()
	dead.kill()
	live := newFakeChannel()

	_, err := m.Add(&models.Subscription{Kind: models.KindWebSocket, SystemIDs: []int32{30000142}}, dead)
	require.NoError(t, err)
	_, err = m.Add(&models.Subscription{Kind: models.KindWebSocket, SystemIDs: []int32{30000142}}, live)
	require.NoError(t, err)

	m.BroadcastKillmails(30000142, []*killmails.Killmail{testKillmail(1, 30000142, 3)})

	require.Eventually(t, func() bool { return len(live.events()) == 1 }, time.Second, 5*time.Millisecond,
		"failure on one subscriber never affects another")
}

func TestUpdateReindexes(t *testing.T) {
	m := newTestManager(t)

	ch := newFakeChannel()
	id, err := m.Add(&models.Subscription{
		Kind:      models.KindWebSocket,
		SystemIDs: []int32{30000142},
	}, ch)
	require.NoError(t, err)

	systems := []int32{30000999}
	require.NoError(t, m.Update(id, &models.Patch{SystemIDs: &systems}))

	// The index follows the patch: old system no longer dispatches, new does.
	require.Eventually(t, func() bool {
		m.BroadcastKillmails(30000999, []*killmails.Killmail{testKillmail(2, 30000999, 5)})
		return len(ch.events()) > 0
	}, time.Second, 20*time.Millisecond)

	before := len(ch.events())
	m.BroadcastKillmails(30000142, []*killmails.Killmail{testKillmail(3, 30000142, 7)})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, len(ch.events()))
}

func TestChannelDeathCleansIndices(t *testing.T) {
	m := newTestManager(t)

	ch := newFakeChannel()
	_, err := m.Add(&models.Subscription{
		Kind:      models.KindWebSocket,
		SystemIDs: []int32{30000142},
	}, ch)
	require.NoError(t, err)

	ch.kill()

	require.Eventually(t, func() bool {
		stats := m.Stats()
		return stats.Total == 0 && stats.SystemEntries == 0
	}, time.Second, 5*time.Millisecond)
}

// panicChannel crashes the worker on every delivery.
type panicChannel struct {
	done chan struct{}
}

func (p *panicChannel) Push(event string, payload interface{}) error { panic("transport exploded") }
func (p *panicChannel) Done() <-chan struct{}                        { return p.done }

func TestCrashedWorkerRestartsThenGivesUp(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Add(&models.Subscription{
		Kind:      models.KindWebSocket,
		SystemIDs: []int32{30000142},
	}, &panicChannel{done: make(chan struct{})})
	require.NoError(t, err)

	// Every delivery crashes the worker; the manager restarts it up to the
	// budget, then unregisters the subscription.
	require.Eventually(t, func() bool {
		m.BroadcastKillmails(30000142, []*killmails.Killmail{testKillmail(1, 30000142, 3)})
		return m.Stats().Total == 0
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 0, m.Stats().SystemEntries, "indices cleaned after giving up")
}

func TestStatsCountsByKind(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Add(&models.Subscription{Kind: models.KindWebSocket, SystemIDs: []int32{30000142}}, newFakeChannel())
	require.NoError(t, err)
	_, err = m.Add(&models.Subscription{
		Kind:        models.KindWebhook,
		SystemIDs:   []int32{30000143},
		CallbackURL: "https://example.com/hook",
	}, nil)
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.WebSocket)
	assert.Equal(t, 1, stats.Webhook)
	assert.Equal(t, 2, stats.SystemEntries)
}
