package services

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	killmails "wanderer-kills/internal/killmails/models"
	"wanderer-kills/internal/subscriptions/models"
	"wanderer-kills/pkg/clock"
	"wanderer-kills/pkg/pubsub"
)

// newWebhookTarget serves a webhook endpoint invoking fn per delivery.
func newWebhookTarget(t *testing.T, fn func()) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fn()
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestNotifyPostsJSONPayload(t *testing.T) {
	bodyCh := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		bodyCh <- body
	}))
	defer srv.Close()

	n := NewWebhookNotifier(pubsub.New())
	defer n.Stop()

	payload := models.NewDetailedKillUpdate(30000142, []*killmails.Killmail{testKillmail(1, 30000142, 3)})
	require.NoError(t, n.Notify(srv.URL, payload, "sub-1"))

	select {
	case body := <-bodyCh:
		var decoded models.DetailedKillUpdate
		require.NoError(t, json.Unmarshal(body, &decoded))
		assert.Equal(t, "detailed_kill_update", decoded.Type)
		assert.Equal(t, int32(30000142), decoded.SolarSystemID)
		require.Len(t, decoded.Kills, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never delivered")
	}
}

func TestNotifyRejectsEmptyURL(t *testing.T) {
	n := NewWebhookNotifier(pubsub.New())
	defer n.Stop()

	assert.Error(t, n.Notify("", map[string]string{}, "sub-1"))
}

func TestNotifyRetriesTransientFailure(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	n := NewWebhookNotifier(pubsub.New(), WithRetrySchedule([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond}))
	defer n.Stop()

	require.NoError(t, n.Notify(srv.URL, map[string]string{"k": "v"}, "sub-1"))

	require.Eventually(t, func() bool { return hits.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestKillCountReachesWebhookSubscriber(t *testing.T) {
	bodyCh := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodyCh <- body
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(pubsub.New())
	m := NewManager(clock.NewSystem(), notifier)
	t.Cleanup(func() {
		m.Stop()
		notifier.Stop()
	})

	_, err := m.Add(&models.Subscription{
		Kind:        models.KindWebhook,
		SystemIDs:   []int32{30000142},
		CallbackURL: srv.URL,
	}, nil)
	require.NoError(t, err)

	m.BroadcastKillCount(30000142, 7)

	select {
	case body := <-bodyCh:
		var decoded models.KillCountUpdate
		require.NoError(t, json.Unmarshal(body, &decoded))
		assert.Equal(t, "kill_count_update", decoded.Type)
		assert.Equal(t, int32(30000142), decoded.SolarSystemID)
		assert.Equal(t, 7, decoded.Count)
	case <-time.After(2 * time.Second):
		t.Fatal("count update never delivered")
	}
}

func TestNotifyDisablesAfterFailureBudget(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	bus := pubsub.New()
	disabledEvents := bus.Subscribe(TopicWebhookDisabled, 0)
	defer disabledEvents.Unsubscribe()

	n := NewWebhookNotifier(bus, WithRetrySchedule([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond}))
	defer n.Stop()

	disabled := make(chan string, 1)
	n.SetDisableFunc(func(subID string) { disabled <- subID })

	require.NoError(t, n.Notify(srv.URL, map[string]string{}, "sub-1"))

	select {
	case subID := <-disabled:
		assert.Equal(t, "sub-1", subID)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription never disabled")
	}
	assert.Equal(t, int64(5), hits.Load(), "initial attempt plus four scheduled retries")

	select {
	case msg := <-disabledEvents.C():
		assert.Equal(t, "sub-1", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("webhook_disabled event never published")
	}
}
