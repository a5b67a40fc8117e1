package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	killmailsModels "wanderer-kills/internal/killmails/models"
	killmailsServices "wanderer-kills/internal/killmails/services"
	subsServices "wanderer-kills/internal/subscriptions/services"
	zkb "wanderer-kills/internal/zkillboard/services"
	"wanderer-kills/internal/websocket/dto"
	"wanderer-kills/pkg/cache"
	"wanderer-kills/pkg/clock"
	"wanderer-kills/pkg/esi"
	"wanderer-kills/pkg/pubsub"
	"wanderer-kills/pkg/store"
)

func ptr[T any](v T) *T { return &v }

// nullResolver fails every lookup; enrichment falls back to ids.
type nullResolver struct{}

func (nullResolver) Character(ctx context.Context, id int64) (*esi.Character, error) {
	return nil, fmt.Errorf("not stubbed")
}
func (nullResolver) Corporation(ctx context.Context, id int64) (*esi.Corporation, error) {
	return nil, fmt.Errorf("not stubbed")
}
func (nullResolver) Alliance(ctx context.Context, id int64) (*esi.Alliance, error) {
	return nil, fmt.Errorf("not stubbed")
}
func (nullResolver) Type(ctx context.Context, id int64) (*esi.Type, error) {
	return nil, fmt.Errorf("not stubbed")
}
func (nullResolver) Group(ctx context.Context, id int64) (*esi.Group, error) {
	return nil, fmt.Errorf("not stubbed")
}
func (nullResolver) Killmail(ctx context.Context, id int64, hash string) (*esi.Killmail, error) {
	return nil, fmt.Errorf("not stubbed")
}
func (nullResolver) Characters(ctx context.Context, ids []int64) map[int64]*esi.Character {
	return nil
}
func (nullResolver) Corporations(ctx context.Context, ids []int64) map[int64]*esi.Corporation {
	return nil
}
func (nullResolver) Alliances(ctx context.Context, ids []int64) map[int64]*esi.Alliance {
	return nil
}
func (nullResolver) Types(ctx context.Context, ids []int64) map[int64]*esi.Type {
	return nil
}

// emptyHistory serves no historical kills.
type emptyHistory struct{}

func (emptyHistory) BackfillEach(ctx context.Context, systemID int32, sinceHours, limit int, fn func(*killmailsModels.Killmail)) (zkb.BackfillResult, error) {
	return zkb.BackfillResult{SystemID: systemID}, nil
}

type harness struct {
	pipeline *killmailsServices.Pipeline
	url      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewSystem()

	c := cache.New(clk)
	events := store.New(clk)
	bus := pubsub.New()

	enricher := killmailsServices.NewEnricher(nullResolver{}, esi.NewCatalogue(c))
	pipeline := killmailsServices.NewPipeline(c, events, enricher, bus, time.Minute, 10)
	killService := killmailsServices.NewService(c, events, clk)

	notifier := subsServices.NewWebhookNotifier(bus)
	manager := subsServices.NewManager(clk, notifier)
	pipeline.SetBroadcaster(manager)
	t.Cleanup(func() {
		manager.Stop()
		notifier.Stop()
	})

	m := New(manager, killService, emptyHistory{}, bus, Config{})

	r := chi.NewRouter()
	m.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &harness{
		pipeline: pipeline,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/websocket",
	}
}

func dial(t *testing.T, h *harness) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(dto.Frame{Event: event, Payload: raw}))
}

// readEvent reads frames until one matches the wanted event.
func readEvent(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var frame dto.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("reading for %q: %v", want, err)
		}
		if frame.Event == want {
			return frame.Payload
		}
	}
	t.Fatalf("never received %q", want)
	return nil
}

func streamKillmail(id int64, systemID int32) *killmailsModels.Killmail {
	return &killmailsModels.Killmail{
		KillmailID: id,
		KillTime:   time.Now().UTC(),
		SystemID:   systemID,
		Victim:     killmailsModels.Participant{CharacterID: ptr(int64(1)), CorporationID: 2, ShipTypeID: 671, DamageTaken: 10},
		Attackers:  []killmailsModels.Participant{{CharacterID: ptr(int64(3)), CorporationID: 4, DamageDone: 10, FinalBlow: true}},
		ZKB:        killmailsModels.ZKB{Hash: "h"},
	}
}

func TestJoinAndReceiveKillmail(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	send(t, conn, dto.EventJoin, dto.JoinParams{Systems: []int32{30000142}})

	// Give the subscription worker a moment to register before emitting.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, h.pipeline.Process(context.Background(), streamKillmail(1, 30000142)))

	payload := readEvent(t, conn, dto.EventKillmailUpdate)

	var update subsServices.KillmailUpdateEvent
	require.NoError(t, json.Unmarshal(payload, &update))
	assert.Equal(t, int32(30000142), update.SystemID)
	require.Len(t, update.Killmails, 1)
	assert.Equal(t, int64(1), update.Killmails[0].KillmailID)
}

func TestJoinLimitViolationKeepsChannelOpen(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	tooMany := make([]int32, 51)
	for i := range tooMany {
		tooMany[i] = int32(30000000 + i)
	}
	send(t, conn, dto.EventJoin, dto.JoinParams{Systems: tooMany})

	payload := readEvent(t, conn, dto.EventError)
	var errPayload dto.ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Contains(t, errPayload.Message, "50")

	// The channel stays open: a valid join now succeeds.
	send(t, conn, dto.EventJoin, dto.JoinParams{Systems: []int32{30000142}})
	send(t, conn, dto.EventGetStatus, struct{}{})
	readEvent(t, conn, dto.EventStatus)
}

func TestJoinRequiresFilter(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	send(t, conn, dto.EventJoin, dto.JoinParams{})
	readEvent(t, conn, dto.EventError)
}

func TestKillCountUpdateForwarded(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	send(t, conn, dto.EventJoin, dto.JoinParams{Systems: []int32{30000142}})
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, h.pipeline.Process(context.Background(), streamKillmail(2, 30000142)))

	payload := readEvent(t, conn, dto.EventKillCountUpdate)
	var count killmailsServices.KillCount
	require.NoError(t, json.Unmarshal(payload, &count))
	assert.Equal(t, int32(30000142), count.SystemID)
	assert.Equal(t, 1, count.Count)
}

func TestSubscribeSystemsWidensFilter(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	send(t, conn, dto.EventJoin, dto.JoinParams{Systems: []int32{30000142}})
	time.Sleep(100 * time.Millisecond)

	send(t, conn, dto.EventSubscribeSystems, dto.FilterPatch{Systems: []int32{30000999}})
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, h.pipeline.Process(context.Background(), streamKillmail(3, 30000999)))

	payload := readEvent(t, conn, dto.EventKillmailUpdate)
	var update subsServices.KillmailUpdateEvent
	require.NoError(t, json.Unmarshal(payload, &update))
	assert.Equal(t, int32(30000999), update.SystemID)
}

func TestPreloadEventsOnJoin(t *testing.T) {
	h := newHarness(t)
	conn := dial(t, h)

	send(t, conn, dto.EventJoin, dto.JoinParams{
		Systems: []int32{30000142},
		Preload: &dto.PreloadParams{Enabled: true, LimitPerSystem: 10, DeliveryIntervalMs: 1},
	})

	readEvent(t, conn, dto.EventPreloadStatus)
	payload := readEvent(t, conn, dto.EventPreloadComplete)

	var complete map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &complete))
	assert.EqualValues(t, 0, complete["total_kills"], "empty store and empty history yield an empty preload")
}
