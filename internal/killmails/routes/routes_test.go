package routes

import (
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wanderer-kills/internal/killmails/models"
	"wanderer-kills/internal/killmails/services"
	"wanderer-kills/pkg/cache"
	"wanderer-kills/pkg/clock"
	"wanderer-kills/pkg/store"
)

func ptr[T any](v T) *T { return &v }

func seededService(t *testing.T) *services.Service {
	t.Helper()
	clk := clock.NewSystem()
	c := cache.New(clk)
	events := store.New(clk)

	km := &models.Killmail{
		KillmailID: 1,
		KillTime:   time.Now().UTC().Add(-10 * time.Minute),
		SystemID:   30000142,
		Victim:     models.Participant{CharacterID: ptr(int64(1)), CorporationID: 2, ShipTypeID: 671, ShipName: "Raven", DamageTaken: 10},
		Attackers:  []models.Participant{{CharacterID: ptr(int64(3)), CorporationID: 4, DamageDone: 10, FinalBlow: true}},
		ZKB:        models.ZKB{Hash: "h"},
		Enriched:   true,
	}
	c.Put(cache.NSKillmail, cache.KillmailKey(1), km, time.Hour)
	c.AddSystemKillmail(30000142, 1)
	events.Append(30000142, 1)

	return services.NewService(c, events, clk)
}

func newTestAPI(t *testing.T) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	RegisterKillmailRoutes(api, "/api/v1", seededService(t))
	return api
}

func TestGetSystemKills(t *testing.T) {
	api := newTestAPI(t)

	resp := api.Get("/api/v1/kills/system/30000142?since_hours=24&limit=50")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"killmail_id":1`)
	assert.Contains(t, resp.Body.String(), `"Raven"`)
	assert.Contains(t, resp.Body.String(), `"timestamp"`)
}

func TestGetSystemKillsRejectsBadSystem(t *testing.T) {
	api := newTestAPI(t)

	resp := api.Get("/api/v1/kills/system/99000000")
	assert.GreaterOrEqual(t, resp.Code, 400, "system id above 32M is rejected")
}

func TestGetKillmail(t *testing.T) {
	api := newTestAPI(t)

	resp := api.Get("/api/v1/killmail/1")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"system_id":30000142`)
}

func TestGetKillmailNotFound(t *testing.T) {
	api := newTestAPI(t)

	resp := api.Get("/api/v1/killmail/999")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestGetKillCount(t *testing.T) {
	api := newTestAPI(t)

	resp := api.Get("/api/v1/kills/count/30000142")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"count":1`)
}

func TestGetCachedKills(t *testing.T) {
	api := newTestAPI(t)

	resp := api.Get("/api/v1/kills/cached/30000142")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"killmail_id":1`)
}

func TestBulkSystemKills(t *testing.T) {
	api := newTestAPI(t)

	resp := api.Post("/api/v1/kills/systems", map[string]interface{}{
		"system_ids":  []int32{30000142, 30000999},
		"since_hours": 24,
		"limit":       50,
	})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"30000142"`)
}
