package routes

import (
	"context"
	"net/http"
	"time"

	"wanderer-kills/internal/killmails/dto"
	"wanderer-kills/internal/killmails/services"

	"github.com/danielgtaylor/huma/v2"
)

// RegisterKillmailRoutes registers all killmail query routes
func RegisterKillmailRoutes(api huma.API, basePath string, service *services.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "getSystemKills",
		Method:        http.MethodGet,
		Path:          basePath + "/kills/system/{system_id}",
		Summary:       "Get kills for a system",
		Description:   "Returns enriched killmails for one solar system within the lookback window. Cold systems are backfilled from the killboard API.",
		Tags:          []string{"Kills"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *dto.GetSystemKillsInput) (*dto.KillListOutput, error) {
		kills, err := service.KillsForSystem(ctx, input.SystemID, input.SinceHours, input.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to fetch system kills", err)
		}
		return dto.NewKillListOutput(input.SystemID, kills), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getBulkSystemKills",
		Method:        http.MethodPost,
		Path:          basePath + "/kills/systems",
		Summary:       "Get kills for several systems",
		Tags:          []string{"Kills"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *dto.BulkSystemKillsInput) (*dto.BulkKillsOutput, error) {
		sinceHours := input.Body.SinceHours
		if sinceHours <= 0 {
			sinceHours = 24
		}
		limit := input.Body.Limit
		if limit <= 0 {
			limit = 50
		}
		if limit > 1000 {
			return nil, huma.Error400BadRequest("limit must be 1000 or less")
		}

		kills, err := service.KillsForSystems(ctx, input.Body.SystemIDs, sinceHours, limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to fetch system kills", err)
		}

		out := &dto.BulkKillsOutput{}
		out.Body.Data = kills
		out.Body.Timestamp = time.Now().UTC()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getCachedSystemKills",
		Method:        http.MethodGet,
		Path:          basePath + "/kills/cached/{system_id}",
		Summary:       "Get cached kills for a system",
		Description:   "Serves a system strictly from the in-memory cache without touching upstream APIs.",
		Tags:          []string{"Kills"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *dto.GetCachedKillsInput) (*dto.KillListOutput, error) {
		return dto.NewKillListOutput(input.SystemID, service.CachedKills(input.SystemID, input.SinceHours)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getKillmail",
		Method:        http.MethodGet,
		Path:          basePath + "/killmail/{killmail_id}",
		Summary:       "Get a single enriched killmail",
		Tags:          []string{"Kills"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *dto.GetKillmailInput) (*dto.KillmailOutput, error) {
		km, ok := service.Killmail(input.KillmailID)
		if !ok {
			return nil, huma.Error404NotFound("Killmail not found")
		}

		out := &dto.KillmailOutput{}
		out.Body.Data = km
		out.Body.Timestamp = time.Now().UTC()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getSystemKillCount",
		Method:        http.MethodGet,
		Path:          basePath + "/kills/count/{system_id}",
		Summary:       "Get the retained kill count for a system",
		Tags:          []string{"Kills"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *dto.GetKillCountInput) (*dto.KillCountOutput, error) {
		out := &dto.KillCountOutput{}
		out.Body.Data = dto.KillCountResponse{SystemID: input.SystemID, Count: service.KillCount(input.SystemID)}
		out.Body.Timestamp = time.Now().UTC()
		return out, nil
	})
}
