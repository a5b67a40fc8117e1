package routes

import (
	"context"
	"net/http"
	"time"

	"wanderer-kills/internal/subscriptions/dto"
	"wanderer-kills/internal/subscriptions/models"
	"wanderer-kills/internal/subscriptions/services"

	"github.com/danielgtaylor/huma/v2"
)

// RegisterSubscriptionRoutes registers the webhook subscription API
func RegisterSubscriptionRoutes(api huma.API, basePath string, manager *services.Manager) {
	huma.Register(api, huma.Operation{
		OperationID:   "createSubscription",
		Method:        http.MethodPost,
		Path:          basePath + "/subscriptions",
		Summary:       "Create a webhook subscription",
		Description:   "Registers an HTTPS callback receiving killmail updates for the given systems and/or characters.",
		Tags:          []string{"Subscriptions"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *dto.CreateSubscriptionInput) (*dto.CreateSubscriptionOutput, error) {
		if err := input.Body.Validate(); err != nil {
			return nil, huma.Error400BadRequest("Invalid subscription request", err)
		}

		sub := &models.Subscription{
			SubscriberID: input.Body.SubscriberID,
			SystemIDs:    input.Body.SystemIDs,
			CharacterIDs: input.Body.CharacterIDs,
			Kind:         models.KindWebhook,
			CallbackURL:  input.Body.CallbackURL,
		}

		id, err := manager.Add(sub, nil)
		if err != nil {
			return nil, huma.Error400BadRequest("Failed to create subscription", err)
		}
		return dto.NewCreateSubscriptionOutput(id), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "listSubscriptions",
		Method:        http.MethodGet,
		Path:          basePath + "/subscriptions",
		Summary:       "List subscriptions",
		Tags:          []string{"Subscriptions"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *struct{}) (*dto.ListSubscriptionsOutput, error) {
		out := &dto.ListSubscriptionsOutput{}
		out.Body.Data = manager.List()
		out.Body.Timestamp = time.Now().UTC()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "deleteSubscription",
		Method:        http.MethodDelete,
		Path:          basePath + "/subscriptions/{id}",
		Summary:       "Remove a subscription",
		Tags:          []string{"Subscriptions"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *dto.DeleteSubscriptionInput) (*dto.DeleteSubscriptionOutput, error) {
		if err := manager.Remove(input.ID); err != nil {
			return nil, huma.Error404NotFound("Subscription not found")
		}

		out := &dto.DeleteSubscriptionOutput{}
		out.Body.Data.Removed = true
		out.Body.Timestamp = time.Now().UTC()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "getSubscriptionStats",
		Method:        http.MethodGet,
		Path:          basePath + "/subscriptions/stats",
		Summary:       "Get subscription aggregates",
		Tags:          []string{"Subscriptions"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *struct{}) (*dto.SubscriptionStatsOutput, error) {
		out := &dto.SubscriptionStatsOutput{}
		out.Body.Data = manager.Stats()
		out.Body.Timestamp = time.Now().UTC()
		return out, nil
	})
}
