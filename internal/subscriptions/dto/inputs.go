package dto

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// CreateSubscriptionInput creates a webhook subscription.
type CreateSubscriptionInput struct {
	Body CreateSubscriptionRequest
}

// CreateSubscriptionRequest is the POST body.
type CreateSubscriptionRequest struct {
	SubscriberID string  `json:"subscriber_id" validate:"required,max=128" doc:"Client-provided subscriber identifier"`
	SystemIDs    []int32 `json:"system_ids,omitempty" validate:"max=100,dive,min=1,max=32000000" doc:"Solar system ids to watch"`
	CharacterIDs []int64 `json:"character_ids,omitempty" validate:"max=1000,dive,min=1" doc:"Character ids to watch"`
	CallbackURL  string  `json:"callback_url" validate:"required,url,startswith=https://" doc:"HTTPS endpoint receiving deliveries"`
}

// Validate applies the field rules beyond schema shape.
func (r *CreateSubscriptionRequest) Validate() error {
	return validate.Struct(r)
}

// DeleteSubscriptionInput removes one subscription.
type DeleteSubscriptionInput struct {
	ID string `path:"id" doc:"Subscription id"`
}
