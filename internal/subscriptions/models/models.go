package models

import (
	"fmt"
	"time"

	killmails "wanderer-kills/internal/killmails/models"
)

// Kind is the delivery transport for a subscription.
type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindWebhook   Kind = "webhook"
)

// Filter limits per transport.
const (
	MaxSystemsWebSocket = 50
	MaxSystemsWebhook   = 100
	MaxCharacters       = 1000
)

// Subscription is one client's declared interest in a set of systems and/or
// characters. The matching rule is OR: a killmail matches when its system is
// subscribed or any participant character is. Each subscription is
// exclusively owned by its worker once registered.
type Subscription struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriber_id"`
	SystemIDs    []int32   `json:"system_ids"`
	CharacterIDs []int64   `json:"character_ids"`
	Kind         Kind      `json:"kind"`
	CallbackURL  string    `json:"callback_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks the structural invariants.
func (s *Subscription) Validate() error {
	if len(s.SystemIDs) == 0 && len(s.CharacterIDs) == 0 {
		return fmt.Errorf("subscription %s: at least one of system_ids or character_ids required", s.ID)
	}

	maxSystems := MaxSystemsWebSocket
	if s.Kind == Kind("") {
		return fmt.Errorf("subscription %s: missing kind", s.ID)
	}
	if s.Kind == KindWebhook {
		maxSystems = MaxSystemsWebhook
		if s.CallbackURL == "" {
			return fmt.Errorf("subscription %s: webhook subscription requires callback_url", s.ID)
		}
	}

	if len(s.SystemIDs) > maxSystems {
		return fmt.Errorf("subscription %s: %d systems exceeds limit %d", s.ID, len(s.SystemIDs), maxSystems)
	}
	if len(s.CharacterIDs) > MaxCharacters {
		return fmt.Errorf("subscription %s: %d characters exceeds limit %d", s.ID, len(s.CharacterIDs), MaxCharacters)
	}
	return nil
}

// Matches applies the OR filter rule to a killmail.
func (s *Subscription) Matches(km *killmails.Killmail) bool {
	for _, systemID := range s.SystemIDs {
		if systemID == km.SystemID {
			return true
		}
	}
	if len(s.CharacterIDs) == 0 {
		return false
	}

	chars := make(map[int64]struct{}, len(s.CharacterIDs))
	for _, id := range s.CharacterIDs {
		chars[id] = struct{}{}
	}
	for _, id := range km.CharacterIDs() {
		if _, ok := chars[id]; ok {
			return true
		}
	}
	return false
}

// Patch is a partial subscription update applied by the owning worker.
type Patch struct {
	SystemIDs    *[]int32 `json:"system_ids,omitempty"`
	CharacterIDs *[]int64 `json:"character_ids,omitempty"`
	CallbackURL  *string  `json:"callback_url,omitempty"`
}

// SystemKey widens a system id for the shared index.
func SystemKey(systemID int32) int64 {
	return int64(systemID)
}
