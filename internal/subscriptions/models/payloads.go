package models

import (
	"time"

	killmails "wanderer-kills/internal/killmails/models"
)

// DetailedKillUpdate is the webhook payload carrying enriched killmails.
type DetailedKillUpdate struct {
	Type          string                `json:"type"`
	SolarSystemID int32                 `json:"solar_system_id"`
	Kills         []*killmails.Killmail `json:"kills"`
	Timestamp     time.Time             `json:"timestamp"`
}

// KillCountUpdate is the webhook payload carrying a retained-kill count.
type KillCountUpdate struct {
	Type          string    `json:"type"`
	SolarSystemID int32     `json:"solar_system_id"`
	Count         int       `json:"count"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewDetailedKillUpdate builds the stable webhook payload.
func NewDetailedKillUpdate(systemID int32, kills []*killmails.Killmail) DetailedKillUpdate {
	return DetailedKillUpdate{
		Type:          "detailed_kill_update",
		SolarSystemID: systemID,
		Kills:         kills,
		Timestamp:     time.Now().UTC(),
	}
}

// NewKillCountUpdate builds the kill-count webhook payload.
func NewKillCountUpdate(systemID int32, count int) KillCountUpdate {
	return KillCountUpdate{
		Type:          "kill_count_update",
		SolarSystemID: systemID,
		Count:         count,
		Timestamp:     time.Now().UTC(),
	}
}
