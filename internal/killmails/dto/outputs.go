package dto

import (
	"time"

	"wanderer-kills/internal/killmails/models"
)

// KillListResponse is the data block for system kill queries.
type KillListResponse struct {
	SystemID  int32              `json:"system_id"`
	Kills     []*models.Killmail `json:"kills"`
	Count     int                `json:"count"`
}

// KillListOutput wraps a kill list in the standard envelope.
type KillListOutput struct {
	Body struct {
		Data      KillListResponse `json:"data"`
		Timestamp time.Time        `json:"timestamp"`
	}
}

// NewKillListOutput builds the envelope.
func NewKillListOutput(systemID int32, kills []*models.Killmail) *KillListOutput {
	out := &KillListOutput{}
	out.Body.Data = KillListResponse{SystemID: systemID, Kills: kills, Count: len(kills)}
	out.Body.Timestamp = time.Now().UTC()
	return out
}

// BulkKillsOutput wraps the bulk query result.
type BulkKillsOutput struct {
	Body struct {
		Data      map[int32][]*models.Killmail `json:"data"`
		Timestamp time.Time                    `json:"timestamp"`
	}
}

// KillmailOutput wraps one killmail.
type KillmailOutput struct {
	Body struct {
		Data      *models.Killmail `json:"data"`
		Timestamp time.Time        `json:"timestamp"`
	}
}

// KillCountResponse is the data block for count queries.
type KillCountResponse struct {
	SystemID int32 `json:"system_id"`
	Count    int   `json:"count"`
}

// KillCountOutput wraps a count in the standard envelope.
type KillCountOutput struct {
	Body struct {
		Data      KillCountResponse `json:"data"`
		Timestamp time.Time         `json:"timestamp"`
	}
}

// ModuleStatusResponse reports module health.
type ModuleStatusResponse struct {
	Module  string `json:"module"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StatusOutput wraps a module status response.
type StatusOutput struct {
	Body ModuleStatusResponse
}
