package dto

import "encoding/json"

// Frame is one websocket message in either direction.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundFrame pairs an event name with its payload for encoding.
type OutboundFrame struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// Inbound event names.
const (
	EventJoin                 = "join"
	EventSubscribeSystems     = "subscribe_systems"
	EventUnsubscribeSystems   = "unsubscribe_systems"
	EventSubscribeCharacters  = "subscribe_characters"
	EventUnsubscribeCharacters = "unsubscribe_characters"
	EventGetStatus            = "get_status"
)

// Outbound event names.
const (
	EventKillmailUpdate  = "killmail_update"
	EventKillCountUpdate = "kill_count_update"
	EventPreloadStatus   = "preload_status"
	EventPreloadBatch    = "preload_batch"
	EventPreloadComplete = "preload_complete"
	EventStatus          = "status"
	EventError           = "error"
)

// PreloadParams configures the on-join backfill.
type PreloadParams struct {
	Enabled            bool `json:"enabled"`
	LimitPerSystem     int  `json:"limit_per_system,omitempty"`
	SinceHours         int  `json:"since_hours,omitempty"`
	DeliveryBatchSize  int  `json:"delivery_batch_size,omitempty"`
	DeliveryIntervalMs int  `json:"delivery_interval_ms,omitempty"`
}

// JoinParams are the killmails:lobby join arguments.
type JoinParams struct {
	Systems    []int32        `json:"systems,omitempty"`
	Characters []int64        `json:"characters,omitempty"`
	Preload    *PreloadParams `json:"preload,omitempty"`
}

// FilterPatch adds or removes systems/characters on a live connection.
type FilterPatch struct {
	Systems    []int32 `json:"systems,omitempty"`
	Characters []int64 `json:"characters,omitempty"`
}

// ErrorPayload reports a failed inbound event.
type ErrorPayload struct {
	Message string `json:"message"`
}
