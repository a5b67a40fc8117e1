package dto

// GetSystemKillsInput selects kills for one system.
type GetSystemKillsInput struct {
	SystemID   int32 `path:"system_id" minimum:"1" maximum:"32000000" doc:"Solar system id"`
	SinceHours int   `query:"since_hours" default:"24" minimum:"1" maximum:"168" doc:"Lookback window in hours"`
	Limit      int   `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Maximum killmails returned"`
}

// BulkSystemKillsInput selects kills for several systems at once.
type BulkSystemKillsInput struct {
	Body struct {
		SystemIDs  []int32 `json:"system_ids" minItems:"1" maxItems:"100" doc:"Solar system ids"`
		SinceHours int     `json:"since_hours,omitempty" doc:"Lookback window in hours"`
		Limit      int     `json:"limit,omitempty" doc:"Maximum killmails per system"`
	}
}

// GetCachedKillsInput selects the cache-only view of one system.
type GetCachedKillsInput struct {
	SystemID   int32 `path:"system_id" minimum:"1" maximum:"32000000"`
	SinceHours int   `query:"since_hours" default:"1" minimum:"1" maximum:"168"`
}

// GetKillmailInput selects one killmail.
type GetKillmailInput struct {
	KillmailID int64 `path:"killmail_id" minimum:"1"`
}

// GetKillCountInput selects the retained count for one system.
type GetKillCountInput struct {
	SystemID int32 `path:"system_id" minimum:"1" maximum:"32000000"`
}
