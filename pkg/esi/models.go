package esi

import "time"

// Character is the public character record.
type Character struct {
	CharacterID    int64   `json:"character_id"`
	Name           string  `json:"name"`
	CorporationID  int64   `json:"corporation_id"`
	AllianceID     *int64  `json:"alliance_id,omitempty"`
	FactionID      *int64  `json:"faction_id,omitempty"`
	SecurityStatus float64 `json:"security_status,omitempty"`
}

// Corporation is the public corporation record.
type Corporation struct {
	CorporationID int64  `json:"corporation_id"`
	Name          string `json:"name"`
	Ticker        string `json:"ticker"`
	AllianceID    *int64 `json:"alliance_id,omitempty"`
	MemberCount   int    `json:"member_count,omitempty"`
}

// Alliance is the public alliance record.
type Alliance struct {
	AllianceID int64  `json:"alliance_id"`
	Name       string `json:"name"`
	Ticker     string `json:"ticker"`
}

// Type is a universe type (ship hull, weapon, module).
type Type struct {
	TypeID  int64  `json:"type_id"`
	Name    string `json:"name"`
	GroupID int64  `json:"group_id"`
}

// Group is a universe group and its member types.
type Group struct {
	GroupID    int64   `json:"group_id"`
	Name       string  `json:"name"`
	CategoryID int64   `json:"category_id"`
	Types      []int64 `json:"types"`
}

// Position is a location in space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Victim is the destroyed party on an ESI killmail.
type Victim struct {
	CharacterID   *int64    `json:"character_id,omitempty"`
	CorporationID int64     `json:"corporation_id"`
	AllianceID    *int64    `json:"alliance_id,omitempty"`
	FactionID     *int64    `json:"faction_id,omitempty"`
	ShipTypeID    int64     `json:"ship_type_id"`
	DamageTaken   int       `json:"damage_taken"`
	Position      *Position `json:"position,omitempty"`
}

// Attacker is one aggressor on an ESI killmail.
type Attacker struct {
	CharacterID    *int64  `json:"character_id,omitempty"`
	CorporationID  *int64  `json:"corporation_id,omitempty"`
	AllianceID     *int64  `json:"alliance_id,omitempty"`
	FactionID      *int64  `json:"faction_id,omitempty"`
	ShipTypeID     *int64  `json:"ship_type_id,omitempty"`
	WeaponTypeID   *int64  `json:"weapon_type_id,omitempty"`
	DamageDone     int     `json:"damage_done"`
	FinalBlow      bool    `json:"final_blow"`
	SecurityStatus float64 `json:"security_status,omitempty"`
}

// Killmail is the full killmail body as served by ESI.
type Killmail struct {
	KillmailID    int64      `json:"killmail_id"`
	KillmailTime  time.Time  `json:"killmail_time"`
	SolarSystemID int32      `json:"solar_system_id"`
	Victim        Victim     `json:"victim"`
	Attackers     []Attacker `json:"attackers"`
}

// ShipType is one entry of the bootstrapped ship catalogue.
type ShipType struct {
	TypeID    int64  `json:"type_id"`
	Name      string `json:"name"`
	GroupID   int64  `json:"group_id"`
	GroupName string `json:"group_name"`
}
