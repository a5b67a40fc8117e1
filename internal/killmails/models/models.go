package models

import (
	"fmt"
	"time"
)

// Position is a location in space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Participant is one party on a killmail, victim or attacker. Names are
// populated by the enricher; a missing lookup leaves the name empty and the
// record stays valid. NPC participants may omit the character id.
type Participant struct {
	CharacterID    *int64  `json:"character_id,omitempty"`
	CharacterName  string  `json:"character_name,omitempty"`
	CorporationID  int64   `json:"corporation_id,omitempty"`
	CorporationName string `json:"corporation_name,omitempty"`
	AllianceID     *int64  `json:"alliance_id,omitempty"`
	AllianceName   string  `json:"alliance_name,omitempty"`
	FactionID      *int64  `json:"faction_id,omitempty"`
	FactionName    string  `json:"faction_name,omitempty"`
	ShipTypeID     int64   `json:"ship_type_id,omitempty"`
	ShipName       string  `json:"ship_name,omitempty"`
	ShipGroup      string  `json:"ship_group,omitempty"`
	ShipCategory   string  `json:"ship_category,omitempty"`
	WeaponTypeID   *int64  `json:"weapon_type_id,omitempty"`
	WeaponName     string  `json:"weapon_name,omitempty"`
	DamageDone     int     `json:"damage_done,omitempty"`
	DamageTaken    int     `json:"damage_taken,omitempty"`
	FinalBlow      bool    `json:"final_blow,omitempty"`
	SecurityStatus float64 `json:"security_status,omitempty"`
}

// ZKB is the killboard metadata block attached to every killmail.
type ZKB struct {
	Hash           string   `json:"hash"`
	TotalValue     float64  `json:"total_value"`
	Points         int      `json:"points"`
	NPC            bool     `json:"npc"`
	Solo           bool     `json:"solo"`
	Awox           bool     `json:"awox"`
	Labels         []string `json:"labels,omitempty"`
	LocationID     int64    `json:"location_id,omitempty"`
	FittedValue    float64  `json:"fitted_value,omitempty"`
	DroppedValue   float64  `json:"dropped_value,omitempty"`
	DestroyedValue float64  `json:"destroyed_value,omitempty"`
}

// Killmail is the canonical record flowing through the pipeline: created by
// the parser, decorated by the enricher, retained by the cache and event
// store, and fanned out to subscribers.
type Killmail struct {
	KillmailID int64         `json:"killmail_id"`
	KillTime   time.Time     `json:"kill_time"`
	SystemID   int32         `json:"system_id"`
	Victim     Participant   `json:"victim"`
	Attackers  []Participant `json:"attackers"`
	ZKB        ZKB           `json:"zkb"`
	Position   *Position     `json:"position,omitempty"`
	Enriched   bool          `json:"enriched,omitempty"`
}

// Validate checks the structural invariants every emitted killmail holds.
func (km *Killmail) Validate() error {
	if km.KillmailID <= 0 {
		return fmt.Errorf("killmail %d: non-positive killmail_id", km.KillmailID)
	}
	if km.SystemID <= 0 || km.SystemID > 32_000_000 {
		return fmt.Errorf("killmail %d: system_id %d out of range", km.KillmailID, km.SystemID)
	}
	if km.KillTime.IsZero() {
		return fmt.Errorf("killmail %d: missing kill_time", km.KillmailID)
	}
	if len(km.Attackers) == 0 {
		return fmt.Errorf("killmail %d: no attackers", km.KillmailID)
	}

	finalBlows := 0
	for _, a := range km.Attackers {
		if a.FinalBlow {
			finalBlows++
		}
	}
	if finalBlows != 1 {
		return fmt.Errorf("killmail %d: %d final blows", km.KillmailID, finalBlows)
	}
	return nil
}

// CharacterIDs returns the character ids of the victim and every attacker.
func (km *Killmail) CharacterIDs() []int64 {
	out := make([]int64, 0, len(km.Attackers)+1)
	if km.Victim.CharacterID != nil {
		out = append(out, *km.Victim.CharacterID)
	}
	for _, a := range km.Attackers {
		if a.CharacterID != nil {
			out = append(out, *a.CharacterID)
		}
	}
	return out
}

// Participants returns pointers to the victim and every attacker, for
// in-place decoration.
func (km *Killmail) Participants() []*Participant {
	out := make([]*Participant, 0, len(km.Attackers)+1)
	out = append(out, &km.Victim)
	for i := range km.Attackers {
		out = append(out, &km.Attackers[i])
	}
	return out
}
