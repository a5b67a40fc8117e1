package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wanderer-kills/internal/killmails/models"
	"wanderer-kills/internal/zkillboard/dto"
	"wanderer-kills/pkg/clock"
	"wanderer-kills/pkg/esi"
	"wanderer-kills/pkg/metrics"
)

var (
	// ErrInvalidFormat marks input missing the required fields for its shape.
	ErrInvalidFormat = errors.New("parsing: invalid_format")

	// ErrSkippedOld marks records past the recency cutoff, dropped before
	// enrichment.
	ErrSkippedOld = errors.New("parsing: skipped_old")
)

func isSkippedOld(err error) bool {
	return errors.Is(err, ErrSkippedOld)
}

// Parser normalizes killmail input into the canonical model. Stream packages
// carry the full body; historical references carry only an id and hash and
// are resolved through ESI.
type Parser struct {
	resolver esi.Resolver
	clk      clock.Clock
	cutoff   time.Duration
}

// NewParser creates a parser. Records older than cutoff are skipped.
func NewParser(resolver esi.Resolver, clk clock.Clock, cutoff time.Duration) *Parser {
	if cutoff <= 0 {
		cutoff = time.Hour
	}
	return &Parser{resolver: resolver, clk: clk, cutoff: cutoff}
}

// ParseStream handles one RedisQ package carrying a full killmail body.
func (p *Parser) ParseStream(pkg *dto.RedisQPackage) (*models.Killmail, error) {
	if pkg == nil || len(pkg.Killmail) == 0 {
		metrics.KillmailsParsed.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: stream package without killmail body", ErrInvalidFormat)
	}

	var body esi.Killmail
	if err := json.Unmarshal(pkg.Killmail, &body); err != nil {
		metrics.KillmailsParsed.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if body.KillmailID == 0 && pkg.KillID != 0 {
		body.KillmailID = pkg.KillID
	}

	return p.normalize(&body, pkg.ZKB)
}

// ParseReference resolves a historical reference into the full body via ESI,
// then normalizes it under the stream cutoff.
func (p *Parser) ParseReference(ctx context.Context, ref *dto.KillmailRef) (*models.Killmail, error) {
	return p.ParseReferenceWithin(ctx, ref, p.cutoff)
}

// ParseReferenceWithin resolves a reference with an explicit recency window,
// so historical backfills can reach past the stream cutoff.
func (p *Parser) ParseReferenceWithin(ctx context.Context, ref *dto.KillmailRef, maxAge time.Duration) (*models.Killmail, error) {
	if ref == nil || ref.KillmailID <= 0 || ref.ZKB.Hash == "" {
		metrics.KillmailsParsed.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: reference without id and hash", ErrInvalidFormat)
	}

	body, err := p.resolver.Killmail(ctx, ref.KillmailID, ref.ZKB.Hash)
	if err != nil {
		return nil, fmt.Errorf("resolving killmail %d: %w", ref.KillmailID, err)
	}

	return p.normalizeWithin(body, ref.ZKB, maxAge)
}

// ParseFull handles an already complete ESI body.
func (p *Parser) ParseFull(body *esi.Killmail, zkb dto.ZKBData) (*models.Killmail, error) {
	return p.normalize(body, zkb)
}

// normalize converts the upstream shape into the canonical model, renaming
// solar_system_id to system_id and killmail_time to kill_time, and applies
// the recency cutoff.
func (p *Parser) normalize(body *esi.Killmail, zkb dto.ZKBData) (*models.Killmail, error) {
	return p.normalizeWithin(body, zkb, p.cutoff)
}

func (p *Parser) normalizeWithin(body *esi.Killmail, zkb dto.ZKBData, maxAge time.Duration) (*models.Killmail, error) {
	if body.KillmailID <= 0 || body.SolarSystemID <= 0 || len(body.Attackers) == 0 {
		metrics.KillmailsParsed.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: killmail missing required fields", ErrInvalidFormat)
	}
	if body.KillmailTime.IsZero() {
		metrics.KillmailsParsed.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: killmail missing kill time", ErrInvalidFormat)
	}

	if p.clk.Since(body.KillmailTime) > maxAge {
		metrics.KillmailsParsed.WithLabelValues("skipped_old").Inc()
		return nil, fmt.Errorf("%w: killmail %d from %s", ErrSkippedOld, body.KillmailID, body.KillmailTime.Format(time.RFC3339))
	}

	km := &models.Killmail{
		KillmailID: body.KillmailID,
		KillTime:   body.KillmailTime.UTC(),
		SystemID:   body.SolarSystemID,
		Victim:     convertVictim(body.Victim),
		Attackers:  convertAttackers(body.Attackers),
		ZKB: models.ZKB{
			Hash:           zkb.Hash,
			TotalValue:     zkb.TotalValue,
			Points:         zkb.Points,
			NPC:            zkb.NPC,
			Solo:           zkb.Solo,
			Awox:           zkb.Awox,
			Labels:         zkb.Labels,
			LocationID:     zkb.LocationID,
			FittedValue:    zkb.FittedValue,
			DroppedValue:   zkb.DroppedValue,
			DestroyedValue: zkb.DestroyedValue,
		},
	}
	if body.Victim.Position != nil {
		km.Position = &models.Position{
			X: body.Victim.Position.X,
			Y: body.Victim.Position.Y,
			Z: body.Victim.Position.Z,
		}
	}

	if err := km.Validate(); err != nil {
		metrics.KillmailsParsed.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	metrics.KillmailsParsed.WithLabelValues("parsed").Inc()
	return km, nil
}

func convertVictim(v esi.Victim) models.Participant {
	return models.Participant{
		CharacterID:   v.CharacterID,
		CorporationID: v.CorporationID,
		AllianceID:    v.AllianceID,
		FactionID:     v.FactionID,
		ShipTypeID:    v.ShipTypeID,
		DamageTaken:   v.DamageTaken,
	}
}

func convertAttackers(attackers []esi.Attacker) []models.Participant {
	out := make([]models.Participant, len(attackers))
	for i, a := range attackers {
		p := models.Participant{
			CharacterID:    a.CharacterID,
			AllianceID:     a.AllianceID,
			FactionID:      a.FactionID,
			WeaponTypeID:   a.WeaponTypeID,
			DamageDone:     a.DamageDone,
			FinalBlow:      a.FinalBlow,
			SecurityStatus: a.SecurityStatus,
		}
		if a.CorporationID != nil {
			p.CorporationID = *a.CorporationID
		}
		if a.ShipTypeID != nil {
			p.ShipTypeID = *a.ShipTypeID
		}
		out[i] = p
	}
	return out
}
