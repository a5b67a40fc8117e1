package services

import (
	"context"
	"log/slog"
	"time"

	"wanderer-kills/internal/killmails/models"
	"wanderer-kills/pkg/esi"
	"wanderer-kills/pkg/metrics"
)

// Enricher decorates killmails with character, corporation, alliance, ship
// and weapon names resolved through ESI. A killmail with at least one
// resolved identity counts as enriched; a fully failed enrichment still
// yields a valid record carrying only ids.
type Enricher struct {
	resolver  esi.Resolver
	catalogue *esi.Catalogue

	minAttackersForParallel int
	taskTimeout             time.Duration
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

// WithMinAttackersForParallel sets the attacker count below which lookups run
// sequentially.
func WithMinAttackersForParallel(n int) EnricherOption {
	return func(e *Enricher) { e.minAttackersForParallel = n }
}

// WithEnrichTimeout bounds one killmail's enrichment.
func WithEnrichTimeout(d time.Duration) EnricherOption {
	return func(e *Enricher) { e.taskTimeout = d }
}

// NewEnricher creates an enricher backed by the shared resolver.
func NewEnricher(resolver esi.Resolver, catalogue *esi.Catalogue, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		resolver:                resolver,
		catalogue:               catalogue,
		minAttackersForParallel: 3,
		taskTimeout:             30 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich resolves every id appearing on the killmail and folds the names back
// in place.
func (e *Enricher) Enrich(ctx context.Context, km *models.Killmail) {
	ctx, cancel := context.WithTimeout(ctx, e.taskTimeout)
	defer cancel()

	characterIDs, corporationIDs, allianceIDs, typeIDs := collectIDs(km)

	var (
		characters   map[int64]*esi.Character
		corporations map[int64]*esi.Corporation
		alliances    map[int64]*esi.Alliance
		types        map[int64]*esi.Type
	)

	if len(km.Attackers) < e.minAttackersForParallel {
		characters = resolveSequential(ctx, characterIDs, e.resolver.Character)
		corporations = resolveSequential(ctx, corporationIDs, e.resolver.Corporation)
		alliances = resolveSequential(ctx, allianceIDs, e.resolver.Alliance)
		types = resolveSequential(ctx, typeIDs, e.resolver.Type)
	} else {
		characters = e.resolver.Characters(ctx, characterIDs)
		corporations = e.resolver.Corporations(ctx, corporationIDs)
		alliances = e.resolver.Alliances(ctx, allianceIDs)
		types = e.resolver.Types(ctx, typeIDs)
	}

	resolved := 0
	for _, p := range km.Participants() {
		if p.CharacterID != nil {
			if c, ok := characters[*p.CharacterID]; ok {
				p.CharacterName = c.Name
				resolved++
			}
		}
		if p.CorporationID != 0 {
			if c, ok := corporations[p.CorporationID]; ok {
				p.CorporationName = c.Name
				resolved++
			}
		}
		if p.AllianceID != nil {
			if a, ok := alliances[*p.AllianceID]; ok {
				p.AllianceName = a.Name
				resolved++
			}
		}
		if p.ShipTypeID != 0 {
			if t, ok := types[p.ShipTypeID]; ok {
				p.ShipName = t.Name
				resolved++
			}
			if ship, ok := e.catalogue.Lookup(p.ShipTypeID); ok {
				p.ShipGroup = ship.GroupName
				p.ShipCategory = "Ship"
			}
		}
		if p.WeaponTypeID != nil {
			if t, ok := types[*p.WeaponTypeID]; ok {
				p.WeaponName = t.Name
			}
		}
	}

	km.Enriched = resolved > 0

	switch {
	case resolved == 0:
		metrics.KillmailsEnriched.WithLabelValues("failed").Inc()
		slog.Warn("Enrichment resolved nothing, emitting ids only", "killmail_id", km.KillmailID)
	case km.Victim.CharacterName == "" && km.Victim.CharacterID != nil:
		metrics.KillmailsEnriched.WithLabelValues("partial").Inc()
	default:
		metrics.KillmailsEnriched.WithLabelValues("full").Inc()
	}
}

// collectIDs gathers the distinct ids of every kind appearing on the killmail.
func collectIDs(km *models.Killmail) (characters, corporations, alliances, types []int64) {
	charSet := map[int64]struct{}{}
	corpSet := map[int64]struct{}{}
	alliSet := map[int64]struct{}{}
	typeSet := map[int64]struct{}{}

	for _, p := range km.Participants() {
		if p.CharacterID != nil {
			charSet[*p.CharacterID] = struct{}{}
		}
		if p.CorporationID != 0 {
			corpSet[p.CorporationID] = struct{}{}
		}
		if p.AllianceID != nil {
			alliSet[*p.AllianceID] = struct{}{}
		}
		if p.ShipTypeID != 0 {
			typeSet[p.ShipTypeID] = struct{}{}
		}
		if p.WeaponTypeID != nil {
			typeSet[*p.WeaponTypeID] = struct{}{}
		}
	}

	return keys(charSet), keys(corpSet), keys(alliSet), keys(typeSet)
}

func keys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// resolveSequential is the low-volume path: one lookup at a time, failures
// skipped.
func resolveSequential[T any](ctx context.Context, ids []int64, resolve func(context.Context, int64) (*T, error)) map[int64]*T {
	out := make(map[int64]*T, len(ids))
	for _, id := range ids {
		v, err := resolve(ctx, id)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out
}
