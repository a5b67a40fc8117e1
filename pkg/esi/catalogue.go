package esi

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"wanderer-kills/pkg/cache"
	"wanderer-kills/pkg/ratelimit"
)

// ShipGroupIDs is the fixed set of universe groups resolved into the ship
// catalogue on startup.
var ShipGroupIDs = []int64{
	25,   // Frigate
	26,   // Cruiser
	27,   // Battleship
	28,   // Industrial
	30,   // Titan
	237,  // Corvette
	324,  // Assault Frigate
	358,  // Heavy Assault Cruiser
	419,  // Combat Battlecruiser
	420,  // Destroyer
	485,  // Dreadnought
	540,  // Command Ship
	541,  // Interdictor
	547,  // Carrier
	659,  // Supercarrier
	830,  // Covert Ops
	831,  // Interceptor
	832,  // Logistics
	833,  // Force Recon Ship
	893,  // Electronic Attack Ship
	894,  // Heavy Interdiction Cruiser
	898,  // Black Ops
	900,  // Marauder
	963,  // Strategic Cruiser
	1538, // Force Auxiliary
}

// Catalogue is the persistent ship-type table. It is safe for concurrent
// reads after Bootstrap or LoadCSV.
type Catalogue struct {
	cache *cache.Cache
	count atomic.Int64
}

// NewCatalogue wraps the shared cache.
func NewCatalogue(c *cache.Cache) *Catalogue {
	return &Catalogue{cache: c}
}

// Seed inserts one catalogue entry directly, bypassing ESI and CSV.
func (ct *Catalogue) Seed(st *ShipType) {
	ct.put(st)
}

// Lookup returns the ship type for a hull id, if catalogued.
func (ct *Catalogue) Lookup(typeID int64) (*ShipType, bool) {
	v, ok := ct.cache.Get(cache.NSESIType, shipKey(typeID))
	if !ok {
		return nil, false
	}
	return v.(*ShipType), true
}

// Size returns the number of catalogued hulls.
func (ct *Catalogue) Size() int {
	return int(ct.count.Load())
}

// Bootstrap resolves every ship group, then each member type, storing the
// results persistently. Lookups already seeded (e.g. from CSV) are kept.
func (ct *Catalogue) Bootstrap(ctx context.Context, resolver Resolver, groupIDs []int64) error {
	ctx = ratelimit.ContextWithPriority(ctx, ratelimit.PriorityBulk)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, groupID := range groupIDs {
		groupID := groupID
		g.Go(func() error {
			group, err := resolver.Group(ctx, groupID)
			if err != nil {
				return fmt.Errorf("resolving ship group %d: %w", groupID, err)
			}

			types := resolver.Types(ctx, group.Types)
			for typeID, t := range types {
				ct.put(&ShipType{
					TypeID:    typeID,
					Name:      t.Name,
					GroupID:   group.GroupID,
					GroupName: group.Name,
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("Ship catalogue bootstrapped", "groups", len(groupIDs), "types", ct.Size())
	return nil
}

// LoadCSV seeds the catalogue from a bundled CSV with the header
// type_id,name,group_id,group_name.
func (ct *Catalogue) LoadCSV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening ship types csv: %w", err)
	}
	defer f.Close()

	return ct.loadCSV(f)
}

func (ct *Catalogue) loadCSV(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 4

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("reading ship types header: %w", err)
	}
	if header[0] != "type_id" {
		return 0, fmt.Errorf("unexpected ship types header: %v", header)
	}

	loaded := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return loaded, fmt.Errorf("reading ship types row: %w", err)
		}

		typeID, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			continue
		}
		groupID, _ := strconv.ParseInt(record[2], 10, 64)

		ct.put(&ShipType{
			TypeID:    typeID,
			Name:      record[1],
			GroupID:   groupID,
			GroupName: record[3],
		})
		loaded++
	}

	slog.Info("Ship catalogue seeded from CSV", "types", loaded)
	return loaded, nil
}

func (ct *Catalogue) put(st *ShipType) {
	if _, exists := ct.cache.Get(cache.NSESIType, shipKey(st.TypeID)); !exists {
		ct.count.Add(1)
	}
	ct.cache.Put(cache.NSESIType, shipKey(st.TypeID), st, cache.NoTTL)
}

func shipKey(typeID int64) string {
	return "ship:" + strconv.FormatInt(typeID, 10)
}
