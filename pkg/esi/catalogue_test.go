package esi

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wanderer-kills/pkg/cache"
	"wanderer-kills/pkg/clock"
)

// stubResolver serves a fixed universe for catalogue tests.
type stubResolver struct {
	Resolver
	groups map[int64]*Group
	types  map[int64]*Type
}

func (s *stubResolver) Group(ctx context.Context, id int64) (*Group, error) {
	if g, ok := s.groups[id]; ok {
		return g, nil
	}
	return nil, context.Canceled
}

func (s *stubResolver) Types(ctx context.Context, ids []int64) map[int64]*Type {
	out := make(map[int64]*Type)
	for _, id := range ids {
		if t, ok := s.types[id]; ok {
			out[id] = t
		}
	}
	return out
}

func testCatalogue() *Catalogue {
	return NewCatalogue(cache.New(clock.NewFake(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))))
}

func TestBootstrapResolvesGroupsToTypes(t *testing.T) {
	resolver := &stubResolver{
		groups: map[int64]*Group{
			27: {GroupID: 27, Name: "Battleship", Types: []int64{671, 17918}},
		},
		types: map[int64]*Type{
			671:   {TypeID: 671, Name: "Raven", GroupID: 27},
			17918: {TypeID: 17918, Name: "Rattlesnake", GroupID: 27},
		},
	}

	ct := testCatalogue()
	require.NoError(t, ct.Bootstrap(context.Background(), resolver, []int64{27}))

	assert.Equal(t, 2, ct.Size())

	raven, ok := ct.Lookup(671)
	require.True(t, ok)
	assert.Equal(t, "Raven", raven.Name)
	assert.Equal(t, "Battleship", raven.GroupName)
}

func TestBootstrapUnknownGroupFails(t *testing.T) {
	ct := testCatalogue()
	err := ct.Bootstrap(context.Background(), &stubResolver{}, []int64{9999})
	assert.Error(t, err)
}

func TestLoadCSV(t *testing.T) {
	csvData := strings.NewReader(
		"type_id,name,group_id,group_name\n" +
			"671,Raven,27,Battleship\n" +
			"17918,Rattlesnake,27,Battleship\n" +
			"587,Rifter,25,Frigate\n")

	ct := testCatalogue()
	loaded, err := ct.loadCSV(csvData)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded)
	assert.Equal(t, 3, ct.Size())

	rifter, ok := ct.Lookup(587)
	require.True(t, ok)
	assert.Equal(t, "Frigate", rifter.GroupName)
}

func TestLoadCSVBadHeader(t *testing.T) {
	ct := testCatalogue()
	_, err := ct.loadCSV(strings.NewReader("id,label\n1,x\n"))
	assert.Error(t, err)
}

func TestCatalogueEntriesNeverExpire(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))
	ct := NewCatalogue(cache.New(clk))

	_, err := ct.loadCSV(strings.NewReader("type_id,name,group_id,group_name\n671,Raven,27,Battleship\n"))
	require.NoError(t, err)

	clk.Advance(1000 * time.Hour)
	_, ok := ct.Lookup(671)
	assert.True(t, ok)
}
