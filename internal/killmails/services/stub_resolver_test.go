package services

import (
	"context"
	"fmt"

	"wanderer-kills/pkg/esi"
)

// stubResolver serves fixed name tables for enrichment tests.
type stubResolver struct {
	characters   map[int64]string
	corporations map[int64]string
	alliances    map[int64]string
	types        map[int64]string
	killmails    map[string]*esi.Killmail
}

func (s *stubResolver) Character(ctx context.Context, id int64) (*esi.Character, error) {
	if name, ok := s.characters[id]; ok {
		return &esi.Character{CharacterID: id, Name: name}, nil
	}
	return nil, fmt.Errorf("character %d not found", id)
}

func (s *stubResolver) Corporation(ctx context.Context, id int64) (*esi.Corporation, error) {
	if name, ok := s.corporations[id]; ok {
		return &esi.Corporation{CorporationID: id, Name: name}, nil
	}
	return nil, fmt.Errorf("corporation %d not found", id)
}

func (s *stubResolver) Alliance(ctx context.Context, id int64) (*esi.Alliance, error) {
	if name, ok := s.alliances[id]; ok {
		return &esi.Alliance{AllianceID: id, Name: name}, nil
	}
	return nil, fmt.Errorf("alliance %d not found", id)
}

func (s *stubResolver) Type(ctx context.Context, id int64) (*esi.Type, error) {
	if name, ok := s.types[id]; ok {
		return &esi.Type{TypeID: id, Name: name}, nil
	}
	return nil, fmt.Errorf("type %d not found", id)
}

func (s *stubResolver) Group(ctx context.Context, id int64) (*esi.Group, error) {
	return nil, fmt.Errorf("group %d not found", id)
}

func (s *stubResolver) Killmail(ctx context.Context, id int64, hash string) (*esi.Killmail, error) {
	if km, ok := s.killmails[fmt.Sprintf("%d:%s", id, hash)]; ok {
		return km, nil
	}
	return nil, fmt.Errorf("killmail %d:%s not found", id, hash)
}

func (s *stubResolver) Characters(ctx context.Context, ids []int64) map[int64]*esi.Character {
	return collect(ctx, ids, s.Character)
}

func (s *stubResolver) Corporations(ctx context.Context, ids []int64) map[int64]*esi.Corporation {
	return collect(ctx, ids, s.Corporation)
}

func (s *stubResolver) Alliances(ctx context.Context, ids []int64) map[int64]*esi.Alliance {
	return collect(ctx, ids, s.Alliance)
}

func (s *stubResolver) Types(ctx context.Context, ids []int64) map[int64]*esi.Type {
	return collect(ctx, ids, s.Type)
}

func collect[T any](ctx context.Context, ids []int64, resolve func(context.Context, int64) (*T, error)) map[int64]*T {
	out := make(map[int64]*T)
	for _, id := range ids {
		if v, err := resolve(ctx, id); err == nil {
			out[id] = v
		}
	}
	return out
}
