// Package esi resolves EVE identity metadata (characters, corporations,
// alliances, types, groups) and full killmail bodies. Every lookup is cached;
// batched variants fan out bounded parallel singles.
package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"wanderer-kills/pkg/cache"
	"wanderer-kills/pkg/fetch"
	"wanderer-kills/pkg/ratelimit"
)

// Resolver is the identity lookup capability consumed by the parser and the
// enricher. Test doubles implement it without touching the network.
type Resolver interface {
	Character(ctx context.Context, id int64) (*Character, error)
	Corporation(ctx context.Context, id int64) (*Corporation, error)
	Alliance(ctx context.Context, id int64) (*Alliance, error)
	Type(ctx context.Context, id int64) (*Type, error)
	Group(ctx context.Context, id int64) (*Group, error)
	Killmail(ctx context.Context, id int64, hash string) (*Killmail, error)

	Characters(ctx context.Context, ids []int64) map[int64]*Character
	Corporations(ctx context.Context, ids []int64) map[int64]*Corporation
	Alliances(ctx context.Context, ids []int64) map[int64]*Alliance
	Types(ctx context.Context, ids []int64) map[int64]*Type
}

// Options tunes the client.
type Options struct {
	BaseURL        string
	EntityTTL      time.Duration
	KillmailTTL    time.Duration
	MaxConcurrency int
}

// Client is the HTTP-backed Resolver.
type Client struct {
	fetcher *fetch.Client
	cache   *cache.Cache
	opts    Options
}

// NewClient creates a resolver backed by the shared fetcher and cache.
func NewClient(fetcher *fetch.Client, c *cache.Cache, opts Options) *Client {
	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = 10
	}
	if opts.EntityTTL == 0 {
		opts.EntityTTL = time.Hour
	}
	if opts.KillmailTTL == 0 {
		opts.KillmailTTL = 24 * time.Hour
	}
	return &Client{fetcher: fetcher, cache: c, opts: opts}
}

// Character resolves a character id.
func (c *Client) Character(ctx context.Context, id int64) (*Character, error) {
	v, err := c.cache.GetOrCompute(cache.NSESICharacter, strconv.FormatInt(id, 10), func() (interface{}, error) {
		var out Character
		if err := c.getJSON(ctx, fmt.Sprintf("%s/characters/%d/", c.opts.BaseURL, id), &out); err != nil {
			return nil, err
		}
		out.CharacterID = id
		return &out, nil
	}, c.opts.EntityTTL)
	if err != nil {
		return nil, err
	}
	return v.(*Character), nil
}

// Corporation resolves a corporation id.
func (c *Client) Corporation(ctx context.Context, id int64) (*Corporation, error) {
	v, err := c.cache.GetOrCompute(cache.NSESICorporation, strconv.FormatInt(id, 10), func() (interface{}, error) {
		var out Corporation
		if err := c.getJSON(ctx, fmt.Sprintf("%s/corporations/%d/", c.opts.BaseURL, id), &out); err != nil {
			return nil, err
		}
		out.CorporationID = id
		return &out, nil
	}, c.opts.EntityTTL)
	if err != nil {
		return nil, err
	}
	return v.(*Corporation), nil
}

// Alliance resolves an alliance id.
func (c *Client) Alliance(ctx context.Context, id int64) (*Alliance, error) {
	v, err := c.cache.GetOrCompute(cache.NSESIAlliance, strconv.FormatInt(id, 10), func() (interface{}, error) {
		var out Alliance
		if err := c.getJSON(ctx, fmt.Sprintf("%s/alliances/%d/", c.opts.BaseURL, id), &out); err != nil {
			return nil, err
		}
		out.AllianceID = id
		return &out, nil
	}, c.opts.EntityTTL)
	if err != nil {
		return nil, err
	}
	return v.(*Alliance), nil
}

// Type resolves a universe type id. Catalogue entries are persistent; other
// types follow the entity TTL.
func (c *Client) Type(ctx context.Context, id int64) (*Type, error) {
	v, err := c.cache.GetOrCompute(cache.NSESIType, strconv.FormatInt(id, 10), func() (interface{}, error) {
		var out Type
		if err := c.getJSON(ctx, fmt.Sprintf("%s/universe/types/%d/", c.opts.BaseURL, id), &out); err != nil {
			return nil, err
		}
		out.TypeID = id
		return &out, nil
	}, c.opts.EntityTTL)
	if err != nil {
		return nil, err
	}
	return v.(*Type), nil
}

// Group resolves a universe group id.
func (c *Client) Group(ctx context.Context, id int64) (*Group, error) {
	v, err := c.cache.GetOrCompute(cache.NSESIGroup, strconv.FormatInt(id, 10), func() (interface{}, error) {
		var out Group
		if err := c.getJSON(ctx, fmt.Sprintf("%s/universe/groups/%d/", c.opts.BaseURL, id), &out); err != nil {
			return nil, err
		}
		out.GroupID = id
		return &out, nil
	}, c.opts.EntityTTL)
	if err != nil {
		return nil, err
	}
	return v.(*Group), nil
}

// Killmail fetches a full killmail body by id and hash.
func (c *Client) Killmail(ctx context.Context, id int64, hash string) (*Killmail, error) {
	v, err := c.cache.GetOrCompute(cache.NSESIKillmail, cache.ESIKillmailKey(id, hash), func() (interface{}, error) {
		var out Killmail
		if err := c.getJSON(ctx, fmt.Sprintf("%s/killmails/%d/%s/", c.opts.BaseURL, id, hash), &out); err != nil {
			return nil, err
		}
		return &out, nil
	}, c.opts.KillmailTTL)
	if err != nil {
		return nil, err
	}
	return v.(*Killmail), nil
}

// Characters resolves many character ids in bounded parallel. Failed lookups
// are logged and omitted from the result.
func (c *Client) Characters(ctx context.Context, ids []int64) map[int64]*Character {
	return resolveMany(ctx, c.opts.MaxConcurrency, ids, "character", c.Character)
}

// Corporations resolves many corporation ids in bounded parallel.
func (c *Client) Corporations(ctx context.Context, ids []int64) map[int64]*Corporation {
	return resolveMany(ctx, c.opts.MaxConcurrency, ids, "corporation", c.Corporation)
}

// Alliances resolves many alliance ids in bounded parallel.
func (c *Client) Alliances(ctx context.Context, ids []int64) map[int64]*Alliance {
	return resolveMany(ctx, c.opts.MaxConcurrency, ids, "alliance", c.Alliance)
}

// Types resolves many type ids in bounded parallel.
func (c *Client) Types(ctx context.Context, ids []int64) map[int64]*Type {
	return resolveMany(ctx, c.opts.MaxConcurrency, ids, "type", c.Type)
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	priority := ratelimit.PriorityFromContext(ctx, ratelimit.PriorityRealtime)
	body, err := c.fetcher.Get(ctx, fetch.ServiceESI, url, priority, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &fetch.Error{Kind: fetch.KindBadResponse, Service: fetch.ServiceESI, URL: url, Err: err}
	}
	return nil
}

// resolveMany issues parallel singles bounded by maxConcurrency, collecting
// the successes.
func resolveMany[T any](ctx context.Context, maxConcurrency int, ids []int64, entity string, resolve func(context.Context, int64) (*T, error)) map[int64]*T {
	out := make(map[int64]*T, len(ids))
	if len(ids) == 0 {
		return out
	}

	results := make([]*T, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			v, err := resolve(ctx, id)
			if err != nil {
				slog.Debug("ESI lookup failed", "entity", entity, "id", id, "error", err)
				return nil // partial failure leaves the name unresolved
			}
			results[i] = v
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range ids {
		if results[i] != nil {
			out[id] = results[i]
		}
	}
	return out
}
