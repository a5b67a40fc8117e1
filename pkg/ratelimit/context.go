package ratelimit

import "context"

type priorityKey struct{}

// ContextWithPriority tags ctx with the dispatch priority for downstream
// upstream calls (preload and backfill paths run below realtime).
func ContextWithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext returns the tagged priority, or fallback when none is set.
func PriorityFromContext(ctx context.Context, fallback Priority) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return fallback
}
