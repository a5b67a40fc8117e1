package ratelimit

import (
	"time"

	"wanderer-kills/pkg/clock"
)

// TokenBucket is a real-valued token bucket. It is owned by a single
// scheduler goroutine; it is not safe for concurrent use.
type TokenBucket struct {
	clk        clock.Clock
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(clk clock.Clock, capacity, refillPerSecond float64) *TokenBucket {
	return &TokenBucket{
		clk:        clk,
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillPerSecond,
		lastRefill: clk.Now(),
	}
}

// Refill tops the bucket up for the elapsed interval.
func (b *TokenBucket) Refill() {
	now := b.clk.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Take consumes one token, reporting whether one was available.
func (b *TokenBucket) Take() bool {
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Tokens returns the current token count.
func (b *TokenBucket) Tokens() float64 {
	return b.tokens
}
