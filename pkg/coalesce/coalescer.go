// Package coalesce deduplicates concurrent identical upstream requests.
// Callers for the same key share one in-flight call and all receive its
// result; a stalled leader is abandoned after a timeout so the key does not
// wedge forever.
package coalesce

import (
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrTimeout is returned when a call and its retry both exceed the
// coalescing timeout.
var ErrTimeout = errors.New("coalesce: leader timeout")

// DefaultTimeout bounds how long waiters follow one leader.
const DefaultTimeout = 30 * time.Second

// Coalescer shares in-flight calls by key.
type Coalescer struct {
	group   singleflight.Group
	timeout time.Duration
}

// New creates a coalescer with the given leader timeout; d <= 0 selects the
// default.
func New(d time.Duration) *Coalescer {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &Coalescer{timeout: d}
}

// Key builds the canonical coalescing key for an upstream request.
func Key(service, fingerprint string) string {
	return service + ":" + fingerprint
}

// Do executes fn under key, sharing the result with every concurrent caller
// for the same key. If the current leader stalls past the timeout, the key is
// forgotten and the call is retried once with a fresh leader.
func (c *Coalescer) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	for attempt := 0; attempt < 2; attempt++ {
		ch := c.group.DoChan(key, fn)
		select {
		case res := <-ch:
			return res.Val, res.Err
		case <-time.After(c.timeout):
			// Abandon the stalled leader; the next DoChan starts fresh.
			c.group.Forget(key)
		}
	}
	return nil, ErrTimeout
}

// Forget drops the in-flight entry for key so the next caller leads.
func (c *Coalescer) Forget(key string) {
	c.group.Forget(key)
}
