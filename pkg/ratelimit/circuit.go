package ratelimit

import (
	"time"

	"wanderer-kills/pkg/clock"
)

// CircuitState is the breaker state for one upstream service.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Circuit is a consecutive-failure breaker. It is owned by a single scheduler
// goroutine; it is not safe for concurrent use.
type Circuit struct {
	clk              clock.Clock
	failureThreshold int
	successThreshold int
	cooldown         time.Duration

	state            CircuitState
	failureCount     int
	successCount     int
	openedAt         time.Time
	halfOpenInFlight bool
}

// NewCircuit creates a closed circuit.
func NewCircuit(clk clock.Clock, failureThreshold int, cooldown time.Duration) *Circuit {
	return &Circuit{
		clk:              clk,
		failureThreshold: failureThreshold,
		successThreshold: 1,
		cooldown:         cooldown,
		state:            CircuitClosed,
	}
}

// State reports the effective state, transitioning open→half_open once the
// cooldown has elapsed.
func (c *Circuit) State() CircuitState {
	if c.state == CircuitOpen && c.clk.Since(c.openedAt) >= c.cooldown {
		c.state = CircuitHalfOpen
		c.successCount = 0
		c.halfOpenInFlight = false
	}
	return c.state
}

// Allow reports whether a request may be dispatched. In half-open at most one
// probe is in flight at a time.
func (c *Circuit) Allow() bool {
	switch c.State() {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		if c.halfOpenInFlight {
			return false
		}
		c.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

// ProbeAborted releases a half-open probe slot when its request ended with
// neither verdict (e.g. the server asked us to back off).
func (c *Circuit) ProbeAborted() {
	if c.state == CircuitHalfOpen {
		c.halfOpenInFlight = false
	}
}

// RecordSuccess clears failures, and closes a half-open circuit once enough
// probes succeed.
func (c *Circuit) RecordSuccess() {
	switch c.state {
	case CircuitHalfOpen:
		c.halfOpenInFlight = false
		c.successCount++
		if c.successCount >= c.successThreshold {
			c.state = CircuitClosed
			c.failureCount = 0
		}
	default:
		c.failureCount = 0
	}
}

// RecordFailure counts a failure, opening the circuit at the threshold. Any
// failure while half-open reopens immediately.
func (c *Circuit) RecordFailure() {
	switch c.state {
	case CircuitHalfOpen:
		c.halfOpenInFlight = false
		c.open()
	default:
		c.failureCount++
		if c.failureCount >= c.failureThreshold {
			c.open()
		}
	}
}

func (c *Circuit) open() {
	c.state = CircuitOpen
	c.openedAt = c.clk.Now()
	c.failureCount = 0
	c.successCount = 0
}

// Failures returns the current consecutive failure count.
func (c *Circuit) Failures() int {
	return c.failureCount
}
