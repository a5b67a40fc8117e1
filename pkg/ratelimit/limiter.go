// Package ratelimit paces calls to upstream services. Each service owns a
// token bucket, a circuit breaker and a four-level priority queue, all driven
// by a single scheduler goroutine; callers block in Submit until their
// request has run or been failed.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wanderer-kills/pkg/clock"
)

var (
	// ErrCircuitOpen is returned when the service circuit is open and the
	// request was failed without an upstream call.
	ErrCircuitOpen = errors.New("ratelimit: circuit_open")

	// ErrQueueTimeout is returned when a request waited in the queue past the
	// queue timeout.
	ErrQueueTimeout = errors.New("ratelimit: queue_timeout")

	// ErrQueueFull is returned when the pending queue is at capacity.
	ErrQueueFull = errors.New("ratelimit: queue_full")
)

// retryAfterError is recognized on responses that carry a server-indicated
// retry interval; matching errors freeze dispatch instead of tripping the
// circuit.
type retryAfterError interface {
	RetryAfter() time.Duration
}

// ServiceConfig tunes one upstream service.
type ServiceConfig struct {
	Capacity         float64
	RefillPerSecond  float64
	FailureThreshold int
	Cooldown         time.Duration
	MaxQueue         int
	QueueTimeout     time.Duration
}

// Stats is a point-in-time snapshot for one service.
type Stats struct {
	Service      string  `json:"service"`
	Tokens       float64 `json:"tokens"`
	QueueLength  int     `json:"queue_length"`
	CircuitState string  `json:"circuit_state"`
	Dispatched   int64   `json:"dispatched"`
	Failed       int64   `json:"failed"`
}

const tickInterval = 10 * time.Millisecond

type completion struct {
	req *request
	err error
}

type scheduler struct {
	name   string
	cfg    ServiceConfig
	clk    clock.Clock
	bucket *TokenBucket
	circ   *Circuit
	queue  *priorityQueue

	submitCh     chan *request
	completionCh chan completion
	statsCh      chan chan Stats
	stopCh       chan struct{}
	stopped      sync.Once

	frozenUntil time.Time
	dispatched  int64
	failed      int64
}

// Limiter owns one scheduler per registered service.
type Limiter struct {
	clk      clock.Clock
	mu       sync.RWMutex
	services map[string]*scheduler
}

// New creates an empty limiter; services are added with Register.
func New(clk clock.Clock) *Limiter {
	return &Limiter{
		clk:      clk,
		services: make(map[string]*scheduler),
	}
}

// Register adds a service and starts its scheduler.
func (l *Limiter) Register(service string, cfg ServiceConfig) {
	s := &scheduler{
		name:         service,
		cfg:          cfg,
		clk:          l.clk,
		bucket:       NewTokenBucket(l.clk, cfg.Capacity, cfg.RefillPerSecond),
		circ:         NewCircuit(l.clk, cfg.FailureThreshold, cfg.Cooldown),
		queue:        &priorityQueue{},
		submitCh:     make(chan *request),
		completionCh: make(chan completion, 64),
		statsCh:      make(chan chan Stats),
		stopCh:       make(chan struct{}),
	}

	l.mu.Lock()
	l.services[service] = s
	l.mu.Unlock()

	go s.run()
}

// Submit enqueues fn for the service at the given priority and blocks until
// it has run, was failed by the circuit or queue policy, or ctx is done.
func (l *Limiter) Submit(ctx context.Context, service string, priority Priority, fn func() error) error {
	l.mu.RLock()
	s, ok := l.services[service]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("ratelimit: unknown service %q", service)
	}

	req := &request{
		priority:   priority,
		fn:         fn,
		enqueuedAt: l.clk.Now(),
		done:       make(chan error, 1),
	}

	select {
	case s.submitCh <- req:
	case <-s.stopCh:
		return fmt.Errorf("ratelimit: service %q stopped", service)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats snapshots every registered service.
func (l *Limiter) Stats() []Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Stats, 0, len(l.services))
	for _, s := range l.services {
		out = append(out, s.snapshot())
	}
	return out
}

// Stop terminates every scheduler; queued requests are failed.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.services {
		s.stop()
	}
}

func (s *scheduler) run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.drain()
			return

		case req := <-s.submitCh:
			if s.queue.len() >= s.cfg.MaxQueue {
				s.fail(req, ErrQueueFull)
				continue
			}
			s.queue.push(req)
			s.dispatch()

		case c := <-s.completionCh:
			s.complete(c)
			s.dispatch()

		case reply := <-s.statsCh:
			reply <- Stats{
				Service:      s.name,
				Tokens:       s.bucket.Tokens(),
				QueueLength:  s.queue.len(),
				CircuitState: s.circ.State().String(),
				Dispatched:   s.dispatched,
				Failed:       s.failed,
			}

		case <-ticker.C:
			s.expireQueued()
			s.dispatch()
		}
	}
}

// dispatch runs as many queued requests as tokens and the circuit allow.
func (s *scheduler) dispatch() {
	s.bucket.Refill()

	now := s.clk.Now()
	if now.Before(s.frozenUntil) {
		return
	}

	for s.queue.len() > 0 {
		// An open circuit fails requests without an upstream call rather than
		// letting them rot until the queue timeout.
		if st := s.circ.State(); st == CircuitOpen {
			req := s.queue.pop()
			s.fail(req, ErrCircuitOpen)
			continue
		}

		if s.bucket.Tokens() < 1 {
			return
		}
		if !s.circ.Allow() {
			return // half-open probe already in flight
		}

		req := s.queue.pop()
		s.bucket.Take()
		s.dispatched++

		go func(r *request) {
			err := r.fn()
			select {
			case s.completionCh <- completion{req: r, err: err}:
			case <-s.stopCh:
				r.done <- err
			}
		}(req)
	}
}

func (s *scheduler) complete(c completion) {
	if c.err == nil {
		s.circ.RecordSuccess()
		c.req.done <- nil
		return
	}

	var ra retryAfterError
	if errors.As(c.err, &ra) && ra.RetryAfter() > 0 {
		// Server told us to back off: freeze dispatch and give the request
		// another turn at its original priority.
		wait := ra.RetryAfter()
		s.frozenUntil = s.clk.Now().Add(wait)
		s.circ.ProbeAborted()
		s.queue.pushFront(c.req)
		slog.Warn("Upstream rate limited, freezing dispatch",
			"service", s.name, "retry_after", wait.String())
		return
	}

	s.circ.RecordFailure()
	s.failed++
	c.req.done <- c.err
}

func (s *scheduler) expireQueued() {
	cutoff := s.clk.Now().Add(-s.cfg.QueueTimeout)
	s.queue.expire(cutoff, func(r *request) {
		s.fail(r, ErrQueueTimeout)
	})
}

func (s *scheduler) fail(r *request, err error) {
	s.failed++
	r.done <- err
}

func (s *scheduler) drain() {
	for s.queue.len() > 0 {
		r := s.queue.pop()
		r.done <- fmt.Errorf("ratelimit: service %q stopped", s.name)
	}
}

func (s *scheduler) stop() {
	s.stopped.Do(func() { close(s.stopCh) })
}

// snapshot asks the scheduler goroutine for its current state.
func (s *scheduler) snapshot() Stats {
	reply := make(chan Stats, 1)
	select {
	case s.statsCh <- reply:
		return <-reply
	case <-s.stopCh:
		return Stats{Service: s.name, CircuitState: "stopped"}
	}
}
