package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"wanderer-kills/internal/killmails/models"
	"wanderer-kills/internal/zkillboard/dto"
	"wanderer-kills/pkg/metrics"
)

// ConsumerState represents the pacing state of the RedisQ consumer
type ConsumerState int32

const (
	StateStopped ConsumerState = iota
	StateActive
	StateIdle
	StateBackoff
)

func (s ConsumerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// KillmailSink receives parsed killmails from the stream. The pipeline
// implements it.
type KillmailSink interface {
	Process(ctx context.Context, km *models.Killmail) error
}

// ConsumerConfig tunes the RedisQ long-poll loop.
type ConsumerConfig struct {
	Endpoint       string
	FastInterval   time.Duration // pacing while kills are flowing
	IdleInterval   time.Duration // pacing after empty_threshold empties
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	EmptyThreshold int
	PollTimeout    time.Duration
	UserAgent      string
}

// ConsumerMetrics tracks poll loop counters
type ConsumerMetrics struct {
	TotalPolls     atomic.Int64
	EmptyResponses atomic.Int64
	KillmailsFound atomic.Int64
	HTTPErrors     atomic.Int64
	ParseErrors    atomic.Int64
	SkippedOld     atomic.Int64
	ProcessErrors  atomic.Int64
	LastKillmailID atomic.Int64
}

// RedisQConsumer long-polls ZKillboard RedisQ and feeds the pipeline. Pacing
// adapts to traffic: the fast interval while kills flow, the idle interval
// after a streak of empty polls, and exponential backoff on upstream errors.
type RedisQConsumer struct {
	httpClient *http.Client
	parser     *Parser
	sink       KillmailSink
	cfg        ConsumerConfig
	queueID    string

	mu          sync.RWMutex
	state       atomic.Int32
	running     atomic.Bool
	lastPoll    time.Time
	emptyStreak int
	backoffN    int
	startTime   time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	metrics ConsumerMetrics
}

// NewRedisQConsumer creates a new RedisQ consumer instance
func NewRedisQConsumer(parser *Parser, sink KillmailSink, cfg ConsumerConfig) *RedisQConsumer {
	queueID := os.Getenv("REDISQ_QUEUE_ID")
	if queueID == "" {
		hostname, _ := os.Hostname()
		queueID = fmt.Sprintf("wanderer-kills-%s-%s", hostname, uuid.NewString()[:8])
	}

	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2
	}

	consumer := &RedisQConsumer{
		httpClient: &http.Client{Timeout: cfg.PollTimeout},
		parser:     parser,
		sink:       sink,
		cfg:        cfg,
		queueID:    queueID,
	}

	consumer.state.Store(int32(StateStopped))
	return consumer
}

// Start begins the consumer polling loop
func (c *RedisQConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return fmt.Errorf("consumer already running")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.emptyStreak = 0
	c.backoffN = 0
	c.startTime = time.Now()

	c.wg.Add(1)
	go c.pollLoop()

	c.running.Store(true)
	c.state.Store(int32(StateIdle))

	slog.Info("RedisQ consumer started", "queue_id", c.queueID, "endpoint", c.cfg.Endpoint)
	return nil
}

// Stop gracefully stops the consumer. Cancellation is cooperative at poll
// boundaries.
func (c *RedisQConsumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return fmt.Errorf("consumer not running")
	}

	slog.Info("Stopping RedisQ consumer...")
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("RedisQ consumer stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("RedisQ consumer stop timeout")
	}

	c.running.Store(false)
	c.state.Store(int32(StateStopped))
	return nil
}

// pollLoop is the main polling loop
func (c *RedisQConsumer) pollLoop() {
	defer c.wg.Done()

	slog.Info("Starting RedisQ poll loop")

	for {
		wait := c.interval()
		select {
		case <-c.ctx.Done():
			slog.Info("Poll loop context cancelled")
			return
		case <-time.After(wait):
			c.poll()
		}
	}
}

// interval returns the pacing delay before the next poll.
func (c *RedisQConsumer) interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch ConsumerState(c.state.Load()) {
	case StateActive:
		return c.cfg.FastInterval
	case StateBackoff:
		backoff := c.cfg.InitialBackoff
		for i := 0; i < c.backoffN; i++ {
			backoff = time.Duration(float64(backoff) * c.cfg.BackoffFactor)
			if backoff >= c.cfg.MaxBackoff {
				return c.cfg.MaxBackoff
			}
		}
		return backoff
	default:
		return c.cfg.IdleInterval
	}
}

// poll performs a single RedisQ poll
func (c *RedisQConsumer) poll() {
	url := fmt.Sprintf("%s?queueID=%s", c.cfg.Endpoint, c.queueID)

	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, url, nil)
	if err != nil {
		c.onError(err)
		return
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.metrics.TotalPolls.Add(1)
	c.mu.Lock()
	c.lastPoll = time.Now()
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		c.onError(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.onError(fmt.Errorf("redis_q: poll_error: unexpected status %d", resp.StatusCode))
		return
	}

	var redisqResp dto.RedisQResponse
	if err := json.NewDecoder(resp.Body).Decode(&redisqResp); err != nil {
		c.onError(fmt.Errorf("redis_q: poll_error: %w", err))
		return
	}

	c.processResponse(&redisqResp)
}

// processResponse handles one decoded RedisQ response
func (c *RedisQConsumer) processResponse(resp *dto.RedisQResponse) {
	if resp.Package == nil {
		c.metrics.EmptyResponses.Add(1)
		metrics.RedisQPolls.WithLabelValues("empty").Inc()
		c.onEmpty()
		return
	}

	c.onSuccess()
	c.metrics.KillmailsFound.Add(1)
	metrics.RedisQPolls.WithLabelValues("kill").Inc()
	c.metrics.LastKillmailID.Store(resp.Package.KillID)

	km, err := c.parser.ParseStream(resp.Package)
	if err != nil {
		if isSkippedOld(err) {
			c.metrics.SkippedOld.Add(1)
			return
		}
		slog.Error("Failed to parse killmail", "error", err, "killmail_id", resp.Package.KillID)
		c.metrics.ParseErrors.Add(1)
		return
	}

	if err := c.sink.Process(c.ctx, km); err != nil {
		slog.Error("Failed to process killmail", "error", err, "killmail_id", km.KillmailID)
		c.metrics.ProcessErrors.Add(1)
		return
	}

	slog.Info("Killmail processed",
		"killmail_id", km.KillmailID,
		"system_id", km.SystemID,
		"value", km.ZKB.TotalValue,
		"solo", km.ZKB.Solo,
		"npc", km.ZKB.NPC)
}

// onSuccess transitions idle/backoff to active and clears streaks.
func (c *RedisQConsumer) onSuccess() {
	c.mu.Lock()
	c.emptyStreak = 0
	c.backoffN = 0
	c.mu.Unlock()
	c.state.Store(int32(StateActive))
}

// onEmpty counts the empty streak and drops to idle at the threshold.
func (c *RedisQConsumer) onEmpty() {
	c.mu.Lock()
	c.emptyStreak++
	c.backoffN = 0
	streak := c.emptyStreak
	c.mu.Unlock()

	if streak >= c.cfg.EmptyThreshold {
		c.state.Store(int32(StateIdle))
	}
}

// onError records the failure and escalates backoff.
func (c *RedisQConsumer) onError(err error) {
	slog.Error("RedisQ poll failed", "error", err)
	c.metrics.HTTPErrors.Add(1)
	metrics.RedisQPolls.WithLabelValues("error").Inc()

	c.mu.Lock()
	c.backoffN++
	c.mu.Unlock()
	c.state.Store(int32(StateBackoff))
}

// Status is a point-in-time view of the consumer.
type Status struct {
	State          string     `json:"state"`
	QueueID        string     `json:"queue_id"`
	LastPoll       *time.Time `json:"last_poll,omitempty"`
	LastKillmailID int64      `json:"last_killmail_id,omitempty"`
	TotalPolls     int64      `json:"total_polls"`
	EmptyResponses int64      `json:"empty_responses"`
	KillmailsFound int64      `json:"killmails_found"`
	HTTPErrors     int64      `json:"http_errors"`
	ParseErrors    int64      `json:"parse_errors"`
	SkippedOld     int64      `json:"skipped_old"`
	ProcessErrors  int64      `json:"process_errors"`
	Uptime         string     `json:"uptime,omitempty"`
}

// GetStatus returns the current consumer status
func (c *RedisQConsumer) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{
		State:          ConsumerState(c.state.Load()).String(),
		QueueID:        c.queueID,
		LastKillmailID: c.metrics.LastKillmailID.Load(),
		TotalPolls:     c.metrics.TotalPolls.Load(),
		EmptyResponses: c.metrics.EmptyResponses.Load(),
		KillmailsFound: c.metrics.KillmailsFound.Load(),
		HTTPErrors:     c.metrics.HTTPErrors.Load(),
		ParseErrors:    c.metrics.ParseErrors.Load(),
		SkippedOld:     c.metrics.SkippedOld.Load(),
		ProcessErrors:  c.metrics.ProcessErrors.Load(),
	}
	if !c.lastPoll.IsZero() {
		lastPoll := c.lastPoll
		status.LastPoll = &lastPoll
	}
	if !c.startTime.IsZero() {
		status.Uptime = time.Since(c.startTime).Round(time.Second).String()
	}
	return status
}
