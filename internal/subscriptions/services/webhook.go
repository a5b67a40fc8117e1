package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"wanderer-kills/pkg/metrics"
	"wanderer-kills/pkg/pubsub"
)

// TopicWebhookDisabled is published when a subscription's webhook is disabled
// after repeated delivery failures.
const TopicWebhookDisabled = "subscription:webhook_disabled"

// defaultRetrySchedule spaces webhook redelivery attempts.
var defaultRetrySchedule = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, time.Hour}

// WebhookNotifier posts JSON payloads to subscriber callback urls. Retries
// run in supervised side tasks so they never block the owning worker; after
// the failure budget is spent the subscription is disabled.
type WebhookNotifier struct {
	httpClient *http.Client
	schedule   []time.Duration
	bus        *pubsub.Broadcaster

	mu         sync.Mutex
	onDisabled func(subID string)
	wg         sync.WaitGroup
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NotifierOption configures the notifier.
type NotifierOption func(*WebhookNotifier)

// WithRetrySchedule replaces the redelivery schedule (tests use short waits).
func WithRetrySchedule(schedule []time.Duration) NotifierOption {
	return func(n *WebhookNotifier) { n.schedule = schedule }
}

// WithTimeout bounds one delivery attempt.
func WithTimeout(d time.Duration) NotifierOption {
	return func(n *WebhookNotifier) { n.httpClient.Timeout = d }
}

// NewWebhookNotifier creates the notifier.
func NewWebhookNotifier(bus *pubsub.Broadcaster, opts ...NotifierOption) *WebhookNotifier {
	n := &WebhookNotifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		schedule:   defaultRetrySchedule,
		bus:        bus,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SetDisableFunc registers the manager callback run when a subscription's
// webhook is disabled.
func (n *WebhookNotifier) SetDisableFunc(fn func(subID string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDisabled = fn
}

// Notify posts payload to callbackURL asynchronously, retrying transient
// failures per the schedule.
func (n *WebhookNotifier) Notify(callbackURL string, payload interface{}, subID string) error {
	if callbackURL == "" {
		return fmt.Errorf("webhook: empty callback url for subscription %s", subID)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: encoding payload for subscription %s: %w", subID, err)
	}

	n.wg.Add(1)
	go n.deliver(callbackURL, body, subID)
	return nil
}

// Stop waits for in-flight deliveries; pending retries are abandoned.
func (n *WebhookNotifier) Stop() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.wg.Wait()
}

func (n *WebhookNotifier) deliver(callbackURL string, body []byte, subID string) {
	defer n.wg.Done()

	failures := 0
	for {
		err := n.post(callbackURL, body)
		if err == nil {
			metrics.Deliveries.WithLabelValues("webhook").Inc()
			return
		}

		failures++
		metrics.WebhookFailures.Inc()
		slog.Warn("Webhook delivery failed",
			"subscription_id", subID, "url", callbackURL, "failures", failures, "error", err)

		if failures > len(n.schedule) {
			n.disable(subID)
			return
		}

		select {
		case <-time.After(n.schedule[failures-1]):
		case <-n.stopCh:
			return
		}
	}
}

func (n *WebhookNotifier) post(callbackURL string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) disable(subID string) {
	slog.Warn("Disabling subscription after repeated webhook failures", "subscription_id", subID)
	n.bus.Publish(TopicWebhookDisabled, subID)

	n.mu.Lock()
	fn := n.onDisabled
	n.mu.Unlock()
	if fn != nil {
		fn(subID)
	}
}
