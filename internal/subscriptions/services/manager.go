package services

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	killmails "wanderer-kills/internal/killmails/models"
	"wanderer-kills/internal/subscriptions/models"
	"wanderer-kills/pkg/clock"
	"wanderer-kills/pkg/metrics"
)

// Restart policy for crashed workers.
const (
	maxRestarts   = 5
	restartWindow = 30 * time.Second
)

type workerEntry struct {
	worker   *Worker
	sub      *models.Subscription
	channel  Channel
	restarts []time.Time
	removed  bool
}

// Manager is the subscription lifecycle facade: it registers workers, keeps
// the two inverted indices in sync, and fans stored killmails out to the
// matching workers.
type Manager struct {
	clk      clock.Clock
	notifier *WebhookNotifier

	systemIndex    *Index
	characterIndex *Index

	mu      sync.RWMutex
	entries map[string]*workerEntry
}

// NewManager creates the manager.
func NewManager(clk clock.Clock, notifier *WebhookNotifier) *Manager {
	m := &Manager{
		clk:            clk,
		notifier:       notifier,
		systemIndex:    NewIndex(),
		characterIndex: NewIndex(),
		entries:        make(map[string]*workerEntry),
	}
	notifier.SetDisableFunc(func(subID string) {
		if err := m.Remove(subID); err != nil {
			slog.Debug("Disabling already removed subscription", "subscription_id", subID)
		}
	})
	return m
}

// Add validates and registers a subscription, spawning its worker. channel is
// required for websocket subscriptions.
func (m *Manager) Add(sub *models.Subscription, channel Channel) (string, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = m.clk.Now()
	}
	if err := sub.Validate(); err != nil {
		return "", err
	}
	if sub.Kind == models.KindWebSocket && channel == nil {
		return "", fmt.Errorf("subscription %s: websocket subscription requires a channel", sub.ID)
	}

	entry := &workerEntry{sub: sub, channel: channel}
	entry.worker = m.spawn(sub, channel)

	m.mu.Lock()
	if _, exists := m.entries[sub.ID]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("subscription %s already registered", sub.ID)
	}
	m.entries[sub.ID] = entry
	m.mu.Unlock()

	m.reindex(sub)
	entry.worker.Start()
	metrics.ActiveSubscriptions.WithLabelValues(string(sub.Kind)).Inc()

	slog.Info("Subscription added",
		"subscription_id", sub.ID,
		"subscriber_id", sub.SubscriberID,
		"kind", sub.Kind,
		"systems", len(sub.SystemIDs),
		"characters", len(sub.CharacterIDs))
	return sub.ID, nil
}

// Update patches a subscription through its owning worker.
func (m *Manager) Update(subID string, patch *models.Patch) error {
	m.mu.RLock()
	entry, ok := m.entries[subID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("subscription %s not found", subID)
	}

	entry.worker.UpdateSubscription(patch)
	return nil
}

// Remove stops a subscription's worker; index cleanup follows on exit.
func (m *Manager) Remove(subID string) error {
	m.mu.Lock()
	entry, ok := m.entries[subID]
	if ok {
		entry.removed = true
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("subscription %s not found", subID)
	}

	entry.worker.Stop()
	return nil
}

// Get returns a snapshot of one subscription.
func (m *Manager) Get(subID string) (WorkerSnapshot, error) {
	m.mu.RLock()
	entry, ok := m.entries[subID]
	m.mu.RUnlock()
	if !ok {
		return WorkerSnapshot{}, fmt.Errorf("subscription %s not found", subID)
	}
	return entry.worker.State(), nil
}

// List returns snapshots of every live subscription.
func (m *Manager) List() []WorkerSnapshot {
	m.mu.RLock()
	workers := make([]*Worker, 0, len(m.entries))
	for _, entry := range m.entries {
		workers = append(workers, entry.worker)
	}
	m.mu.RUnlock()

	out := make([]WorkerSnapshot, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.State())
	}
	return out
}

// BroadcastKillmails resolves the candidate subscriber set through both
// indices and sends each worker an async killmail update. Implements the
// pipeline's KillmailBroadcaster.
func (m *Manager) BroadcastKillmails(systemID int32, kms []*killmails.Killmail) {
	characterIDs := make([]int64, 0)
	for _, km := range kms {
		characterIDs = append(characterIDs, km.CharacterIDs()...)
	}

	seen := make(map[string]struct{})
	for _, subID := range m.systemIndex.Find(models.SystemKey(systemID)) {
		seen[subID] = struct{}{}
	}
	for _, subID := range m.characterIndex.FindMany(characterIDs) {
		seen[subID] = struct{}{}
	}
	if len(seen) == 0 {
		return
	}

	update := &KillmailUpdate{SystemID: systemID, Killmails: kms}

	m.mu.RLock()
	targets := make([]*Worker, 0, len(seen))
	for subID := range seen {
		if entry, ok := m.entries[subID]; ok {
			targets = append(targets, entry.worker)
		}
	}
	m.mu.RUnlock()

	// One goroutine per worker: a slow subscriber backpressures only its own
	// delivery.
	for _, w := range targets {
		go w.Deliver(update)
	}
}

// BroadcastKillCount pushes a refreshed system count to subscribed webhook
// workers.
func (m *Manager) BroadcastKillCount(systemID int32, count int) {
	subIDs := m.systemIndex.Find(models.SystemKey(systemID))
	if len(subIDs) == 0 {
		return
	}

	update := &CountUpdate{SystemID: systemID, Count: count}

	m.mu.RLock()
	targets := make([]*Worker, 0, len(subIDs))
	for _, subID := range subIDs {
		if entry, ok := m.entries[subID]; ok {
			targets = append(targets, entry.worker)
		}
	}
	m.mu.RUnlock()

	for _, w := range targets {
		go w.DeliverCount(update)
	}
}

// ManagerStats aggregates subscription counts and index sizes.
type ManagerStats struct {
	Total          int `json:"total"`
	WebSocket      int `json:"websocket"`
	Webhook        int `json:"webhook"`
	SystemEntries  int `json:"system_index_entries"`
	CharacterEntries int `json:"character_index_entries"`
}

// Stats reports aggregate subscription statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ManagerStats{
		Total:            len(m.entries),
		SystemEntries:    m.systemIndex.Size(),
		CharacterEntries: m.characterIndex.Size(),
	}
	for _, entry := range m.entries {
		switch entry.sub.Kind {
		case models.KindWebSocket:
			stats.WebSocket++
		case models.KindWebhook:
			stats.Webhook++
		}
	}
	return stats
}

// SweepIndices removes empty index entries. Run periodically.
func (m *Manager) SweepIndices() {
	m.systemIndex.Sweep()
	m.characterIndex.Sweep()
}

// Stop terminates every worker and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.entries))
	for _, entry := range m.entries {
		entry.removed = true
		workers = append(workers, entry.worker)
	}
	m.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	for _, w := range workers {
		<-w.Done()
	}
}

func (m *Manager) spawn(sub *models.Subscription, channel Channel) *Worker {
	return NewWorker(sub, channel, m.notifier, m.onWorkerExit, m.reindex)
}

// reindex refreshes both inverted indices for a subscription.
func (m *Manager) reindex(sub *models.Subscription) {
	systemKeys := make([]int64, len(sub.SystemIDs))
	for i, id := range sub.SystemIDs {
		systemKeys[i] = models.SystemKey(id)
	}
	m.systemIndex.Update(sub.ID, systemKeys)
	m.characterIndex.Update(sub.ID, sub.CharacterIDs)
}

// onWorkerExit applies the restart policy: crashed workers restart up to
// maxRestarts within restartWindow, then the subscription is unregistered.
// Normal exits clean up immediately.
func (m *Manager) onWorkerExit(subID string, reason ExitReason) {
	m.mu.Lock()
	entry, ok := m.entries[subID]
	if !ok {
		m.mu.Unlock()
		return
	}

	if reason == ExitCrashed && !entry.removed {
		cutoff := m.clk.Now().Add(-restartWindow)
		recent := entry.restarts[:0]
		for _, t := range entry.restarts {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		entry.restarts = append(recent, m.clk.Now())

		if len(entry.restarts) <= maxRestarts {
			entry.worker = m.spawn(entry.sub, entry.channel)
			m.mu.Unlock()

			slog.Warn("Restarting crashed subscription worker",
				"subscription_id", subID, "restarts", len(entry.restarts))
			entry.worker.Start()
			return
		}

		slog.Error("Subscription worker exceeded restart budget, giving up",
			"subscription_id", subID)
	}

	delete(m.entries, subID)
	m.mu.Unlock()

	m.systemIndex.Remove(subID)
	m.characterIndex.Remove(subID)
	metrics.ActiveSubscriptions.WithLabelValues(string(entry.sub.Kind)).Dec()

	slog.Info("Subscription removed", "subscription_id", subID, "reason", string(reason))
}
