package services

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	killmails "wanderer-kills/internal/killmails/models"
	"wanderer-kills/internal/subscriptions/models"
	"wanderer-kills/pkg/metrics"
)

// WorkerState is the lifecycle state of a subscription worker.
type WorkerState int32

const (
	WorkerInitializing WorkerState = iota
	WorkerActive
	WorkerTerminating
)

func (s WorkerState) String() string {
	switch s {
	case WorkerInitializing:
		return "initializing"
	case WorkerActive:
		return "active"
	case WorkerTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// ExitReason reports why a worker stopped.
type ExitReason string

const (
	ExitRemoved       ExitReason = "removed"
	ExitChannelClosed ExitReason = "channel_closed"
	ExitCrashed       ExitReason = "crashed"
)

// Channel is the duplex transport handle a websocket subscription delivers
// into. Done is closed when the transport dies.
type Channel interface {
	Push(event string, payload interface{}) error
	Done() <-chan struct{}
}

// KillmailUpdate is the delivery unit handed to workers.
type KillmailUpdate struct {
	SystemID  int32
	Killmails []*killmails.Killmail
	Preload   bool
}

// CountUpdate carries a refreshed retained-kill count for one system.
type CountUpdate struct {
	SystemID int32
	Count    int
}

// KillmailUpdateEvent is the websocket wire shape for a delivery.
type KillmailUpdateEvent struct {
	SystemID  int32                 `json:"system_id"`
	Killmails []*killmails.Killmail `json:"killmails"`
	Timestamp time.Time             `json:"timestamp"`
	Preload   bool                  `json:"preload"`
}

// WorkerSnapshot is the externally visible worker state.
type WorkerSnapshot struct {
	Subscription models.Subscription `json:"subscription"`
	State        string              `json:"state"`
	Delivered    int64               `json:"delivered"`
	Matched      int64               `json:"matched"`
}

type inboxMsg struct {
	update     *KillmailUpdate
	count      *CountUpdate
	patch      *models.Patch
	stateReply chan WorkerSnapshot
}

const workerInboxDepth = 256

// Worker exclusively owns one subscription: it applies the OR filter to
// inbound killmail updates and delivers matches over the subscription's
// transport. An uncaught error terminates only this worker; the manager
// decides whether to restart it.
type Worker struct {
	sub      *models.Subscription
	channel  Channel
	notifier *WebhookNotifier

	inbox    chan inboxMsg
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	state     atomic.Int32
	delivered atomic.Int64
	matched   atomic.Int64

	onExit   func(subID string, reason ExitReason)
	onUpdate func(sub *models.Subscription)
}

// NewWorker creates a worker for a subscription. channel is nil for webhook
// subscriptions; notifier is unused for websocket ones.
func NewWorker(sub *models.Subscription, channel Channel, notifier *WebhookNotifier, onExit func(string, ExitReason), onUpdate func(*models.Subscription)) *Worker {
	w := &Worker{
		sub:      sub,
		channel:  channel,
		notifier: notifier,
		inbox:    make(chan inboxMsg, workerInboxDepth),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		onExit:   onExit,
		onUpdate: onUpdate,
	}
	w.state.Store(int32(WorkerInitializing))
	return w
}

// Start launches the worker loop.
func (w *Worker) Start() {
	go w.run()
}

// Deliver hands a killmail update to the worker, blocking while the inbox is
// full. The caller runs one goroutine per worker, so a slow subscriber only
// backpressures its own delivery.
func (w *Worker) Deliver(update *KillmailUpdate) {
	select {
	case w.inbox <- inboxMsg{update: update}:
	case <-w.done:
	}
}

// DeliverCount hands a kill-count update to the worker. Only webhook
// subscriptions act on it; websocket channels receive counts over the
// pub/sub count topics instead.
func (w *Worker) DeliverCount(count *CountUpdate) {
	select {
	case w.inbox <- inboxMsg{count: count}:
	case <-w.done:
	}
}

// UpdateSubscription applies a patch through the worker's inbox so only the
// owning goroutine mutates the record.
func (w *Worker) UpdateSubscription(patch *models.Patch) {
	select {
	case w.inbox <- inboxMsg{patch: patch}:
	case <-w.done:
	}
}

// State returns a snapshot via message passing.
func (w *Worker) State() WorkerSnapshot {
	reply := make(chan WorkerSnapshot, 1)
	select {
	case w.inbox <- inboxMsg{stateReply: reply}:
		select {
		case snap := <-reply:
			return snap
		case <-w.done:
		}
	case <-w.done:
	}
	return WorkerSnapshot{Subscription: *w.sub, State: WorkerTerminating.String()}
}

// Stop asks the worker to drain pending deliveries and exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Done is closed once the worker has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) run() {
	reason := ExitRemoved
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Subscription worker crashed",
				"subscription_id", w.sub.ID, "panic", r)
			reason = ExitCrashed
		}
		w.state.Store(int32(WorkerTerminating))
		close(w.done)
		if w.onExit != nil {
			w.onExit(w.sub.ID, reason)
		}
	}()

	w.state.Store(int32(WorkerActive))

	var channelDone <-chan struct{}
	if w.channel != nil {
		channelDone = w.channel.Done()
	}

	for {
		select {
		case msg := <-w.inbox:
			w.handle(msg)

		case <-channelDone:
			reason = ExitChannelClosed
			return

		case <-w.stopCh:
			w.drain()
			return
		}
	}
}

// drain flushes pending deliveries before exit.
func (w *Worker) drain() {
	for {
		select {
		case msg := <-w.inbox:
			w.handle(msg)
		default:
			return
		}
	}
}

func (w *Worker) handle(msg inboxMsg) {
	switch {
	case msg.update != nil:
		w.deliver(msg.update)

	case msg.count != nil:
		w.deliverCount(msg.count)

	case msg.patch != nil:
		w.applyPatch(msg.patch)

	case msg.stateReply != nil:
		msg.stateReply <- WorkerSnapshot{
			Subscription: *w.sub,
			State:        WorkerState(w.state.Load()).String(),
			Delivered:    w.delivered.Load(),
			Matched:      w.matched.Load(),
		}
	}
}

func (w *Worker) deliver(update *KillmailUpdate) {
	matches := make([]*killmails.Killmail, 0, len(update.Killmails))
	for _, km := range update.Killmails {
		if w.sub.Matches(km) {
			matches = append(matches, km)
		}
	}
	if len(matches) == 0 {
		return
	}
	w.matched.Add(int64(len(matches)))

	switch w.sub.Kind {
	case models.KindWebSocket:
		err := w.channel.Push("killmail_update", KillmailUpdateEvent{
			SystemID:  update.SystemID,
			Killmails: matches,
			Timestamp: time.Now().UTC(),
			Preload:   update.Preload,
		})
		if err != nil {
			// Dead transport: terminate; the manager cleans up the indices.
			slog.Info("WebSocket push failed, terminating worker",
				"subscription_id", w.sub.ID, "error", err)
			w.Stop()
			return
		}
		w.delivered.Add(int64(len(matches)))
		metrics.Deliveries.WithLabelValues("websocket").Inc()

	case models.KindWebhook:
		payload := models.NewDetailedKillUpdate(update.SystemID, matches)
		if err := w.notifier.Notify(w.sub.CallbackURL, payload, w.sub.ID); err != nil {
			slog.Warn("Webhook enqueue failed", "subscription_id", w.sub.ID, "error", err)
			return
		}
		w.delivered.Add(int64(len(matches)))
	}
}

func (w *Worker) deliverCount(count *CountUpdate) {
	if w.sub.Kind != models.KindWebhook {
		return
	}

	subscribed := false
	for _, systemID := range w.sub.SystemIDs {
		if systemID == count.SystemID {
			subscribed = true
			break
		}
	}
	if !subscribed {
		return
	}

	payload := models.NewKillCountUpdate(count.SystemID, count.Count)
	if err := w.notifier.Notify(w.sub.CallbackURL, payload, w.sub.ID); err != nil {
		slog.Warn("Kill count webhook enqueue failed", "subscription_id", w.sub.ID, "error", err)
	}
}

func (w *Worker) applyPatch(patch *models.Patch) {
	if patch.SystemIDs != nil {
		w.sub.SystemIDs = *patch.SystemIDs
	}
	if patch.CharacterIDs != nil {
		w.sub.CharacterIDs = *patch.CharacterIDs
	}
	if patch.CallbackURL != nil {
		w.sub.CallbackURL = *patch.CallbackURL
	}

	if w.onUpdate != nil {
		w.onUpdate(w.sub)
	}
}
