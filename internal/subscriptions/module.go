package subscriptions

import (
	"context"
	"time"

	"wanderer-kills/internal/subscriptions/routes"
	"wanderer-kills/internal/subscriptions/services"
	"wanderer-kills/pkg/clock"
	"wanderer-kills/pkg/module"
	"wanderer-kills/pkg/pubsub"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
)

// Module owns the subscription fabric: per-subscription workers, the two
// inverted indices and the webhook notifier.
type Module struct {
	*module.BaseModule
	manager  *services.Manager
	notifier *services.WebhookNotifier
}

// Config tunes the module.
type Config struct {
	WebhookTimeout time.Duration
}

// New creates the subscriptions module instance.
func New(clk clock.Clock, bus *pubsub.Broadcaster, cfg Config) *Module {
	opts := []services.NotifierOption{}
	if cfg.WebhookTimeout > 0 {
		opts = append(opts, services.WithTimeout(cfg.WebhookTimeout))
	}
	notifier := services.NewWebhookNotifier(bus, opts...)
	manager := services.NewManager(clk, notifier)

	return &Module{
		BaseModule: module.NewBaseModule("subscriptions"),
		manager:    manager,
		notifier:   notifier,
	}
}

// RegisterUnifiedRoutes registers the subscription API with the gateway.
func (m *Module) RegisterUnifiedRoutes(api huma.API, basePath string) {
	routes.RegisterSubscriptionRoutes(api, basePath, m.manager)
}

// Routes registers routes on a Chi router (implements module.Module interface)
func (m *Module) Routes(r chi.Router) {
	m.RegisterHealthRoute(r)
}

// StartBackgroundTasks runs the periodic index sweep.
func (m *Module) StartBackgroundTasks(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.StopChannel():
			return
		case <-ticker.C:
			m.manager.SweepIndices()
		}
	}
}

// Stop drains workers and the webhook notifier.
func (m *Module) Stop() {
	m.manager.Stop()
	m.notifier.Stop()
	m.BaseModule.Stop()
}

// Manager returns the lifecycle facade.
func (m *Module) Manager() *services.Manager {
	return m.manager
}
