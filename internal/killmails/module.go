package killmails

import (
	"context"
	"time"

	"wanderer-kills/internal/killmails/routes"
	"wanderer-kills/internal/killmails/services"
	"wanderer-kills/pkg/cache"
	"wanderer-kills/pkg/clock"
	"wanderer-kills/pkg/esi"
	"wanderer-kills/pkg/module"
	"wanderer-kills/pkg/pubsub"
	"wanderer-kills/pkg/store"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
)

// Module owns the canonical killmail model, the enrichment pipeline and the
// kill query API.
type Module struct {
	*module.BaseModule
	service  *services.Service
	enricher *services.Enricher
	pipeline *services.Pipeline
}

// Config tunes the module.
type Config struct {
	KillmailTTL      time.Duration
	BatchConcurrency int
	MinAttackersForParallel int
	EnrichTimeout    time.Duration
}

// New creates the killmails module instance.
func New(c *cache.Cache, events *store.EventStore, clk clock.Clock, resolver esi.Resolver, catalogue *esi.Catalogue, bus *pubsub.Broadcaster, cfg Config) *Module {
	enricher := services.NewEnricher(resolver, catalogue,
		services.WithMinAttackersForParallel(cfg.MinAttackersForParallel),
		services.WithEnrichTimeout(cfg.EnrichTimeout),
	)
	pipeline := services.NewPipeline(c, events, enricher, bus, cfg.KillmailTTL, cfg.BatchConcurrency)
	service := services.NewService(c, events, clk)

	return &Module{
		BaseModule: module.NewBaseModule("killmails"),
		service:    service,
		enricher:   enricher,
		pipeline:   pipeline,
	}
}

// RegisterUnifiedRoutes registers all killmail routes with the unified API gateway
func (m *Module) RegisterUnifiedRoutes(api huma.API, basePath string) {
	routes.RegisterKillmailRoutes(api, basePath, m.service)
}

// Routes registers routes on a Chi router (implements module.Module interface)
func (m *Module) Routes(r chi.Router) {
	// Killmails module uses only Huma v2 unified routes
}

// Initialize performs module initialization tasks
func (m *Module) Initialize(ctx context.Context) error {
	return nil
}

// GetService returns the query service for this module
func (m *Module) GetService() *services.Service {
	return m.service
}

// GetPipeline returns the processing pipeline for this module
func (m *Module) GetPipeline() *services.Pipeline {
	return m.pipeline
}
