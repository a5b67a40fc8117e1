package zkillboard

import (
	"context"
	"log/slog"
	"time"

	"wanderer-kills/internal/zkillboard/services"
	"wanderer-kills/pkg/clock"
	"wanderer-kills/pkg/esi"
	"wanderer-kills/pkg/fetch"
	"wanderer-kills/pkg/module"

	"github.com/go-chi/chi/v5"
)

// Module owns the ingest side: the RedisQ long-poll consumer, the historical
// killboard fetcher and the format-routed parser feeding the pipeline.
type Module struct {
	*module.BaseModule
	consumer   *services.RedisQConsumer
	parser     *services.Parser
	zkb        *services.ZkbFetcher
	backfiller *services.Backfiller
}

// Config tunes the module.
type Config struct {
	RedisQ       services.ConsumerConfig
	ZkbBaseURL   string
	ParserCutoff time.Duration
}

// New creates the zkillboard module instance.
func New(fetcher *fetch.Client, resolver esi.Resolver, clk clock.Clock, sink services.KillmailSink, cfg Config) *Module {
	parser := services.NewParser(resolver, clk, cfg.ParserCutoff)
	zkb := services.NewZkbFetcher(fetcher, cfg.ZkbBaseURL)
	backfiller := services.NewBackfiller(zkb, parser, sink)
	consumer := services.NewRedisQConsumer(parser, sink, cfg.RedisQ)

	return &Module{
		BaseModule: module.NewBaseModule("zkillboard"),
		consumer:   consumer,
		parser:     parser,
		zkb:        zkb,
		backfiller: backfiller,
	}
}

// Routes registers routes on a Chi router (implements module.Module interface)
func (m *Module) Routes(r chi.Router) {
	m.RegisterHealthRoute(r)
}

// StartBackgroundTasks starts the RedisQ consumer.
func (m *Module) StartBackgroundTasks(ctx context.Context) {
	if err := m.consumer.Start(ctx); err != nil {
		slog.Error("Failed to start RedisQ consumer", "error", err)
	}
}

// Stop stops the consumer and the module.
func (m *Module) Stop() {
	if err := m.consumer.Stop(); err != nil {
		slog.Warn("RedisQ consumer stop", "error", err)
	}
	m.BaseModule.Stop()
}

// ConsumerStatus exposes the poll loop status for the ops surface.
func (m *Module) ConsumerStatus() services.Status {
	return m.consumer.GetStatus()
}

// Backfiller returns the historical backfill path.
func (m *Module) Backfiller() *services.Backfiller {
	return m.backfiller
}

// Parser returns the format-routed parser.
func (m *Module) Parser() *services.Parser {
	return m.parser
}
