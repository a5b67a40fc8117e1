package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"wanderer-kills/internal/killmails"
	killmailsServices "wanderer-kills/internal/killmails/services"
	"wanderer-kills/internal/subscriptions"
	"wanderer-kills/internal/websocket"
	"wanderer-kills/internal/zkillboard"
	zkbServices "wanderer-kills/internal/zkillboard/services"
	"wanderer-kills/pkg/app"
	"wanderer-kills/pkg/cache"
	"wanderer-kills/pkg/clock"
	"wanderer-kills/pkg/coalesce"
	"wanderer-kills/pkg/esi"
	"wanderer-kills/pkg/fetch"
	"wanderer-kills/pkg/handlers"
	"wanderer-kills/pkg/metrics"
	"wanderer-kills/pkg/pubsub"
	"wanderer-kills/pkg/ratelimit"
	"wanderer-kills/pkg/store"
)

const basePath = "/api/v1"

func main() {
	appCtx, err := app.InitializeApp("wanderer-kills")
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	cfg := appCtx.Config

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewSystem()

	// Shared infrastructure: cache, event store, rate limiting, upstream client.
	killCache := cache.New(clk, cache.WithSystemListCap(cfg.StoreMaxEventsPerSystem))
	events := store.New(clk,
		store.WithMaxEventsPerSystem(cfg.StoreMaxEventsPerSystem),
		store.WithIdleTTL(2*cfg.CacheSystemTTL),
	)

	limiter := ratelimit.New(clk)
	limiter.Register(fetch.ServiceZkb, ratelimit.ServiceConfig{
		Capacity:         cfg.ZkbBucketCapacity,
		RefillPerSecond:  cfg.ZkbRefillPerSecond,
		FailureThreshold: cfg.ZkbFailureThreshold,
		Cooldown:         cfg.ZkbCooldown,
		MaxQueue:         cfg.RateLimitMaxQueue,
		QueueTimeout:     cfg.RateLimitQueueTimeout,
	})
	limiter.Register(fetch.ServiceESI, ratelimit.ServiceConfig{
		Capacity:         cfg.ESIBucketCapacity,
		RefillPerSecond:  cfg.ESIRefillPerSecond,
		FailureThreshold: cfg.ESIFailureThreshold,
		Cooldown:         cfg.ESICooldown,
		MaxQueue:         cfg.RateLimitMaxQueue,
		QueueTimeout:     cfg.RateLimitQueueTimeout,
	})

	fetcher := fetch.NewClient(limiter, coalesce.New(cfg.CoalesceTimeout), fetch.Options{
		UserAgent:  cfg.UserAgent,
		MaxRetries: cfg.RetryMaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
		Timeouts: map[string]time.Duration{
			fetch.ServiceESI: cfg.ESITimeout,
			fetch.ServiceZkb: cfg.ZkbTimeout,
		},
		EnableTelemetry: cfg.EnableTelemetry,
	})

	resolver := esi.NewClient(fetcher, killCache, esi.Options{
		BaseURL:        cfg.ESIBaseURL,
		EntityTTL:      cfg.CacheESITTL,
		KillmailTTL:    cfg.CacheESIKillmailTTL,
		MaxConcurrency: cfg.EnricherMaxConcurrency,
	})
	catalogue := esi.NewCatalogue(killCache)

	bus := pubsub.New()

	// Modules.
	killmailsModule := killmails.New(killCache, events, clk, resolver, catalogue, bus, killmails.Config{
		KillmailTTL:             cfg.CacheKillmailTTL,
		BatchConcurrency:        cfg.BatchConcurrency,
		MinAttackersForParallel: cfg.EnricherMinAttackersForFanout,
		EnrichTimeout:           cfg.EnricherTaskTimeout,
	})
	pipeline := killmailsModule.GetPipeline()

	zkbModule := zkillboard.New(fetcher, resolver, clk, pipeline, zkillboard.Config{
		ZkbBaseURL:   cfg.ZkbBaseURL,
		ParserCutoff: cfg.ParserCutoff,
		RedisQ: zkbServices.ConsumerConfig{
			Endpoint:       cfg.RedisQURL,
			FastInterval:   cfg.RedisQFastInterval,
			IdleInterval:   cfg.RedisQIdleInterval,
			InitialBackoff: cfg.RedisQInitialBackoff,
			MaxBackoff:     cfg.RedisQMaxBackoff,
			BackoffFactor:  cfg.RedisQBackoffFactor,
			EmptyThreshold: cfg.RedisQEmptyThreshold,
			PollTimeout:    cfg.RedisQPollTimeout,
			UserAgent:      cfg.UserAgent,
		},
	})
	killmailsModule.GetService().SetHistoryFetcher(zkbModule.Backfiller())

	subsModule := subscriptions.New(clk, bus, subscriptions.Config{
		WebhookTimeout: cfg.WebhookTimeout,
	})
	pipeline.SetBroadcaster(subsModule.Manager())

	wsModule := websocket.New(subsModule.Manager(), killmailsModule.GetService(), zkbModule.Backfiller(), bus, websocket.Config{
		PreloadRealtimePriority: cfg.PreloadRealtimePriority,
	})

	// Ship catalogue: CSV seed when bundled, ESI bootstrap otherwise.
	go bootstrapCatalogue(ctx, catalogue, resolver, cfg.ShipTypesCSV)

	// Periodic sweeps.
	scheduler := cron.New()
	scheduler.Schedule(cron.Every(cfg.CacheSweepInterval), cron.FuncJob(func() {
		killCache.Sweep()
	}))
	scheduler.Schedule(cron.Every(cfg.StoreGCInterval), cron.FuncJob(func() {
		events.GC()
	}))
	scheduler.Start()

	// HTTP surface.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", handlers.HealthHandler("wanderer-kills"))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/status", statusHandler(zkbModule, subsModule, killmailsModule.GetService(), limiter, events))

	wsModule.Routes(r)

	humaConfig := huma.DefaultConfig("WandererKills API", "1.0.0")
	humaConfig.Info.Description = "Real-time EVE Online killmail distribution service"
	api := humachi.New(r, humaConfig)
	killmailsModule.RegisterUnifiedRoutes(api, basePath)
	subsModule.RegisterUnifiedRoutes(api, basePath)

	// Background tasks.
	go zkbModule.StartBackgroundTasks(ctx)
	go subsModule.StartBackgroundTasks(ctx)

	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	slog.Info("Received shutdown signal, initiating graceful shutdown...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	scheduler.Stop()
	zkbModule.Stop()
	subsModule.Stop()
	wsModule.Stop()
	killmailsModule.Stop()
	limiter.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown", "error", err)
	}
	if err := appCtx.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Application shutdown", "error", err)
	}
}

// bootstrapCatalogue seeds the ship-type table, preferring the bundled CSV.
func bootstrapCatalogue(ctx context.Context, catalogue *esi.Catalogue, resolver esi.Resolver, csvPath string) {
	if csvPath != "" {
		if loaded, err := catalogue.LoadCSV(csvPath); err != nil {
			slog.Warn("Ship types CSV load failed, falling back to ESI", "path", csvPath, "error", err)
		} else if loaded > 0 {
			return
		}
	}

	if err := catalogue.Bootstrap(ctx, resolver, esi.ShipGroupIDs); err != nil {
		slog.Error("Ship catalogue bootstrap failed", "error", err)
	}
}

// statusHandler aggregates the ops view: ingest state, rate limits,
// subscriptions, cache effectiveness and store occupancy.
func statusHandler(zkb *zkillboard.Module, subs *subscriptions.Module, service *killmailsServices.Service, limiter *ratelimit.Limiter, events *store.EventStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handlers.Success(w, map[string]interface{}{
			"redisq":        zkb.ConsumerStatus(),
			"rate_limits":   limiter.Stats(),
			"subscriptions": subs.Manager().Stats(),
			"cache":         service.CacheStats(),
			"systems":       len(events.Systems()),
		})
	}
}
