package app

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strings"

	"wanderer-kills/pkg/config"

	"github.com/joho/godotenv"
)

// AppContext holds the shared application context and dependencies
type AppContext struct {
	Config        *config.Config
	ServiceName   string
	shutdownFuncs []func(context.Context) error
}

// InitializeApp loads the environment, configures logging and returns the
// shared application context.
func InitializeApp(serviceName string) (*AppContext, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it: %v", err)
	}

	setupLogging()

	cfg := config.Load()

	slog.Info("Application initialized",
		"service", serviceName,
		"port", cfg.Port,
		"redisq_url", cfg.RedisQURL,
		"esi_base_url", cfg.ESIBaseURL)

	return &AppContext{
		Config:      cfg,
		ServiceName: serviceName,
	}, nil
}

// OnShutdown registers a function to run during graceful shutdown.
func (a *AppContext) OnShutdown(fn func(context.Context) error) {
	a.shutdownFuncs = append(a.shutdownFuncs, fn)
}

// Shutdown gracefully shuts down all application dependencies
func (a *AppContext) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down application", "service", a.ServiceName)

	for _, shutdown := range a.shutdownFuncs {
		if err := shutdown(ctx); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}

	slog.Info("Application shutdown completed", "service", a.ServiceName)
	return nil
}

func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(config.GetEnv("LOG_LEVEL", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(config.GetEnv("LOG_FORMAT", "text")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// IsProduction returns true if running in production environment
func IsProduction() bool {
	return config.GetEnv("APP_ENV", "development") == "production"
}

// IsDevelopment returns true if running in development environment
func IsDevelopment() bool {
	return !IsProduction()
}
