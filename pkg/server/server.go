// Package server provides the public entry point for initializing the
// marketing-analysis backend: configuration, telemetry, the document store,
// the execution engine, and the HTTP router, composed in one place.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Kubotie/marketing-ai-sub000/internal/api"
	"github.com/Kubotie/marketing-ai-sub000/internal/api/handlers"
	"github.com/Kubotie/marketing-ai-sub000/internal/config"
	"github.com/Kubotie/marketing-ai-sub000/internal/engine"
	"github.com/Kubotie/marketing-ai-sub000/internal/llm"
	"github.com/Kubotie/marketing-ai-sub000/internal/retention"
	"github.com/Kubotie/marketing-ai-sub000/internal/store"
	"github.com/Kubotie/marketing-ai-sub000/internal/telemetry"
)

// Server holds the initialized backend.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the backing document store.
	Store store.Store

	// Config is the loaded configuration.
	Config *config.Config

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New loads configuration from the environment and initializes all
// components. DATABASE_URL selects PostgreSQL; without it the in-memory
// store with JSON snapshots is used.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes the backend with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var dataStore store.Store
	if cfg.Database.URL != "" {
		dataStore, err = store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		log.Info().Msg("PostgreSQL store initialized")
	} else {
		dataStore = store.NewMemoryStore()
		log.Info().Msg("In-memory store initialized")
	}

	client := llm.NewClient(cfg.Generation)
	eng := engine.New(dataStore, client, cfg)
	log.Info().Str("model", cfg.Generation.Model).Msg("Execution engine initialized")

	if cfg.Retention.MaxAgeDays > 0 || cfg.Retention.MaxRuns > 0 {
		janitor := retention.NewJanitor(dataStore,
			time.Duration(cfg.Retention.IntervalMins)*time.Minute,
			time.Duration(cfg.Retention.MaxAgeDays)*24*time.Hour,
			cfg.Retention.MaxRuns)
		janitor.Start(ctx)
		log.Info().Int("max_age_days", cfg.Retention.MaxAgeDays).Int("max_runs", cfg.Retention.MaxRuns).Msg("Run retention janitor started")
	}

	h := handlers.New(dataStore, eng)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Config:       cfg,
		ShutdownFunc: shutdown,
	}, nil
}
