// Package di provides dependency injection for service implementations.
package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/artifacts"
	"github.com/aristath/swingbot/internal/clients/alpaca"
	"github.com/aristath/swingbot/internal/config"
	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/events"
	"github.com/aristath/swingbot/internal/execution"
	"github.com/aristath/swingbot/internal/marketdata"
	"github.com/aristath/swingbot/internal/models"
	"github.com/aristath/swingbot/internal/modules/registry"
	"github.com/aristath/swingbot/internal/server"
	"github.com/aristath/swingbot/internal/training"
)

// InitializeServices creates clients and services on top of the repositories
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.TradeRepo == nil {
		return fmt.Errorf("repositories must be initialized before services")
	}

	// The store takes an interface, so an unset mirror must stay a nil interface
	var mirror artifacts.Mirror
	if cfg.Artifacts.Enabled() {
		s3Mirror, err := artifacts.NewS3Mirror(ctx, cfg.Artifacts, log)
		if err != nil {
			return fmt.Errorf("failed to create artifact mirror: %w", err)
		}
		mirror = s3Mirror
		log.Info().Str("bucket", cfg.Artifacts.Bucket).Msg("Artifact mirror enabled")
	}

	container.Mirror = mirror

	store, err := artifacts.NewStore(cfg.ModelDir, mirror, log)
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}
	container.ArtifactStore = store

	container.Registry = registry.New(container.DB.Conn(), store, container.TradeRepo, log)
	container.ModelLoader = models.NewLoader(container.Registry, log)

	container.Market = marketdata.NewClient(cfg.MarketDataURL, log)
	container.Brokers = alpaca.Factory(log)
	container.EventManager = events.NewManager(log)

	container.Trainer = training.New(training.Config{
		Experiences: container.ExperienceRepo,
		Registry:    container.Registry,
		Market:      container.Market,
		Events:      container.EventManager,
		Training:    cfg.Training,
		Reward:      cfg.Reward,
		Universe:    cfg.Universe,
		Log:         log,
	})

	log.Info().Msg("Services initialized")
	return nil
}

// NewTradingLoop builds the live loop for one strategy around its own model handle.
// The handle is loaded once here; the loop refreshes it on its reload cadence.
func NewTradingLoop(ctx context.Context, container *Container, cfg *config.Config, strategy domain.Strategy, log zerolog.Logger) (*execution.Loop, *models.Handle, error) {
	handle := models.NewHandle(strategy, container.ModelLoader)
	if _, err := handle.Reload(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to load %s model: %w", strategy, err)
	}

	loop, err := execution.New(execution.Config{
		Strategy:    strategy,
		Universe:    cfg.Universe,
		Execution:   cfg.Execution,
		Reward:      cfg.Reward,
		Market:      container.Market,
		Accounts:    container.AccountRepo,
		Trades:      container.TradeRepo,
		Experiences: container.ExperienceRepo,
		Brokers:     container.Brokers,
		Model:       handle,
		Sizer:       execution.Sizer{},
		Events:      container.EventManager,
		Log:         log,
	})
	if err != nil {
		return nil, nil, err
	}
	return loop, handle, nil
}

// NewServer builds the HTTP server over the container. stream may be nil when the
// process does not run the trading loop.
func NewServer(container *Container, cfg *config.Config, set *models.Set, port int, stream server.EventSource, log zerolog.Logger) *server.Server {
	return server.New(server.Config{
		Log:             log,
		Port:            port,
		DevMode:         cfg.DevMode,
		Models:          set,
		Market:          container.Market,
		Registry:        container.Registry,
		Trades:          container.TradeRepo,
		Events:          stream,
		DefaultStrategy: cfg.DefaultStrategy,
		Period:          cfg.Execution.Period,
		MinRows:         cfg.Execution.MinRows,
	})
}
