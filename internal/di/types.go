/**
 * Package di provides dependency injection type definitions.
 *
 * The Container holds every long-lived collaborator of a swingbot process. It is built
 * by Wire() and handed to the CLI commands and the serving endpoint.
 */
package di

import (
	"github.com/aristath/swingbot/internal/artifacts"
	"github.com/aristath/swingbot/internal/database"
	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/events"
	"github.com/aristath/swingbot/internal/marketdata"
	"github.com/aristath/swingbot/internal/models"
	"github.com/aristath/swingbot/internal/modules/accounts"
	"github.com/aristath/swingbot/internal/modules/experiences"
	"github.com/aristath/swingbot/internal/modules/registry"
	"github.com/aristath/swingbot/internal/modules/trading"
	"github.com/aristath/swingbot/internal/scheduler"
	"github.com/aristath/swingbot/internal/training"
)

// Container holds all dependencies for the application
type Container struct {
	// Database
	DB *database.DB

	// Repositories
	AccountRepo    *accounts.Repository
	TradeRepo      *trading.TradeRepository
	ExperienceRepo *experiences.Repository

	// Clients
	Market  *marketdata.Client
	Brokers domain.BrokerFactory

	// Services
	Mirror        artifacts.Mirror // nil when no bucket is configured
	ArtifactStore *artifacts.Store
	Registry      *registry.Registry
	ModelLoader   *models.Loader
	Trainer       *training.Orchestrator
	EventManager  *events.Manager
}

// Close releases the database connection
func (c *Container) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// JobInstances holds the scheduled jobs registered by RegisterJobs
type JobInstances struct {
	Retrain       map[domain.Strategy]scheduler.Job
	Reconcile     scheduler.Job
	WALCheckpoint scheduler.Job
	Maintenance   scheduler.Job
	Backup        scheduler.Job
}
