package di

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/scheduler"
)

func TestWire(t *testing.T) {
	cfg := testConfig(t)
	migrated(t, cfg)

	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	assert.NotNil(t, container.AccountRepo)
	assert.NotNil(t, container.TradeRepo)
	assert.NotNil(t, container.ExperienceRepo)
	assert.NotNil(t, container.ArtifactStore)
	assert.NotNil(t, container.Registry)
	assert.NotNil(t, container.ModelLoader)
	assert.NotNil(t, container.Market)
	assert.NotNil(t, container.Brokers)
	assert.NotNil(t, container.EventManager)
	assert.NotNil(t, container.Trainer)
	assert.Equal(t, cfg.ModelDir, container.ArtifactStore.Dir())
}

func TestWire_RequiresSchema(t *testing.T) {
	cfg := testConfig(t)

	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
	assert.Nil(t, container)
}

func TestRegisterJobs(t *testing.T) {
	cfg := testConfig(t)
	migrated(t, cfg)

	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	sched := scheduler.New(zerolog.Nop())
	jobs, err := RegisterJobs(container, cfg, sched, domain.Strategies(), zerolog.Nop())
	require.NoError(t, err)

	assert.Len(t, jobs.Retrain, 2)
	assert.Equal(t, "retrain_sortino", jobs.Retrain[domain.StrategySortino].Name())
	assert.NotNil(t, jobs.Reconcile)
	assert.NotNil(t, jobs.WALCheckpoint)
	assert.NotNil(t, jobs.Maintenance)
	assert.Nil(t, jobs.Backup, "backups need a bucket")
	assert.Equal(t, 5, sched.Entries())
}

func TestRegisterJobs_EmptySchedulesDisableJobs(t *testing.T) {
	cfg := testConfig(t)
	migrated(t, cfg)
	cfg.Training.RetrainSchedule = ""
	cfg.Execution.ReconcileSchedule = ""
	cfg.MaintenanceSchedule = ""

	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	sched := scheduler.New(zerolog.Nop())
	jobs, err := RegisterJobs(container, cfg, sched, []domain.Strategy{domain.StrategySortino}, zerolog.Nop())
	require.NoError(t, err)

	assert.Empty(t, jobs.Retrain)
	assert.Nil(t, jobs.Reconcile)
	assert.Nil(t, jobs.Maintenance)
	assert.Equal(t, 1, sched.Entries())
}

func TestNewTradingLoop_NoModel(t *testing.T) {
	cfg := testConfig(t)
	migrated(t, cfg)

	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	_, _, err = NewTradingLoop(context.Background(), container, cfg, domain.StrategySortino, zerolog.Nop())
	assert.Error(t, err)
}
