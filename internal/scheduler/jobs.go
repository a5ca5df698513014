package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/reward"
	"github.com/aristath/swingbot/internal/training"
)

// Trainer runs one retraining decision for a strategy
type Trainer interface {
	Run(ctx context.Context, strategy domain.Strategy) (*training.Result, error)
}

// RetrainJob runs the training orchestrator on a schedule
type RetrainJob struct {
	log      zerolog.Logger
	trainer  Trainer
	strategy domain.Strategy
	timeout  time.Duration
}

// NewRetrainJob creates a retrain job. A zero timeout means no deadline.
func NewRetrainJob(trainer Trainer, strategy domain.Strategy, timeout time.Duration, log zerolog.Logger) *RetrainJob {
	return &RetrainJob{
		log:      log.With().Str("job", "retrain").Str("strategy", string(strategy)).Logger(),
		trainer:  trainer,
		strategy: strategy,
		timeout:  timeout,
	}
}

// Name returns the job name
func (j *RetrainJob) Name() string {
	return "retrain_" + string(j.strategy)
}

// Run executes the retrain job
func (j *RetrainJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	result, err := j.trainer.Run(ctx, j.strategy)
	if err != nil {
		return fmt.Errorf("retrain %s: %w", j.strategy, err)
	}
	if result.Skipped {
		j.log.Info().Str("mode", string(result.Mode)).Msg("Retrain skipped, no new experiences")
		return nil
	}
	j.log.Info().
		Str("mode", string(result.Mode)).
		Int("version", result.Version.VersionNumber).
		Int("experiences", result.Experiences).
		Msg("Retrain completed")
	return nil
}

// Reconciler backfills rewards for closed positions
type Reconciler interface {
	ReconcileIncomplete(cfg reward.Config) (int, error)
}

// ReconcileJob sweeps incomplete experiences whose trades have closed
type ReconcileJob struct {
	log   zerolog.Logger
	store Reconciler
	cfg   reward.Config
}

// NewReconcileJob creates a reconcile job
func NewReconcileJob(store Reconciler, cfg reward.Config, log zerolog.Logger) *ReconcileJob {
	return &ReconcileJob{
		log:   log.With().Str("job", "reconcile").Logger(),
		store: store,
		cfg:   cfg,
	}
}

// Name returns the job name
func (j *ReconcileJob) Name() string {
	return "reconcile_experiences"
}

// Run executes the reconcile job
func (j *ReconcileJob) Run() error {
	n, err := j.store.ReconcileIncomplete(j.cfg)
	if err != nil {
		return err
	}
	if n > 0 {
		j.log.Info().Int("backfilled", n).Msg("Reconciled incomplete experiences")
	}
	return nil
}

// walFrameWarnThreshold is the WAL size, in frames, above which a truncating checkpoint runs
const walFrameWarnThreshold = 1000

// WALCheckpointJob monitors the WAL and truncates it when it grows large
type WALCheckpointJob struct {
	log zerolog.Logger
	db  *sql.DB
}

// NewWALCheckpointJob creates a new WALCheckpointJob
func NewWALCheckpointJob(db *sql.DB, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{
		log: log.With().Str("job", "wal_checkpoint").Logger(),
		db:  db,
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run executes the WAL checkpoint job
func (j *WALCheckpointJob) Run() error {
	// PRAGMA wal_checkpoint returns: busy, log, checkpointed
	var busy, frames, checkpointed int
	if err := j.db.QueryRow("PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed); err != nil {
		return fmt.Errorf("failed to check WAL checkpoint: %w", err)
	}

	if frames <= walFrameWarnThreshold {
		j.log.Debug().Int("wal_frames", frames).Msg("WAL checkpoint status OK")
		return nil
	}

	j.log.Warn().
		Int("wal_frames", frames).
		Int("checkpointed", checkpointed).
		Msg("WAL file is large, truncating")
	if _, err := j.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint failed: %w", err)
	}
	return nil
}
