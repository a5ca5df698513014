package di

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/config"
	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/reliability"
	"github.com/aristath/swingbot/internal/scheduler"
)

// retrainTimeout bounds one scheduled retrain run
const retrainTimeout = 2 * time.Hour

// walCheckpointSchedule runs the WAL check hourly
const walCheckpointSchedule = "0 0 * * * *"

// RegisterJobs adds the retrain job for each strategy, the reconcile sweep, maintenance,
// bucket backups and the WAL checkpoint to sched. An empty schedule disables the
// corresponding job; backups also need a configured bucket.
func RegisterJobs(container *Container, cfg *config.Config, sched *scheduler.Scheduler, strategies []domain.Strategy, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.Trainer == nil {
		return nil, fmt.Errorf("services must be initialized before jobs")
	}

	jobs := &JobInstances{Retrain: make(map[domain.Strategy]scheduler.Job)}

	if cfg.Training.RetrainSchedule != "" {
		for _, strategy := range strategies {
			job := scheduler.NewRetrainJob(container.Trainer, strategy, retrainTimeout, log)
			if err := sched.AddJob(cfg.Training.RetrainSchedule, job); err != nil {
				return nil, fmt.Errorf("failed to register %s: %w", job.Name(), err)
			}
			jobs.Retrain[strategy] = job
		}
	}

	if cfg.Execution.ReconcileSchedule != "" {
		job := scheduler.NewReconcileJob(container.ExperienceRepo, cfg.Reward, log)
		if err := sched.AddJob(cfg.Execution.ReconcileSchedule, job); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", job.Name(), err)
		}
		jobs.Reconcile = job
	}

	if cfg.MaintenanceSchedule != "" {
		job := reliability.NewMaintenanceJob(container.DB, log)
		if err := sched.AddJob(cfg.MaintenanceSchedule, job); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", job.Name(), err)
		}
		jobs.Maintenance = job
	}

	if container.Mirror != nil && cfg.Artifacts.BackupSchedule != "" {
		job := reliability.NewBackupJob(NewBackupService(container, cfg, log), 0)
		if err := sched.AddJob(cfg.Artifacts.BackupSchedule, job); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", job.Name(), err)
		}
		jobs.Backup = job
	}

	walJob := scheduler.NewWALCheckpointJob(container.DB.Conn(), log)
	if err := sched.AddJob(walCheckpointSchedule, walJob); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", walJob.Name(), err)
	}
	jobs.WALCheckpoint = walJob

	log.Info().Int("jobs", sched.Entries()).Msg("Jobs registered")
	return jobs, nil
}

// NewBackupService builds the backup service over the container's database and mirror
func NewBackupService(container *Container, cfg *config.Config, log zerolog.Logger) *reliability.BackupService {
	staging := filepath.Join(filepath.Dir(container.DB.Path()), "backup-staging")
	return reliability.NewBackupService(container.DB, cfg.ModelDir, container.Mirror, staging, log)
}
