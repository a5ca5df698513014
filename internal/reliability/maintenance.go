package reliability

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/swingbot/internal/database"
)

// Disk space thresholds in GB
const (
	criticalFreeGB = 0.5
	lowFreeGB      = 5.0
)

// MaintenanceJob runs the daily integrity check and disk space check
type MaintenanceJob struct {
	db    *database.DB
	usage func(path string) (*disk.UsageStat, error)
	log   zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(db *database.DB, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:    db,
		usage: disk.Usage,
		log:   log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "daily_maintenance"
}

// Run executes the maintenance job. A failed integrity check or critically low disk
// space is returned as an error; everything else is logged.
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := j.db.HealthCheck(ctx); err != nil {
		j.log.Error().Err(err).Msg("CRITICAL: Database integrity check failed")
		return err
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.analyzeDatabaseSize()

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Daily maintenance completed successfully")
	return nil
}

// checkDiskSpace verifies the volume holding the database has room to grow
func (j *MaintenanceJob) checkDiskSpace() error {
	stat, err := j.usage(filepath.Dir(j.db.Path()))
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read disk usage")
		return nil
	}

	availableGB := float64(stat.Free) / 1e9
	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	if availableGB < criticalFreeGB {
		j.log.Error().Float64("available_gb", availableGB).Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("CRITICAL: only %.2f GB free", availableGB)
	}
	if availableGB < lowFreeGB {
		j.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	}
	return nil
}

func (j *MaintenanceJob) analyzeDatabaseSize() {
	var pageCount, pageSize, freePages int64
	conn := j.db.Conn()
	if err := conn.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return
	}
	if err := conn.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return
	}
	_ = conn.QueryRow("PRAGMA freelist_count").Scan(&freePages)

	j.log.Info().
		Float64("size_mb", float64(pageCount*pageSize)/1024/1024).
		Float64("free_mb", float64(freePages*pageSize)/1024/1024).
		Msg("Database size")
}
