// Package scheduler runs periodic maintenance jobs: retraining, reward reconciliation and
// WAL checkpoints.
package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobStats summarises the runs of one job since the scheduler was created
type JobStats struct {
	Runs         int
	Failures     int
	LastRun      time.Time
	LastDuration time.Duration
	LastError    string
}

// Scheduler manages background jobs. A job still running when its next tick fires is
// skipped, and a panicking job is logged instead of killing the process.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu    sync.Mutex
	stats map[string]*JobStats
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	log = log.With().Str("component", "scheduler").Logger()
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:   log,
		stats: make(map[string]*JobStats),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", s.Entries()).Msg("Scheduler started")
}

// Stop stops the scheduler, waits for running jobs and logs a per-job summary
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	for name, st := range s.Stats() {
		s.log.Info().
			Str("job", name).
			Int("runs", st.Runs).
			Int("failures", st.Failures).
			Msg("Job summary")
	}
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job on a six-field cron spec (seconds first) or a descriptor
//   - "0 0 22 * * MON-FRI"   - 22:00 on weekdays
//   - "0 */30 * * * *"       - every 30 minutes
//   - "@every 1h"
func (s *Scheduler) AddJob(schedule string, job Job) error {
	if _, err := s.cron.AddFunc(schedule, func() { _ = s.run(job) }); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.stats[job.Name()]; !ok {
		s.stats[job.Name()] = &JobStats{}
	}
	s.mu.Unlock()

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// Entries returns the number of registered jobs
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return s.run(job)
}

// Stats returns a snapshot of the per-job counters
func (s *Scheduler) Stats() map[string]JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]JobStats, len(s.stats))
	for name, st := range s.stats {
		out[name] = *st
	}
	return out
}

func (s *Scheduler) run(job Job) error {
	start := time.Now()
	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	err := job.Run()
	elapsed := time.Since(start)

	s.mu.Lock()
	st, ok := s.stats[job.Name()]
	if !ok {
		st = &JobStats{}
		s.stats[job.Name()] = st
	}
	st.Runs++
	st.LastRun = start
	st.LastDuration = elapsed
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Dur("duration", elapsed).
			Msg("Job failed")
		return err
	}
	s.log.Debug().Str("job", job.Name()).Dur("duration", elapsed).Msg("Job completed")
	return nil
}

// cronLogger routes cron's own messages (skips, recovered panics) to zerolog
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
