package scheduler

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Persister saves the frame windows of all widgets.
type Persister interface {
	PersistAll() error
}

// Scheduler periodically persists widget windows so a restart can resume
// playback before the first poll.
type Scheduler struct {
	scheduler *gocron.Scheduler
	persister Persister
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a new Scheduler.
func New(persister Persister, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		persister: persister,
		interval:  interval,
		logger:    logger.With("component", "scheduler"),
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("persistence disabled; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(s.run)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) run() {
	start := time.Now()
	if err := s.persister.PersistAll(); err != nil {
		s.logger.Warn("persist job failed", "error", err)
		return
	}
	s.logger.Debug("persist job completed", "took", time.Since(start))
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
