package modelsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs every registered Syncer once on Start and then on its own
// interval. Overlapping runs of the same syncer are skipped.
type Scheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	jobs    []job
	running bool
}

type job struct {
	syncer   *Syncer
	interval time.Duration
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger.With("component", "modelsync.scheduler"),
	}
}

// Add registers a syncer. It must be called before Start.
func (s *Scheduler) Add(syncer *Syncer, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = append(s.jobs, job{syncer: syncer, interval: interval})
}

// Start performs the initial sync of every job and schedules the rest. A
// failed initial sync is logged and retried on schedule. The scheduler stops
// when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if len(s.jobs) == 0 {
		s.logger.Info("No providers with model sync enabled, skipping scheduler")
		return nil
	}

	for _, j := range s.jobs {
		if j.interval <= 0 {
			return fmt.Errorf("invalid sync interval %s for provider %q", j.interval, j.syncer.Provider().Name)
		}
	}

	for _, j := range s.jobs {
		syncer := j.syncer
		if err := syncer.Sync(ctx); err != nil {
			s.logger.Warn("Initial model sync failed", "provider", syncer.Provider().Name, "error", err)
		}

		schedule := "@every " + j.interval.String()
		if _, err := s.cron.AddFunc(schedule, func() { s.run(ctx, syncer) }); err != nil {
			return fmt.Errorf("schedule model sync for %q: %w", syncer.Provider().Name, err)
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Model sync scheduler started", "jobs", len(s.jobs))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) run(ctx context.Context, syncer *Syncer) {
	if ctx.Err() != nil {
		return
	}
	if err := syncer.Sync(ctx); err != nil {
		s.logger.Error("Scheduled model sync failed", "provider", syncer.Provider().Name, "error", err)
	}
}

// Stop stops the scheduler and waits for running syncs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Model sync scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the earliest scheduled sync, or nil when nothing is
// scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *time.Time
	for _, e := range s.cron.Entries() {
		if e.Next.IsZero() {
			continue
		}
		if next == nil || e.Next.Before(*next) {
			t := e.Next
			next = &t
		}
	}
	return next
}
