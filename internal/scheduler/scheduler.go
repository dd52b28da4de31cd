// Package scheduler fires the calendar triggers (weekly batch kickoff,
// auto-resume, nightly dead-letter sweep, periodic health recompute) and
// runs the short maintenance ticks that promote delayed retries and
// requeue stalled jobs. It creates records and enqueues tasks; it never
// performs analysis itself.
//
// A single active scheduler instance is assumed. Trigger handlers are
// mutually isolated: a failure in one never prevents the others.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/repohealth/orchestrator/internal/core"
	"github.com/repohealth/orchestrator/internal/health"
	"github.com/repohealth/orchestrator/internal/queue"
)

// Stores bundles the record-store contracts the triggers need.
type Stores interface {
	core.JobStore
	core.BatchStore
	core.RunStore
	core.TeamStore
	core.DeadIndex
	core.ActiveIndex
	DeadCount(ctx context.Context) int
}

// TaskQueue adds delayed-task promotion to the enqueue contract.
type TaskQueue interface {
	core.TaskQueue
	PromoteScheduled(ctx context.Context, now time.Time) error
}

// Config holds the scheduler's calendar and policy knobs.
type Config struct {
	Location *time.Location

	WeeklySpec string // weekly batch kickoff
	ResumeSpec string // auto-resume shortly after kickoff
	SweepSpec  string // nightly dead-letter sweep
	HealthSpec string // periodic health recompute

	ReanalysisInterval time.Duration
	PromoteInterval    time.Duration
	ReapInterval       time.Duration
}

// DefaultConfig returns the reference calendar: kickoff Monday 06:00,
// resume at 06:30, sweep nightly at 03:00, health every 2 hours.
func DefaultConfig(loc *time.Location) Config {
	return Config{
		Location:           loc,
		WeeklySpec:         "0 6 * * 1",
		ResumeSpec:         "30 6 * * 1",
		SweepSpec:          "0 3 * * *",
		HealthSpec:         "0 */2 * * *",
		ReanalysisInterval: 7 * 24 * time.Hour,
		PromoteInterval:    15 * time.Second,
		ReapInterval:       time.Minute,
	}
}

// Scheduler owns the cron entries and maintenance ticks.
type Scheduler struct {
	store Stores
	queue TaskQueue
	cache *health.Cache // optional
	cfg   Config

	cron     *cron.Cron
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Scheduler.
func New(st Stores, q TaskQueue, cache *health.Cache, cfg Config) *Scheduler {
	return &Scheduler{
		store: st,
		queue: q,
		cache: cache,
		cfg:   cfg,
		stop:  make(chan struct{}),
	}
}

// Start registers the cron entries and launches the maintenance ticks.
func (s *Scheduler) Start() error {
	loc := s.cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	s.cron = cron.New(cron.WithLocation(loc))

	entries := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{s.cfg.WeeklySpec, "weekly_kickoff", func(ctx context.Context) error {
			_, err := s.WeeklyKickoff(ctx, false)
			return err
		}},
		{s.cfg.ResumeSpec, "auto_resume", s.AutoResume},
		{s.cfg.SweepSpec, "dlq_sweep", s.SweepDeadLetter},
		{s.cfg.HealthSpec, "health_recompute", s.RecomputeHealth},
	}

	for _, e := range entries {
		e := e
		if _, err := s.cron.AddFunc(e.spec, func() {
			ctx := context.Background()
			if err := e.run(ctx); err != nil {
				slog.Error("trigger failed", "trigger", e.name, "error", err)
			}
		}); err != nil {
			return err
		}
		slog.Info("trigger registered", "trigger", e.name, "spec", e.spec, "tz", loc.String())
	}

	s.cron.Start()
	go s.ticks()
	return nil
}

// Stop halts the cron entries and ticks. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.cron != nil {
			s.cron.Stop()
		}
	})
}

// ticks promotes due delayed tasks and requeues stalled jobs on short
// intervals. These are the delivery mechanism for retry backoff and the
// crash-recovery net for at-least-once semantics.
func (s *Scheduler) ticks() {
	promote := time.NewTicker(s.cfg.PromoteInterval)
	reap := time.NewTicker(s.cfg.ReapInterval)
	defer promote.Stop()
	defer reap.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-promote.C:
			if err := s.queue.PromoteScheduled(context.Background(), time.Now()); err != nil {
				slog.Error("promote scheduled tasks failed", "error", err)
			}
		case <-reap.C:
			if err := s.RequeueStalled(context.Background()); err != nil {
				slog.Error("requeue stalled jobs failed", "error", err)
			}
		}
	}
}

// enqueueJobTask submits one analysis task and records the linkage.
func (s *Scheduler) enqueueJobTask(ctx context.Context, jobID string) error {
	payload, err := queue.EncodeTask(queue.JobTask{JobID: jobID})
	if err != nil {
		return err
	}
	taskID, err := s.queue.Enqueue(ctx, core.QueueAnalysis, payload, core.EnqueueOptions{})
	if err != nil {
		return err
	}
	_, err = s.store.UpdateJob(ctx, jobID, func(j *core.AnalysisJob) error {
		j.Task = core.QueueLinkage{TaskID: taskID, Queue: core.QueueAnalysis}
		return nil
	})
	if err != nil {
		slog.Warn("failed to record task id on job", "job_id", jobID, "error", err)
	}
	return nil
}
