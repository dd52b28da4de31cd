// Package executor drives one analysis job through its state machine per
// task delivery. The executor never talks to the broker: it returns a
// JobOutcome and the worker loop maps that onto ack, delayed retry or
// dead-letter calls. No analyzer error escapes Execute; every failure is
// converted into a record update plus an outcome.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/repohealth/orchestrator/internal/analyzer"
	"github.com/repohealth/orchestrator/internal/core"
	"github.com/repohealth/orchestrator/internal/health"
	"github.com/repohealth/orchestrator/internal/metrics"
)

// Stores bundles the record-store contracts the executor needs.
type Stores interface {
	core.JobStore
	core.BatchStore
	core.RunStore
	core.SnapshotStore
	core.TeamStore
	core.ActiveIndex
}

// Executor drives exactly one AnalysisJob per Execute call.
type Executor struct {
	store    Stores
	analyzer analyzer.Analyzer
	cache    *health.Cache // optional
	policy   core.RetryPolicy

	// visibility is how long a job may stay in flight before the reaper
	// reclaims it; mirrors the queue's hard execution-time limit.
	visibility time.Duration

	now func() time.Time
}

// New creates an Executor. cache may be nil when no redis is configured.
func New(store Stores, a analyzer.Analyzer, cache *health.Cache, policy core.RetryPolicy, visibility time.Duration) *Executor {
	return &Executor{
		store:      store,
		analyzer:   a,
		cache:      cache,
		policy:     policy,
		visibility: visibility,
		now:        time.Now,
	}
}

// Execute drives the job identified by jobID to a terminal or retry-pending
// state and reports the outcome. taskID is the broker-assigned identifier
// of the delivery, recorded on the job for traceability.
//
// Re-delivery of an already-terminal job is a no-op: the stored record is
// untouched and the returned outcome simply lets the worker ack the task.
func (e *Executor) Execute(ctx context.Context, jobID, taskID string) (core.JobOutcome, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return core.JobOutcome{}, err
	}

	if core.IsTerminalJobStatus(job.Status) {
		slog.Info("job already terminal, ignoring redelivery", "job_id", jobID, "status", job.Status)
		return terminalOutcome(job), nil
	}

	// Pause check happens before any work: a paused batch cancels its
	// pending jobs rather than leaving them queued forever.
	if paused, reason := e.batchPaused(ctx, job); paused {
		return e.cancel(ctx, job, reason)
	}

	job, outcome, done := e.claim(ctx, job, taskID)
	if done {
		return outcome, nil
	}

	deadline := e.now().Add(e.visibility)
	if err := e.store.MarkActive(ctx, jobID, deadline); err != nil {
		slog.Warn("failed to mark job active", "job_id", jobID, "error", err)
	}

	start := e.now()
	report, analyzeErr := e.analyzer.Analyze(ctx, job.RepoRef)
	metrics.JobDuration.Observe(e.now().Sub(start).Seconds())

	e.store.ClearActive(ctx, jobID)

	if analyzeErr != nil {
		return e.fail(ctx, job, analyzeErr)
	}
	return e.complete(ctx, job, report)
}

// claim transitions queued -> running and records the task linkage. A job
// already running (a retry attempt or a redelivery) is re-claimed in place;
// a job that went terminal since the first read is left alone.
func (e *Executor) claim(ctx context.Context, job *core.AnalysisJob, taskID string) (*core.AnalysisJob, core.JobOutcome, bool) {
	updated, err := e.store.UpdateJobIfStatus(ctx, job.ID, core.JobQueued, func(j *core.AnalysisJob) {
		j.Status = core.JobRunning
		j.StartedAt = core.FormatTime(e.now())
		j.Progress = 10
		j.CurrentStage = "analysis started"
		j.Task = core.QueueLinkage{TaskID: taskID, Queue: core.QueueAnalysis}
	})
	if err == nil {
		e.markTeam(ctx, updated.TeamRef, core.TeamAnalyzing)
		return updated, core.JobOutcome{}, false
	}
	if !core.IsConflict(err) {
		slog.Error("failed to claim job", "job_id", job.ID, "error", err)
		return job, core.FailedRetryable("claim failed: "+err.Error(), e.policy.Backoff(1)), true
	}

	current, getErr := e.store.GetJob(ctx, job.ID)
	if getErr != nil {
		return job, core.FailedRetryable("reclaim failed: "+getErr.Error(), e.policy.Backoff(1)), true
	}
	if core.IsTerminalJobStatus(current.Status) {
		return current, terminalOutcome(current), true
	}

	// Running already: this delivery is a retry attempt. Refresh the task
	// linkage; the stage and started-at stand from the first claim.
	updated, err = e.store.UpdateJobIfStatus(ctx, job.ID, core.JobRunning, func(j *core.AnalysisJob) {
		j.Task = core.QueueLinkage{TaskID: taskID, Queue: core.QueueAnalysis}
	})
	if err != nil {
		return current, terminalOutcome(current), true
	}
	return updated, core.JobOutcome{}, false
}

func (e *Executor) complete(ctx context.Context, job *core.AnalysisJob, report *core.Report) (core.JobOutcome, error) {
	completedAt := core.FormatTime(e.now())

	updated, err := e.store.UpdateJobIfStatus(ctx, job.ID, core.JobRunning, func(j *core.AnalysisJob) {
		j.Status = core.JobCompleted
		j.Progress = 100
		j.CurrentStage = "completed"
		j.ErrorMessage = ""
		j.CompletedAt = completedAt
	})
	if err != nil {
		if core.IsConflict(err) {
			// Another delivery finished first; its snapshot stands.
			slog.Info("job completed concurrently", "job_id", job.ID)
			return core.Completed(), nil
		}
		return core.JobOutcome{}, err
	}

	e.applyReport(ctx, updated, report)

	if updated.Batch != nil {
		e.recordRunResult(ctx, updated, report)
	}

	return core.Completed(), nil
}

func (e *Executor) fail(ctx context.Context, job *core.AnalysisJob, analyzeErr error) (core.JobOutcome, error) {
	msg := analyzeErr.Error()

	if analyzer.IsPermanent(analyzeErr) {
		slog.Warn("permanent analysis failure", "job_id", job.ID, "error", msg)
		e.failJob(ctx, job, msg, "")
		return core.FailedPermanent(msg), nil
	}

	if job.RetryCount < e.policy.MaxRetries {
		attempt := job.RetryCount + 1
		delay := e.policy.Backoff(attempt)

		_, err := e.store.UpdateJobIfStatus(ctx, job.ID, core.JobRunning, func(j *core.AnalysisJob) {
			j.RetryCount = attempt
			j.ErrorMessage = msg
			j.CurrentStage = "retry scheduled"
		})
		if err != nil {
			slog.Error("failed to record retry", "job_id", job.ID, "error", err)
		}

		slog.Info("transient analysis failure, retry scheduled",
			"job_id", job.ID, "attempt", attempt, "delay", delay, "error", msg)
		return core.FailedRetryable(msg, delay), nil
	}

	exhausted := fmt.Sprintf("max retries exceeded after %d attempts: %s", job.RetryCount, msg)
	trace := fmt.Sprintf("%v\n%s", analyzeErr, debug.Stack())
	slog.Warn("retries exhausted, handing job to dead letter", "job_id", job.ID, "error", msg)
	e.failJob(ctx, job, exhausted, trace)
	return core.FailedExhausted(exhausted, trace), nil
}

func (e *Executor) cancel(ctx context.Context, job *core.AnalysisJob, reason string) (core.JobOutcome, error) {
	_, err := e.store.UpdateJob(ctx, job.ID, func(j *core.AnalysisJob) error {
		if core.IsTerminalJobStatus(j.Status) {
			return nil
		}
		j.Status = core.JobCancelled
		j.CurrentStage = ""
		j.ErrorMessage = reason
		j.CompletedAt = core.FormatTime(e.now())
		return nil
	})
	if err != nil {
		return core.JobOutcome{}, err
	}
	slog.Info("job cancelled", "job_id", job.ID, "reason", reason)
	return core.Cancelled(reason), nil
}

func (e *Executor) failJob(ctx context.Context, job *core.AnalysisJob, msg, trace string) {
	_, err := e.store.UpdateJob(ctx, job.ID, func(j *core.AnalysisJob) error {
		if core.IsTerminalJobStatus(j.Status) {
			return nil
		}
		j.Status = core.JobFailed
		j.ErrorMessage = msg
		j.Trace = trace
		j.CompletedAt = core.FormatTime(e.now())
		return nil
	})
	if err != nil {
		slog.Error("failed to mark job failed", "job_id", job.ID, "error", err)
	}

	e.markTeam(ctx, job.TeamRef, core.TeamFailed)

	if job.Batch != nil {
		_, err := e.store.UpdateBatch(ctx, job.Batch.BatchID, func(b *core.Batch) error {
			b.FailedCount++
			return nil
		})
		if err != nil {
			slog.Warn("failed to bump batch failed count", "batch_id", job.Batch.BatchID, "error", err)
		}
	}
}

// batchPaused reports whether the job's linked run or batch is paused.
func (e *Executor) batchPaused(ctx context.Context, job *core.AnalysisJob) (bool, string) {
	if job.Batch == nil {
		return false, ""
	}
	if run, err := e.store.GetRun(ctx, job.Batch.RunID); err == nil && run.Status == core.RunPaused {
		return true, "batch paused"
	}
	if batch, err := e.store.GetBatch(ctx, job.Batch.BatchID); err == nil && batch.Status == core.BatchPaused {
		return true, "batch paused"
	}
	return false, ""
}

// applyReport persists the report onto the team record and recomputes its
// health. Team-record problems are logged, never failed: the analysis
// itself succeeded.
func (e *Executor) applyReport(ctx context.Context, job *core.AnalysisJob, report *core.Report) {
	now := e.now()

	team, err := e.store.UpdateTeam(ctx, job.TeamRef, func(t *core.Team) error {
		t.Status = core.TeamCompleted
		t.LastAnalyzedAt = core.FormatTime(now)
		t.LatestScore = report.TotalScore
		activity := report.Activity
		t.Activity = &activity
		if activity.LastCommitAt != nil {
			t.LastActivityAt = core.FormatTime(*activity.LastCommitAt)
		}
		status, flags := health.Evaluate(health.InputsFromTeam(t, now))
		t.HealthStatus = status
		t.RiskFlags = flags
		t.HealthUpdatedAt = core.FormatTime(now)
		return nil
	})
	if err != nil {
		slog.Warn("failed to persist report on team", "team_ref", job.TeamRef, "error", err)
		return
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, team.ID, team.HealthStatus, team.RiskFlags); err != nil {
			slog.Warn("failed to cache health status", "team_ref", team.ID, "error", err)
		}
	}
}

// recordRunResult upserts the run snapshot and advances the run's aggregate
// counters; the run completes when every team has a result. A job finishing
// after its run already closed (resumed with nothing left, or a stall
// requeue racing the close) still gets its snapshot and batch count; only
// the closed run's counters are left alone.
func (e *Executor) recordRunResult(ctx context.Context, job *core.AnalysisJob, report *core.Report) {
	link := job.Batch

	snap := &core.Snapshot{
		ID:            core.NewID(),
		TeamRef:       job.TeamRef,
		BatchRunRef:   link.RunID,
		RunNumber:     link.RunNumber,
		TotalScore:    report.TotalScore,
		QualityScore:  report.QualityScore,
		SecurityScore: report.SecurityScore,
		CommitCount:   report.Activity.CommitCount,
		FileCount:     report.Activity.FileCount,
		LinesChanged:  report.Activity.LinesChanged,
		AnalyzedAt:    core.FormatTime(e.now()),
	}
	if err := e.store.UpsertSnapshot(ctx, snap); err != nil {
		slog.Error("failed to upsert snapshot", "job_id", job.ID, "run_id", link.RunID, "error", err)
	}

	_, err := e.store.UpdateRun(ctx, link.RunID, func(r *core.BatchRun) error {
		if r.Status == core.RunCompleted {
			return nil
		}
		r.CompletedTeams++
		n := float64(r.CompletedTeams)
		r.AvgScore += (report.TotalScore - r.AvgScore) / n
		if r.CompletedTeams >= r.TotalTeams {
			r.Status = core.RunCompleted
			r.CompletedAt = core.FormatTime(e.now())
		}
		return nil
	})
	if err != nil {
		slog.Error("failed to advance run counters", "run_id", link.RunID, "error", err)
	}

	_, err = e.store.UpdateBatch(ctx, link.BatchID, func(b *core.Batch) error {
		b.CompletedCount++
		return nil
	})
	if err != nil {
		slog.Warn("failed to bump batch completed count", "batch_id", link.BatchID, "error", err)
	}
}

func (e *Executor) markTeam(ctx context.Context, teamRef, status string) {
	if teamRef == "" {
		return
	}
	_, err := e.store.UpdateTeam(ctx, teamRef, func(t *core.Team) error {
		t.Status = status
		return nil
	})
	if err != nil {
		slog.Warn("failed to update team status", "team_ref", teamRef, "status", status, "error", err)
	}
}

func terminalOutcome(job *core.AnalysisJob) core.JobOutcome {
	switch job.Status {
	case core.JobCancelled:
		return core.Cancelled(job.ErrorMessage)
	case core.JobFailed, core.JobDead:
		return core.FailedPermanent(job.ErrorMessage)
	default:
		return core.Completed()
	}
}
