package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/repohealth/orchestrator/internal/core"
	"github.com/repohealth/orchestrator/internal/health"
	"github.com/repohealth/orchestrator/internal/metrics"
	"github.com/repohealth/orchestrator/internal/queue"
)

// WeeklyKickoff selects teams eligible for re-analysis, creates the batch,
// run and per-team job records, and hands the list to the batch driver by
// enqueuing a single batch task. Per-team problems are logged and skipped;
// they never abort the kickoff.
func (s *Scheduler) WeeklyKickoff(ctx context.Context, force bool) (*core.BatchRun, error) {
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}

	now := time.Now()
	var eligible []*core.Team
	for _, team := range teams {
		e := core.ReanalysisEligibility(team, now, s.cfg.ReanalysisInterval, force)
		if e.Eligible {
			eligible = append(eligible, team)
		} else {
			slog.Debug("team not eligible for reanalysis",
				"team_ref", team.ID, "reason", e.Reason, "next_eligible_at", e.NextEligibleAt)
		}
	}

	if len(eligible) == 0 {
		slog.Info("weekly kickoff: no eligible teams")
		return nil, nil
	}

	runNumber, err := s.store.NextRunNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate run number: %w", err)
	}

	batch := &core.Batch{
		ID:         core.NewID(),
		TotalItems: len(eligible),
		Status:     core.BatchPending,
		CreatedAt:  core.FormatTime(now),
	}
	run := &core.BatchRun{
		ID:         core.NewID(),
		BatchRef:   batch.ID,
		RunNumber:  runNumber,
		Status:     core.RunRunning,
		TotalTeams: len(eligible),
		StartedAt:  core.FormatTime(now),
	}
	if err := s.store.PutBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("store batch: %w", err)
	}
	if err := s.store.PutRun(ctx, run); err != nil {
		return nil, fmt.Errorf("store run: %w", err)
	}

	created := 0
	for i, team := range eligible {
		job := &core.AnalysisJob{
			ID:        core.NewID(),
			TeamRef:   team.ID,
			RepoRef:   team.RepoRef,
			Status:    core.JobQueued,
			CreatedAt: core.FormatTime(now),
			Batch: &core.BatchLinkage{
				BatchID:   batch.ID,
				RunID:     run.ID,
				RunNumber: runNumber,
				ItemIndex: i,
			},
		}
		if err := s.store.PutJob(ctx, job); err != nil {
			slog.Error("failed to create job, skipping team", "team_ref", team.ID, "error", err)
			continue
		}
		if _, err := s.store.UpdateTeam(ctx, team.ID, func(t *core.Team) error {
			t.Status = core.TeamQueued
			return nil
		}); err != nil {
			slog.Warn("failed to mark team queued", "team_ref", team.ID, "error", err)
		}
		created++
	}

	payload, err := queue.EncodeTask(queue.BatchTask{BatchID: batch.ID, RunID: run.ID})
	if err != nil {
		return nil, err
	}
	if _, err := s.queue.Enqueue(ctx, core.QueueBatch, payload, core.EnqueueOptions{}); err != nil {
		return nil, fmt.Errorf("enqueue batch task: %w", err)
	}

	slog.Info("weekly kickoff", "run_number", runNumber, "eligible", len(eligible), "jobs_created", created)
	return run, nil
}

// AutoResume finds runs left paused, completes those with nothing left and
// resumes the rest. Runs are handled independently; one failure does not
// stop the scan.
func (s *Scheduler) AutoResume(ctx context.Context) error {
	runs, err := s.store.ListRunsByStatus(ctx, core.RunPaused)
	if err != nil {
		return fmt.Errorf("list paused runs: %w", err)
	}

	for _, run := range runs {
		if err := s.ResumeRun(ctx, run.ID); err != nil {
			slog.Error("auto-resume failed for run", "run_id", run.ID, "error", err)
		}
	}
	return nil
}

// ResumeRun completes a paused run with no remaining items, or re-enqueues
// the batch driver for the rest.
func (s *Scheduler) ResumeRun(ctx context.Context, runID string) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != core.RunPaused {
		return core.NewConflictError("run is not paused", map[string]any{
			"run_id": runID, "current_status": run.Status,
		})
	}

	jobs, err := s.store.ListJobsByRun(ctx, runID)
	if err != nil {
		return err
	}
	remaining := 0
	for _, job := range jobs {
		if !core.IsTerminalJobStatus(job.Status) {
			remaining++
		}
	}

	if remaining == 0 {
		_, err := s.store.UpdateRun(ctx, runID, func(r *core.BatchRun) error {
			r.Status = core.RunCompleted
			r.CompletedAt = core.NowFormatted()
			return nil
		})
		if err != nil {
			return err
		}
		slog.Info("paused run had no remaining items, completed", "run_id", runID)
		return nil
	}

	payload, err := queue.EncodeTask(queue.BatchTask{BatchID: run.BatchRef, RunID: runID, Resume: true})
	if err != nil {
		return err
	}
	if _, err := s.queue.Enqueue(ctx, core.QueueBatch, payload, core.EnqueueOptions{}); err != nil {
		return fmt.Errorf("enqueue resume task: %w", err)
	}
	slog.Info("run resume enqueued", "run_id", runID, "remaining", remaining)
	return nil
}

// PauseRun requests a pause. The driver observes it before its next item,
// so stop latency is bounded by one item's processing time.
func (s *Scheduler) PauseRun(ctx context.Context, runID string) error {
	_, err := s.store.UpdateRun(ctx, runID, func(r *core.BatchRun) error {
		if r.Status != core.RunRunning {
			return core.NewConflictError("run is not running", map[string]any{
				"run_id": runID, "current_status": r.Status,
			})
		}
		r.Status = core.RunPaused
		return nil
	})
	if err == nil {
		slog.Info("run pause requested", "run_id", runID)
	}
	return err
}

// SweepDeadLetter resubmits every dead-letter job as a fresh attempt:
// status back to queued, retry budget and error state reset.
func (s *Scheduler) SweepDeadLetter(ctx context.Context) error {
	ids, err := s.store.ListDead(ctx)
	if err != nil {
		return fmt.Errorf("list dead letter: %w", err)
	}

	swept := 0
	for _, jobID := range ids {
		if err := s.RetryDead(ctx, jobID); err != nil {
			slog.Error("dead-letter sweep failed for job", "job_id", jobID, "error", err)
			continue
		}
		swept++
	}

	metrics.DeadLetterDepth.Set(float64(s.store.DeadCount(ctx)))
	slog.Info("dead-letter sweep finished", "swept", swept, "total", len(ids))
	return nil
}

// RetryDead resubmits one dead-letter job.
func (s *Scheduler) RetryDead(ctx context.Context, jobID string) error {
	_, err := s.store.UpdateJobIfStatus(ctx, jobID, core.JobDead, func(j *core.AnalysisJob) {
		j.Status = core.JobQueued
		j.RetryCount = 0
		j.Progress = 0
		j.CurrentStage = ""
		j.ErrorMessage = ""
		j.Trace = ""
		j.RequiresManualReview = false
		j.StartedAt = ""
		j.CompletedAt = ""
	})
	if err != nil {
		return err
	}
	if err := s.store.RemoveDead(ctx, jobID); err != nil {
		slog.Warn("failed to drop dead-letter index entry", "job_id", jobID, "error", err)
	}
	return s.enqueueJobTask(ctx, jobID)
}

// Reanalyze submits a single-team analysis outside any batch, subject to
// the eligibility policy unless forced.
func (s *Scheduler) Reanalyze(ctx context.Context, teamID string, force bool) (*core.AnalysisJob, core.Eligibility, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, core.Eligibility{}, err
	}

	e := core.ReanalysisEligibility(team, time.Now(), s.cfg.ReanalysisInterval, force)
	if !e.Eligible {
		return nil, e, nil
	}

	job := &core.AnalysisJob{
		ID:        core.NewID(),
		TeamRef:   team.ID,
		RepoRef:   team.RepoRef,
		Status:    core.JobQueued,
		CreatedAt: core.NowFormatted(),
	}
	if err := s.store.PutJob(ctx, job); err != nil {
		return nil, e, err
	}
	if _, err := s.store.UpdateTeam(ctx, teamID, func(t *core.Team) error {
		t.Status = core.TeamQueued
		return nil
	}); err != nil {
		slog.Warn("failed to mark team queued", "team_ref", teamID, "error", err)
	}
	if err := s.enqueueJobTask(ctx, job.ID); err != nil {
		return nil, e, err
	}
	slog.Info("single-team analysis enqueued", "team_ref", teamID, "job_id", job.ID, "forced", force)
	return job, e, nil
}

// RecomputeHealth re-derives every team's health status from its latest
// stored activity. Pure recompute: analysis is not re-run.
func (s *Scheduler) RecomputeHealth(ctx context.Context) error {
	teams, err := s.store.ListTeams(ctx)
	if err != nil {
		return fmt.Errorf("list teams: %w", err)
	}

	now := time.Now()
	counts := map[string]int{}
	for _, team := range teams {
		status, flags := health.Evaluate(health.InputsFromTeam(team, now))
		counts[status]++

		_, err := s.store.UpdateTeam(ctx, team.ID, func(t *core.Team) error {
			t.HealthStatus = status
			t.RiskFlags = flags
			t.HealthUpdatedAt = core.FormatTime(now)
			return nil
		})
		if err != nil {
			slog.Error("failed to persist health status", "team_ref", team.ID, "error", err)
			continue
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, team.ID, status, flags); err != nil {
				slog.Warn("failed to cache health status", "team_ref", team.ID, "error", err)
			}
		}
	}

	for _, status := range []string{health.StatusOnTrack, health.StatusAtRisk, health.StatusCritical} {
		metrics.TeamsByHealth.WithLabelValues(status).Set(float64(counts[status]))
	}

	slog.Info("health recompute finished",
		"teams", len(teams),
		"on_track", counts[health.StatusOnTrack],
		"at_risk", counts[health.StatusAtRisk],
		"critical", counts[health.StatusCritical])
	return nil
}
