package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/repohealth/orchestrator/internal/core"
)

// RequeueStalled finds jobs whose processing deadline passed without a
// terminal update, usually because a worker died mid-analysis, and puts
// them back on the queue for another delivery.
func (s *Scheduler) RequeueStalled(ctx context.Context) error {
	ids, err := s.store.ListActiveExpired(ctx, time.Now())
	if err != nil {
		return err
	}

	for _, jobID := range ids {
		_, err := s.store.UpdateJobIfStatus(ctx, jobID, core.JobRunning, func(j *core.AnalysisJob) {
			j.Status = core.JobQueued
			j.CurrentStage = "requeued after stall"
			j.StartedAt = ""
		})
		if core.IsConflict(err) || core.IsNotFound(err) {
			// The job finished between the deadline check and the
			// update; only the index entry is stale.
			if clearErr := s.store.ClearActive(ctx, jobID); clearErr != nil {
				slog.Warn("failed to clear active entry", "job_id", jobID, "error", clearErr)
			}
			continue
		}
		if err != nil {
			slog.Error("failed to requeue stalled job", "job_id", jobID, "error", err)
			continue
		}
		if err := s.store.ClearActive(ctx, jobID); err != nil {
			slog.Warn("failed to clear active entry", "job_id", jobID, "error", err)
		}
		if err := s.enqueueJobTask(ctx, jobID); err != nil {
			slog.Error("failed to re-enqueue stalled job", "job_id", jobID, "error", err)
			continue
		}
		slog.Warn("stalled job requeued", "job_id", jobID)
	}
	return nil
}
