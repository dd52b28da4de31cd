// Package batch drives a batch's job list strictly sequentially: one item
// at a time, a fixed pacing delay between items, and a pause re-check
// before every item. Pause detection is polling by design — it bounds
// pause-to-stop latency at one item's processing time without any
// distributed cancellation signaling.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/repohealth/orchestrator/internal/core"
	"github.com/repohealth/orchestrator/internal/metrics"
	"github.com/repohealth/orchestrator/internal/queue"
)

// DefaultPacing is the inter-item delay protecting third-party rate limits.
const DefaultPacing = 2 * time.Second

// Executor processes one job inline. Used only in synchronous mode, the
// fallback when no durable task queue is available.
type Executor interface {
	Execute(ctx context.Context, jobID, taskID string) (core.JobOutcome, error)
}

// Stores bundles the record-store contracts the driver needs.
type Stores interface {
	core.JobStore
	core.BatchStore
	core.RunStore
}

// Driver iterates a batch's items in order. With a task queue it submits
// one executor task per item and moves on; without one it processes each
// item inline to completion before advancing.
type Driver struct {
	store  Stores
	queue  core.TaskQueue // nil selects synchronous mode
	exec   Executor
	pacing time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Driver. Pass a nil queue to run synchronously via exec.
func New(store Stores, q core.TaskQueue, exec Executor, pacing time.Duration) *Driver {
	if pacing <= 0 {
		pacing = DefaultPacing
	}
	return &Driver{
		store:  store,
		queue:  q,
		exec:   exec,
		pacing: pacing,
		sleep:  sleepCtx,
	}
}

// RunBatch processes the batch's items in input order. It returns early
// with Paused=true as soon as a pre-item check observes a pause; items
// already submitted are not discarded.
func (d *Driver) RunBatch(ctx context.Context, batchID, runID string, items []*core.AnalysisJob) (core.BatchSummary, error) {
	if _, err := d.store.UpdateBatch(ctx, batchID, func(b *core.Batch) error {
		if b.Status == core.BatchPending || b.Status == core.BatchPaused {
			b.Status = core.BatchProcessing
		}
		return nil
	}); err != nil {
		return core.BatchSummary{BatchID: batchID, RunID: runID}, err
	}

	return d.drive(ctx, batchID, runID, items)
}

// ResumeBatch is RunBatch over the subset of items not yet terminal for
// the run. The caller computes that subset; terminal items that slip
// through are skipped, not re-run.
func (d *Driver) ResumeBatch(ctx context.Context, batchID, runID string, remaining []*core.AnalysisJob) (core.BatchSummary, error) {
	if _, err := d.store.UpdateRun(ctx, runID, func(r *core.BatchRun) error {
		if r.Status == core.RunPaused {
			r.Status = core.RunRunning
		}
		return nil
	}); err != nil {
		return core.BatchSummary{BatchID: batchID, RunID: runID}, err
	}
	return d.RunBatch(ctx, batchID, runID, remaining)
}

func (d *Driver) drive(ctx context.Context, batchID, runID string, items []*core.AnalysisJob) (core.BatchSummary, error) {
	summary := core.BatchSummary{BatchID: batchID, RunID: runID}

	for i, job := range items {
		// Pause checks happen between items, never mid-item: an in-flight
		// item always runs to completion or documented cancellation.
		if d.paused(ctx, batchID, runID) {
			summary.Paused = true
			d.markPaused(ctx, batchID)
			slog.Info("batch paused, stopping iteration",
				"batch_id", batchID, "queued", summary.Queued, "remaining", len(items)-i)
			return summary, nil
		}

		if core.IsTerminalJobStatus(job.Status) {
			metrics.BatchItems.WithLabelValues("skipped").Inc()
			continue
		}

		if _, err := d.store.UpdateBatch(ctx, batchID, func(b *core.Batch) error {
			// Items are usually batch-linked, but the contract accepts any
			// job list.
			if job.Batch != nil {
				b.CurrentIndex = job.Batch.ItemIndex
			}
			b.CurrentItemRef = job.TeamRef
			return nil
		}); err != nil {
			return summary, d.failBatch(ctx, batchID, summary, err)
		}

		if err := d.submit(ctx, job, &summary); err != nil {
			return summary, d.failBatch(ctx, batchID, summary, err)
		}

		if i < len(items)-1 {
			if err := d.sleep(ctx, d.pacing); err != nil {
				return summary, err
			}
		}
	}

	if _, err := d.store.UpdateBatch(ctx, batchID, func(b *core.Batch) error {
		if b.Status == core.BatchProcessing {
			b.Status = core.BatchCompleted
			b.CompletedAt = core.NowFormatted()
		}
		return nil
	}); err != nil {
		return summary, err
	}

	slog.Info("batch drive finished", "batch_id", batchID, "queued", summary.Queued, "failed", summary.Failed)
	return summary, nil
}

// submit hands one item to the executor, either through the queue (fire
// and forget) or inline. Per-item failures are contained in the summary;
// only infrastructure errors propagate and fail the whole batch.
func (d *Driver) submit(ctx context.Context, job *core.AnalysisJob, summary *core.BatchSummary) error {
	if d.queue != nil {
		payload, err := queue.EncodeTask(queue.JobTask{JobID: job.ID})
		if err != nil {
			return fmt.Errorf("encode job task %s: %w", job.ID, err)
		}
		taskID, err := d.queue.Enqueue(ctx, core.QueueAnalysis, payload, core.EnqueueOptions{})
		if err != nil {
			return fmt.Errorf("enqueue job %s: %w", job.ID, err)
		}
		if _, err := d.store.UpdateJob(ctx, job.ID, func(j *core.AnalysisJob) error {
			j.Task = core.QueueLinkage{TaskID: taskID, Queue: core.QueueAnalysis}
			return nil
		}); err != nil {
			slog.Warn("failed to record task id on job", "job_id", job.ID, "error", err)
		}
		summary.Queued++
		metrics.BatchItems.WithLabelValues("queued").Inc()
		return nil
	}

	// Synchronous mode blocks until the item is terminal. There is no
	// queue to park retries on, so the backoff is honored inline and the
	// next attempt driven here.
	for {
		outcome, err := d.exec.Execute(ctx, job.ID, "")
		if err != nil {
			return fmt.Errorf("execute job %s inline: %w", job.ID, err)
		}
		if outcome.Kind == core.OutcomeFailedRetryable {
			if err := d.sleep(ctx, outcome.RetryDelay); err != nil {
				return err
			}
			continue
		}
		switch outcome.Kind {
		case core.OutcomeCompleted:
			summary.Queued++
			metrics.BatchItems.WithLabelValues("completed").Inc()
		default:
			summary.Failed++
			metrics.BatchItems.WithLabelValues("failed").Inc()
		}
		return nil
	}
}

func (d *Driver) paused(ctx context.Context, batchID, runID string) bool {
	if runID != "" {
		if run, err := d.store.GetRun(ctx, runID); err == nil && run.Status == core.RunPaused {
			return true
		}
	}
	if batch, err := d.store.GetBatch(ctx, batchID); err == nil && batch.Status == core.BatchPaused {
		return true
	}
	return false
}

func (d *Driver) markPaused(ctx context.Context, batchID string) {
	_, err := d.store.UpdateBatch(ctx, batchID, func(b *core.Batch) error {
		if b.Status == core.BatchProcessing {
			b.Status = core.BatchPaused
		}
		return nil
	})
	if err != nil {
		slog.Warn("failed to mark batch paused", "batch_id", batchID, "error", err)
	}
}

func (d *Driver) failBatch(ctx context.Context, batchID string, summary core.BatchSummary, cause error) error {
	slog.Error("batch drive failed", "batch_id", batchID, "error", cause)
	_, err := d.store.UpdateBatch(ctx, batchID, func(b *core.Batch) error {
		b.Status = core.BatchFailed
		b.ErrorMessage = cause.Error()
		b.CompletedAt = core.NowFormatted()
		return nil
	})
	if err != nil {
		slog.Error("failed to mark batch failed", "batch_id", batchID, "error", err)
	}
	return cause
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
