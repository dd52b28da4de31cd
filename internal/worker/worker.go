// Package worker runs the queue consumption loops. Each named queue gets
// one goroutine pulling a single task at a time (prefetch 1), so work on a
// queue is strictly sequential while distinct queues proceed independently.
//
// Acknowledgment discipline is late ack: a task is acked only after the
// terminal record update succeeded, so a crash mid-execution causes
// redelivery and the executor's idempotent transitions absorb the repeat.
// Transient record-store failures never wait for that: the task is
// re-published with a short delay and the stuck delivery acked, keeping
// the prefetch-1 queue moving.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/repohealth/orchestrator/internal/core"
	"github.com/repohealth/orchestrator/internal/metrics"
	"github.com/repohealth/orchestrator/internal/queue"
)

const fetchWait = 2 * time.Second

// storeRetryDelay spaces re-publications of tasks deferred by record-store
// failures.
const storeRetryDelay = 30 * time.Second

// TaskQueue is the broker surface the loops need: enqueue plus the
// delivery-side calls.
type TaskQueue interface {
	core.TaskQueue
	Next(ctx context.Context, queue string, wait time.Duration) (taskID string, payload []byte, err error)
	Ack(taskID string) error
	Term(taskID string) error
}

// Stores bundles the record-store contracts the loops need.
type Stores interface {
	core.JobStore
	core.RunStore
	core.DeadIndex
	DeadCount(ctx context.Context) int
}

// Executor processes one job per task delivery.
type Executor interface {
	Execute(ctx context.Context, jobID, taskID string) (core.JobOutcome, error)
}

// BatchDriver iterates a batch's items.
type BatchDriver interface {
	RunBatch(ctx context.Context, batchID, runID string, items []*core.AnalysisJob) (core.BatchSummary, error)
	ResumeBatch(ctx context.Context, batchID, runID string, items []*core.AnalysisJob) (core.BatchSummary, error)
}

// Pool owns one consumption loop per queue.
type Pool struct {
	queue    TaskQueue
	store    Stores
	exec     Executor
	driver   BatchDriver
	notifier core.Notifier
}

// NewPool wires the worker loops.
func NewPool(q TaskQueue, st Stores, exec Executor, driver BatchDriver, notifier core.Notifier) *Pool {
	return &Pool{queue: q, store: st, exec: exec, driver: driver, notifier: notifier}
}

// Run starts one goroutine per named queue and blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	queues := map[string]func(context.Context, string, []byte){
		core.QueueAnalysis: p.handleAnalysis,
		core.QueueBatch:    p.handleBatch,
		core.QueueDead:     p.handleDead,
	}

	for name, handle := range queues {
		go p.consume(ctx, name, handle)
	}

	<-ctx.Done()
}

func (p *Pool) consume(ctx context.Context, queueName string, handle func(context.Context, string, []byte)) {
	slog.Info("worker loop started", "queue", queueName)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		taskID, payload, err := p.queue.Next(ctx, queueName, fetchWait)
		if err != nil {
			slog.Error("fetch failed", "queue", queueName, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if taskID == "" {
			continue
		}

		handle(ctx, taskID, payload)
	}
}

func (p *Pool) handleAnalysis(ctx context.Context, taskID string, payload []byte) {
	var task queue.JobTask
	if err := queue.DecodeTask(payload, &task); err != nil {
		slog.Error("malformed job task", "task_id", taskID, "error", err)
		p.queue.Term(taskID)
		return
	}

	outcome, err := p.exec.Execute(ctx, task.JobID, taskID)
	if err != nil {
		if core.IsNotFound(err) {
			slog.Warn("job task references missing job", "job_id", task.JobID)
			p.queue.Term(taskID)
			return
		}
		// Record store hiccup. An unacked delivery would stall this queue
		// until the ack wait expires, so re-publish the task with a short
		// delay and ack the stuck one.
		slog.Error("execute failed, rescheduling task", "job_id", task.JobID, "error", err)
		p.reschedule(ctx, core.QueueAnalysis, taskID, payload)
		return
	}

	metrics.JobsProcessed.WithLabelValues(core.QueueAnalysis, outcome.Kind).Inc()

	switch {
	case outcome.Kind == core.OutcomeFailedRetryable:
		p.scheduleRetry(ctx, task, outcome)
	case outcome.DeadLetter:
		p.parkInDeadLetter(ctx, task, outcome)
	case outcome.Kind == core.OutcomeCompleted:
		p.announceRunCompletion(ctx, task.JobID)
	}

	if err := p.queue.Ack(taskID); err != nil {
		slog.Error("ack failed", "task_id", taskID, "error", err)
	}
}

// reschedule re-publishes a task payload with a short delay, then acks the
// delivery it replaces. If the enqueue fails too, the delivery stays unacked
// and comes back after the ack wait.
func (p *Pool) reschedule(ctx context.Context, queueName, taskID string, payload []byte) {
	if _, err := p.queue.Enqueue(ctx, queueName, payload, core.EnqueueOptions{Delay: storeRetryDelay}); err != nil {
		slog.Error("failed to reschedule task, leaving delivery unacked",
			"queue", queueName, "task_id", taskID, "error", err)
		return
	}
	if err := p.queue.Ack(taskID); err != nil {
		slog.Error("ack failed", "task_id", taskID, "error", err)
	}
}

func (p *Pool) scheduleRetry(ctx context.Context, task queue.JobTask, outcome core.JobOutcome) {
	payload, _ := queue.EncodeTask(task)
	retryTaskID, err := p.queue.Enqueue(ctx, core.QueueAnalysis, payload, core.EnqueueOptions{Delay: outcome.RetryDelay})
	if err != nil {
		slog.Error("failed to schedule retry", "job_id", task.JobID, "error", err)
		return
	}
	metrics.RetriesScheduled.Inc()

	_, err = p.store.UpdateJob(ctx, task.JobID, func(j *core.AnalysisJob) error {
		j.Task = core.QueueLinkage{TaskID: retryTaskID, Queue: core.QueueAnalysis}
		return nil
	})
	if err != nil {
		slog.Warn("failed to record retry task id", "job_id", task.JobID, "error", err)
	}
}

// announceRunCompletion notifies once the completed job turns out to have
// been its run's last outstanding team.
func (p *Pool) announceRunCompletion(ctx context.Context, jobID string) {
	if p.notifier == nil {
		return
	}
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil || job.Batch == nil {
		return
	}
	run, err := p.store.GetRun(ctx, job.Batch.RunID)
	if err != nil || run.Status != core.RunCompleted {
		return
	}
	p.notifier.NotifyRunComplete(ctx, run)
}

func (p *Pool) parkInDeadLetter(ctx context.Context, task queue.JobTask, outcome core.JobOutcome) {
	payload, err := queue.EncodeTask(queue.DeadTask{
		JobID: task.JobID,
		Error: outcome.Message,
		Trace: outcome.Trace,
	})
	if err != nil {
		slog.Error("failed to encode dead-letter task", "job_id", task.JobID, "error", err)
		return
	}
	if _, err := p.queue.Enqueue(ctx, core.QueueDead, payload, core.EnqueueOptions{}); err != nil {
		slog.Error("failed to enqueue dead-letter task", "job_id", task.JobID, "error", err)
	}
}

func (p *Pool) handleBatch(ctx context.Context, taskID string, payload []byte) {
	var task queue.BatchTask
	if err := queue.DecodeTask(payload, &task); err != nil {
		slog.Error("malformed batch task", "task_id", taskID, "error", err)
		p.queue.Term(taskID)
		return
	}

	items, err := p.store.ListJobsByRun(ctx, task.RunID)
	if err != nil {
		slog.Error("failed to list run jobs, rescheduling task", "run_id", task.RunID, "error", err)
		p.reschedule(ctx, core.QueueBatch, taskID, payload)
		return
	}

	var summary core.BatchSummary
	if task.Resume {
		summary, err = p.driver.ResumeBatch(ctx, task.BatchID, task.RunID, items)
	} else {
		summary, err = p.driver.RunBatch(ctx, task.BatchID, task.RunID, items)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Shutdown mid-drive: leave the task unacked so the next
			// instance picks the batch up where the pause checks left it.
			slog.Warn("batch drive interrupted by shutdown", "batch_id", task.BatchID)
			return
		}
		// The driver already marked the batch failed; the task is spent.
		slog.Error("batch drive failed", "batch_id", task.BatchID, "error", err)
	}

	if p.notifier != nil && !summary.Paused {
		p.notifier.NotifyBatchComplete(ctx, summary)
	}

	if err := p.queue.Ack(taskID); err != nil {
		slog.Error("ack failed", "task_id", taskID, "error", err)
	}
}

// handleDead parks a job for manual review: status dlq, trace preserved.
func (p *Pool) handleDead(ctx context.Context, taskID string, payload []byte) {
	var task queue.DeadTask
	if err := queue.DecodeTask(payload, &task); err != nil {
		slog.Error("malformed dead-letter task", "task_id", taskID, "error", err)
		p.queue.Term(taskID)
		return
	}

	_, err := p.store.UpdateJob(ctx, task.JobID, func(j *core.AnalysisJob) error {
		if j.Status == core.JobDead {
			return nil
		}
		j.Status = core.JobDead
		j.RequiresManualReview = true
		if task.Error != "" {
			j.ErrorMessage = task.Error
		}
		if task.Trace != "" {
			j.Trace = task.Trace
		}
		return nil
	})
	if err != nil {
		if core.IsNotFound(err) {
			slog.Warn("dead-letter task references missing job", "job_id", task.JobID)
			p.queue.Term(taskID)
			return
		}
		slog.Error("failed to park job in dead letter, rescheduling task", "job_id", task.JobID, "error", err)
		p.reschedule(ctx, core.QueueDead, taskID, payload)
		return
	}

	if err := p.store.AddDead(ctx, task.JobID); err != nil {
		slog.Warn("failed to index dead-letter job", "job_id", task.JobID, "error", err)
	}
	metrics.DeadLetterDepth.Set(float64(p.store.DeadCount(ctx)))

	slog.Info("job parked in dead letter", "job_id", task.JobID)

	if err := p.queue.Ack(taskID); err != nil {
		slog.Error("ack failed", "task_id", taskID, "error", err)
	}
}
