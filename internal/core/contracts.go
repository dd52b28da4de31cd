package core

import (
	"context"
	"time"
)

// Queue names. Each queue is consumed strictly sequentially (prefetch 1);
// distinct queues run independently so a batch never blocks a manually
// triggered single-item analysis.
const (
	QueueAnalysis = "analysis"
	QueueBatch    = "batch"
	QueueDead     = "dead"
	QueueDefault  = "default"
)

// EnqueueOptions control task delivery.
type EnqueueOptions struct {
	// Delay defers delivery; used for retry backoff.
	Delay time.Duration
	// Priority is advisory ordering metadata carried with the task. The
	// work-queue broker delivers in publish order regardless; consumers
	// and dashboards may read it.
	Priority int
}

// TaskQueue is the at-least-once delivery broker contract. Consumption is
// broker-specific and lives with the worker loop, not behind this interface.
type TaskQueue interface {
	Enqueue(ctx context.Context, queue string, payload []byte, opts EnqueueOptions) (taskID string, err error)
}

// JobStore persists AnalysisJob records.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*AnalysisJob, error)
	PutJob(ctx context.Context, job *AnalysisJob) error
	// UpdateJob applies mutate under compare-and-set; concurrent writers
	// retry on revision conflicts.
	UpdateJob(ctx context.Context, id string, mutate func(*AnalysisJob) error) (*AnalysisJob, error)
	// UpdateJobIfStatus is the conditional transition primitive: mutate is
	// applied only while the job's status equals from, otherwise a conflict
	// error is returned and the record is untouched.
	UpdateJobIfStatus(ctx context.Context, id, from string, mutate func(*AnalysisJob)) (*AnalysisJob, error)
	ListJobsByStatus(ctx context.Context, status string) ([]*AnalysisJob, error)
	ListJobsByRun(ctx context.Context, runID string) ([]*AnalysisJob, error)
}

// BatchStore persists Batch records.
type BatchStore interface {
	GetBatch(ctx context.Context, id string) (*Batch, error)
	PutBatch(ctx context.Context, batch *Batch) error
	UpdateBatch(ctx context.Context, id string, mutate func(*Batch) error) (*Batch, error)
	ListBatches(ctx context.Context) ([]*Batch, error)
}

// RunStore persists BatchRun records.
type RunStore interface {
	GetRun(ctx context.Context, id string) (*BatchRun, error)
	PutRun(ctx context.Context, run *BatchRun) error
	UpdateRun(ctx context.Context, id string, mutate func(*BatchRun) error) (*BatchRun, error)
	ListRunsByStatus(ctx context.Context, status string) ([]*BatchRun, error)
	// NextRunNumber allocates the run number for a new weekly run.
	NextRunNumber(ctx context.Context) (int, error)
}

// SnapshotStore persists immutable per-(team, run) snapshots with
// upsert-on-conflict semantics.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap *Snapshot) error
	GetSnapshot(ctx context.Context, teamRef string, runNumber int) (*Snapshot, error)
	ListSnapshotsByTeam(ctx context.Context, teamRef string) ([]*Snapshot, error)
}

// TeamStore persists team records.
type TeamStore interface {
	GetTeam(ctx context.Context, id string) (*Team, error)
	PutTeam(ctx context.Context, team *Team) error
	UpdateTeam(ctx context.Context, id string, mutate func(*Team) error) (*Team, error)
	ListTeams(ctx context.Context) ([]*Team, error)
}

// DeadIndex tracks jobs currently parked in the dead-letter queue.
type DeadIndex interface {
	AddDead(ctx context.Context, jobID string) error
	RemoveDead(ctx context.Context, jobID string) error
	ListDead(ctx context.Context) ([]string, error)
}

// ActiveIndex tracks in-flight jobs with visibility deadlines so the reaper
// can requeue work abandoned by a crashed worker.
type ActiveIndex interface {
	MarkActive(ctx context.Context, jobID string, deadline time.Time) error
	ClearActive(ctx context.Context, jobID string) error
	ListActiveExpired(ctx context.Context, now time.Time) ([]string, error)
}

// Notifier delivers fire-and-forget operational notifications. Delivery
// failure never affects job state.
type Notifier interface {
	NotifyBatchComplete(ctx context.Context, summary BatchSummary)
	NotifyRunComplete(ctx context.Context, run *BatchRun)
}
