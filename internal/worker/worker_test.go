package worker

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/repohealth/orchestrator/internal/core"
	"github.com/repohealth/orchestrator/internal/queue"
)

type enqueued struct {
	queue   string
	payload []byte
	opts    core.EnqueueOptions
}

// fakeBroker records enqueue, ack and term calls.
type fakeBroker struct {
	enqueues   []enqueued
	enqueueErr error
	acked      []string
	termed     []string
}

func (b *fakeBroker) Enqueue(_ context.Context, q string, payload []byte, opts core.EnqueueOptions) (string, error) {
	if b.enqueueErr != nil {
		return "", b.enqueueErr
	}
	b.enqueues = append(b.enqueues, enqueued{queue: q, payload: payload, opts: opts})
	return fmt.Sprintf("task-%d", len(b.enqueues)), nil
}

func (b *fakeBroker) Next(context.Context, string, time.Duration) (string, []byte, error) {
	return "", nil, nil
}

func (b *fakeBroker) Ack(taskID string) error {
	b.acked = append(b.acked, taskID)
	return nil
}

func (b *fakeBroker) Term(taskID string) error {
	b.termed = append(b.termed, taskID)
	return nil
}

type fakeStore struct {
	jobs map[string]*core.AnalysisJob
	runs map[string]*core.BatchRun
	dead map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs: map[string]*core.AnalysisJob{},
		runs: map[string]*core.BatchRun{},
		dead: map[string]bool{},
	}
}

func (f *fakeStore) GetJob(_ context.Context, id string) (*core.AnalysisJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, core.NewNotFoundError("job", id)
	}
	return job, nil
}

func (f *fakeStore) PutJob(_ context.Context, job *core.AnalysisJob) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeStore) UpdateJob(_ context.Context, id string, mutate func(*core.AnalysisJob) error) (*core.AnalysisJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, core.NewNotFoundError("job", id)
	}
	return job, mutate(job)
}

func (f *fakeStore) UpdateJobIfStatus(_ context.Context, id, from string, mutate func(*core.AnalysisJob)) (*core.AnalysisJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, core.NewNotFoundError("job", id)
	}
	if job.Status != from {
		return nil, core.NewConflictError("job status changed", nil)
	}
	mutate(job)
	return job, nil
}

func (f *fakeStore) ListJobsByStatus(context.Context, string) ([]*core.AnalysisJob, error) {
	return nil, nil
}

func (f *fakeStore) ListJobsByRun(context.Context, string) ([]*core.AnalysisJob, error) {
	return nil, nil
}

func (f *fakeStore) GetRun(_ context.Context, id string) (*core.BatchRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, core.NewNotFoundError("run", id)
	}
	return run, nil
}

func (f *fakeStore) PutRun(_ context.Context, run *core.BatchRun) error {
	f.runs[run.ID] = run
	return nil
}

func (f *fakeStore) UpdateRun(_ context.Context, id string, mutate func(*core.BatchRun) error) (*core.BatchRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, core.NewNotFoundError("run", id)
	}
	return run, mutate(run)
}

func (f *fakeStore) ListRunsByStatus(context.Context, string) ([]*core.BatchRun, error) {
	return nil, nil
}

func (f *fakeStore) NextRunNumber(context.Context) (int, error) { return 1, nil }

func (f *fakeStore) AddDead(_ context.Context, jobID string) error {
	f.dead[jobID] = true
	return nil
}

func (f *fakeStore) RemoveDead(_ context.Context, jobID string) error {
	delete(f.dead, jobID)
	return nil
}

func (f *fakeStore) ListDead(context.Context) ([]string, error) { return nil, nil }

func (f *fakeStore) DeadCount(context.Context) int { return len(f.dead) }

type fakeExec struct {
	outcome core.JobOutcome
	err     error
	calls   int
}

func (e *fakeExec) Execute(context.Context, string, string) (core.JobOutcome, error) {
	e.calls++
	return e.outcome, e.err
}

func jobPayload(t *testing.T, jobID string) []byte {
	t.Helper()
	payload, err := queue.EncodeTask(queue.JobTask{JobID: jobID})
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func TestHandleAnalysis_StoreErrorReschedulesTask(t *testing.T) {
	broker := &fakeBroker{}
	exec := &fakeExec{err: core.NewInternalError("kv read failed")}
	p := NewPool(broker, newFakeStore(), exec, nil, nil)

	payload := jobPayload(t, "job-1")
	p.handleAnalysis(context.Background(), "delivery-1", payload)

	if len(broker.termed) != 0 {
		t.Fatalf("delivery terminated on a transient store error: %v", broker.termed)
	}
	if len(broker.enqueues) != 1 {
		t.Fatalf("enqueues = %d, want the task re-published once", len(broker.enqueues))
	}
	got := broker.enqueues[0]
	if got.queue != core.QueueAnalysis {
		t.Errorf("rescheduled on queue %q, want %q", got.queue, core.QueueAnalysis)
	}
	if got.opts.Delay != storeRetryDelay {
		t.Errorf("reschedule delay = %v, want %v", got.opts.Delay, storeRetryDelay)
	}
	if !bytes.Equal(got.payload, payload) {
		t.Error("rescheduled payload differs from the original task")
	}
	if len(broker.acked) != 1 || broker.acked[0] != "delivery-1" {
		t.Errorf("acked = %v, want the replaced delivery acked", broker.acked)
	}
}

func TestHandleAnalysis_RescheduleFailureLeavesDeliveryUnacked(t *testing.T) {
	broker := &fakeBroker{enqueueErr: core.NewInternalError("stream unavailable")}
	exec := &fakeExec{err: core.NewInternalError("kv read failed")}
	p := NewPool(broker, newFakeStore(), exec, nil, nil)

	p.handleAnalysis(context.Background(), "delivery-1", jobPayload(t, "job-1"))

	if len(broker.acked) != 0 || len(broker.termed) != 0 {
		t.Errorf("acked=%v termed=%v, want the delivery left for redelivery", broker.acked, broker.termed)
	}
}

func TestHandleAnalysis_MissingJobTermsTask(t *testing.T) {
	broker := &fakeBroker{}
	exec := &fakeExec{err: core.NewNotFoundError("Job", "job-1")}
	p := NewPool(broker, newFakeStore(), exec, nil, nil)

	p.handleAnalysis(context.Background(), "delivery-1", jobPayload(t, "job-1"))

	if len(broker.termed) != 1 || broker.termed[0] != "delivery-1" {
		t.Fatalf("termed = %v, want exactly the delivery", broker.termed)
	}
	if len(broker.enqueues) != 0 {
		t.Errorf("task re-published for a genuinely missing job: %v", broker.enqueues)
	}
}

func TestHandleAnalysis_RetryableOutcomeSchedulesDelayedRetry(t *testing.T) {
	broker := &fakeBroker{}
	st := newFakeStore()
	st.jobs["job-1"] = &core.AnalysisJob{ID: "job-1", Status: core.JobRunning}
	exec := &fakeExec{outcome: core.FailedRetryable("clone timed out", 300 * time.Second)}
	p := NewPool(broker, st, exec, nil, nil)

	p.handleAnalysis(context.Background(), "delivery-1", jobPayload(t, "job-1"))

	if len(broker.enqueues) != 1 {
		t.Fatalf("enqueues = %d, want one delayed retry", len(broker.enqueues))
	}
	if got := broker.enqueues[0]; got.queue != core.QueueAnalysis || got.opts.Delay != 300*time.Second {
		t.Errorf("retry enqueue = %+v", got.opts)
	}
	if st.jobs["job-1"].Task.TaskID == "" {
		t.Error("retry task id not recorded on the job")
	}
	if len(broker.acked) != 1 {
		t.Errorf("acked = %v, want the delivery acked after scheduling", broker.acked)
	}
}

func TestHandleAnalysis_ExhaustedOutcomeParksDeadLetter(t *testing.T) {
	broker := &fakeBroker{}
	exec := &fakeExec{outcome: core.FailedExhausted("max retries exceeded after 3 attempts", "trace")}
	p := NewPool(broker, newFakeStore(), exec, nil, nil)

	p.handleAnalysis(context.Background(), "delivery-1", jobPayload(t, "job-1"))

	if len(broker.enqueues) != 1 || broker.enqueues[0].queue != core.QueueDead {
		t.Fatalf("enqueues = %+v, want one dead-letter task", broker.enqueues)
	}
	var dead queue.DeadTask
	if err := queue.DecodeTask(broker.enqueues[0].payload, &dead); err != nil {
		t.Fatal(err)
	}
	if dead.JobID != "job-1" || dead.Trace == "" {
		t.Errorf("dead task = %+v", dead)
	}
}

func TestHandleDead_ParksJobForManualReview(t *testing.T) {
	broker := &fakeBroker{}
	st := newFakeStore()
	st.jobs["job-1"] = &core.AnalysisJob{ID: "job-1", Status: core.JobFailed}
	p := NewPool(broker, st, &fakeExec{}, nil, nil)

	payload, err := queue.EncodeTask(queue.DeadTask{JobID: "job-1", Error: "max retries exceeded", Trace: "trace"})
	if err != nil {
		t.Fatal(err)
	}
	p.handleDead(context.Background(), "delivery-1", payload)

	job := st.jobs["job-1"]
	if job.Status != core.JobDead || !job.RequiresManualReview {
		t.Errorf("job = %+v, want dlq with manual review", job)
	}
	if !st.dead["job-1"] {
		t.Error("job missing from dead-letter index")
	}
	if len(broker.acked) != 1 {
		t.Errorf("acked = %v, want the delivery acked", broker.acked)
	}
}
