package executor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/repohealth/orchestrator/internal/analyzer"
	"github.com/repohealth/orchestrator/internal/core"
)

// memStores is an in-memory Stores implementation with the same
// conditional-transition semantics as the KV-backed store.
type memStores struct {
	mu        sync.Mutex
	jobs      map[string]*core.AnalysisJob
	batches   map[string]*core.Batch
	runs      map[string]*core.BatchRun
	snapshots map[string]*core.Snapshot
	teams     map[string]*core.Team
	active    map[string]time.Time
}

func newMemStores() *memStores {
	return &memStores{
		jobs:      map[string]*core.AnalysisJob{},
		batches:   map[string]*core.Batch{},
		runs:      map[string]*core.BatchRun{},
		snapshots: map[string]*core.Snapshot{},
		teams:     map[string]*core.Team{},
		active:    map[string]time.Time{},
	}
}

func (m *memStores) GetJob(_ context.Context, id string) (*core.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, core.NewNotFoundError("job", id)
	}
	cp := *job
	return &cp, nil
}

func (m *memStores) PutJob(_ context.Context, job *core.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStores) UpdateJob(_ context.Context, id string, mutate func(*core.AnalysisJob) error) (*core.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, core.NewNotFoundError("job", id)
	}
	if err := mutate(job); err != nil {
		return nil, err
	}
	cp := *job
	return &cp, nil
}

func (m *memStores) UpdateJobIfStatus(_ context.Context, id, from string, mutate func(*core.AnalysisJob)) (*core.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, core.NewNotFoundError("job", id)
	}
	if job.Status != from {
		return nil, core.NewConflictError("job status changed", map[string]any{
			"expected": from, "actual": job.Status,
		})
	}
	mutate(job)
	cp := *job
	return &cp, nil
}

func (m *memStores) ListJobsByStatus(_ context.Context, status string) ([]*core.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.AnalysisJob
	for _, job := range m.jobs {
		if job.Status == status {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStores) ListJobsByRun(_ context.Context, runID string) ([]*core.AnalysisJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.AnalysisJob
	for _, job := range m.jobs {
		if job.Batch != nil && job.Batch.RunID == runID {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Batch.ItemIndex < out[j].Batch.ItemIndex })
	return out, nil
}

func (m *memStores) GetBatch(_ context.Context, id string) (*core.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[id]
	if !ok {
		return nil, core.NewNotFoundError("batch", id)
	}
	cp := *batch
	return &cp, nil
}

func (m *memStores) PutBatch(_ context.Context, batch *core.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *batch
	m.batches[batch.ID] = &cp
	return nil
}

func (m *memStores) UpdateBatch(_ context.Context, id string, mutate func(*core.Batch) error) (*core.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[id]
	if !ok {
		return nil, core.NewNotFoundError("batch", id)
	}
	if err := mutate(batch); err != nil {
		return nil, err
	}
	cp := *batch
	return &cp, nil
}

func (m *memStores) ListBatches(_ context.Context) ([]*core.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.Batch
	for _, batch := range m.batches {
		cp := *batch
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStores) GetRun(_ context.Context, id string) (*core.BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, core.NewNotFoundError("run", id)
	}
	cp := *run
	return &cp, nil
}

func (m *memStores) PutRun(_ context.Context, run *core.BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStores) UpdateRun(_ context.Context, id string, mutate func(*core.BatchRun) error) (*core.BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, core.NewNotFoundError("run", id)
	}
	if err := mutate(run); err != nil {
		return nil, err
	}
	cp := *run
	return &cp, nil
}

func (m *memStores) ListRunsByStatus(_ context.Context, status string) ([]*core.BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.BatchRun
	for _, run := range m.runs {
		if run.Status == status {
			cp := *run
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStores) NextRunNumber(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, run := range m.runs {
		if run.RunNumber > max {
			max = run.RunNumber
		}
	}
	return max + 1, nil
}

func (m *memStores) UpsertSnapshot(_ context.Context, snap *core.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	m.snapshots[core.SnapshotKey(snap.TeamRef, snap.RunNumber)] = &cp
	return nil
}

func (m *memStores) GetSnapshot(_ context.Context, teamRef string, runNumber int) (*core.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[core.SnapshotKey(teamRef, runNumber)]
	if !ok {
		return nil, core.NewNotFoundError("snapshot", core.SnapshotKey(teamRef, runNumber))
	}
	cp := *snap
	return &cp, nil
}

func (m *memStores) ListSnapshotsByTeam(_ context.Context, teamRef string) ([]*core.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.Snapshot
	for _, snap := range m.snapshots {
		if snap.TeamRef == teamRef {
			cp := *snap
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStores) GetTeam(_ context.Context, id string) (*core.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	team, ok := m.teams[id]
	if !ok {
		return nil, core.NewNotFoundError("team", id)
	}
	cp := *team
	return &cp, nil
}

func (m *memStores) PutTeam(_ context.Context, team *core.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *team
	m.teams[team.ID] = &cp
	return nil
}

func (m *memStores) UpdateTeam(_ context.Context, id string, mutate func(*core.Team) error) (*core.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	team, ok := m.teams[id]
	if !ok {
		return nil, core.NewNotFoundError("team", id)
	}
	if err := mutate(team); err != nil {
		return nil, err
	}
	cp := *team
	return &cp, nil
}

func (m *memStores) ListTeams(_ context.Context) ([]*core.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*core.Team
	for _, team := range m.teams {
		cp := *team
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStores) MarkActive(_ context.Context, jobID string, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[jobID] = deadline
	return nil
}

func (m *memStores) ClearActive(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, jobID)
	return nil
}

func (m *memStores) ListActiveExpired(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, deadline := range m.active {
		if now.After(deadline) {
			out = append(out, id)
		}
	}
	return out, nil
}

// stubAnalyzer returns a fixed report or error and counts calls.
type stubAnalyzer struct {
	report *core.Report
	err    error
	calls  int
}

func (s *stubAnalyzer) Analyze(context.Context, string) (*core.Report, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

func testPolicy() core.RetryPolicy {
	return core.RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  300 * time.Second,
		Multiplier: 2.0,
		MaxDelay:   1800 * time.Second,
		Jitter:     false,
	}
}

func testReport(score float64) *core.Report {
	last := time.Now().Add(-24 * time.Hour)
	return &core.Report{
		TotalScore:    score,
		QualityScore:  score,
		SecurityScore: score,
		Activity: core.ActivityMetrics{
			CommitCount:  120,
			LastCommitAt: &last,
			ContributorCommits: map[string]int{
				"alice": 40, "bob": 40, "carol": 40,
			},
			CommitsLast30Days: 30,
			CommitsLast7Days:  8,
			FileCount:         64,
			LinesChanged:      4200,
		},
	}
}

// seedBatchJob stores a queued job linked to a fresh batch, run and team.
func seedBatchJob(t *testing.T, m *memStores, totalTeams int) *core.AnalysisJob {
	t.Helper()
	ctx := context.Background()

	batch := &core.Batch{ID: "batch-1", TotalItems: totalTeams, Status: core.BatchProcessing}
	run := &core.BatchRun{ID: "run-1", BatchRef: "batch-1", RunNumber: 4, Status: core.RunRunning, TotalTeams: totalTeams}
	team := &core.Team{ID: "team-1", RepoRef: "git@example.com:t/one.git", MemberCount: 3, Status: core.TeamQueued}
	job := &core.AnalysisJob{
		ID:      "job-1",
		TeamRef: "team-1",
		RepoRef: team.RepoRef,
		Status:  core.JobQueued,
		Batch:   &core.BatchLinkage{BatchID: "batch-1", RunID: "run-1", RunNumber: 4, ItemIndex: 0},
	}

	if err := m.PutBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}
	if err := m.PutRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := m.PutTeam(ctx, team); err != nil {
		t.Fatal(err)
	}
	if err := m.PutJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	return job
}

func TestExecute_CompletesJobAndRecordsResult(t *testing.T) {
	ctx := context.Background()
	m := newMemStores()
	job := seedBatchJob(t, m, 2)

	exec := New(m, &stubAnalyzer{report: testReport(85)}, nil, testPolicy(), time.Hour)

	outcome, err := exec.Execute(ctx, job.ID, "task-1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Kind != core.OutcomeCompleted {
		t.Fatalf("outcome.Kind = %q, want %q", outcome.Kind, core.OutcomeCompleted)
	}

	got, _ := m.GetJob(ctx, job.ID)
	if got.Status != core.JobCompleted || got.Progress != 100 || got.CompletedAt == "" {
		t.Errorf("job after complete = %+v", got)
	}

	snap, err := m.GetSnapshot(ctx, "team-1", 4)
	if err != nil {
		t.Fatalf("snapshot not recorded: %v", err)
	}
	if snap.TotalScore != 85 {
		t.Errorf("snapshot score = %v, want 85", snap.TotalScore)
	}

	run, _ := m.GetRun(ctx, "run-1")
	if run.CompletedTeams != 1 || run.AvgScore != 85 {
		t.Errorf("run = %+v, want CompletedTeams=1 AvgScore=85", run)
	}
	if run.Status != core.RunRunning {
		t.Errorf("run status = %q, want still %q with one of two teams done", run.Status, core.RunRunning)
	}

	batch, _ := m.GetBatch(ctx, "batch-1")
	if batch.CompletedCount != 1 {
		t.Errorf("batch CompletedCount = %d, want 1", batch.CompletedCount)
	}

	team, _ := m.GetTeam(ctx, "team-1")
	if team.Status != core.TeamCompleted || team.LatestScore != 85 {
		t.Errorf("team = %+v", team)
	}
	if team.HealthStatus == "" {
		t.Error("team health status not derived on completion")
	}
}

func TestExecute_LastTeamCompletesRun(t *testing.T) {
	ctx := context.Background()
	m := newMemStores()
	job := seedBatchJob(t, m, 1)

	exec := New(m, &stubAnalyzer{report: testReport(70)}, nil, testPolicy(), time.Hour)
	if _, err := exec.Execute(ctx, job.ID, "task-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	run, _ := m.GetRun(ctx, "run-1")
	if run.Status != core.RunCompleted || run.CompletedAt == "" {
		t.Errorf("run = %+v, want completed with timestamp", run)
	}
}

func TestExecute_TerminalRedeliveryIsNoOp(t *testing.T) {
	ctx := context.Background()
	m := newMemStores()
	job := seedBatchJob(t, m, 1)

	stub := &stubAnalyzer{report: testReport(90)}
	exec := New(m, stub, nil, testPolicy(), time.Hour)

	if _, err := exec.Execute(ctx, job.ID, "task-1"); err != nil {
		t.Fatal(err)
	}
	first, _ := m.GetJob(ctx, job.ID)

	outcome, err := exec.Execute(ctx, job.ID, "task-1-redelivery")
	if err != nil {
		t.Fatalf("redelivery Execute() error = %v", err)
	}
	if outcome.Kind != core.OutcomeCompleted {
		t.Errorf("redelivery outcome = %q, want %q", outcome.Kind, core.OutcomeCompleted)
	}
	if stub.calls != 1 {
		t.Errorf("analyzer called %d times, want 1", stub.calls)
	}

	second, _ := m.GetJob(ctx, job.ID)
	if second.CompletedAt != first.CompletedAt {
		t.Errorf("redelivery rewrote CompletedAt: %q -> %q", first.CompletedAt, second.CompletedAt)
	}

	run, _ := m.GetRun(ctx, "run-1")
	if run.CompletedTeams != 1 {
		t.Errorf("run CompletedTeams = %d after redelivery, want 1", run.CompletedTeams)
	}
}

func TestExecute_LateCompletionAfterRunClosedStillRecordsResult(t *testing.T) {
	ctx := context.Background()
	m := newMemStores()
	job := seedBatchJob(t, m, 2)

	// The run closed while this job was still outstanding (auto-resume
	// with nothing left, or a stall requeue racing the close).
	if _, err := m.UpdateRun(ctx, "run-1", func(r *core.BatchRun) error {
		r.Status = core.RunCompleted
		r.CompletedTeams = 1
		r.CompletedAt = core.NowFormatted()
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	exec := New(m, &stubAnalyzer{report: testReport(75)}, nil, testPolicy(), time.Hour)
	if _, err := exec.Execute(ctx, job.ID, "task-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if _, err := m.GetSnapshot(ctx, "team-1", 4); err != nil {
		t.Errorf("late completion dropped its snapshot: %v", err)
	}

	batch, _ := m.GetBatch(ctx, "batch-1")
	if batch.CompletedCount != 1 {
		t.Errorf("batch CompletedCount = %d, want 1", batch.CompletedCount)
	}

	run, _ := m.GetRun(ctx, "run-1")
	if run.CompletedTeams != 1 {
		t.Errorf("closed run counters moved: CompletedTeams = %d, want 1", run.CompletedTeams)
	}
}

func TestExecute_PermanentFailureSkipsRetriesAndDLQ(t *testing.T) {
	ctx := context.Background()
	m := newMemStores()
	job := seedBatchJob(t, m, 1)

	stub := &stubAnalyzer{err: analyzer.Permanent("authentication failed", nil)}
	exec := New(m, stub, nil, testPolicy(), time.Hour)

	outcome, err := exec.Execute(ctx, job.ID, "task-1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Kind != core.OutcomeFailedPermanent {
		t.Errorf("outcome.Kind = %q, want %q", outcome.Kind, core.OutcomeFailedPermanent)
	}
	if outcome.DeadLetter {
		t.Error("permanent failure must not be dead-lettered")
	}

	got, _ := m.GetJob(ctx, job.ID)
	if got.Status != core.JobFailed {
		t.Errorf("job status = %q, want %q", got.Status, core.JobFailed)
	}
	if got.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 for permanent failure", got.RetryCount)
	}

	batch, _ := m.GetBatch(ctx, "batch-1")
	if batch.FailedCount != 1 {
		t.Errorf("batch FailedCount = %d, want 1", batch.FailedCount)
	}

	team, _ := m.GetTeam(ctx, "team-1")
	if team.Status != core.TeamFailed {
		t.Errorf("team status = %q, want %q", team.Status, core.TeamFailed)
	}
}

func TestExecute_TransientFailuresBackOffThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	m := newMemStores()
	job := seedBatchJob(t, m, 1)

	stub := &stubAnalyzer{err: analyzer.Transient("clone timed out", nil)}
	policy := testPolicy()
	exec := New(m, stub, nil, policy, time.Hour)

	var prev time.Duration
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		outcome, err := exec.Execute(ctx, job.ID, "task-1")
		if err != nil {
			t.Fatalf("attempt %d Execute() error = %v", attempt, err)
		}
		if outcome.Kind != core.OutcomeFailedRetryable {
			t.Fatalf("attempt %d outcome = %q, want %q", attempt, outcome.Kind, core.OutcomeFailedRetryable)
		}
		if outcome.RetryDelay < prev {
			t.Errorf("attempt %d delay %v < previous %v", attempt, outcome.RetryDelay, prev)
		}
		if outcome.RetryDelay > policy.MaxDelay {
			t.Errorf("attempt %d delay %v exceeds cap %v", attempt, outcome.RetryDelay, policy.MaxDelay)
		}
		prev = outcome.RetryDelay

		got, _ := m.GetJob(ctx, job.ID)
		if got.RetryCount != attempt {
			t.Errorf("attempt %d RetryCount = %d", attempt, got.RetryCount)
		}
		if got.Status != core.JobRunning {
			t.Errorf("attempt %d status = %q, want %q while retry pending", attempt, got.Status, core.JobRunning)
		}
	}

	// Budget spent: the next delivery exhausts the job.
	outcome, err := exec.Execute(ctx, job.ID, "task-1")
	if err != nil {
		t.Fatalf("exhausting Execute() error = %v", err)
	}
	if outcome.Kind != core.OutcomeFailedPermanent || !outcome.DeadLetter {
		t.Fatalf("outcome = %+v, want permanent failure bound for dead letter", outcome)
	}
	if !strings.Contains(outcome.Message, "max retries exceeded") {
		t.Errorf("outcome.Message = %q", outcome.Message)
	}
	if outcome.Trace == "" {
		t.Error("exhausted outcome missing trace")
	}

	got, _ := m.GetJob(ctx, job.ID)
	if got.Status != core.JobFailed {
		t.Errorf("job status = %q, want %q", got.Status, core.JobFailed)
	}
}

func TestExecute_PausedRunCancelsPendingJob(t *testing.T) {
	ctx := context.Background()
	m := newMemStores()
	job := seedBatchJob(t, m, 1)

	if _, err := m.UpdateRun(ctx, "run-1", func(r *core.BatchRun) error {
		r.Status = core.RunPaused
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	stub := &stubAnalyzer{report: testReport(50)}
	exec := New(m, stub, nil, testPolicy(), time.Hour)

	outcome, err := exec.Execute(ctx, job.ID, "task-1")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Kind != core.OutcomeCancelled {
		t.Errorf("outcome.Kind = %q, want %q", outcome.Kind, core.OutcomeCancelled)
	}
	if stub.calls != 0 {
		t.Errorf("analyzer called %d times for a paused batch, want 0", stub.calls)
	}

	got, _ := m.GetJob(ctx, job.ID)
	if got.Status != core.JobCancelled {
		t.Errorf("job status = %q, want %q", got.Status, core.JobCancelled)
	}
	if got.ErrorMessage != "batch paused" {
		t.Errorf("job ErrorMessage = %q", got.ErrorMessage)
	}
}

func TestExecute_MissingJobReturnsNotFound(t *testing.T) {
	m := newMemStores()
	exec := New(m, &stubAnalyzer{report: testReport(10)}, nil, testPolicy(), time.Hour)

	_, err := exec.Execute(context.Background(), "no-such-job", "task-1")
	if !core.IsNotFound(err) {
		t.Fatalf("Execute() error = %v, want not_found", err)
	}
}

func TestExecute_ClearsActiveIndexAfterAnalysis(t *testing.T) {
	ctx := context.Background()
	m := newMemStores()
	job := seedBatchJob(t, m, 1)

	exec := New(m, &stubAnalyzer{report: testReport(60)}, nil, testPolicy(), time.Hour)
	if _, err := exec.Execute(ctx, job.ID, "task-1"); err != nil {
		t.Fatal(err)
	}

	if len(m.active) != 0 {
		t.Errorf("active index has %d entries after completion, want 0", len(m.active))
	}
}
