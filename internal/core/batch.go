package core

import "fmt"

// Batch statuses.
const (
	BatchPending    = "pending"
	BatchProcessing = "processing"
	BatchPaused     = "paused"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunPaused    = "paused"
	RunCompleted = "completed"
)

// Batch tracks the sequential driver state for one batch submission.
// It is mutated item by item; completedCount + failedCount never exceeds
// TotalItems, and CurrentIndex only advances while the batch is processing.
type Batch struct {
	ID             string `json:"id"`
	TotalItems     int    `json:"total_items"`
	CompletedCount int    `json:"completed_count"`
	FailedCount    int    `json:"failed_count"`
	CurrentIndex   int    `json:"current_index"`
	CurrentItemRef string `json:"current_item_ref,omitempty"`
	Status         string `json:"status"`
	ErrorMessage   string `json:"error_message,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	CompletedAt    string `json:"completed_at,omitempty"`
}

// BatchRun is one numbered execution of the recurring batch, e.g. "week 4".
// It aggregates per-team results; one run owns zero or more jobs and
// snapshots via batch linkage.
type BatchRun struct {
	ID             string  `json:"id"`
	BatchRef       string  `json:"batch_ref"`
	RunNumber      int     `json:"run_number"`
	Status         string  `json:"status"`
	TotalTeams     int     `json:"total_teams"`
	CompletedTeams int     `json:"completed_teams"`
	AvgScore       float64 `json:"avg_score"`
	StartedAt      string  `json:"started_at,omitempty"`
	CompletedAt    string  `json:"completed_at,omitempty"`
}

// Snapshot is an immutable point-in-time record of one team's scored result
// for one run. At most one snapshot exists per (team, run number) pair.
type Snapshot struct {
	ID            string  `json:"id"`
	TeamRef       string  `json:"team_ref"`
	BatchRunRef   string  `json:"batch_run_ref"`
	RunNumber     int     `json:"run_number"`
	TotalScore    float64 `json:"total_score"`
	QualityScore  float64 `json:"quality_score"`
	SecurityScore float64 `json:"security_score"`
	CommitCount   int     `json:"commit_count"`
	FileCount     int     `json:"file_count"`
	LinesChanged  int     `json:"lines_changed"`
	AnalyzedAt    string  `json:"analyzed_at"`
}

// SnapshotKey is the storage key enforcing the one-snapshot-per-(team, run)
// invariant: writes to the same key upsert rather than duplicate.
func SnapshotKey(teamRef string, runNumber int) string {
	return fmt.Sprintf("%s.%d", teamRef, runNumber)
}

// BatchSummary is the driver's report for one RunBatch or ResumeBatch call.
type BatchSummary struct {
	BatchID string `json:"batch_id"`
	RunID   string `json:"run_id,omitempty"`
	Queued  int    `json:"queued"`
	Failed  int    `json:"failed"`
	Paused  bool   `json:"paused"`
}
