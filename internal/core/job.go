package core

// Job statuses.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
	JobDead      = "dlq"
)

// IsTerminalJobStatus reports whether a job status is terminal. A job in a
// terminal status is never transitioned again except by the nightly
// dead-letter sweep, which explicitly re-queues dlq jobs.
func IsTerminalJobStatus(status string) bool {
	switch status {
	case JobCompleted, JobFailed, JobCancelled, JobDead:
		return true
	}
	return false
}

// QueueLinkage records the broker-assigned task driving a job.
type QueueLinkage struct {
	TaskID string `json:"task_id,omitempty"`
	Queue  string `json:"queue,omitempty"`
}

// BatchLinkage ties a job to the batch run that created it. Jobs submitted
// by the single-item trigger carry no linkage.
type BatchLinkage struct {
	BatchID   string `json:"batch_id"`
	RunID     string `json:"run_id"`
	RunNumber int    `json:"run_number"`
	ItemIndex int    `json:"item_index"`
}

// AnalysisJob is one unit of analysis work against a single repository.
type AnalysisJob struct {
	ID           string `json:"id"`
	TeamRef      string `json:"team_ref"`
	RepoRef      string `json:"repo_ref"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	CurrentStage string `json:"current_stage,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	// Trace holds a captured stack or error chain for dead-letter triage.
	Trace      string `json:"trace,omitempty"`
	RetryCount int    `json:"retry_count"`

	// RequiresManualReview is stamped by the dead-letter consumer.
	RequiresManualReview bool `json:"requires_manual_review,omitempty"`

	CreatedAt   string `json:"created_at,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`

	Task  QueueLinkage  `json:"task,omitempty"`
	Batch *BatchLinkage `json:"batch,omitempty"`
}
