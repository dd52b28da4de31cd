package queue

import "encoding/json"

// JobTask is the payload on the analysis queue: drive one job.
type JobTask struct {
	JobID string `json:"job_id"`
}

// BatchTask is the payload on the batch queue: drive one batch run.
// Resume restricts the driver to items without a terminal job.
type BatchTask struct {
	BatchID string `json:"batch_id"`
	RunID   string `json:"run_id"`
	Resume  bool   `json:"resume,omitempty"`
}

// DeadTask is the payload on the dead-letter queue: park one job for
// manual review, carrying the failure and its trace.
type DeadTask struct {
	JobID string `json:"job_id"`
	Error string `json:"error,omitempty"`
	Trace string `json:"trace,omitempty"`
}

// EncodeTask marshals a task payload.
func EncodeTask(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeTask unmarshals a task payload.
func DecodeTask(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
