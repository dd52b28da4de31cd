package store

import (
	"context"
	"sort"

	"github.com/repohealth/orchestrator/internal/core"
)

// GetJob retrieves a job record.
func (s *Store) GetJob(ctx context.Context, id string) (*core.AnalysisJob, error) {
	var job core.AnalysisJob
	if _, err := s.jobs.getJSON(ctx, id, &job); err != nil {
		return nil, svcError(err, "Job", id)
	}
	return &job, nil
}

// PutJob stores a job record unconditionally. Used for creation; status
// transitions go through UpdateJobIfStatus.
func (s *Store) PutJob(ctx context.Context, job *core.AnalysisJob) error {
	return s.jobs.putJSON(ctx, job.ID, job)
}

// UpdateJob applies mutate under CAS.
func (s *Store) UpdateJob(ctx context.Context, id string, mutate func(*core.AnalysisJob) error) (*core.AnalysisJob, error) {
	var job *core.AnalysisJob
	err := s.jobs.updateJSON(ctx,
		id,
		func() any { job = &core.AnalysisJob{}; return job },
		func(any) error { return mutate(job) },
	)
	if err != nil {
		return nil, svcError(err, "Job", id)
	}
	return job, nil
}

// UpdateJobIfStatus transitions a job only while its status equals from.
// A job observed in any other status yields a conflict error and no write.
func (s *Store) UpdateJobIfStatus(ctx context.Context, id, from string, mutate func(*core.AnalysisJob)) (*core.AnalysisJob, error) {
	return s.UpdateJob(ctx, id, func(job *core.AnalysisJob) error {
		if job.Status != from {
			return core.NewConflictError(
				"job not in expected status",
				map[string]any{
					"job_id":          id,
					"current_status":  job.Status,
					"expected_status": from,
				},
			)
		}
		mutate(job)
		return nil
	})
}

// ListJobsByStatus scans all jobs and returns those in the given status.
func (s *Store) ListJobsByStatus(ctx context.Context, status string) ([]*core.AnalysisJob, error) {
	return s.listJobs(ctx, func(j *core.AnalysisJob) bool {
		return j.Status == status
	})
}

// ListJobsByRun returns the jobs linked to a batch run, ordered by item index.
func (s *Store) ListJobsByRun(ctx context.Context, runID string) ([]*core.AnalysisJob, error) {
	jobs, err := s.listJobs(ctx, func(j *core.AnalysisJob) bool {
		return j.Batch != nil && j.Batch.RunID == runID
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].Batch.ItemIndex < jobs[j].Batch.ItemIndex
	})
	return jobs, nil
}

func (s *Store) listJobs(ctx context.Context, keep func(*core.AnalysisJob) bool) ([]*core.AnalysisJob, error) {
	keys, err := s.jobs.keys(ctx)
	if err != nil {
		return nil, err
	}
	var jobs []*core.AnalysisJob
	for _, key := range keys {
		var job core.AnalysisJob
		if _, err := s.jobs.getJSON(ctx, key, &job); err != nil {
			continue
		}
		if keep(&job) {
			jobs = append(jobs, &job)
		}
	}
	return jobs, nil
}
