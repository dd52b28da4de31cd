package store

import (
	"context"
	"sort"

	"github.com/repohealth/orchestrator/internal/core"
)

// GetRun retrieves a batch run record.
func (s *Store) GetRun(ctx context.Context, id string) (*core.BatchRun, error) {
	var run core.BatchRun
	if _, err := s.runs.getJSON(ctx, id, &run); err != nil {
		return nil, svcError(err, "BatchRun", id)
	}
	return &run, nil
}

// PutRun stores a batch run record.
func (s *Store) PutRun(ctx context.Context, run *core.BatchRun) error {
	return s.runs.putJSON(ctx, run.ID, run)
}

// UpdateRun applies mutate under CAS. Run aggregate counters are bumped
// concurrently by executors, so callers must mutate, not overwrite.
func (s *Store) UpdateRun(ctx context.Context, id string, mutate func(*core.BatchRun) error) (*core.BatchRun, error) {
	var run *core.BatchRun
	err := s.runs.updateJSON(ctx,
		id,
		func() any { run = &core.BatchRun{}; return run },
		func(any) error { return mutate(run) },
	)
	if err != nil {
		return nil, svcError(err, "BatchRun", id)
	}
	return run, nil
}

// ListRunsByStatus returns runs in the given status, oldest first.
func (s *Store) ListRunsByStatus(ctx context.Context, status string) ([]*core.BatchRun, error) {
	runs, err := s.listRuns(ctx)
	if err != nil {
		return nil, err
	}
	var out []*core.BatchRun
	for _, run := range runs {
		if run.Status == status {
			out = append(out, run)
		}
	}
	return out, nil
}

// NextRunNumber allocates the next run number from the highest on record.
func (s *Store) NextRunNumber(ctx context.Context) (int, error) {
	runs, err := s.listRuns(ctx)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, run := range runs {
		if run.RunNumber > max {
			max = run.RunNumber
		}
	}
	return max + 1, nil
}

func (s *Store) listRuns(ctx context.Context) ([]*core.BatchRun, error) {
	keys, err := s.runs.keys(ctx)
	if err != nil {
		return nil, err
	}
	var runs []*core.BatchRun
	for _, key := range keys {
		var run core.BatchRun
		if _, err := s.runs.getJSON(ctx, key, &run); err != nil {
			continue
		}
		runs = append(runs, &run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].RunNumber < runs[j].RunNumber
	})
	return runs, nil
}
