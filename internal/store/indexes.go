package store

import (
	"context"
	"sort"
	"time"

	"github.com/repohealth/orchestrator/internal/core"
)

// Dead-letter index: one key per parked job, value is the park timestamp.
// The jobs themselves stay in the jobs bucket with status dlq; the index
// saves the nightly sweep a full scan.

// AddDead records a job in the dead-letter index.
func (s *Store) AddDead(ctx context.Context, jobID string) error {
	return s.dead.put(ctx, jobID, []byte(core.NowFormatted()))
}

// RemoveDead drops a job from the dead-letter index.
func (s *Store) RemoveDead(ctx context.Context, jobID string) error {
	return s.dead.delete(ctx, jobID)
}

// ListDead returns the parked job ids in stable order.
func (s *Store) ListDead(ctx context.Context) ([]string, error) {
	keys, err := s.dead.keys(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// DeadCount returns the dead-letter depth for metrics.
func (s *Store) DeadCount(ctx context.Context) int {
	keys, err := s.dead.keys(ctx)
	if err != nil {
		return 0
	}
	return len(keys)
}

// Active index: in-flight jobs with visibility deadlines. A worker marks a
// job active before invoking the analyzer and clears it on any terminal
// update; the reaper requeues entries whose deadline passed.

// MarkActive records a job as in flight until deadline.
func (s *Store) MarkActive(ctx context.Context, jobID string, deadline time.Time) error {
	return s.active.put(ctx, jobID, []byte(core.FormatTime(deadline)))
}

// ClearActive removes a job from the active index.
func (s *Store) ClearActive(ctx context.Context, jobID string) error {
	return s.active.delete(ctx, jobID)
}

// ListActiveExpired returns in-flight jobs whose visibility deadline passed.
func (s *Store) ListActiveExpired(ctx context.Context, now time.Time) ([]string, error) {
	keys, err := s.active.keys(ctx)
	if err != nil {
		return nil, err
	}
	var expired []string
	for _, jobID := range keys {
		data, _, err := s.active.get(ctx, jobID)
		if err != nil {
			continue
		}
		deadline, err := core.ParseTime(string(data))
		if err != nil {
			continue
		}
		if now.After(deadline) {
			expired = append(expired, jobID)
		}
	}
	return expired, nil
}
