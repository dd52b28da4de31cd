package store

import (
	"context"
	"sort"

	"github.com/repohealth/orchestrator/internal/core"
)

// GetBatch retrieves a batch record.
func (s *Store) GetBatch(ctx context.Context, id string) (*core.Batch, error) {
	var batch core.Batch
	if _, err := s.batches.getJSON(ctx, id, &batch); err != nil {
		return nil, svcError(err, "Batch", id)
	}
	return &batch, nil
}

// PutBatch stores a batch record.
func (s *Store) PutBatch(ctx context.Context, batch *core.Batch) error {
	return s.batches.putJSON(ctx, batch.ID, batch)
}

// UpdateBatch applies mutate under CAS.
func (s *Store) UpdateBatch(ctx context.Context, id string, mutate func(*core.Batch) error) (*core.Batch, error) {
	var batch *core.Batch
	err := s.batches.updateJSON(ctx,
		id,
		func() any { batch = &core.Batch{}; return batch },
		func(any) error { return mutate(batch) },
	)
	if err != nil {
		return nil, svcError(err, "Batch", id)
	}
	return batch, nil
}

// ListBatches returns all batches, newest first.
func (s *Store) ListBatches(ctx context.Context) ([]*core.Batch, error) {
	keys, err := s.batches.keys(ctx)
	if err != nil {
		return nil, err
	}
	var batches []*core.Batch
	for _, key := range keys {
		var batch core.Batch
		if _, err := s.batches.getJSON(ctx, key, &batch); err != nil {
			continue
		}
		batches = append(batches, &batch)
	}
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].CreatedAt > batches[j].CreatedAt
	})
	return batches, nil
}
