// Package store persists the orchestrator's records in NATS KV buckets.
// The record store is the single source of truth for job ownership: all
// status transitions go through revision-based compare-and-set so two
// workers can never both believe they own a job after a redelivery.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// KV bucket names.
const (
	BucketJobs      = "orch-jobs"
	BucketBatches   = "orch-batches"
	BucketRuns      = "orch-runs"
	BucketSnapshots = "orch-snapshots"
	BucketTeams     = "orch-teams"
	BucketActive    = "orch-active"
	BucketDead      = "orch-dead"
)

// Store implements the record store contracts over NATS KV.
type Store struct {
	jobs      bucket
	batches   bucket
	runs      bucket
	snapshots bucket
	teams     bucket
	active    bucket
	dead      bucket
}

// SetupBuckets creates the KV buckets if they do not exist.
func SetupBuckets(ctx context.Context, js jetstream.JetStream) error {
	names := []string{
		BucketJobs, BucketBatches, BucketRuns, BucketSnapshots,
		BucketTeams, BucketActive, BucketDead,
	}
	for _, name := range names {
		_, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:  name,
			Storage: jetstream.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("creating KV bucket %s: %w", name, err)
		}
	}
	return nil
}

// New opens the record store's buckets. SetupBuckets must have run first.
func New(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	open := func(name string) (bucket, error) {
		kv, err := js.KeyValue(ctx, name)
		if err != nil {
			return bucket{}, fmt.Errorf("opening KV bucket %s: %w", name, err)
		}
		return bucket{kv: kv}, nil
	}

	s := &Store{}
	var err error
	if s.jobs, err = open(BucketJobs); err != nil {
		return nil, err
	}
	if s.batches, err = open(BucketBatches); err != nil {
		return nil, err
	}
	if s.runs, err = open(BucketRuns); err != nil {
		return nil, err
	}
	if s.snapshots, err = open(BucketSnapshots); err != nil {
		return nil, err
	}
	if s.teams, err = open(BucketTeams); err != nil {
		return nil, err
	}
	if s.active, err = open(BucketActive); err != nil {
		return nil, err
	}
	if s.dead, err = open(BucketDead); err != nil {
		return nil, err
	}
	return s, nil
}

// Ping measures a KV round trip for health reporting.
func (s *Store) Ping(ctx context.Context) time.Duration {
	start := time.Now()
	s.jobs.exists(ctx, "_health_check")
	return time.Since(start)
}
