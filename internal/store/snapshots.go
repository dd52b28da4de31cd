package store

import (
	"context"
	"sort"
	"strings"

	"github.com/repohealth/orchestrator/internal/core"
)

// UpsertSnapshot stores a snapshot keyed by (team, run number). Re-running
// a job for the same run overwrites the same key, so at most one snapshot
// ever exists per pair.
func (s *Store) UpsertSnapshot(ctx context.Context, snap *core.Snapshot) error {
	key := core.SnapshotKey(snap.TeamRef, snap.RunNumber)

	// Keep the original ID and timestamp when overwriting.
	var existing core.Snapshot
	if _, err := s.snapshots.getJSON(ctx, key, &existing); err == nil {
		snap.ID = existing.ID
		snap.AnalyzedAt = existing.AnalyzedAt
	}

	return s.snapshots.putJSON(ctx, key, snap)
}

// GetSnapshot retrieves one team's snapshot for one run.
func (s *Store) GetSnapshot(ctx context.Context, teamRef string, runNumber int) (*core.Snapshot, error) {
	key := core.SnapshotKey(teamRef, runNumber)
	var snap core.Snapshot
	if _, err := s.snapshots.getJSON(ctx, key, &snap); err != nil {
		return nil, svcError(err, "Snapshot", key)
	}
	return &snap, nil
}

// ListSnapshotsByTeam returns a team's snapshots ordered by run number,
// oldest first. Trend views read this.
func (s *Store) ListSnapshotsByTeam(ctx context.Context, teamRef string) ([]*core.Snapshot, error) {
	keys, err := s.snapshots.keys(ctx)
	if err != nil {
		return nil, err
	}
	prefix := teamRef + "."
	var snaps []*core.Snapshot
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var snap core.Snapshot
		if _, err := s.snapshots.getJSON(ctx, key, &snap); err != nil {
			continue
		}
		snaps = append(snaps, &snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].RunNumber < snaps[j].RunNumber
	})
	return snaps, nil
}
