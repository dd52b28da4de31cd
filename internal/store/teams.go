package store

import (
	"context"
	"sort"

	"github.com/repohealth/orchestrator/internal/core"
)

// GetTeam retrieves a team record.
func (s *Store) GetTeam(ctx context.Context, id string) (*core.Team, error) {
	var team core.Team
	if _, err := s.teams.getJSON(ctx, id, &team); err != nil {
		return nil, svcError(err, "Team", id)
	}
	return &team, nil
}

// PutTeam stores a team record.
func (s *Store) PutTeam(ctx context.Context, team *core.Team) error {
	return s.teams.putJSON(ctx, team.ID, team)
}

// UpdateTeam applies mutate under CAS.
func (s *Store) UpdateTeam(ctx context.Context, id string, mutate func(*core.Team) error) (*core.Team, error) {
	var team *core.Team
	err := s.teams.updateJSON(ctx,
		id,
		func() any { team = &core.Team{}; return team },
		func(any) error { return mutate(team) },
	)
	if err != nil {
		return nil, svcError(err, "Team", id)
	}
	return team, nil
}

// ListTeams returns all teams sorted by id for stable iteration order.
func (s *Store) ListTeams(ctx context.Context) ([]*core.Team, error) {
	keys, err := s.teams.keys(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	var teams []*core.Team
	for _, key := range keys {
		var team core.Team
		if _, err := s.teams.getJSON(ctx, key, &team); err != nil {
			continue
		}
		teams = append(teams, &team)
	}
	return teams, nil
}
