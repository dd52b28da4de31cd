// Package health derives a team's health classification from its commit
// activity. Evaluate is pure; the redis-backed cache next to it is the only
// stateful piece.
package health

import (
	"time"

	"github.com/repohealth/orchestrator/internal/core"
)

// Health statuses.
const (
	StatusOnTrack  = "on_track"
	StatusAtRisk   = "at_risk"
	StatusCritical = "critical"
)

// Risk flags. Multiple flags may apply to one team.
const (
	FlagGhostRepo         = "ghost_repo"
	FlagStale             = "stale"
	FlagInactive          = "inactive"
	FlagImbalanced        = "imbalanced"
	FlagSoloProject       = "solo_project"
	FlagLowParticipation  = "low_participation"
	FlagDecliningVelocity = "declining_velocity"
	FlagNoRecentGrowth    = "no_recent_growth"
	FlagCramming          = "cramming"
)

// criticalFlags force status critical; mediumFlags push a team to at_risk.
// no_recent_growth is informational only and affects neither tier.
var (
	criticalFlags = map[string]bool{
		FlagGhostRepo:   true,
		FlagStale:       true,
		FlagSoloProject: true,
	}
	mediumFlags = map[string]bool{
		FlagInactive:          true,
		FlagImbalanced:        true,
		FlagLowParticipation:  true,
		FlagDecliningVelocity: true,
		FlagCramming:          true,
	}
)

// Inputs are the activity facts Evaluate works from.
type Inputs struct {
	TotalCommits       int
	LastCommitAt       *time.Time
	LastActivityAt     *time.Time
	ContributorCommits map[string]int
	MemberCount        int
	CommitsLast30Days  int
	CommitsLast7Days   int
	Now                time.Time
}

// InputsFromTeam builds Inputs from a stored team record.
func InputsFromTeam(team *core.Team, now time.Time) Inputs {
	in := Inputs{MemberCount: team.MemberCount, Now: now}
	if a := team.Activity; a != nil {
		in.TotalCommits = a.CommitCount
		in.LastCommitAt = a.LastCommitAt
		in.ContributorCommits = a.ContributorCommits
		in.CommitsLast30Days = a.CommitsLast30Days
		in.CommitsLast7Days = a.CommitsLast7Days
	}
	if team.LastActivityAt != "" {
		if t, err := core.ParseTime(team.LastActivityAt); err == nil {
			in.LastActivityAt = &t
		}
	}
	return in
}

// Evaluate maps a team's activity to a health status and risk flags.
func Evaluate(in Inputs) (string, []string) {
	var flags []string

	lastSeen := in.LastCommitAt
	if lastSeen == nil {
		lastSeen = in.LastActivityAt
	}

	if in.TotalCommits == 0 && lastSeen == nil {
		flags = append(flags, FlagGhostRepo)
	}

	daysSince := -1.0
	if lastSeen != nil {
		daysSince = in.Now.Sub(*lastSeen).Hours() / 24
		switch {
		case daysSince > 21:
			flags = append(flags, FlagStale)
		case daysSince > 7:
			flags = append(flags, FlagInactive)
		}
	}

	totalContrib := 0
	activeContributors := 0
	top := 0
	for _, n := range in.ContributorCommits {
		totalContrib += n
		if n > 0 {
			activeContributors++
		}
		if n > top {
			top = n
		}
	}

	if totalContrib > 0 && float64(top) > 0.7*float64(totalContrib) {
		flags = append(flags, FlagImbalanced)
	}

	if activeContributors == 1 && in.MemberCount >= 3 {
		flags = append(flags, FlagSoloProject)
	}

	if in.MemberCount > 0 && float64(activeContributors) < 0.5*float64(in.MemberCount) {
		flags = append(flags, FlagLowParticipation)
	}

	if in.TotalCommits > 20 && in.CommitsLast30Days < 5 {
		flags = append(flags, FlagDecliningVelocity)
	}

	if in.TotalCommits > 0 && in.CommitsLast30Days < 3 {
		flags = append(flags, FlagNoRecentGrowth)
	}

	if in.TotalCommits >= 10 && float64(in.CommitsLast7Days) > 0.7*float64(in.TotalCommits) {
		flags = append(flags, FlagCramming)
	}

	return statusFor(flags, daysSince), flags
}

func statusFor(flags []string, daysSinceCommit float64) string {
	medium := 0
	for _, f := range flags {
		if criticalFlags[f] {
			return StatusCritical
		}
		if mediumFlags[f] {
			medium++
		}
	}
	if medium > 0 || daysSinceCommit > 7 {
		return StatusAtRisk
	}
	return StatusOnTrack
}
