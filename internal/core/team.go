package core

import (
	"fmt"
	"time"
)

// Team analysis statuses. "completed" and "failed" describe the most recent
// analysis; "queued" and "analyzing" mean one is in flight.
const (
	TeamPending   = "pending"
	TeamQueued    = "queued"
	TeamAnalyzing = "analyzing"
	TeamCompleted = "completed"
	TeamFailed    = "failed"
)

// Team is the entity being analyzed: one repository, a member roster, the
// latest analysis outcome and the derived health classification.
type Team struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	RepoRef     string `json:"repo_ref"`
	MemberCount int    `json:"member_count"`

	Status         string `json:"status,omitempty"`
	LastAnalyzedAt string `json:"last_analyzed_at,omitempty"`
	LastActivityAt string `json:"last_activity_at,omitempty"`

	LatestScore     float64          `json:"latest_score,omitempty"`
	Activity        *ActivityMetrics `json:"activity,omitempty"`
	HealthStatus    string           `json:"health_status,omitempty"`
	RiskFlags       []string         `json:"risk_flags,omitempty"`
	HealthUpdatedAt string           `json:"health_updated_at,omitempty"`
}

// Eligibility is the result of the reanalysis-eligibility policy.
type Eligibility struct {
	Eligible       bool   `json:"eligible"`
	Reason         string `json:"reason,omitempty"`
	NextEligibleAt string `json:"next_eligible_at,omitempty"`
}

// ReanalysisEligibility decides whether a team may be (re-)analyzed now.
//
// Force always wins. Teams that never completed, or whose last analysis
// failed, are always eligible. Teams with an analysis in flight are not.
// Completed teams become eligible again once the reanalysis interval has
// elapsed; until then the next eligible date is surfaced for operators.
func ReanalysisEligibility(team *Team, now time.Time, interval time.Duration, force bool) Eligibility {
	if force {
		return Eligibility{Eligible: true, Reason: "forced"}
	}

	switch team.Status {
	case TeamQueued, TeamAnalyzing:
		return Eligibility{Reason: fmt.Sprintf("analysis already in flight (status %s)", team.Status)}
	case TeamCompleted:
		// fall through to interval check
	default:
		// pending, failed or unset
		return Eligibility{Eligible: true, Reason: "no successful analysis on record"}
	}

	last, err := ParseTime(team.LastAnalyzedAt)
	if err != nil {
		return Eligibility{Eligible: true, Reason: "no last-analyzed timestamp on record"}
	}

	next := last.Add(interval)
	if now.Before(next) {
		return Eligibility{
			Reason:         "reanalysis interval not elapsed",
			NextEligibleAt: FormatTime(next),
		}
	}
	return Eligibility{Eligible: true, Reason: "reanalysis interval elapsed"}
}
