package core

import "time"

// ActivityMetrics describes commit activity observed by the analyzer.
// The health engine consumes these together with team membership data.
type ActivityMetrics struct {
	CommitCount        int            `json:"commit_count"`
	LastCommitAt       *time.Time     `json:"last_commit_at,omitempty"`
	ContributorCommits map[string]int `json:"contributor_commits,omitempty"`
	CommitsLast30Days  int            `json:"commits_last_30_days"`
	CommitsLast7Days   int            `json:"commits_last_7_days"`
	FileCount          int            `json:"file_count"`
	LinesChanged       int            `json:"lines_changed"`
}

// Report is the analyzer's output for one repository. The analysis pipeline
// producing it is an external collaborator; the orchestrator only persists
// scores and activity and derives health from them.
type Report struct {
	TotalScore    float64         `json:"total_score"`
	QualityScore  float64         `json:"quality_score"`
	SecurityScore float64         `json:"security_score"`
	Activity      ActivityMetrics `json:"activity"`
}
