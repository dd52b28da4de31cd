package core

import (
	"testing"
	"time"
)

var eligibilityNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

const reanalysisInterval = 7 * 24 * time.Hour

func TestReanalysisEligibility_Force(t *testing.T) {
	team := &Team{ID: "t1", Status: TeamAnalyzing}
	e := ReanalysisEligibility(team, eligibilityNow, reanalysisInterval, true)
	if !e.Eligible {
		t.Error("force=true must always be eligible")
	}
}

func TestReanalysisEligibility_ByStatus(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{TeamFailed, true},
		{TeamPending, true},
		{"", true},
		{TeamQueued, false},
		{TeamAnalyzing, false},
	}

	for _, tt := range tests {
		team := &Team{ID: "t1", Status: tt.status}
		e := ReanalysisEligibility(team, eligibilityNow, reanalysisInterval, false)
		if e.Eligible != tt.want {
			t.Errorf("status %q: eligible = %v, want %v", tt.status, e.Eligible, tt.want)
		}
	}
}

func TestReanalysisEligibility_CompletedWithinInterval(t *testing.T) {
	// Last analyzed 3 days ago with a 7-day interval: not eligible, next
	// eligible date 4 days out.
	team := &Team{
		ID:             "t1",
		Status:         TeamCompleted,
		LastAnalyzedAt: FormatTime(eligibilityNow.Add(-3 * 24 * time.Hour)),
	}
	e := ReanalysisEligibility(team, eligibilityNow, reanalysisInterval, false)
	if e.Eligible {
		t.Fatal("expected not eligible 3 days into a 7-day interval")
	}
	wantNext := FormatTime(eligibilityNow.Add(4 * 24 * time.Hour))
	if e.NextEligibleAt != wantNext {
		t.Errorf("NextEligibleAt = %q, want %q", e.NextEligibleAt, wantNext)
	}
}

func TestReanalysisEligibility_CompletedIntervalElapsed(t *testing.T) {
	team := &Team{
		ID:             "t1",
		Status:         TeamCompleted,
		LastAnalyzedAt: FormatTime(eligibilityNow.Add(-8 * 24 * time.Hour)),
	}
	e := ReanalysisEligibility(team, eligibilityNow, reanalysisInterval, false)
	if !e.Eligible {
		t.Error("expected eligible after the interval elapsed")
	}
}

func TestIsTerminalJobStatus(t *testing.T) {
	terminal := []string{JobCompleted, JobFailed, JobCancelled, JobDead}
	for _, s := range terminal {
		if !IsTerminalJobStatus(s) {
			t.Errorf("IsTerminalJobStatus(%q) = false, want true", s)
		}
	}
	for _, s := range []string{JobQueued, JobRunning, ""} {
		if IsTerminalJobStatus(s) {
			t.Errorf("IsTerminalJobStatus(%q) = true, want false", s)
		}
	}
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2024, 6, 15, 12, 30, 45, 123000000, time.UTC)
	got := FormatTime(ts)
	want := "2024-06-15T12:30:45.123Z"
	if got != want {
		t.Errorf("FormatTime() = %q, want %q", got, want)
	}
}

func TestParseTime_RoundTrip(t *testing.T) {
	s := NowFormatted()
	if _, err := ParseTime(s); err != nil {
		t.Errorf("ParseTime(%q) error: %v", s, err)
	}
}
