package scheduler

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

func TestStopIsIdempotent(t *testing.T) {
	s := &Scheduler{stop: make(chan struct{})}
	s.Stop()
	s.Stop() // must not panic on double close
}

func TestDefaultConfigSpecsParse(t *testing.T) {
	cfg := DefaultConfig(time.UTC)
	for name, spec := range map[string]string{
		"weekly": cfg.WeeklySpec,
		"resume": cfg.ResumeSpec,
		"sweep":  cfg.SweepSpec,
		"health": cfg.HealthSpec,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			t.Errorf("%s spec %q does not parse: %v", name, spec, err)
		}
	}
}

func TestDefaultConfigResumeFollowsKickoff(t *testing.T) {
	cfg := DefaultConfig(time.UTC)

	kickoff, err := cron.ParseStandard(cfg.WeeklySpec)
	if err != nil {
		t.Fatal(err)
	}
	resume, err := cron.ParseStandard(cfg.ResumeSpec)
	if err != nil {
		t.Fatal(err)
	}

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // a Monday
	k := kickoff.Next(from)
	r := resume.Next(from)
	if !r.After(k) {
		t.Fatalf("resume %v should fire after kickoff %v", r, k)
	}
	if r.Sub(k) > time.Hour {
		t.Fatalf("resume should follow kickoff within the hour, got %v", r.Sub(k))
	}
}
