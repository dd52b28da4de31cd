package core

import (
	"time"

	"github.com/google/uuid"
)

// TimeFormat is the canonical timestamp format for all persisted records:
// RFC 3339 with millisecond precision, always UTC.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders a timestamp in the canonical format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses a canonical timestamp. Falls back to plain RFC 3339 so
// records written by older builds remain readable.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		return time.Parse(time.RFC3339, s)
	}
	return t, nil
}

// NowFormatted returns the current time in the canonical format.
func NowFormatted() string {
	return FormatTime(time.Now())
}

// NewID returns a time-ordered unique identifier for jobs, batches and runs.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
