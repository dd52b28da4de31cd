// Package analyzer defines the contract with the repository analysis
// pipeline. The pipeline itself (cloning, scanning, scoring) is an external
// collaborator; the orchestrator sees a single opaque Analyze operation and
// classifies its errors as permanent or transient.
package analyzer

import (
	"context"
	"fmt"

	"github.com/repohealth/orchestrator/internal/core"
)

// Analyzer runs one long-running analysis against a repository reference.
// Calls may take minutes; cancellation is cooperative via ctx, and runaway
// executions are bounded by the task queue's execution-time limit, not here.
type Analyzer interface {
	Analyze(ctx context.Context, repoRef string) (*core.Report, error)
}

// Error codes returned by analyzer implementations.
const (
	// CodePermanent marks failures that retrying cannot fix: missing
	// repositories, revoked credentials, denied access.
	CodePermanent = "permanent"
	// CodeTransient marks failures worth retrying: timeouts, rate limits,
	// temporary store unavailability.
	CodeTransient = "transient"
)

// Error is a classified analyzer failure.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Permanent wraps err as a non-retryable analyzer error.
func Permanent(message string, cause error) *Error {
	return &Error{Code: CodePermanent, Message: message, Cause: cause}
}

// Transient wraps err as a retryable analyzer error.
func Transient(message string, cause error) *Error {
	return &Error{Code: CodeTransient, Message: message, Cause: cause}
}
