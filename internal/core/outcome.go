package core

import "time"

// Outcome kinds for one JobExecutor invocation.
const (
	OutcomeCompleted       = "completed"
	OutcomeCancelled       = "cancelled"
	OutcomeFailedPermanent = "failed_permanent"
	OutcomeFailedRetryable = "failed_retryable"
)

// JobOutcome is the executor's verdict for one delivery of a job task.
// The worker loop maps it onto concrete queue calls (ack, delayed retry,
// dead-letter publish); the executor itself never talks to the broker.
type JobOutcome struct {
	Kind string
	// RetryDelay is set for retryable failures.
	RetryDelay time.Duration
	// DeadLetter marks a permanent failure that exhausted its retries and
	// must be handed to the dead-letter queue. Permanent analyzer errors
	// (auth failures, missing repos) leave it false: they skip the DLQ.
	DeadLetter bool
	// Message is the human-readable error or cancellation reason.
	Message string
	// Trace is the captured error chain for dead-letter triage.
	Trace string
}

// Completed returns a successful outcome.
func Completed() JobOutcome {
	return JobOutcome{Kind: OutcomeCompleted}
}

// Cancelled returns a cancellation outcome with a reason.
func Cancelled(reason string) JobOutcome {
	return JobOutcome{Kind: OutcomeCancelled, Message: reason}
}

// FailedPermanent returns a non-retryable failure outcome.
func FailedPermanent(message string) JobOutcome {
	return JobOutcome{Kind: OutcomeFailedPermanent, Message: message}
}

// FailedExhausted returns a failure outcome for a job that used up its
// retry budget and must be dead-lettered.
func FailedExhausted(message, trace string) JobOutcome {
	return JobOutcome{Kind: OutcomeFailedPermanent, DeadLetter: true, Message: message, Trace: trace}
}

// FailedRetryable returns a transient failure outcome with a retry delay.
func FailedRetryable(message string, delay time.Duration) JobOutcome {
	return JobOutcome{Kind: OutcomeFailedRetryable, RetryDelay: delay, Message: message}
}
