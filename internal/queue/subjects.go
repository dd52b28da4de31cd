package queue

import "fmt"

// Subject hierarchy for the orchestrator's NATS mapping.
//
//	orch.queue.{name}.tasks     -- task messages, one per delivery
//	orch.events.>               -- fire-and-forget notifications
const (
	StreamName    = "ORCH"
	SubjectPrefix = "orch"

	// BucketScheduled holds delayed tasks awaiting promotion.
	BucketScheduled = "orch-scheduled"

	// HeaderPriority carries the advisory task priority on published messages.
	HeaderPriority = "Orch-Priority"
)

// TasksSubject returns the subject tasks for a queue are published to.
// Example: orch.queue.analysis.tasks
func TasksSubject(queue string) string {
	return fmt.Sprintf("%s.queue.%s.tasks", SubjectPrefix, queue)
}

// AllTasksSubject is the wildcard covering every queue subject; it is the
// stream's subject filter.
func AllTasksSubject() string {
	return fmt.Sprintf("%s.queue.>", SubjectPrefix)
}

// EventSubject returns a subject for operational events.
// Example: orch.events.batch.completed
func EventSubject(eventType string) string {
	return fmt.Sprintf("%s.events.%s", SubjectPrefix, eventType)
}

// ConsumerName returns the durable consumer name for a queue.
func ConsumerName(queue string) string {
	return fmt.Sprintf("orch-worker-%s", queue)
}
