// Package notify publishes fire-and-forget operational notifications over
// NATS core pub/sub. Delivery failure is logged and never affects job state.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/repohealth/orchestrator/internal/core"
	"github.com/repohealth/orchestrator/internal/queue"
)

// Event subjects.
const (
	SubjectBatchCompleted = "batch.completed"
	SubjectRunCompleted   = "run.completed"
)

// Broker publishes notifications on a NATS connection.
type Broker struct {
	nc *nats.Conn
}

// NewBroker creates a Broker on an existing connection.
func NewBroker(nc *nats.Conn) *Broker {
	return &Broker{nc: nc}
}

// NotifyBatchComplete announces a finished (or paused) batch drive.
func (b *Broker) NotifyBatchComplete(ctx context.Context, summary core.BatchSummary) {
	b.publish(SubjectBatchCompleted, summary)
}

// NotifyRunComplete announces a batch run that reached all its teams.
func (b *Broker) NotifyRunComplete(ctx context.Context, run *core.BatchRun) {
	b.publish(SubjectRunCompleted, run)
}

func (b *Broker) publish(eventType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode notification", "event", eventType, "error", err)
		return
	}
	if err := b.nc.Publish(queue.EventSubject(eventType), data); err != nil {
		slog.Error("failed to publish notification", "event", eventType, "error", err)
	}
}
