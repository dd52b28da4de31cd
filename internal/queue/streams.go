package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Execution-time limits for one task delivery. The analyzer call is the
// dominant latency source; AckWait is the hard limit after which the broker
// considers the delivery lost.
const (
	HardTimeLimit = 3600 * time.Second
	SoftTimeLimit = 3300 * time.Second
)

// SetupJetStream creates the task stream and the scheduled-tasks bucket.
func SetupJetStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{AllTasksSubject()},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		Discard:   jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", StreamName, err)
	}

	_, err = js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  BucketScheduled,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("creating KV bucket %s: %w", BucketScheduled, err)
	}

	return nil
}

// EnsureConsumer creates or updates the durable pull consumer for a queue.
//
// MaxAckPending is pinned to 1: the broker will not deliver another task on
// this queue until the in-flight one is acknowledged, enforcing strict
// sequential processing per queue. MaxDeliver is unlimited: a delivery left
// unacked (worker crash, shutdown mid-task) comes back after AckWait, and
// the executor absorbs an already-terminal redelivery as a no-op. Analyzer
// retries are managed via record state and re-published explicitly, never
// by broker redelivery.
func EnsureConsumer(ctx context.Context, js jetstream.JetStream, queue string) (jetstream.Consumer, error) {
	consumer, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName(queue),
		FilterSubject: TasksSubject(queue),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       HardTimeLimit,
		MaxAckPending: 1,
		MaxDeliver:    -1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("creating consumer for queue %s: %w", queue, err)
	}
	return consumer, nil
}
