package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerManager manages per-queue pull consumers and in-flight message
// tracking. Tasks are acked by task id after the terminal record update
// succeeds (late ack), so a crash mid-execution causes redelivery.
type ConsumerManager struct {
	js        jetstream.JetStream
	consumers sync.Map // map[string]jetstream.Consumer
	inflight  sync.Map // map[string]jetstream.Msg (task_id -> message)
}

// NewConsumerManager creates a ConsumerManager.
func NewConsumerManager(js jetstream.JetStream) *ConsumerManager {
	return &ConsumerManager{js: js}
}

func (cm *ConsumerManager) consumer(ctx context.Context, queue string) (jetstream.Consumer, error) {
	if c, ok := cm.consumers.Load(queue); ok {
		return c.(jetstream.Consumer), nil
	}
	consumer, err := EnsureConsumer(ctx, cm.js, queue)
	if err != nil {
		return nil, err
	}
	cm.consumers.Store(queue, consumer)
	return consumer, nil
}

// Next pulls at most one task from a queue, honoring the prefetch-1
// discipline. Returns ("", nil, nil) when no task is waiting.
func (cm *ConsumerManager) Next(ctx context.Context, queue string, wait time.Duration) (string, []byte, error) {
	consumer, err := cm.consumer(ctx, queue)
	if err != nil {
		return "", nil, err
	}

	msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(wait))
	if err != nil {
		// Timeout or no messages is not an error.
		return "", nil, nil
	}

	for msg := range msgs.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			msg.Ack()
			continue
		}
		taskID := fmt.Sprintf("%s-%d", ConsumerName(queue), meta.Sequence.Stream)
		cm.inflight.Store(taskID, msg)
		return taskID, msg.Data(), nil
	}

	return "", nil, nil
}

// Ack acknowledges the in-flight message for a task.
func (cm *ConsumerManager) Ack(taskID string) error {
	v, ok := cm.inflight.LoadAndDelete(taskID)
	if !ok {
		// Not tracked (worker restart or already acked).
		return nil
	}
	return v.(jetstream.Msg).Ack()
}

// Term terminates the in-flight message; it will not be redelivered.
func (cm *ConsumerManager) Term(taskID string) error {
	v, ok := cm.inflight.LoadAndDelete(taskID)
	if !ok {
		return nil
	}
	return v.(jetstream.Msg).Term()
}

// InProgress extends the ack deadline for a long-running task.
func (cm *ConsumerManager) InProgress(taskID string) error {
	v, ok := cm.inflight.Load(taskID)
	if !ok {
		return fmt.Errorf("no in-flight message for task %s", taskID)
	}
	return v.(jetstream.Msg).InProgress()
}
