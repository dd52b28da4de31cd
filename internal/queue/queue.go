// Package queue maps the task-queue contract onto NATS JetStream: one
// work-queue stream with a durable prefetch-1 pull consumer per named queue.
// Delayed delivery is implemented with a scheduled-tasks KV bucket promoted
// by a periodic tick, since JetStream has no native per-message delay.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/repohealth/orchestrator/internal/core"
)

// scheduledTask is the KV record for a task awaiting its delivery time.
type scheduledTask struct {
	Queue   string          `json:"queue"`
	Payload json.RawMessage `json:"payload"`
	DueAt   string          `json:"due_at"`
}

// Queue implements core.TaskQueue over JetStream.
type Queue struct {
	js        jetstream.JetStream
	scheduled jetstream.KeyValue
	consumers *ConsumerManager
}

// New opens the task queue. SetupJetStream must have run first.
func New(ctx context.Context, js jetstream.JetStream) (*Queue, error) {
	scheduled, err := js.KeyValue(ctx, BucketScheduled)
	if err != nil {
		return nil, fmt.Errorf("opening KV bucket %s: %w", BucketScheduled, err)
	}
	return &Queue{
		js:        js,
		scheduled: scheduled,
		consumers: NewConsumerManager(js),
	}, nil
}

// Next pulls at most one task from a queue, honoring the prefetch-1
// discipline. Returns ("", nil, nil) when no task is waiting.
func (q *Queue) Next(ctx context.Context, queueName string, wait time.Duration) (string, []byte, error) {
	return q.consumers.Next(ctx, queueName, wait)
}

// Ack acknowledges the in-flight delivery for a task.
func (q *Queue) Ack(taskID string) error {
	return q.consumers.Ack(taskID)
}

// Term drops the in-flight delivery; the broker will not return it.
func (q *Queue) Term(taskID string) error {
	return q.consumers.Term(taskID)
}

// Enqueue submits a task. With a delay it is parked in the scheduled bucket
// and published once PromoteScheduled finds it due.
func (q *Queue) Enqueue(ctx context.Context, queue string, payload []byte, opts core.EnqueueOptions) (string, error) {
	taskID := core.NewID()

	if opts.Delay > 0 {
		task := scheduledTask{
			Queue:   queue,
			Payload: payload,
			DueAt:   core.FormatTime(time.Now().Add(opts.Delay)),
		}
		data, err := json.Marshal(task)
		if err != nil {
			return "", fmt.Errorf("marshal scheduled task: %w", err)
		}
		if _, err := q.scheduled.Put(ctx, taskID, data); err != nil {
			return "", fmt.Errorf("store scheduled task: %w", err)
		}
		return taskID, nil
	}

	if err := q.publish(ctx, queue, payload, opts.Priority); err != nil {
		return "", err
	}
	return taskID, nil
}

func (q *Queue) publish(ctx context.Context, queue string, payload []byte, priority int) error {
	subject := TasksSubject(queue)
	msg := &nats.Msg{Subject: subject, Data: payload}
	if priority != 0 {
		msg.Header = nats.Header{HeaderPriority: []string{strconv.Itoa(priority)}}
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish task to %s: %w", subject, err)
	}
	return nil
}

// PromoteScheduled publishes tasks whose delivery time has arrived. Called
// from the scheduler's short tick.
func (q *Queue) PromoteScheduled(ctx context.Context, now time.Time) error {
	keys, err := q.scheduled.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil
		}
		return err
	}

	var firstErr error
	for _, taskID := range keys {
		entry, err := q.scheduled.Get(ctx, taskID)
		if err != nil {
			continue
		}

		var task scheduledTask
		if err := json.Unmarshal(entry.Value(), &task); err != nil {
			q.scheduled.Delete(ctx, taskID)
			continue
		}

		dueAt, err := core.ParseTime(task.DueAt)
		if err != nil {
			q.scheduled.Delete(ctx, taskID)
			continue
		}
		if now.Before(dueAt) {
			continue
		}

		// Delete before publish: a crash between the two loses the task to
		// the reaper's requeue path rather than duplicating it forever.
		if err := q.scheduled.Delete(ctx, taskID); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("delete scheduled task %s: %w", taskID, err)
			}
			continue
		}
		if err := q.publish(ctx, task.Queue, task.Payload, 0); err != nil {
			slog.Error("failed to publish promoted task", "task_id", taskID, "queue", task.Queue, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
