package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/repohealth/orchestrator/internal/core"
)

// casRetries bounds compare-and-set loops. Conditional status transitions
// must never fall back to an unconditional overwrite: losing the race means
// another worker owns the record.
const casRetries = 5

// bucket wraps one NATS KV bucket with JSON and CAS helpers.
type bucket struct {
	kv jetstream.KeyValue
}

func (b bucket) get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := b.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

func (b bucket) put(ctx context.Context, key string, value []byte) error {
	_, err := b.kv.Put(ctx, key, value)
	return err
}

func (b bucket) delete(ctx context.Context, key string) error {
	return b.kv.Delete(ctx, key)
}

func (b bucket) exists(ctx context.Context, key string) bool {
	_, err := b.kv.Get(ctx, key)
	return err == nil
}

func (b bucket) keys(ctx context.Context) ([]string, error) {
	keys, err := b.kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}

func (b bucket) getJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, rev, err := b.get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return 0, fmt.Errorf("unmarshal key %s: %w", key, err)
	}
	return rev, nil
}

func (b bucket) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal key %s: %w", key, err)
	}
	return b.put(ctx, key, data)
}

// svcError normalizes a KV failure into a service error. Errors already
// carrying a service code pass through unchanged; only a missing key maps
// to not_found. Anything else (connectivity, timeouts, exhausted CAS
// retries) stays retryable, so callers never mistake a broker hiccup for
// a deleted record.
func svcError(err error, resourceType, id string) error {
	var svc *core.Error
	if errors.As(err, &svc) {
		return svc
	}
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return core.NewNotFoundError(resourceType, id)
	}
	return core.NewInternalError(fmt.Sprintf("%s '%s': %v", resourceType, id, err))
}

// updateJSON applies load+mutate+store under revision CAS. load must return
// a fresh value each iteration; mutate may return an error to abort without
// writing (the abort error is returned as-is).
func (b bucket) updateJSON(ctx context.Context, key string, load func() any, mutate func(v any) error) error {
	var lastErr error
	for i := 0; i < casRetries; i++ {
		v := load()
		rev, err := b.getJSON(ctx, key, v)
		if err != nil {
			return err
		}
		if err := mutate(v); err != nil {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal key %s: %w", key, err)
		}
		_, err = b.kv.Update(ctx, key, data, rev)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("update key %s: revision conflicts persisted: %w", key, lastErr)
}
