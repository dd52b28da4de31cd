package store

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/repohealth/orchestrator/internal/core"
)

// errKV fails every read with a fixed error. The embedded interface covers
// the methods these tests never reach.
type errKV struct {
	jetstream.KeyValue
	err error
}

func (f errKV) Get(context.Context, string) (jetstream.KeyValueEntry, error) {
	return nil, f.err
}

func TestGetJob_MissingKeyMapsToNotFound(t *testing.T) {
	s := &Store{jobs: bucket{kv: errKV{err: jetstream.ErrKeyNotFound}}}

	_, err := s.GetJob(context.Background(), "job-1")
	if !core.IsNotFound(err) {
		t.Fatalf("GetJob() error = %v, want not_found", err)
	}
}

func TestGetJob_BrokerErrorStaysRetryable(t *testing.T) {
	s := &Store{jobs: bucket{kv: errKV{err: errors.New("nats: connection closed")}}}

	_, err := s.GetJob(context.Background(), "job-1")
	if err == nil {
		t.Fatal("GetJob() error = nil, want retryable failure")
	}
	if core.IsNotFound(err) {
		t.Fatal("broker failure reported as not_found")
	}

	var svc *core.Error
	if !errors.As(err, &svc) {
		t.Fatalf("GetJob() error = %T, want *core.Error", err)
	}
	if svc.Code != core.ErrCodeInternalError || !svc.Retryable {
		t.Errorf("error = %+v, want retryable internal_error", svc)
	}
}

func TestUpdateJobIfStatus_BrokerErrorIsNeitherNotFoundNorConflict(t *testing.T) {
	s := &Store{jobs: bucket{kv: errKV{err: errors.New("nats: timeout")}}}

	_, err := s.UpdateJobIfStatus(context.Background(), "job-1", core.JobRunning, func(*core.AnalysisJob) {})
	if err == nil {
		t.Fatal("UpdateJobIfStatus() error = nil, want retryable failure")
	}
	if core.IsNotFound(err) || core.IsConflict(err) {
		t.Fatalf("UpdateJobIfStatus() error = %v, want internal_error", err)
	}
}

func TestGetTeam_MissingKeyMapsToNotFound(t *testing.T) {
	s := &Store{teams: bucket{kv: errKV{err: jetstream.ErrKeyNotFound}}}

	_, err := s.GetTeam(context.Background(), "team-1")
	if !core.IsNotFound(err) {
		t.Fatalf("GetTeam() error = %v, want not_found", err)
	}
}
