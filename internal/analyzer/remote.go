package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/repohealth/orchestrator/internal/core"
)

// Remote delegates analysis to the external pipeline over HTTP. One call
// covers the whole pipeline run; the service streams nothing back until it
// has a full report, so the HTTP client carries no timeout of its own and
// relies on ctx plus the queue's execution-time limit.
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates an analyzer backed by the pipeline service at baseURL.
func NewRemote(baseURL string) *Remote {
	return &Remote{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

type analyzeRequest struct {
	RepoRef string `json:"repo_ref"`
}

type analyzeFailure struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze runs the pipeline for repoRef and returns its report.
//
// 4xx responses are permanent: the request will not get better on retry.
// 5xx and transport failures are transient unless the pipeline itself says
// otherwise in its error body.
func (r *Remote) Analyze(ctx context.Context, repoRef string) (*core.Report, error) {
	body, err := json.Marshal(analyzeRequest{RepoRef: repoRef})
	if err != nil {
		return nil, Permanent("encode analyze request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, Permanent("build analyze request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, Transient("analysis pipeline unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, r.failureFrom(resp)
	}

	var report core.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, Transient("decode analysis report", err)
	}
	return &report, nil
}

func (r *Remote) failureFrom(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var failure analyzeFailure
	if err := json.Unmarshal(raw, &failure); err == nil && failure.Error.Message != "" {
		msg := failure.Error.Message
		switch failure.Error.Code {
		case CodePermanent:
			return Permanent(msg, nil)
		case CodeTransient:
			return Transient(msg, nil)
		}
		// No classified code from the pipeline; fall through to status.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return Permanent(msg, nil)
		}
		return Transient(msg, nil)
	}

	msg := fmt.Sprintf("analysis pipeline returned %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return Permanent(msg, nil)
	}
	return Transient(msg, nil)
}
