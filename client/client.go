// Package client is the caller's side of the engine: a Boundary interface a
// frontend coordinator holds as an injected dependency, plus its HTTP
// implementation against the engine's REST API. No retries or backoff in
// here; a failed call surfaces to the caller, who may retry by hand.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ispkit/stepflow/model"
)

type Boundary interface {
	FetchInstance(ctx context.Context, id string) (*model.WorkflowInstance, error)
	StartInstance(ctx context.Context, id string) (*model.WorkflowInstance, error)
	RecordDecision(ctx context.Context, id, stepId string, req model.DecisionRequest) (*model.ApprovalDecision, error)
	Delegate(ctx context.Context, id, stepId string, req model.DelegateRequest) error
	SubmitForm(ctx context.Context, id, stepId string, req model.SubmitRequest) (*model.WorkflowStep, error)
}

// RemoteError carries the engine's error payload back to the caller,
// including per-field validation messages when the engine sent them.
type RemoteError struct {
	StatusCode int               `json:"-"`
	Message    string            `json:"error"`
	Fields     map[string]string `json:"fields,omitempty"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type Config struct {
	ServerUrl string
	Timeout   time.Duration
}

var _ Boundary = new(httpBoundary)

type httpBoundary struct {
	serverUrl  string
	httpClient *http.Client
}

func NewHttpBoundary(config Config) Boundary {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &httpBoundary{
		serverUrl:  config.ServerUrl,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *httpBoundary) FetchInstance(ctx context.Context, id string) (*model.WorkflowInstance, error) {
	var instance model.WorkflowInstance
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/execution/%s", id), nil, &instance)
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

func (c *httpBoundary) StartInstance(ctx context.Context, id string) (*model.WorkflowInstance, error) {
	var instance model.WorkflowInstance
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/execution/%s/start", id), nil, &instance)
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

func (c *httpBoundary) RecordDecision(ctx context.Context, id, stepId string, req model.DecisionRequest) (*model.ApprovalDecision, error) {
	var decision model.ApprovalDecision
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/execution/%s/step/%s/decision", id, stepId), req, &decision)
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

func (c *httpBoundary) Delegate(ctx context.Context, id, stepId string, req model.DelegateRequest) error {
	return c.call(ctx, http.MethodPost, fmt.Sprintf("/execution/%s/step/%s/delegate", id, stepId), req, nil)
}

func (c *httpBoundary) SubmitForm(ctx context.Context, id, stepId string, req model.SubmitRequest) (*model.WorkflowStep, error) {
	var step model.WorkflowStep
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/execution/%s/step/%s/submit", id, stepId), req, &step)
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (c *httpBoundary) call(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverUrl+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		remote := &RemoteError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(remote); err != nil {
			remote.Message = resp.Status
		}
		return remote
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
