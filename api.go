package taskwire

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
)

// defaultRequestTimeout bounds one request/response call against the agent's
// HTTP API when no client is supplied.
const defaultRequestTimeout = 30 * time.Second

// AgentClient is the one-shot request/response fallback used when no live
// connection exists. It talks to the same agent as the duplex transport.
type AgentClient struct {
	base string
	http *http.Client
}

// NewAgentClient creates a fallback client for the agent at base, e.g.
// "http://localhost:8080". A nil httpClient gets a default with a 30s timeout.
func NewAgentClient(base string, httpClient *http.Client) *AgentClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &AgentClient{base: strings.TrimRight(base, "/"), http: httpClient}
}

// Chat sends one user message and returns the agent's reply with any task
// mutation intents it issued.
func (c *AgentClient) Chat(ctx context.Context, text string) (*ChatPayload, error) {
	body, err := json.Marshal(OutboundMessage{Message: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ErrRequestFailed(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(KindRequest, fmt.Sprintf("chat request failed: %s", resp.Status))
	}

	var reply ChatPayload
	if err := decodeBody(resp.Body, &reply); err != nil {
		return nil, ErrRequestFailed(err)
	}
	return &reply, nil
}

// TaskAPI is the task CRUD collaborator consumed by the reconciler.
// Implementations must report rejected operations as errors; there is no
// separate success flag at this level.
type TaskAPI interface {
	List(ctx context.Context) ([]Task, error)
	Create(ctx context.Context, draft TaskDraft) (Task, error)
	Update(ctx context.Context, id int64, patch TaskPatch) (Task, error)
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context) (Stats, error)
}

// TaskClient implements TaskAPI against the agent's REST surface. Every
// response uses the envelope {success, data?, message?}; success:false is
// treated identically to a failed call.
type TaskClient struct {
	base string
	http *http.Client
}

// NewTaskClient creates a task CRUD client for the agent at base. A nil
// httpClient gets a default with a 30s timeout.
func NewTaskClient(base string, httpClient *http.Client) *TaskClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &TaskClient{base: strings.TrimRight(base, "/"), http: httpClient}
}

// envelope is the agent API's uniform response wrapper.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (c *TaskClient) List(ctx context.Context) ([]Task, error) {
	return roundTrip[[]Task](ctx, c, http.MethodGet, "/api/tasks", nil)
}

func (c *TaskClient) Create(ctx context.Context, draft TaskDraft) (Task, error) {
	return roundTrip[Task](ctx, c, http.MethodPost, "/api/tasks", draft)
}

func (c *TaskClient) Update(ctx context.Context, id int64, patch TaskPatch) (Task, error) {
	return roundTrip[Task](ctx, c, http.MethodPut, fmt.Sprintf("/api/tasks/%d", id), patch)
}

func (c *TaskClient) Delete(ctx context.Context, id int64) error {
	_, err := roundTrip[struct{}](ctx, c, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", id), nil)
	return err
}

func (c *TaskClient) Stats(ctx context.Context) (Stats, error) {
	return roundTrip[Stats](ctx, c, http.MethodGet, "/api/tasks/stats", nil)
}

// roundTrip performs one enveloped API call and unwraps the data payload.
func roundTrip[T any](ctx context.Context, c *TaskClient, method, path string, payload any) (T, error) {
	var zero T

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return zero, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return zero, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, ErrRequestFailed(err)
	}
	defer resp.Body.Close()

	var env envelope[T]
	if err := decodeBody(resp.Body, &env); err != nil {
		return zero, ErrRequestFailed(err)
	}

	if resp.StatusCode == http.StatusNotFound {
		msg := env.Message
		if msg == "" {
			msg = "task not found"
		}
		return zero, NewError(KindNotFound, msg)
	}
	if resp.StatusCode >= http.StatusMultipleChoices || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = resp.Status
		}
		return zero, NewError(KindRequest, msg)
	}
	return env.Data, nil
}

func decodeBody(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
