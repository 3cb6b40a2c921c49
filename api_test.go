package taskwire

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskClientList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/tasks", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":[
			{"id":1,"title":"a","status":"active","priority":"high","created_at":"2024-03-01T10:00:00Z","updated_at":"2024-03-01T10:00:00Z"},
			{"id":2,"title":"b","status":"completed","priority":"low","due_date":"2024-03-20","created_at":"2024-03-01T10:00:00Z","updated_at":"2024-03-02T10:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	tasks, err := NewTaskClient(srv.URL, nil).List(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "a", tasks[0].Title)
	require.NotNil(t, tasks[1].DueDate)
	assert.Equal(t, "2024-03-20", tasks[1].DueDate.String())
}

func TestTaskClientCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"title":"buy milk","priority":"high"}`, string(body))
		w.Write([]byte(`{"success":true,"data":{"id":5,"title":"buy milk","status":"active","priority":"high","created_at":"2024-03-01T10:00:00Z","updated_at":"2024-03-01T10:00:00Z"}}`))
	}))
	defer srv.Close()

	task, err := NewTaskClient(srv.URL, nil).Create(context.Background(), TaskDraft{Title: "buy milk", Priority: PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, int64(5), task.ID)
}

func TestTaskClientUpdatePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/tasks/7", r.URL.Path)
		w.Write([]byte(`{"success":true,"data":{"id":7,"title":"x","status":"completed","priority":"low","created_at":"2024-03-01T10:00:00Z","updated_at":"2024-03-01T10:00:00Z"}}`))
	}))
	defer srv.Close()

	status := TaskStatusCompleted
	task, err := NewTaskClient(srv.URL, nil).Update(context.Background(), 7, TaskPatch{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, task.Status)
}

func TestTaskClientEnvelopeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"title is required"}`))
	}))
	defer srv.Close()

	_, err := NewTaskClient(srv.URL, nil).Create(context.Background(), TaskDraft{})
	require.Error(t, err)
	assert.Equal(t, KindRequest, KindOf(err))
	assert.Contains(t, err.Error(), "title is required")
}

func TestTaskClientNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"message":"task 9 not found"}`))
	}))
	defer srv.Close()

	err := NewTaskClient(srv.URL, nil).Delete(context.Background(), 9)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestTaskClientStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tasks/stats", r.URL.Path)
		w.Write([]byte(`{"success":true,"data":{"total":3,"active":2,"completed":1,"overdue":1}}`))
	}))
	defer srv.Close()

	st, err := NewTaskClient(srv.URL, nil).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Active: 2, Completed: 1, Overdue: 1}, st)
}

func TestAgentClientChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"message":"list tasks"}`, string(body))
		w.Write([]byte(`{"response":"Here you go.","actions":[{"type":"list","tasks":[]}]}`))
	}))
	defer srv.Close()

	reply, err := NewAgentClient(srv.URL, nil).Chat(context.Background(), "list tasks")
	require.NoError(t, err)
	assert.Equal(t, "Here you go.", reply.Response)
	require.Len(t, reply.Actions, 1)
	assert.Equal(t, MutationList, reply.Actions[0].Type)
}

func TestAgentClientChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewAgentClient(srv.URL, nil).Chat(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, KindRequest, KindOf(err))
}
