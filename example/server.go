package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/gorilla/websocket"

	"github.com/aravindsiva13/taskwire"
)

// client is one connected WebSocket peer. Writes are serialized because
// broadcasts race with direct replies.
type client struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *client) writeFrame(f taskwire.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// server exposes the agent over a WebSocket endpoint and an equivalent REST
// surface for clients whose connection is down.
type server struct {
	agent    *agent
	store    *store
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

func newServer(store *store, log *slog.Logger) *server {
	return &server{
		agent: &agent{store: store},
		store: store,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

func (s *server) routes(r chi.Router) {
	r.Get("/ws", s.handleWS)
	r.Post("/api/chat", s.handleChat)
	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleCreateTask)
		r.Get("/stats", s.handleStats)
		r.Put("/{id}", s.handleUpdateTask)
		r.Delete("/{id}", s.handleDeleteTask)
	})
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	c := &client{ws: ws}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	total := len(s.clients)
	s.mu.Unlock()
	s.log.Info("client connected", "remote", ws.RemoteAddr(), "clients", total)

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		ws.Close()
		s.log.Info("client disconnected", "remote", ws.RemoteAddr())
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg taskwire.OutboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(c, "malformed message")
			continue
		}
		reply := s.agent.respond(msg.Message)
		payload, err := json.Marshal(reply)
		if err != nil {
			s.sendError(c, "internal error")
			continue
		}
		if err := c.writeFrame(taskwire.Frame{Type: taskwire.FrameChat, Payload: payload}); err != nil {
			return
		}
		s.broadcastActions(c, reply.Actions)
	}
}

func (s *server) sendError(c *client, msg string) {
	payload, _ := json.Marshal(taskwire.ErrorPayload{Message: msg})
	if err := c.writeFrame(taskwire.Frame{Type: taskwire.FrameError, Payload: payload}); err != nil {
		s.log.Warn("error frame dropped", "error", err)
	}
}

// broadcastActions pushes task_update frames to every peer except the one
// whose message caused the change. The source already learns about the
// mutation through its chat reply.
func (s *server) broadcastActions(source *client, actions []taskwire.MutationIntent) {
	if len(actions) == 0 {
		return
	}
	s.mu.Lock()
	peers := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		if c != source {
			peers = append(peers, c)
		}
	}
	s.mu.Unlock()

	for i := range actions {
		action := actions[i]
		payload, err := json.Marshal(taskwire.TaskUpdatePayload{
			Message: fmt.Sprintf("Task list changed (%s).", action.Type),
			Action:  &action,
		})
		if err != nil {
			continue
		}
		frame := taskwire.Frame{Type: taskwire.FrameTaskUpdate, Payload: payload}
		for _, c := range peers {
			if err := c.writeFrame(frame); err != nil {
				s.log.Warn("broadcast dropped", "error", err)
			}
		}
	}
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var msg taskwire.OutboundMessage
	if err := decodeJSON(r.Body, &msg); err != nil {
		http.Error(w, "malformed message", http.StatusBadRequest)
		return
	}
	reply := s.agent.respond(msg.Message)
	s.broadcastActions(nil, reply.Actions)
	writeJSON(w, http.StatusOK, reply)
}

// envelope is the REST response wrapper for the task CRUD endpoints.
type envelope struct {
	Success bool           `json:"success"`
	Data    jsontext.Value `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
}

func (s *server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusOK, s.store.list(), "")
}

func (s *server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var draft taskwire.TaskDraft
	if err := decodeJSON(r.Body, &draft); err != nil {
		writeEnvelope(w, http.StatusBadRequest, nil, "malformed task")
		return
	}
	if draft.Title == "" {
		writeEnvelope(w, http.StatusBadRequest, nil, "title is required")
		return
	}
	t := s.store.create(draft)
	data, _ := json.Marshal(t)
	s.broadcastActions(nil, []taskwire.MutationIntent{{Type: taskwire.MutationCreate, ID: t.ID, Data: data}})
	writeEnvelope(w, http.StatusCreated, t, "")
}

func (s *server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, nil, "invalid task id")
		return
	}
	var patch taskwire.TaskPatch
	if err := decodeJSON(r.Body, &patch); err != nil {
		writeEnvelope(w, http.StatusBadRequest, nil, "malformed patch")
		return
	}
	t, found := s.store.update(id, patch)
	if !found {
		writeEnvelope(w, http.StatusNotFound, nil, fmt.Sprintf("task %d not found", id))
		return
	}
	data, _ := json.Marshal(t)
	s.broadcastActions(nil, []taskwire.MutationIntent{{Type: taskwire.MutationUpdate, ID: id, Data: data}})
	writeEnvelope(w, http.StatusOK, t, "")
}

func (s *server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, nil, "invalid task id")
		return
	}
	if !s.store.remove(id) {
		writeEnvelope(w, http.StatusNotFound, nil, fmt.Sprintf("task %d not found", id))
		return
	}
	s.broadcastActions(nil, []taskwire.MutationIntent{{Type: taskwire.MutationDelete, ID: id}})
	writeEnvelope(w, http.StatusOK, nil, "")
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusOK, s.store.stats(), "")
}

func decodeJSON(r io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeEnvelope(w http.ResponseWriter, status int, data any, msg string) {
	env := envelope{Success: status < 400, Message: msg}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		env.Data = raw
	}
	writeJSON(w, status, env)
}
