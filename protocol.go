// Package taskwire keeps a locally rendered task list and chat transcript in
// sync with a remote task agent over a duplex connection. It provides the
// connection manager with its reconnection policy, the conversation
// coordinator that classifies inbound frames, and the task state reconciler
// that applies optimistic and agent-issued mutations to a cached collection.
package taskwire

import "github.com/go-json-experiment/json/jsontext"

// FrameType represents the purpose of an inbound frame.
type FrameType string

const (
	FrameChat       FrameType = "chat"
	FrameTaskUpdate FrameType = "task_update"
	FrameError      FrameType = "error"
)

// Frame is one discrete inbound unit from the transport. The payload is kept
// raw; only the conversation coordinator interprets it based on the type tag.
type Frame struct {
	Type    FrameType      `json:"type"`
	Payload jsontext.Value `json:"payload,omitempty"`
}

// OutboundMessage is the frame sent to the agent for a user message.
type OutboundMessage struct {
	Message string `json:"message"`
}

// ChatPayload carries an agent reply. The same shape is returned by the
// request/response fallback endpoint.
type ChatPayload struct {
	MessageID string           `json:"message_id,omitempty"`
	Response  string           `json:"response"`
	Actions   []MutationIntent `json:"actions,omitempty"`
}

// TaskUpdatePayload carries an unsolicited task change pushed by the agent,
// typically caused by another client or a background job.
type TaskUpdatePayload struct {
	Message string          `json:"message,omitempty"`
	Action  *MutationIntent `json:"action,omitempty"`
}

// ErrorPayload carries a failure notice pushed by the agent.
type ErrorPayload struct {
	Message string `json:"message"`
}

// MutationType identifies what kind of task change an agent intent describes.
type MutationType string

const (
	MutationCreate MutationType = "create"
	MutationUpdate MutationType = "update"
	MutationDelete MutationType = "delete"
	MutationList   MutationType = "list"
	MutationFilter MutationType = "filter"
)

// MutationIntent is a structured description of a task change as emitted by
// the agent. Which fields are meaningful depends on Type:
//
//   - create: Data holds the server-assigned task.
//   - update: ID names the task, Data holds its full updated state.
//   - delete: ID names the task to remove.
//   - list, filter: Tasks holds the complete set that should be visible;
//     filter additionally echoes the criteria the agent applied.
type MutationIntent struct {
	Type     MutationType   `json:"type"`
	ID       int64          `json:"id,omitzero"`
	Data     jsontext.Value `json:"data,omitempty"`
	Tasks    []Task         `json:"tasks,omitempty"`
	Criteria string         `json:"criteria,omitempty"`
}
