package taskwire

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Origin identifies who produced a transcript message.
type Origin string

const (
	OriginUser   Origin = "user"
	OriginAgent  Origin = "agent"
	OriginSystem Origin = "system"
)

// Message is one entry in the conversation transcript. User and system
// messages get client-generated ULIDs; agent messages keep the id the server
// assigned when one is present.
type Message struct {
	ID        string    `json:"id"`
	Origin    Origin    `json:"origin"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func newMessage(origin Origin, body string) Message {
	return Message{
		ID:        ulid.Make().String(),
		Origin:    origin,
		Body:      body,
		CreatedAt: time.Now(),
	}
}
