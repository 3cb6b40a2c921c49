package taskwire

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
)

// DefaultWelcome seeds the transcript and is what ClearMessages resets to.
const DefaultWelcome = "Hi! I'm your task assistant. Ask me to create, update, complete or list tasks."

// defaultReplyTimeout bounds the wait for the frame answering a message sent
// over the live connection. The fallback path is bounded by its HTTP client.
const defaultReplyTimeout = 60 * time.Second

// reconnectPause is the settle delay between the disconnect and connect
// halves of a user-initiated reconnect.
const reconnectPause = 250 * time.Millisecond

// MutationHandler receives each task mutation intent issued by the agent,
// exactly once, in the order the agent listed them.
type MutationHandler func(MutationIntent)

// ConversationOptions configures a Conversation.
type ConversationOptions struct {
	// Conn is the live duplex connection. Optional; without it every message
	// goes over the fallback client.
	Conn *Conn
	// Agent is the request/response fallback used when the connection is not
	// open. Optional when Conn is set.
	Agent *AgentClient
	// Welcome overrides the seeded welcome message body.
	Welcome string
	// ReplyTimeout bounds the wait for an answer over the live connection.
	// Default: 60s.
	ReplyTimeout time.Duration
	// Logger receives classification and drop events. Default: slog.Default().
	Logger *slog.Logger
}

// Conversation owns the ordered transcript of exchanged messages. It sends
// outbound user messages over the live connection when one exists, falls back
// to request/response otherwise, and demultiplexes inbound frames into agent
// replies, task mutation notices and failure notices.
type Conversation struct {
	conn         *Conn
	agent        *AgentClient
	log          *slog.Logger
	welcome      string
	replyTimeout time.Duration
	unsubFrame   func()

	mu         sync.Mutex
	messages   []Message
	processing bool
	errText    string
	onMutation MutationHandler
	reqSeq     uint64
	replyTimer *time.Timer
}

// NewConversation creates a coordinator seeded with the welcome message and,
// when a connection is supplied, subscribed to its inbound frames.
func NewConversation(opts ConversationOptions) *Conversation {
	welcome := opts.Welcome
	if welcome == "" {
		welcome = DefaultWelcome
	}
	replyTimeout := opts.ReplyTimeout
	if replyTimeout <= 0 {
		replyTimeout = defaultReplyTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	c := &Conversation{
		conn:         opts.Conn,
		agent:        opts.Agent,
		log:          log,
		welcome:      welcome,
		replyTimeout: replyTimeout,
		messages:     []Message{newMessage(OriginSystem, welcome)},
	}
	if c.conn != nil {
		// Handled synchronously so frames are classified in the order the
		// transport surfaced them. The handler chain never calls back into
		// the connection.
		c.unsubFrame = c.conn.OnFrame(c.handleFrame)
	}
	return c
}

// Close cancels the frame subscription and any pending reply timer. The
// transcript remains readable.
func (c *Conversation) Close() {
	if c.unsubFrame != nil {
		c.unsubFrame()
	}
	c.mu.Lock()
	c.stopReplyTimerLocked()
	c.mu.Unlock()
}

// OnMutation registers the handler invoked for each agent-issued task
// mutation intent. Intents from a single reply are delivered in order.
func (c *Conversation) OnMutation(fn MutationHandler) {
	c.mu.Lock()
	c.onMutation = fn
	c.mu.Unlock()
}

// SendUserMessage appends text to the transcript as a user message and
// dispatches it to the agent. It returns ErrBlankMessage for blank input and
// ErrBusy while a previous send is still being answered. Delivery failures
// are recorded as observable error state, never panics.
func (c *Conversation) SendUserMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrBlankMessage
	}

	live := c.conn != nil && c.conn.Status() == StatusConnected

	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return ErrBusy
	}
	c.processing = true
	c.errText = ""
	c.reqSeq++
	seq := c.reqSeq
	c.messages = append(c.messages, newMessage(OriginUser, text))
	c.mu.Unlock()

	if live || c.agent == nil {
		return c.sendOverConn(text, seq)
	}
	return c.sendOverFallback(ctx, text)
}

// sendOverConn sends on the live connection; the reply arrives asynchronously
// as a chat frame. A reply timer guards against the answer never arriving.
func (c *Conversation) sendOverConn(text string, seq uint64) error {
	if err := c.conn.Send(OutboundMessage{Message: text}); err != nil {
		c.fail("could not reach the agent; reconnecting")
		return err
	}

	c.mu.Lock()
	c.stopReplyTimerLocked()
	c.replyTimer = time.AfterFunc(c.replyTimeout, func() { c.expireReply(seq) })
	c.mu.Unlock()
	return nil
}

// sendOverFallback performs the one-shot request/response call.
func (c *Conversation) sendOverFallback(ctx context.Context, text string) error {
	reply, err := c.agent.Chat(ctx, text)
	if err != nil {
		c.log.Warn("fallback chat failed", "error", err)
		c.fail("the agent could not process your message")
		return err
	}
	c.finish(reply)
	return nil
}

// handleFrame classifies one inbound frame. Malformed payloads are dropped
// and logged; the connection is retained.
func (c *Conversation) handleFrame(f Frame) {
	switch f.Type {
	case FrameChat:
		var p ChatPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.log.Warn("dropping malformed chat payload", "error", err)
			return
		}
		c.finish(&p)

	case FrameTaskUpdate:
		var p TaskUpdatePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.log.Warn("dropping malformed task update payload", "error", err)
			return
		}
		c.noteTaskUpdate(&p)

	case FrameError:
		var p ErrorPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			c.log.Warn("dropping malformed error payload", "error", err)
			return
		}
		msg := p.Message
		if msg == "" {
			msg = "the agent reported an error"
		}
		// Clears processing even with no request outstanding, so an
		// unsolicited server error can never wedge the coordinator.
		c.fail(msg)

	default:
		c.log.Warn("dropping frame with unknown type", "type", f.Type)
	}
}

// finish records the agent's reply and fans its mutation intents out to the
// registered handler, in order.
func (c *Conversation) finish(reply *ChatPayload) {
	msg := newMessage(OriginAgent, reply.Response)
	if reply.MessageID != "" {
		msg.ID = reply.MessageID
	}

	c.mu.Lock()
	c.processing = false
	c.stopReplyTimerLocked()
	c.messages = append(c.messages, msg)
	handler := c.onMutation
	c.mu.Unlock()

	if handler == nil {
		return
	}
	for _, action := range reply.Actions {
		handler(action)
	}
}

// noteTaskUpdate appends an informational message for an unsolicited task
// change and forwards its intent. Processing state is left untouched.
func (c *Conversation) noteTaskUpdate(p *TaskUpdatePayload) {
	c.mu.Lock()
	if p.Message != "" {
		c.messages = append(c.messages, newMessage(OriginSystem, p.Message))
	}
	handler := c.onMutation
	c.mu.Unlock()

	if handler != nil && p.Action != nil {
		handler(*p.Action)
	}
}

// fail records a user-visible error and releases the processing flag.
func (c *Conversation) fail(msg string) {
	c.mu.Lock()
	c.processing = false
	c.stopReplyTimerLocked()
	c.errText = msg
	c.messages = append(c.messages, newMessage(OriginSystem, msg))
	c.mu.Unlock()
}

// expireReply fires when the answering frame never arrived. It only releases
// the request it was armed for.
func (c *Conversation) expireReply(seq uint64) {
	c.mu.Lock()
	if seq != c.reqSeq || !c.processing {
		c.mu.Unlock()
		return
	}
	c.processing = false
	c.replyTimer = nil
	c.errText = "the agent did not reply in time"
	c.messages = append(c.messages, newMessage(OriginSystem, c.errText))
	c.mu.Unlock()
}

func (c *Conversation) stopReplyTimerLocked() {
	if c.replyTimer != nil {
		c.replyTimer.Stop()
		c.replyTimer = nil
	}
}

// Messages returns a snapshot of the transcript.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Processing reports whether a send is awaiting its answer.
func (c *Conversation) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// LastError returns the current user-visible error, or "".
func (c *Conversation) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errText
}

// ClearError dismisses the current error.
func (c *Conversation) ClearError() {
	c.mu.Lock()
	c.errText = ""
	c.mu.Unlock()
}

// ClearMessages resets the transcript to the single seeded welcome message
// and clears any error. Connection state is unaffected.
func (c *Conversation) ClearMessages() {
	c.mu.Lock()
	c.messages = []Message{newMessage(OriginSystem, c.welcome)}
	c.errText = ""
	c.mu.Unlock()
}

// Reconnect tears the connection down and dials again after a short pause.
// It is a no-op when the coordinator runs purely over the fallback path.
func (c *Conversation) Reconnect(ctx context.Context) {
	if c.conn == nil {
		return
	}
	c.conn.Disconnect()
	select {
	case <-time.After(reconnectPause):
	case <-ctx.Done():
		return
	}
	c.conn.Connect()
}
