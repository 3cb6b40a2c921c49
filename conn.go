package taskwire

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
)

// Status represents the current state of the connection.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// ConnOptions configures connection behavior.
type ConnOptions struct {
	// URL is the agent's duplex endpoint, e.g. "ws://localhost:8080/ws".
	URL string
	// Dial opens the transport. Default: DialWebSocket.
	Dial DialFunc
	// DialTimeout bounds a single dial attempt. Default: 10s.
	DialTimeout time.Duration
	// ReconnectInterval is the initial reconnect delay. Default: 1s.
	ReconnectInterval time.Duration
	// ReconnectMaxInterval caps the reconnect delay. Default: 10s.
	ReconnectMaxInterval time.Duration
	// ReconnectMaxAttempts is the number of consecutive failed reconnects
	// after which the connection stays down until an explicit Connect.
	// Default: 5.
	ReconnectMaxAttempts int
	// Logger receives connection lifecycle events. Default: slog.Default().
	Logger *slog.Logger
}

func defaultConnOptions() ConnOptions {
	return ConnOptions{
		Dial:                 DialWebSocket,
		DialTimeout:          10 * time.Second,
		ReconnectInterval:    time.Second,
		ReconnectMaxInterval: 10 * time.Second,
		ReconnectMaxAttempts: 5,
	}
}

// reconnectFactor is the exponential backoff multiplier between attempts.
const reconnectFactor = 1.5

// Conn owns one duplex transport to the agent. It tracks connection status,
// drives the reconnection policy, and fans inbound frames and status
// transitions out to subscribers. It holds no task or chat knowledge.
//
// Listener dispatch is serialized: each status transition and each frame is
// delivered to all subscribers, in subscription order, before the next event
// is processed. Listeners must not call back into Conn; hand off to another
// goroutine instead.
type Conn struct {
	opts ConnOptions
	log  *slog.Logger

	mu         sync.Mutex
	status     Status
	transport  Transport
	manual     bool
	attempts   int
	retryTimer *time.Timer
	dialSeq    uint64
	frameSubs  registry[Frame]
	statusSubs registry[Status]
}

// NewConn creates a connection manager for opts.URL. The connection starts
// disconnected; call Connect to open it.
func NewConn(opts ConnOptions) *Conn {
	def := defaultConnOptions()
	if opts.Dial == nil {
		opts.Dial = def.Dial
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = def.ReconnectInterval
	}
	if opts.ReconnectMaxInterval <= 0 {
		opts.ReconnectMaxInterval = def.ReconnectMaxInterval
	}
	if opts.ReconnectMaxAttempts <= 0 {
		opts.ReconnectMaxAttempts = def.ReconnectMaxAttempts
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Conn{
		opts:   opts,
		log:    log,
		status: StatusDisconnected,
	}
}

// Connect opens the transport. It is a no-op when already connecting or
// connected. A dial failure surfaces as StatusError followed by scheduled
// reconnect attempts; Connect itself never returns an error.
func (c *Conn) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusConnecting || c.status == StatusConnected {
		return
	}
	c.manual = false
	c.stopRetryLocked()
	c.dialLocked()
}

// Disconnect closes the transport and suppresses automatic reconnection
// until the next explicit Connect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.manual = true
	c.stopRetryLocked()
	c.dialSeq++ // invalidate in-flight dials and the current transport's close event
	tr := c.transport
	c.transport = nil
	c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
}

// Send marshals v and sends it over the open transport. When no transport is
// open it returns ErrNotConnected and, unless the connection was manually
// disconnected, triggers a reconnect attempt as a side effect.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	tr := c.transport
	if tr == nil || c.status != StatusConnected {
		if !c.manual && c.status != StatusConnecting {
			c.dialLocked()
		}
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	return tr.Send(data)
}

// Status returns the current connection status.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnFrame subscribes fn to inbound frames. Frames are delivered in the order
// the transport surfaces them. The returned function cancels the
// subscription.
func (c *Conn) OnFrame(fn func(Frame)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.frameSubs.add(fn)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		c.frameSubs.remove(id)
		c.mu.Unlock()
	}
}

// OnStatus subscribes fn to status transitions. The current status is
// delivered synchronously before OnStatus returns, so subscribers never need
// a separate status query. The returned function cancels the subscription.
func (c *Conn) OnStatus(fn func(Status)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.statusSubs.add(fn)
	fn(c.status)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		c.statusSubs.remove(id)
		c.mu.Unlock()
	}
}

// dialLocked transitions to connecting and starts an asynchronous dial.
// Caller holds c.mu.
func (c *Conn) dialLocked() {
	c.setStatusLocked(StatusConnecting)
	c.dialSeq++
	seq := c.dialSeq
	go c.dial(seq)
}

func (c *Conn) dial(seq uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	defer cancel()

	tr, err := c.opts.Dial(ctx, c.opts.URL,
		func(data []byte) { c.handleMessage(seq, data) },
		func(err error) { c.handleClose(seq, err) },
	)

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.dialSeq || c.manual {
		// A newer dial or a manual disconnect superseded this attempt.
		if tr != nil {
			go tr.Close()
		}
		return
	}

	if err != nil {
		c.log.Warn("dial failed", "url", c.opts.URL, "attempt", c.attempts, "error", err)
		c.setStatusLocked(StatusError)
		c.scheduleReconnectLocked()
		return
	}

	c.transport = tr
	c.attempts = 0
	c.setStatusLocked(StatusConnected)
}

func (c *Conn) handleMessage(seq uint64, data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.log.Warn("dropping malformed frame", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.dialSeq {
		return // stale transport
	}
	c.frameSubs.notify(frame)
}

func (c *Conn) handleClose(seq uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.dialSeq {
		return // already superseded or manually torn down
	}
	if err != nil {
		c.log.Warn("connection closed", "error", err)
	}
	c.transport = nil
	c.setStatusLocked(StatusDisconnected)
	if !c.manual {
		c.scheduleReconnectLocked()
	}
}

// scheduleReconnectLocked arms the single pending reconnect timer, superseding
// any prior unfired one. Caller holds c.mu.
func (c *Conn) scheduleReconnectLocked() {
	if c.attempts >= c.opts.ReconnectMaxAttempts {
		c.log.Warn("reconnect attempts exhausted", "attempts", c.attempts)
		c.setStatusLocked(StatusDisconnected)
		return
	}

	delay := time.Duration(float64(c.opts.ReconnectInterval) * math.Pow(reconnectFactor, float64(c.attempts)))
	if delay > c.opts.ReconnectMaxInterval {
		delay = c.opts.ReconnectMaxInterval
	}
	c.attempts++

	c.stopRetryLocked()
	c.retryTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.manual || c.status == StatusConnected || c.status == StatusConnecting {
			return
		}
		c.dialLocked()
	})
}

func (c *Conn) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// setStatusLocked records a status transition and notifies subscribers in
// order. Repeated identical statuses are not re-broadcast. Caller holds c.mu.
func (c *Conn) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	c.statusSubs.notify(s)
}
