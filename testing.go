package taskwire

import (
	"context"
	"sync"

	"github.com/go-json-experiment/json"
)

// FakeDialer is a scripted DialFunc for tests. It records every transport it
// hands out and can be told to fail a number of dials first.
type FakeDialer struct {
	mu        sync.Mutex
	failNext  int
	dialErr   error
	attempts  int
	transport []*FakeTransport
}

// NewFakeDialer creates a dialer whose Dial always succeeds.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

// FailNext makes the next n dials return err.
func (d *FakeDialer) FailNext(n int, err error) {
	d.mu.Lock()
	d.failNext = n
	d.dialErr = err
	d.mu.Unlock()
}

// Dial implements DialFunc.
func (d *FakeDialer) Dial(_ context.Context, _ string, onMessage func([]byte), onClose func(error)) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.attempts++
	if d.failNext > 0 {
		d.failNext--
		return nil, d.dialErr
	}

	t := &FakeTransport{onMessage: onMessage, onClose: onClose}
	d.transport = append(d.transport, t)
	return t, nil
}

// Dials returns how many transports were successfully handed out.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transport)
}

// Attempts returns how many times Dial was called, failures included.
func (d *FakeDialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// Last returns the most recently handed out transport, or nil.
func (d *FakeDialer) Last() *FakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transport) == 0 {
		return nil
	}
	return d.transport[len(d.transport)-1]
}

// FakeTransport is a scripted Transport. Tests inspect what was sent and
// inject inbound frames or a close from the far side.
type FakeTransport struct {
	onMessage func([]byte)
	onClose   func(error)

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

// Send records the outbound payload.
func (t *FakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrNotConnected
	}
	t.sent = append(t.sent, data)
	return nil
}

// Close simulates a local close; the close callback does not fire, matching a
// real transport torn down by the connection manager after it already
// invalidated the dial.
func (t *FakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// Sent returns a snapshot of recorded outbound payloads.
func (t *FakeTransport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

// PushFrame delivers an inbound frame with the given type and payload, as if
// the agent had sent it.
func (t *FakeTransport) PushFrame(ft FrameType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Frame{Type: ft, Payload: raw})
	if err != nil {
		return err
	}
	t.onMessage(data)
	return nil
}

// PushRaw delivers raw inbound bytes, bypassing frame encoding.
func (t *FakeTransport) PushRaw(data []byte) {
	t.onMessage(data)
}

// Drop simulates the far side closing the connection with err.
func (t *FakeTransport) Drop(err error) {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.onClose(err)
}
