package taskwire

import "context"

// Transport is the client side of one duplex connection to the agent.
// Send must be safe for concurrent use.
type Transport interface {
	// Send sends one outbound frame to the agent.
	Send(data []byte) error
	// Close closes the transport. Closing unblocks the reader and causes the
	// close callback passed to the DialFunc to fire.
	Close() error
}

// DialFunc opens a transport to url. onMessage is invoked for every inbound
// frame in the order the transport surfaces them; onClose is invoked exactly
// once when the transport stops, with the error that ended it.
//
// The connection manager uses DialWebSocket by default; tests substitute a
// scripted implementation.
type DialFunc func(ctx context.Context, url string, onMessage func([]byte), onClose func(error)) (Transport, error)
