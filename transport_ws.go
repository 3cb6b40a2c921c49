package taskwire

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
)

// wsTransport wraps a client WebSocket connection as a Transport.
type wsTransport struct {
	ws   *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	closed  bool
	readErr error
}

// DialWebSocket opens a WebSocket connection to url and starts its read and
// write pumps. It is the default DialFunc.
func DialWebSocket(ctx context.Context, url string, onMessage func([]byte), onClose func(error)) (Transport, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	t := &wsTransport{
		ws:   ws,
		send: make(chan []byte, 256),
	}

	var pumps conc.WaitGroup
	pumps.Go(func() { t.readPump(onMessage) })
	pumps.Go(t.writePump)
	go func() {
		pumps.Wait()
		t.mu.Lock()
		err := t.readErr
		t.mu.Unlock()
		onClose(err)
	}()

	return t, nil
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.mu.Unlock()

	select {
	case t.send <- data:
		return nil
	default:
		return nil // Drop message if buffer full
	}
}

func (t *wsTransport) Close() error {
	t.shutdown()
	return nil
}

// shutdown closes the send channel exactly once and tears down the socket,
// unblocking both pumps.
func (t *wsTransport) shutdown() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.send)
	}
	t.mu.Unlock()
	t.ws.Close()
}

// readPump reads messages from the WebSocket and hands them to onMessage.
// It exits when the connection errors or is closed.
func (t *wsTransport) readPump(onMessage func([]byte)) {
	for {
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			t.mu.Lock()
			if !t.closed && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.readErr = err
			}
			t.mu.Unlock()
			t.shutdown()
			return
		}
		onMessage(data)
	}
}

// writePump writes messages from the send channel to the WebSocket.
// A write failure closes the socket, which in turn stops the read pump.
func (t *wsTransport) writePump() {
	for data := range t.send {
		if err := t.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			t.ws.Close()
			return
		}
	}
}
