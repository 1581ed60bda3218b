package transport

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// wsConn is the subset of *websocket.Conn a WSTransport needs, kept as a
// seam so tests can substitute a fake connection for a live socket.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// WSTransport carries one HyperBloom session over a gorilla/websocket
// connection, message-oriented in both directions: every outbound push is
// one binary WebSocket message and every inbound binary message is one
// chunk handed to the session. HyperBloom frames carry their own length
// prefixes, so no byte-stream reassembly sits between the socket and the
// frame parser.
type WSTransport struct {
	conn    wsConn
	writeMu sync.Mutex
}

// NewWSTransport wraps conn. Push receives every outbound byte chunk the
// session produces; callers wire it as session.New(t.Push, events).
func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

// Push writes one outbound chunk as a binary WebSocket message.
func (t *WSTransport) Push(chunk []byte) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

// Run feeds inbound binary messages to sink until the connection closes
// or ctx is cancelled, then calls onClose exactly once. A normal peer
// close surfaces as a nil error; non-binary messages are dropped, since
// nothing in the protocol is text.
func (t *WSTransport) Run(ctx context.Context, sink Duplex, onClose func(error)) {
	if onClose == nil {
		onClose = func(error) {}
	}
	for {
		select {
		case <-ctx.Done():
			onClose(ctx.Err())
			return
		default:
		}
		typ, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			onClose(err)
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		sink.Write(data)
	}
}

// Close closes the underlying connection.
func (t *WSTransport) Close() error {
	return t.conn.Close()
}
