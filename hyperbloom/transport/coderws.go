package transport

import (
	"context"

	"github.com/coder/websocket"
)

// CoderWSTransport is a second WebSocket duplex adapter. Unlike
// WSTransport (gorilla, server-accept-shaped), this one favors the
// context-aware Dial path, so a hyperbloom-peer can reach a relay over a
// plain ws:// URL without pulling in a full HTTP client stack for the
// handshake.
type CoderWSTransport struct {
	conn *websocket.Conn
	ctx  context.Context
}

// DialCoderWS dials url and wraps the resulting connection.
func DialCoderWS(ctx context.Context, url string) (*CoderWSTransport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(-1)
	return &CoderWSTransport{conn: conn, ctx: ctx}, nil
}

// Push writes one outbound chunk as a binary WebSocket message.
func (t *CoderWSTransport) Push(chunk []byte) {
	_ = t.conn.Write(t.ctx, websocket.MessageBinary, chunk)
}

// Run reads inbound binary messages and feeds them to sink until the
// connection closes or ctx is cancelled.
func (t *CoderWSTransport) Run(ctx context.Context, sink Duplex, onClose func(error)) {
	if onClose == nil {
		onClose = func(error) {}
	}
	for {
		_, data, err := t.conn.Read(ctx)
		if err != nil {
			onClose(err)
			return
		}
		sink.Write(data)
	}
}

// Close closes the underlying connection with a normal-closure code.
func (t *CoderWSTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
