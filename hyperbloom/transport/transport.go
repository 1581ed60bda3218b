// Package transport adapts concrete byte-stream carriers (WebSocket,
// libp2p streams) to the duplex byte-in/byte-out capability the session
// package needs: push chunks out, observe chunks in. The engine itself
// (wire/parser/session/trust) never imports this package — the underlying
// byte transport is always injected.
package transport

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"
)

// Duplex is the capability a Pump needs from the session it drives:
// accept inbound bytes, and be told to emit outbound bytes via a push
// callback supplied at session construction time. Pump itself only needs
// the inbound half; the outbound half is wired by the caller, which passes
// the transport's Push method as the session's push callback.
type Duplex interface {
	Write(chunk []byte)
}

// Pump reads chunks from a carrier and feeds them to sink.Write until the
// carrier returns an error or ctx is done, then calls onClose exactly
// once. LibP2PTransport hands its stream to Pump; the WebSocket
// transports run their own message loops.
type Pump struct {
	ctx     context.Context
	sink    Duplex
	onClose func(error)
}

// NewPump constructs a Pump bound to sink. onClose may be nil.
func NewPump(ctx context.Context, sink Duplex, onClose func(error)) *Pump {
	if onClose == nil {
		onClose = func(error) {}
	}
	return &Pump{ctx: ctx, sink: sink, onClose: onClose}
}

// Run reads from r in a loop, feeding every chunk to the sink, until r
// returns an error (including io.EOF) or the context is cancelled.
func (p *Pump) Run(r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-p.ctx.Done():
			p.onClose(p.ctx.Err())
			return
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.sink.Write(chunk)
		}
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Msg("hyperbloom/transport: pump read error")
			}
			p.onClose(err)
			return
		}
	}
}
