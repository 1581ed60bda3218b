package transport

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/rs/zerolog/log"
)

// ProtocolID is the libp2p stream protocol a hyperbloom peer speaks.
// Opening a stream under this id hands both sides directly into the
// HyperBloom byte stream — no libp2p-level multistream negotiation beyond
// the protocol id itself.
const ProtocolID = protocol.ID("/hyperbloom/1.0.0")

// NewHost builds a libp2p host for hyperbloom traffic, listening on port
// over TCP and QUIC on every interface, and installs onStream as the
// ProtocolID handler before returning — so the host is never dialable
// without also being able to accept. libp2p's default transports,
// security, and muxers apply; NAT port mapping and hole punching are on
// because sync peers are typically behind home routers.
func NewHost(port int, enableRelay bool, onStream func(network.Stream)) (host.Host, error) {
	listen := make([]string, 0, 4)
	for _, ip := range []string{"/ip4/0.0.0.0", "/ip6/::"} {
		listen = append(listen,
			fmt.Sprintf("%s/tcp/%d", ip, port),
			fmt.Sprintf("%s/udp/%d/quic-v1", ip, port),
		)
	}
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(listen...),
		libp2p.NATPortMap(),
		libp2p.EnableHolePunching(),
	}
	if enableRelay {
		opts = append(opts, libp2p.EnableRelay())
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	if onStream != nil {
		h.SetStreamHandler(ProtocolID, onStream)
	}
	return h, nil
}

// LibP2PTransport wraps a single network.Stream as the duplex byte
// adapter the Session drives. One stream carries exactly one HyperBloom
// session.
type LibP2PTransport struct {
	stream network.Stream
}

// NewLibP2PTransport wraps an already-open stream (either accepted by the
// handler NewHost installs or opened via Dial).
func NewLibP2PTransport(s network.Stream) *LibP2PTransport {
	return &LibP2PTransport{stream: s}
}

// Dial opens a new HyperBloom stream to peer p over h.
func Dial(ctx context.Context, h host.Host, p peer.ID) (*LibP2PTransport, error) {
	s, err := h.NewStream(ctx, p, ProtocolID)
	if err != nil {
		return nil, err
	}
	return NewLibP2PTransport(s), nil
}

// Push writes one outbound chunk to the stream.
func (t *LibP2PTransport) Push(chunk []byte) {
	if _, err := t.stream.Write(chunk); err != nil {
		log.Debug().Err(err).Msg("hyperbloom/transport: libp2p stream write failed")
	}
}

// Run pumps inbound stream bytes into sink until the stream closes or ctx
// is cancelled.
func (t *LibP2PTransport) Run(ctx context.Context, sink Duplex, onClose func(error)) {
	NewPump(ctx, sink, onClose).Run(t.stream)
}

// Close closes the underlying stream.
func (t *LibP2PTransport) Close() error {
	return t.stream.Close()
}
