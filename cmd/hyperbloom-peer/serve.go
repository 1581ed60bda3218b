package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/hyperbloom/hyperbloom/discovery"
	"github.com/gosuda/hyperbloom/hyperbloom/session"
	"github.com/gosuda/hyperbloom/hyperbloom/store"
	"github.com/gosuda/hyperbloom/hyperbloom/transport"
	"github.com/gosuda/hyperbloom/hyperbloom/wire"
)

// peerOptions bundles the credentials and collaborators a demo session
// needs, whether it was accepted inbound or dialed outbound.
type peerOptions struct {
	feedKey    ed25519.PublicKey
	privateKey ed25519.PrivateKey
	chain      [][]byte
	store      *store.Store
	registry   *registry
}

// streamHandler returns the handler transport.NewHost installs: every
// inbound stream starts a new Session.
func streamHandler(ctx context.Context, opts peerOptions) func(network.Stream) {
	return func(s network.Stream) {
		startSession(ctx, transport.NewLibP2PTransport(s), opts)
	}
}

// dialLoop periodically checks the rendezvous table for peers announcing
// feed and opens a session to any peer this loop has not already dialed.
func dialLoop(ctx context.Context, h host.Host, rv *discovery.Rendezvous, feed []byte, opts peerOptions) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	dialed := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, p := range rv.Peers(feed) {
				id := p.ID.String()
				if dialed[id] || p.ID == h.ID() {
					continue
				}
				if err := h.Connect(ctx, p.AddrInfo); err != nil {
					log.Debug().Err(err).Str("peer", id).Msg("hyperbloom-peer: dial connect failed")
					continue
				}
				tr, err := transport.Dial(ctx, h, p.ID)
				if err != nil {
					log.Debug().Err(err).Str("peer", id).Msg("hyperbloom-peer: dial stream failed")
					continue
				}
				dialed[id] = true
				startSession(ctx, tr, opts)
			}
		}
	}
}

// streamCarrier is the minimal interface both transport adapters expose to
// startSession: push outbound bytes and run the inbound pump.
type streamCarrier interface {
	Push(chunk []byte)
	Run(ctx context.Context, sink transport.Duplex, onClose func(error))
}

// startSession wires one stream to a new protocol Session and pumps
// inbound bytes into it until the stream closes, recording status in the
// registry and persisting/answering Data and Request traffic against the
// local store.
func startSession(ctx context.Context, t streamCarrier, opts peerOptions) {
	id := opts.registry.add()

	events := &demoEvents{ctx: ctx, opts: opts, regID: id}
	s := session.New(t.Push, events)
	events.session = s

	go t.Run(ctx, s, func(err error) {
		opts.registry.remove(id)
		s.Destroy()
	})

	if err := s.Start(session.Options{
		FeedKey:    opts.feedKey,
		PrivateKey: opts.privateKey,
		Chain:      opts.chain,
	}); err != nil {
		log.Warn().Err(err).Msg("hyperbloom-peer: session start failed")
	}
}

// demoEvents implements session.Events for the demo binary: it logs every
// milestone, tracks status in the registry, and turns Data/Request
// traffic into store reads/writes.
type demoEvents struct {
	ctx     context.Context
	opts    peerOptions
	regID   int
	session *session.Session
}

func (e *demoEvents) OnOpen(open *wire.Open) {
	e.opts.registry.markOpen(e.regID)
}

func (e *demoEvents) OnSecure(id []byte, chain [][]byte) {
	e.opts.registry.markSecure(e.regID, fmtID(id))
	log.Info().Str("remote", fmtID(id)).Int("chainLen", len(chain)).Msg("hyperbloom-peer: secure")

	values, err := e.opts.store.All()
	if err != nil {
		log.Warn().Err(err).Msg("hyperbloom-peer: store.All failed")
		return
	}
	if len(values) > 0 {
		_ = e.session.Data(&wire.Data{Values: values}, nil)
	}
}

func (e *demoEvents) OnMessage(kind wire.Kind, m wire.Message) {
	switch v := m.(type) {
	case *wire.Data:
		for _, value := range v.Values {
			if err := e.opts.store.Put(value); err != nil {
				log.Warn().Err(err).Msg("hyperbloom-peer: store.Put failed")
			}
		}
	case *wire.Request:
		values, err := e.opts.store.Range(v.Start, rangeEnd(v), rangeLimit(v))
		if err != nil {
			log.Warn().Err(err).Msg("hyperbloom-peer: store.Range failed")
			return
		}
		if len(values) > 0 {
			_ = e.session.Data(&wire.Data{Values: values}, nil)
		}
	}
}

func (e *demoEvents) OnChainUpdate(chain [][]byte) {
	log.Info().Int("chainLen", len(chain)).Msg("hyperbloom-peer: chain-update")
}

func (e *demoEvents) OnError(err error) {
	log.Warn().Err(err).Msg("hyperbloom-peer: session error")
}

func (e *demoEvents) OnClose() {
	e.opts.registry.remove(e.regID)
}

func rangeEnd(r *wire.Request) []byte {
	if r.HasEnd {
		return r.End
	}
	return nil
}

func rangeLimit(r *wire.Request) uint32 {
	if r.HasLimit {
		return r.Limit
	}
	return 0
}

func fmtID(id []byte) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return hex.EncodeToString(id)
}
