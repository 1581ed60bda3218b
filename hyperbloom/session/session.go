// Package session implements the HyperBloom Session: identity, handshake
// state, the per-direction keystreams, the post-secure send queue, and the
// dispatch of decoded messages into trust-chain logic and the caller's
// event callbacks.
package session

import (
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/hyperbloom/hyperbloom/cryptoops"
	"github.com/gosuda/hyperbloom/hyperbloom/parser"
	"github.com/gosuda/hyperbloom/hyperbloom/trust"
	"github.com/gosuda/hyperbloom/hyperbloom/wire"
)

var (
	ErrFeedKeySize       = errors.New("hyperbloom/session: feedKey must be 32 bytes")
	ErrPrivateKeySize    = errors.New("hyperbloom/session: privateKey must be 64 bytes")
	ErrChainTooLong      = errors.New("hyperbloom/session: chain exceeds maximum length")
	ErrDiscoveryKeySize  = errors.New("hyperbloom/session: discoveryKey must be 32 bytes")
	ErrIDSize            = errors.New("hyperbloom/session: id must be 32 bytes")
	ErrInvalidChain      = errors.New("hyperbloom/session: chain self-check failed")
	ErrFeedMismatch      = errors.New("hyperbloom/session: Open.feed does not match local feed")
	ErrUntrustedPeer     = errors.New("hyperbloom/session: remote handshake did not verify")
	ErrProtocolViolation = errors.New("hyperbloom/session: protocol invariant violated")
	ErrCallerMisuse      = errors.New("hyperbloom/session: missing required field")
	ErrDestroyed         = errors.New("hyperbloom/session: session destroyed")
)

// Events is the callback table a Session reports named protocol events
// through.
type Events interface {
	OnOpen(open *wire.Open)
	OnSecure(id []byte, chain [][]byte)
	OnMessage(kind wire.Kind, m wire.Message)
	OnChainUpdate(chain [][]byte)
	OnError(err error)
	OnClose()
}

// Options supplies or completes a Session's credentials via Start.
type Options struct {
	FeedKey      []byte
	PrivateKey   []byte
	Chain        [][]byte
	DiscoveryKey []byte // optional; derived from FeedKey if nil
	ID           []byte // optional; random if nil
}

// Session is a stateful protocol endpoint. It is driven by Write (inbound
// bytes) and a push callback (outbound bytes, supplied by the caller) and
// reports events through Events.
type Session struct {
	events Events
	push   func([]byte)
	parser *parser.Parser
	trace  string // log-correlation id only, never on the wire

	// credentials, set by Start
	started    bool
	feedKey    []byte
	feed       []byte
	privateKey []byte
	chain      [][]byte
	id         []byte

	// handshake state
	localNonce        []byte
	remoteOpen        *wire.Open
	paired            bool
	pairedHash        []byte
	reversePairedHash []byte

	outKeystream *cryptoops.Keystream

	secure      bool
	remoteID    []byte
	remoteChain [][]byte

	sendQueue []func()

	destroyed bool
}

// New creates a Session with no credentials. push receives every outbound
// byte chunk (the Open frame and all subsequent frames) in order; it is
// called synchronously and must not block indefinitely.
func New(push func([]byte), events Events) *Session {
	s := &Session{
		events: events,
		push:   push,
		trace:  uuid.NewString(),
	}
	s.parser = parser.New(s)
	return s
}

// Write feeds inbound bytes from the transport into the session.
func (s *Session) Write(chunk []byte) {
	if s.destroyed {
		return
	}
	s.parser.Write(chunk)
}

// Start supplies or completes credentials: it validates the key and chain
// material, self-checks that privateKey can sign for the chain's terminal
// public key, emits the plaintext Open frame, and — if the remote Open has
// already arrived — runs the pairing and handshake emission path.
func (s *Session) Start(opts Options) error {
	if s.destroyed {
		return ErrDestroyed
	}
	if s.started {
		return nil
	}
	if len(opts.FeedKey) != 32 {
		return ErrFeedKeySize
	}
	if len(opts.PrivateKey) != cryptoops.PrivateKeySize {
		return ErrPrivateKeySize
	}
	if len(opts.Chain) > trust.MaxChainLength {
		return ErrChainTooLong
	}

	feed := opts.DiscoveryKey
	if feed == nil {
		h, err := cryptoops.Hash(cryptoops.DiscoveryHashKey, opts.FeedKey)
		if err != nil {
			return err
		}
		feed = h
	} else if len(feed) != cryptoops.HashSize {
		return ErrDiscoveryKeySize
	}

	if err := trust.SelfCheck(opts.FeedKey, opts.PrivateKey, opts.Chain); err != nil {
		return ErrInvalidChain
	}

	id := opts.ID
	if id == nil {
		randomID, err := cryptoops.RandomBytes(32)
		if err != nil {
			return err
		}
		id = randomID
	} else if len(id) != 32 {
		return ErrIDSize
	}

	s.feedKey = opts.FeedKey
	s.feed = feed
	s.privateKey = opts.PrivateKey
	s.chain = opts.Chain
	s.id = id
	s.started = true

	localNonce, err := cryptoops.RandomBytes(cryptoops.NonceSize)
	if err != nil {
		return err
	}
	s.localNonce = localNonce

	s.emitOpen()

	ks, err := cryptoops.NewKeystream(s.feedKey, s.localNonce)
	if err != nil {
		return err
	}
	s.outKeystream = ks

	if s.remoteOpen != nil {
		s.tryPair()
	}
	return nil
}

// emitOpen writes the single plaintext Open frame: MAGIC ‖ varint(len) ‖
// Open-body.
func (s *Session) emitOpen() {
	frame := wire.EncodeOpen(&wire.Open{Feed: s.feed, Nonce: s.localNonce})
	s.push(frame)
}

// OnOpen implements parser.Sink: called once the parser has decoded the
// remote's Open frame.
func (s *Session) OnOpen(open *wire.Open) {
	s.remoteOpen = open
	s.events.OnOpen(open)
	if s.started {
		s.tryPair()
	}
}

// tryPair runs once both credentials and the remote Open are known: it
// verifies the feed, derives the paired hashes, zeros the nonces,
// installs inKeystream, emits the local Handshake, and resumes the
// parser.
func (s *Session) tryPair() {
	if s.paired || !s.started || s.remoteOpen == nil {
		return
	}
	if string(s.remoteOpen.Feed) != string(s.feed) {
		s.fail(ErrFeedMismatch)
		return
	}

	remoteNonce := s.remoteOpen.Nonce
	pairedHash, err := cryptoops.Hash(cryptoops.HashKey, concat(s.localNonce, remoteNonce))
	if err != nil {
		s.fail(err)
		return
	}
	reversePairedHash, err := cryptoops.Hash(cryptoops.HashKey, concat(remoteNonce, s.localNonce))
	if err != nil {
		s.fail(err)
		return
	}
	s.reversePairedHash = reversePairedHash

	inKeystream, err := cryptoops.NewKeystream(s.feedKey, remoteNonce)
	if err != nil {
		s.fail(err)
		return
	}

	// localNonce and remoteNonce are zeroed once the paired hashes are
	// computed and are never referenced again.
	wipe(s.localNonce)
	wipe(remoteNonce)
	s.localNonce = nil
	s.remoteOpen = nil

	s.paired = true
	s.pairedHash = pairedHash

	log.Debug().Str("session", s.trace).Msg("hyperbloom/session: paired, emitting handshake")
	s.emitHandshake()

	s.parser.Resume(inKeystream)
}

func (s *Session) fail(err error) {
	if s.destroyed {
		return
	}
	log.Warn().Str("session", s.trace).Err(err).Msg("hyperbloom/session: fatal error")
	s.events.OnError(err)
	s.Destroy()
}

// Destroy is a single-shot idempotent shutdown: it releases the outbound
// keystream, drops pending send-queue entries without invoking their
// callbacks, and emits close exactly once. The parser keeps its inbound
// keystream, but Write ignores every chunk once the session is destroyed.
func (s *Session) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.outKeystream = nil
	s.sendQueue = nil
	s.events.OnClose()
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
