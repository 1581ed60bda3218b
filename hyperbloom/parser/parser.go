// Package parser implements the byte-driven frame state machine that turns
// an inbound HyperBloom byte stream into decoded wire.Message values.
//
// The stream starts in plaintext (MAGIC and the Open frame) and switches
// to ciphertext immediately after, but the inbound cipher key is not known
// until the session has paired nonces with its peer. Bytes that arrive
// past the Open boundary before that point are buffered raw and decrypted
// once Resume installs the keystream.
package parser

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/hyperbloom/hyperbloom/cryptoops"
	"github.com/gosuda/hyperbloom/hyperbloom/wire"
)

// MaxFrameSize bounds both the Open frame and every subsequent message
// frame.
const MaxFrameSize = 262144

var (
	ErrBadMagic           = errors.New("hyperbloom/parser: bad magic")
	ErrFrameTooLarge      = errors.New("hyperbloom/parser: frame too large")
	ErrInvalidNonce       = errors.New("hyperbloom/parser: invalid nonce")
	ErrHandshakeExpected  = errors.New("hyperbloom/parser: handshake expected")
	ErrDuplicateHandshake = errors.New("hyperbloom/parser: duplicate handshake")
	ErrMessageTooBig      = errors.New("hyperbloom/parser: paused backpressure buffer overflow")
)

// state names the parser's position in the frame state machine.
type state int

const (
	stateMagic state = iota
	stateOpenLength
	stateOpenBody
	statePaused
	stateMsgLength
	stateMsgBody
)

// Sink receives the parser's decoded output. Session implements this.
type Sink interface {
	// OnOpen is called once, when the Open frame has been fully decoded.
	// The parser checks only the feed and nonce lengths; comparing
	// open.Feed against the local feed is left to the sink.
	OnOpen(open *wire.Open)
	// OnMessage is called for each known, successfully decoded message
	// after Open. HandshakeExpected and DuplicateHandshake are raised by
	// the parser itself (via OnError) before this is ever called for
	// those cases.
	OnMessage(m wire.Message)
	// OnError is called once for the first fatal parse error; the parser
	// does not continue after this.
	OnError(err error)
}

// Parser is a byte-driven state machine. It owns no transport; callers
// feed it inbound chunks via Write and it calls back into Sink
// synchronously, in-line, exactly once per decoded frame.
type Parser struct {
	sink Sink

	st      state
	waiting uint64 // bytes still needed to complete the current state

	buf []byte // accumulated bytes not yet consumed by the state machine

	// pending holds raw (un-XORed) bytes captured at the Open/ciphertext
	// boundary until the Session installs inKeystream and calls Resume.
	pending []byte
	paused  bool

	inKeystream *cryptoops.Keystream

	expectedHandshake bool // true until the first post-Open message is seen
	sawHandshake      bool

	failed bool
}

// New creates a Parser bound to sink. expectedHandshake starts true: the
// first frame decoded after Open must be a Handshake.
func New(sink Sink) *Parser {
	return &Parser{
		sink:              sink,
		st:                stateMagic,
		waiting:           4,
		expectedHandshake: true,
	}
}

// Write feeds an inbound chunk of arbitrary size into the parser. Once an
// inbound keystream has been installed, every chunk is XORed in place
// before buffering.
func (p *Parser) Write(chunk []byte) {
	if p.failed {
		return
	}
	if p.paused {
		// Credentials for inKeystream are not known yet: buffer raw.
		p.pending = append(p.pending, chunk...)
		if len(p.pending) > MaxFrameSize {
			p.fail(ErrMessageTooBig)
		}
		return
	}
	if p.inKeystream != nil {
		p.inKeystream.Xor(chunk)
	}
	p.buf = append(p.buf, chunk...)
	p.advance()
}

// Resume is called by the Session once inKeystream is ready. It installs
// the keystream, XORs the pending raw tail captured at the Open boundary,
// re-appends it to the buffer, and re-enters the processing loop in state
// MsgLength.
func (p *Parser) Resume(inKeystream *cryptoops.Keystream) {
	if p.failed {
		return
	}
	p.inKeystream = inKeystream
	p.inKeystream.Xor(p.pending)
	p.buf = append(p.buf, p.pending...)
	p.pending = nil
	p.paused = false
	p.st = stateMsgLength
	p.waiting = 0
	p.advance()
}

// advance repeatedly makes progress through the state machine while the
// buffer holds at least the bytes the current state is waiting for.
func (p *Parser) advance() {
	for !p.failed {
		switch p.st {
		case stateMagic:
			if len(p.buf) < 4 {
				return
			}
			if !equalMagic(p.buf[:4]) {
				p.fail(ErrBadMagic)
				return
			}
			p.buf = p.buf[4:]
			p.st = stateOpenLength

		case stateOpenLength:
			v, n, ready, err := tryReadVarint(p.buf)
			if err != nil {
				p.fail(err)
				return
			}
			if !ready {
				return
			}
			if v > MaxFrameSize {
				p.fail(ErrFrameTooLarge)
				return
			}
			p.buf = p.buf[n:]
			p.waiting = v
			p.st = stateOpenBody

		case stateOpenBody:
			if uint64(len(p.buf)) < p.waiting {
				if uint64(len(p.buf)) > MaxFrameSize {
					p.fail(ErrFrameTooLarge)
				}
				return
			}
			body := p.buf[:p.waiting]
			rest := p.buf[p.waiting:]

			open, err := wire.DecodeOpen(body)
			if err != nil {
				p.fail(err)
				return
			}
			if len(open.Feed) != cryptoops.HashSize {
				p.fail(wire.ErrMalformedMessage)
				return
			}
			if len(open.Nonce) != cryptoops.NonceSize {
				p.fail(ErrInvalidNonce)
				return
			}

			// Any bytes after the Open frame are ciphertext whose key is
			// not known yet: capture them raw and pause until Resume.
			p.pending = append([]byte(nil), rest...)
			p.buf = nil
			p.st = statePaused
			p.paused = true
			p.sink.OnOpen(open)
			return

		case statePaused:
			// Ingest accepted but not parsed until Resume is called.
			return

		case stateMsgLength:
			v, n, ready, err := tryReadVarint(p.buf)
			if err != nil {
				p.fail(err)
				return
			}
			if !ready {
				if uint64(len(p.buf)) >= MaxFrameSize {
					p.fail(ErrFrameTooLarge)
				}
				return
			}
			if v > MaxFrameSize {
				p.fail(ErrFrameTooLarge)
				return
			}
			p.buf = p.buf[n:]
			p.waiting = v
			p.st = stateMsgBody

		case stateMsgBody:
			if uint64(len(p.buf)) < p.waiting {
				if uint64(len(p.buf)) > MaxFrameSize {
					p.fail(ErrFrameTooLarge)
				}
				return
			}
			body := p.buf[:p.waiting]
			rest := p.buf[p.waiting:]
			p.buf = rest
			p.st = stateMsgLength

			if err := p.dispatch(body); err != nil {
				p.fail(err)
				return
			}
		}
	}
}

// dispatch decodes one MsgBody frame and applies the handshake-ordering
// and unknown-id rules.
func (p *Parser) dispatch(body []byte) error {
	id, n, err := wire.ReadVarint(body)
	if err != nil {
		if errors.Is(err, wire.ErrVarintOverflow) {
			return err
		}
		// The body is complete, so a varint that runs off its end is a
		// malformed frame, not a reason to wait for more bytes.
		return wire.ErrMalformedMessage
	}
	payload := body[n:]

	kind, known := wire.KnownKind(id)
	if !known {
		log.Debug().Uint64("id", id).Msg("hyperbloom/parser: skipping unknown frame id")
		return nil
	}

	if kind == wire.KindHandshake {
		if p.sawHandshake {
			return ErrDuplicateHandshake
		}
		if !p.expectedHandshake {
			// expectedHandshake only ever flips false right after the
			// first Handshake is accepted, at which point sawHandshake
			// is also true, so this branch is unreachable; kept for
			// clarity of the state machine's intent.
			return ErrHandshakeExpected
		}
		p.expectedHandshake = false
		p.sawHandshake = true
	} else if p.expectedHandshake {
		return ErrHandshakeExpected
	}

	m, err := wire.DecodeBody(kind, payload)
	if err != nil {
		return err
	}
	p.sink.OnMessage(m)
	return nil
}

func (p *Parser) fail(err error) {
	if p.failed {
		return
	}
	p.failed = true
	p.sink.OnError(err)
}

func equalMagic(b []byte) bool {
	return b[0] == wire.MAGIC[0] && b[1] == wire.MAGIC[1] && b[2] == wire.MAGIC[2] && b[3] == wire.MAGIC[3]
}

// tryReadVarint reads a varint from the front of b. ready is false (with a
// nil error) when b simply doesn't yet hold a complete varint, so the
// caller can wait for more bytes; a non-nil error means the varint itself
// is malformed (overflow) and the stream is fatally broken.
func tryReadVarint(b []byte) (v uint64, n int, ready bool, err error) {
	v, n, err = wire.ReadVarint(b)
	if err == nil {
		return v, n, true, nil
	}
	if errors.Is(err, wire.ErrVarintOverflow) {
		return 0, 0, false, err
	}
	return 0, 0, false, nil
}
