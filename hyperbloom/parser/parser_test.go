package parser

import (
	"bytes"
	"testing"

	"github.com/gosuda/hyperbloom/hyperbloom/cryptoops"
	"github.com/gosuda/hyperbloom/hyperbloom/wire"
)

type recordingSink struct {
	opens    []*wire.Open
	messages []wire.Message
	errs     []error
}

func (r *recordingSink) OnOpen(o *wire.Open)      { r.opens = append(r.opens, o) }
func (r *recordingSink) OnMessage(m wire.Message) { r.messages = append(r.messages, m) }
func (r *recordingSink) OnError(err error)        { r.errs = append(r.errs, err) }

func buildOpenFrame(t *testing.T) []byte {
	t.Helper()
	nonce, err := cryptoops.RandomBytes(cryptoops.NonceSize)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	return wire.EncodeOpen(&wire.Open{Feed: bytes.Repeat([]byte{0xAA}, 32), Nonce: nonce})
}

func buildMessageFrame(t *testing.T, m wire.Message) []byte {
	t.Helper()
	body, err := wire.EncodeMessage(m)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	return append(wire.AppendVarint(nil, uint64(len(body))), body...)
}

func sampleHandshake() *wire.Handshake {
	return &wire.Handshake{
		ID:        bytes.Repeat([]byte{0x01}, 32),
		Signature: bytes.Repeat([]byte{0x02}, 64),
	}
}

func TestParserDecodesOpenThenHandshake(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)

	p.Write(buildOpenFrame(t))
	if len(sink.opens) != 1 {
		t.Fatalf("expected one open event, got %d", len(sink.opens))
	}
	if len(sink.errs) != 0 {
		t.Fatalf("unexpected errors: %v", sink.errs)
	}

	key := bytes.Repeat([]byte{0x09}, 32)
	nonce := bytes.Repeat([]byte{0x08}, 24)
	ks, err := cryptoops.NewKeystream(key, nonce)
	if err != nil {
		t.Fatalf("NewKeystream: %v", err)
	}
	p.Resume(ks)

	// Now feed an encrypted Handshake frame, XORed with the mirror keystream
	// (what the peer's outKeystream would have produced it with).
	hsFrame := buildMessageFrame(t, sampleHandshake())
	encKs, err := cryptoops.NewKeystream(key, nonce)
	if err != nil {
		t.Fatalf("NewKeystream: %v", err)
	}
	encKs.Xor(hsFrame)
	p.Write(hsFrame)

	if len(sink.errs) != 0 {
		t.Fatalf("unexpected errors: %v", sink.errs)
	}
	if len(sink.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(sink.messages))
	}
	if _, ok := sink.messages[0].(*wire.Handshake); !ok {
		t.Fatalf("expected *wire.Handshake, got %T", sink.messages[0])
	}
}

func TestParserBadMagicFails(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)
	p.Write([]byte{0, 0, 0, 0})
	if len(sink.errs) != 1 || sink.errs[0] != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", sink.errs)
	}
}

func TestParserSplitAcrossManyChunks(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)

	frame := buildOpenFrame(t)
	for _, b := range frame {
		p.Write([]byte{b})
	}
	if len(sink.opens) != 1 {
		t.Fatalf("expected one open event across byte-at-a-time feed, got %d", len(sink.opens))
	}
}

func TestParserPendingCiphertextAcrossOpenBoundary(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)

	key := bytes.Repeat([]byte{0x55}, 32)
	nonce := bytes.Repeat([]byte{0x66}, 24)
	hsFrame := buildMessageFrame(t, sampleHandshake())
	encKs, err := cryptoops.NewKeystream(key, nonce)
	if err != nil {
		t.Fatalf("NewKeystream: %v", err)
	}
	encrypted := append([]byte(nil), hsFrame...)
	encKs.Xor(encrypted)

	// Open and the first bytes of encrypted Handshake arrive in the same
	// chunk, before credentials (and thus inKeystream) are available.
	combined := append(buildOpenFrame(t), encrypted...)
	p.Write(combined)

	if len(sink.opens) != 1 {
		t.Fatalf("expected open event, got %d opens, errs=%v", len(sink.opens), sink.errs)
	}
	if len(sink.messages) != 0 {
		t.Fatalf("message decoded before Resume: %v", sink.messages)
	}

	ks, err := cryptoops.NewKeystream(key, nonce)
	if err != nil {
		t.Fatalf("NewKeystream: %v", err)
	}
	p.Resume(ks)

	if len(sink.errs) != 0 {
		t.Fatalf("unexpected errors: %v", sink.errs)
	}
	if len(sink.messages) != 1 {
		t.Fatalf("expected message after resume, got %d", len(sink.messages))
	}
}

func TestParserNonHandshakeFirstFails(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)
	p.Write(buildOpenFrame(t))

	key := bytes.Repeat([]byte{0x01}, 32)
	nonce := bytes.Repeat([]byte{0x02}, 24)
	ks, err := cryptoops.NewKeystream(key, nonce)
	if err != nil {
		t.Fatalf("NewKeystream: %v", err)
	}
	p.Resume(ks)

	frame := buildMessageFrame(t, &wire.Link{Link: []byte("x")})
	encKs, _ := cryptoops.NewKeystream(key, nonce)
	encKs.Xor(frame)
	p.Write(frame)

	if len(sink.errs) != 1 || sink.errs[0] != ErrHandshakeExpected {
		t.Fatalf("expected ErrHandshakeExpected, got %v", sink.errs)
	}
}

func TestParserDuplicateHandshakeFails(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)
	p.Write(buildOpenFrame(t))

	key := bytes.Repeat([]byte{0x03}, 32)
	nonce := bytes.Repeat([]byte{0x04}, 24)
	ks, err := cryptoops.NewKeystream(key, nonce)
	if err != nil {
		t.Fatalf("NewKeystream: %v", err)
	}
	p.Resume(ks)

	encKs, _ := cryptoops.NewKeystream(key, nonce)
	first := buildMessageFrame(t, sampleHandshake())
	encKs.Xor(first)
	p.Write(first)

	second := buildMessageFrame(t, sampleHandshake())
	encKs.Xor(second)
	p.Write(second)

	if len(sink.errs) != 1 || sink.errs[0] != ErrDuplicateHandshake {
		t.Fatalf("expected ErrDuplicateHandshake, got %v", sink.errs)
	}
}

func TestParserUnknownIDSkipped(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)
	p.Write(buildOpenFrame(t))

	key := bytes.Repeat([]byte{0x05}, 32)
	nonce := bytes.Repeat([]byte{0x06}, 24)
	ks, err := cryptoops.NewKeystream(key, nonce)
	if err != nil {
		t.Fatalf("NewKeystream: %v", err)
	}
	p.Resume(ks)

	encKs, _ := cryptoops.NewKeystream(key, nonce)
	hs := buildMessageFrame(t, sampleHandshake())
	encKs.Xor(hs)
	p.Write(hs)

	// A frame whose id is not in {0..5}: body = varint(99), no payload.
	unknown := wire.AppendVarint(nil, 99)
	unknownFrame := append(wire.AppendVarint(nil, uint64(len(unknown))), unknown...)
	encKs.Xor(unknownFrame)
	p.Write(unknownFrame)

	if len(sink.errs) != 0 {
		t.Fatalf("unexpected errors: %v", sink.errs)
	}
	if len(sink.messages) != 1 {
		t.Fatalf("unknown id frame should be silently skipped, got %d messages", len(sink.messages))
	}
}

func TestParserShortFeedRejected(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)

	nonce := bytes.Repeat([]byte{0x01}, 24)
	frame := wire.EncodeOpen(&wire.Open{Feed: []byte("short"), Nonce: nonce})
	p.Write(frame)

	if len(sink.errs) != 1 || sink.errs[0] != wire.ErrMalformedMessage {
		t.Fatalf("expected ErrMalformedMessage for 5-byte feed, got %v", sink.errs)
	}
}

func TestParserPausedBufferBounded(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)
	p.Write(buildOpenFrame(t))

	// The session never resumes: raw post-Open bytes pile up until the
	// backpressure ceiling trips.
	junk := make([]byte, MaxFrameSize)
	p.Write(junk)
	p.Write([]byte{0x00})

	if len(sink.errs) != 1 || sink.errs[0] != ErrMessageTooBig {
		t.Fatalf("expected ErrMessageTooBig, got %v", sink.errs)
	}
}

func TestParserFrameTooLargeRejected(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)

	big := wire.AppendVarint(nil, MaxFrameSize+1)
	frame := append(wire.MAGIC[:], big...)
	p.Write(frame)

	if len(sink.errs) != 1 || sink.errs[0] != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", sink.errs)
	}
}
