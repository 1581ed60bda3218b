package session

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/gosuda/hyperbloom/hyperbloom/trust"
	"github.com/gosuda/hyperbloom/hyperbloom/wire"
)

// recordingEvents captures every event a Session reports, for assertions.
type recordingEvents struct {
	opens       []*wire.Open
	secureIDs   [][]byte
	secureChain [][][]byte
	messages    []wire.Message
	chainUpdate [][]byte
	errs        []error
	closed      bool
}

func (r *recordingEvents) OnOpen(o *wire.Open) { r.opens = append(r.opens, o) }
func (r *recordingEvents) OnSecure(id []byte, chain [][]byte) {
	r.secureIDs = append(r.secureIDs, id)
	r.secureChain = append(r.secureChain, chain)
}
func (r *recordingEvents) OnMessage(kind wire.Kind, m wire.Message) {
	r.messages = append(r.messages, m)
}
func (r *recordingEvents) OnChainUpdate(chain [][]byte) { r.chainUpdate = chain }
func (r *recordingEvents) OnError(err error)            { r.errs = append(r.errs, err) }
func (r *recordingEvents) OnClose()                     { r.closed = true }

// pair wires two sessions' push callbacks directly into each other's
// Write, simulating an instantaneous in-process transport.
func pair(t *testing.T) (a, b *Session, aEv, bEv *recordingEvents) {
	t.Helper()
	aEv = &recordingEvents{}
	bEv = &recordingEvents{}
	var bRef, aRef *Session
	a = New(func(chunk []byte) { bRef.Write(chunk) }, aEv)
	b = New(func(chunk []byte) { aRef.Write(chunk) }, bEv)
	aRef, bRef = a, b
	return a, b, aEv, bEv
}

func genKey(t *testing.T) (pub, priv []byte) {
	t.Helper()
	p, s, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return p, s
}

func TestBasicHandshake(t *testing.T) {
	feedPub, feedPriv := genKey(t)
	a, b, aEv, bEv := pair(t)

	if err := a.Start(Options{FeedKey: feedPub, PrivateKey: feedPriv, Chain: nil}); err != nil {
		t.Fatalf("A.Start: %v", err)
	}
	if err := b.Start(Options{FeedKey: feedPub, PrivateKey: feedPriv, Chain: nil}); err != nil {
		t.Fatalf("B.Start: %v", err)
	}

	if len(aEv.errs) != 0 || len(bEv.errs) != 0 {
		t.Fatalf("unexpected errors: a=%v b=%v", aEv.errs, bEv.errs)
	}
	if len(aEv.secureIDs) != 1 || len(bEv.secureIDs) != 1 {
		t.Fatalf("expected both sides secure: a=%d b=%d", len(aEv.secureIDs), len(bEv.secureIDs))
	}
	if !bytes.Equal(aEv.secureIDs[0], b.id) {
		t.Fatalf("A's view of remote id should equal B's own id")
	}
	if !bytes.Equal(bEv.secureIDs[0], a.id) {
		t.Fatalf("B's view of remote id should equal A's own id")
	}
}

func TestRequestRelay(t *testing.T) {
	feedPub, feedPriv := genKey(t)
	a, b, aEv, bEv := pair(t)

	mustStart(t, a, feedPub, feedPriv, nil)
	mustStart(t, b, feedPub, feedPriv, nil)
	_ = aEv

	if err := a.Request(&wire.Request{Start: []byte("a")}, nil); err != nil {
		t.Fatalf("Request: %v", err)
	}

	if len(bEv.messages) != 1 {
		t.Fatalf("expected B to receive one message, got %d", len(bEv.messages))
	}
	req, ok := bEv.messages[0].(*wire.Request)
	if !ok {
		t.Fatalf("expected *wire.Request, got %T", bEv.messages[0])
	}
	if string(req.Start) != "a" || req.HasEnd || req.HasLimit {
		t.Fatalf("unexpected request contents: %+v", req)
	}
}

func TestChainHandoff(t *testing.T) {
	feedPub, feedPriv := genKey(t)
	bPub, bPriv := genKey(t)
	link, err := trust.Issue(feedPriv, bPub, 0xFFFFFFFF)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	bChain := [][]byte{trust.Encode(link)}

	a, b, aEv, _ := pair(t)
	mustStart(t, a, feedPub, feedPriv, nil)
	mustStart(t, b, feedPub, bPriv, bChain)

	if len(aEv.secureChain) != 1 {
		t.Fatalf("expected A to reach secure, errs=%v", aEv.errs)
	}
	if len(aEv.secureChain[0]) != 1 || !bytes.Equal(aEv.secureChain[0][0], bChain[0]) {
		t.Fatalf("A's remote chain should equal B's chain, got %v", aEv.secureChain[0])
	}
}

func TestChainShortening(t *testing.T) {
	feedPub, feedPriv := genKey(t)

	// Two-link shared prefix S = [s1, s2].
	s1Pub, s1Priv := genKey(t)
	s1, err := trust.Issue(feedPriv, s1Pub, trustNever())
	if err != nil {
		t.Fatalf("Issue s1: %v", err)
	}
	s2Pub, s2Priv := genKey(t)
	s2, err := trust.Issue(s1Priv, s2Pub, trustNever())
	if err != nil {
		t.Fatalf("Issue s2: %v", err)
	}
	sharedPrefix := [][]byte{trust.Encode(s1), trust.Encode(s2)}

	// A's chain: S + [a1, a2, a3] (5 links total).
	aChain := append([][]byte(nil), sharedPrefix...)
	cur, curPriv := s2Pub, s2Priv
	for i := 0; i < 3; i++ {
		pub, priv := genKey(t)
		link, err := trust.Issue(curPriv, pub, trustNever())
		if err != nil {
			t.Fatalf("Issue a%d: %v", i, err)
		}
		aChain = append(aChain, trust.Encode(link))
		cur, curPriv = pub, priv
	}
	aFinalPriv := curPriv
	_ = cur

	// B's chain: S + [b1] (3 links total).
	bPub, bPriv := genKey(t)
	b1, err := trust.Issue(s2Priv, bPub, trustNever())
	if err != nil {
		t.Fatalf("Issue b1: %v", err)
	}
	bChain := append([][]byte(nil), sharedPrefix...)
	bChain = append(bChain, trust.Encode(b1))

	a, b, aEv, _ := pair(t)
	mustStart(t, a, feedPub, aFinalPriv, aChain)
	mustStart(t, b, feedPub, bPriv, bChain)

	if len(aEv.errs) != 0 {
		t.Fatalf("unexpected errors on A: %v", aEv.errs)
	}
	if len(aEv.chainUpdate) != 4 {
		t.Fatalf("expected A's chain-update to be length 4 (B's 3 + 1 shortening link), got %d", len(aEv.chainUpdate))
	}
}

func trustNever() uint64 { return 0xFFFFFFFFFFFFFFFF }

func TestAsyncProvisioning(t *testing.T) {
	feedPub, feedPriv := genKey(t)
	a, b, aEv, bEv := pair(t)

	mustStart(t, a, feedPub, feedPriv, nil)
	// B waits: it has already received A's Open via the push wiring by
	// the time we get here (push is synchronous), well before B calls
	// Start.
	if len(bEv.opens) != 1 {
		t.Fatalf("expected B to have observed A's open before starting, got %d", len(bEv.opens))
	}
	mustStart(t, b, feedPub, feedPriv, nil)

	if len(aEv.secureIDs) != 1 || len(bEv.secureIDs) != 1 {
		t.Fatalf("expected both sides secure after deferred start")
	}
}

func TestCallerMisuseBeforeStart(t *testing.T) {
	events := &recordingEvents{}
	s := New(func([]byte) {}, events)
	if err := s.Request(&wire.Request{}, nil); err != ErrCallerMisuse {
		t.Fatalf("expected ErrCallerMisuse, got %v", err)
	}
}

func TestRequestExplicitZeroLimitRejected(t *testing.T) {
	events := &recordingEvents{}
	s := New(func([]byte) {}, events)
	req := &wire.Request{Start: []byte("a"), Limit: 0, HasLimit: true}
	if err := s.Request(req, nil); err != ErrCallerMisuse {
		t.Fatalf("expected ErrCallerMisuse for explicit zero limit, got %v", err)
	}
	if err := s.Request(&wire.Request{Start: []byte("a"), Limit: 3, HasLimit: true}, nil); err != nil {
		t.Fatalf("nonzero limit should be accepted, got %v", err)
	}
}

func TestStartRejectsBadIDLength(t *testing.T) {
	feedPub, feedPriv := genKey(t)
	events := &recordingEvents{}
	s := New(func([]byte) {}, events)
	err := s.Start(Options{FeedKey: feedPub, PrivateKey: feedPriv, ID: []byte("short")})
	if err != ErrIDSize {
		t.Fatalf("expected ErrIDSize, got %v", err)
	}
}

func TestStartRejectsOversizedChain(t *testing.T) {
	feedPub, feedPriv := genKey(t)
	events := &recordingEvents{}
	s := New(func([]byte) {}, events)
	chain := make([][]byte, trust.MaxChainLength+1)
	for i := range chain {
		chain[i] = []byte{byte(i)}
	}
	if err := s.Start(Options{FeedKey: feedPub, PrivateKey: feedPriv, Chain: chain}); err != ErrChainTooLong {
		t.Fatalf("expected ErrChainTooLong for 6-link chain, got %v", err)
	}
}

func TestStartRejectsMismatchedPrivateKey(t *testing.T) {
	feedPub, _ := genKey(t)
	_, otherPriv := genKey(t)
	events := &recordingEvents{}
	s := New(func([]byte) {}, events)
	if err := s.Start(Options{FeedKey: feedPub, PrivateKey: otherPriv}); err != ErrInvalidChain {
		t.Fatalf("expected ErrInvalidChain when privateKey cannot sign for the chain terminal, got %v", err)
	}
}

func TestSendQueuedBeforeSecureDeliveredAfter(t *testing.T) {
	feedPub, feedPriv := genKey(t)
	a, b, _, bEv := pair(t)

	// Start A, then queue the request before B starts (and thus before
	// secure).
	mustStart(t, a, feedPub, feedPriv, nil)
	if err := a.Request(&wire.Request{Start: []byte("a")}, nil); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(bEv.messages) != 0 {
		t.Fatalf("request should not be delivered before secure")
	}

	mustStart(t, b, feedPub, feedPriv, nil)

	if len(bEv.messages) != 1 {
		t.Fatalf("expected queued request delivered after secure, got %d", len(bEv.messages))
	}
}

func TestDataInvariantViolations(t *testing.T) {
	feedPub, feedPriv := genKey(t)
	a, b, _, bEv := pair(t)
	mustStart(t, a, feedPub, feedPriv, nil)
	mustStart(t, b, feedPub, feedPriv, nil)

	if err := a.Data(&wire.Data{Values: [][]byte{[]byte("x"), []byte("x")}}, nil); err != nil {
		t.Fatalf("Data: %v", err)
	}
	if len(bEv.errs) != 1 || bEv.errs[0] != ErrProtocolViolation {
		t.Fatalf("expected ErrProtocolViolation for duplicate values, got %v", bEv.errs)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	events := &recordingEvents{}
	s := New(func([]byte) {}, events)
	s.Destroy()
	s.Destroy()
	if !events.closed {
		t.Fatalf("expected OnClose to fire")
	}
}

func mustStart(t *testing.T, s *Session, feedKey, privateKey []byte, chain [][]byte) {
	t.Helper()
	if err := s.Start(Options{FeedKey: feedKey, PrivateKey: privateKey, Chain: chain}); err != nil {
		t.Fatalf("Start: %v", err)
	}
}
