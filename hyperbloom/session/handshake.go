package session

import (
	"github.com/rs/zerolog/log"

	"github.com/gosuda/hyperbloom/hyperbloom/cryptoops"
	"github.com/gosuda/hyperbloom/hyperbloom/trust"
	"github.com/gosuda/hyperbloom/hyperbloom/wire"
)

// emitHandshake sends the local Handshake: signature covers pairedHash,
// our local view of the nonce pairing.
func (s *Session) emitHandshake() {
	sig, err := cryptoops.Sign(s.privateKey, s.pairedHash)
	if err != nil {
		s.fail(err)
		return
	}
	h := &wire.Handshake{
		ID:        s.id,
		Signature: sig,
		Chain:     s.chain,
	}
	s.emitMessage(h)
}

// emitMessage encodes and frames m, XORs it with outKeystream, and pushes
// it to the transport.
func (s *Session) emitMessage(m wire.Message) {
	body, err := wire.EncodeMessage(m)
	if err != nil {
		s.fail(err)
		return
	}
	frame := wire.AppendVarint(nil, uint64(len(body)))
	frame = append(frame, body...)
	s.outKeystream.Xor(frame)
	s.push(frame)
}

// OnMessage implements parser.Sink: called for every decoded message
// after Open.
func (s *Session) OnMessage(m wire.Message) {
	switch v := m.(type) {
	case *wire.Handshake:
		s.onHandshake(v)
	case *wire.Link:
		s.onLink(v)
	case *wire.Data:
		s.onData(v)
	case *wire.Request:
		s.onRequest(v)
	default:
		s.events.OnMessage(m.Kind(), m)
	}
}

// OnError implements parser.Sink: a fatal parse error kills the session.
func (s *Session) OnError(err error) {
	s.fail(err)
}

// onHandshake verifies the remote Handshake: the signature must verify
// over reversePairedHash (the remote's view of the paired hash) under the
// public key the remote's chain walks to from feedKey.
func (s *Session) onHandshake(h *wire.Handshake) {
	if _, err := trust.VerifyHandshakeSignature(s.feedKey, h.Chain, s.reversePairedHash, h.Signature); err != nil {
		s.fail(ErrUntrustedPeer)
		return
	}

	s.remoteID = h.ID
	s.remoteChain = h.Chain
	s.secure = true

	log.Debug().Str("session", s.trace).Msg("hyperbloom/session: secure")
	s.events.OnSecure(s.remoteID, s.remoteChain)

	s.maybeIssueShortening()
	s.drainSendQueue()
}

// maybeIssueShortening implements the one-shot chain-shortening rule: the
// local side offers a shortcut only if its own chain plus the new link is
// strictly shorter than the chain the remote already carries.
func (s *Session) maybeIssueShortening() {
	if !trust.ShouldIssueShortening(len(s.chain), len(s.remoteChain)) {
		return
	}
	link, err := trust.IssueShortening(s.feedKey, s.privateKey, s.remoteChain)
	if err != nil {
		// Not fatal: a failed shortening attempt just means no shortcut is
		// offered this session.
		log.Debug().Str("session", s.trace).Err(err).Msg("hyperbloom/session: shortening link issuance skipped")
		return
	}
	s.emitMessage(&wire.Link{Link: trust.Encode(link)})
}

// onLink implements the chain-extension rule: an incoming Link may
// replace the local chain with remoteChain ‖ link if that candidate is
// both eligible and verifies.
func (s *Session) onLink(l *wire.Link) {
	if !trust.ShouldAcceptExtension(len(s.chain), len(s.remoteChain)) {
		return
	}
	candidate, err := trust.VerifyExtension(s.feedKey, s.privateKey, s.remoteChain, l.Link)
	if err != nil {
		s.fail(ErrInvalidChain)
		return
	}
	s.chain = candidate
	s.events.OnChainUpdate(s.chain)
}

// onRequest rejects a Request whose limit field is present but zero; a
// limit, when carried at all, must be nonzero.
func (s *Session) onRequest(r *wire.Request) {
	if r.HasLimit && r.Limit == 0 {
		s.fail(ErrProtocolViolation)
		return
	}
	s.events.OnMessage(wire.KindRequest, r)
}

// onData enforces the Data invariants the codec deliberately leaves
// unchecked: non-empty list, no empty elements, no duplicates.
func (s *Session) onData(d *wire.Data) {
	if len(d.Values) == 0 {
		s.fail(ErrProtocolViolation)
		return
	}
	seen := make(map[string]struct{}, len(d.Values))
	for _, v := range d.Values {
		if len(v) == 0 {
			s.fail(ErrProtocolViolation)
			return
		}
		key := string(v)
		if _, dup := seen[key]; dup {
			s.fail(ErrProtocolViolation)
			return
		}
		seen[key] = struct{}{}
	}
	s.events.OnMessage(wire.KindData, d)
}
