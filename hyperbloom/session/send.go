package session

import "github.com/gosuda/hyperbloom/hyperbloom/wire"

// Sync queues (or immediately sends, if secure) a Sync message. A nil
// Filter is caller misuse: rejected synchronously.
func (s *Session) Sync(m *wire.Sync, cb func()) error {
	if m.Filter == nil {
		return ErrCallerMisuse
	}
	return s.sendOrQueue(m, cb)
}

// FilterOptions queues (or immediately sends) a FilterOptions message.
func (s *Session) FilterOptions(m *wire.FilterOptions, cb func()) error {
	return s.sendOrQueue(m, cb)
}

// Data queues (or immediately sends) a Data message. Non-empty/no-dup
// validation happens on the receiving side; Data has no required-field
// presence check on send.
func (s *Session) Data(m *wire.Data, cb func()) error {
	return s.sendOrQueue(m, cb)
}

// Request queues (or immediately sends) a Request message. A nil Start,
// or an explicitly-present zero Limit, is caller misuse: rejected
// synchronously before anything is queued.
func (s *Session) Request(m *wire.Request, cb func()) error {
	if m.Start == nil {
		return ErrCallerMisuse
	}
	if m.HasLimit && m.Limit == 0 {
		return ErrCallerMisuse
	}
	return s.sendOrQueue(m, cb)
}

// sendOrQueue sends m immediately if secure, otherwise appends a closure
// to the send queue for FIFO delivery at the Secure transition.
func (s *Session) sendOrQueue(m wire.Message, cb func()) error {
	if s.destroyed {
		return ErrDestroyed
	}
	if s.secure {
		s.emitMessage(m)
		if cb != nil {
			cb()
		}
		return nil
	}
	s.sendQueue = append(s.sendQueue, func() {
		s.emitMessage(m)
		if cb != nil {
			cb()
		}
	})
	return nil
}

// drainSendQueue flushes every queued send in insertion order. Called
// once, right after the Secure transition (and after the engine's own
// Handshake and any chain-shortening Link have already been emitted).
func (s *Session) drainSendQueue() {
	queue := s.sendQueue
	s.sendQueue = nil
	for _, op := range queue {
		op()
	}
}
