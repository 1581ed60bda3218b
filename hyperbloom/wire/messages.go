package wire

import "google.golang.org/protobuf/encoding/protowire"

// MAGIC opens every HyperBloom byte stream. It is never encrypted.
var MAGIC = [4]byte{0xd5, 0x72, 0xc8, 0x75}

// Open is the single plaintext frame that begins a session in each
// direction: MAGIC ‖ varint(len) ‖ Open-body.
type Open struct {
	Feed  []byte
	Nonce []byte
}

const (
	openFieldFeed  = protowire.Number(1)
	openFieldNonce = protowire.Number(2)
)

// EncodeOpen renders o as MAGIC ‖ varint(payloadLen) ‖ payload.
func EncodeOpen(o *Open) []byte {
	var payload []byte
	payload = appendBytesField(payload, openFieldFeed, o.Feed)
	payload = appendBytesField(payload, openFieldNonce, o.Nonce)

	out := make([]byte, 0, 4+5+len(payload))
	out = append(out, MAGIC[:]...)
	out = AppendVarint(out, uint64(len(payload)))
	out = append(out, payload...)
	return out
}

// DecodeOpen parses an Open payload (the bytes after MAGIC and its length
// prefix — the frame parser has already stripped those).
func DecodeOpen(payload []byte) (*Open, error) {
	fields, err := parseFields(payload)
	if err != nil {
		return nil, err
	}
	o := &Open{}
	var haveFeed, haveNonce bool
	for _, f := range fields {
		switch f.num {
		case openFieldFeed:
			o.Feed = cloneBytes(f.val)
			haveFeed = true
		case openFieldNonce:
			o.Nonce = cloneBytes(f.val)
			haveNonce = true
		}
	}
	if !haveFeed || !haveNonce {
		return nil, ErrMalformedMessage
	}
	return o, nil
}

// Handshake is message id 0. It must be the first frame decoded after Open,
// exactly once per direction.
type Handshake struct {
	ID         []byte
	Extensions []string
	Signature  []byte
	Chain      [][]byte
}

func (*Handshake) Kind() Kind { return KindHandshake }

const (
	handshakeFieldID         = protowire.Number(1)
	handshakeFieldExtensions = protowire.Number(2)
	handshakeFieldSignature  = protowire.Number(3)
	handshakeFieldChain      = protowire.Number(4)
)

func EncodeHandshake(h *Handshake) []byte {
	var b []byte
	b = appendBytesField(b, handshakeFieldID, h.ID)
	for _, ext := range h.Extensions {
		b = appendStringField(b, handshakeFieldExtensions, ext)
	}
	b = appendBytesField(b, handshakeFieldSignature, h.Signature)
	for _, link := range h.Chain {
		b = appendBytesField(b, handshakeFieldChain, link)
	}
	return b
}

func decodeHandshake(body []byte) (*Handshake, error) {
	fields, err := parseFields(body)
	if err != nil {
		return nil, err
	}
	h := &Handshake{}
	var haveID, haveSig bool
	for _, f := range fields {
		switch f.num {
		case handshakeFieldID:
			h.ID = cloneBytes(f.val)
			haveID = true
		case handshakeFieldExtensions:
			h.Extensions = append(h.Extensions, string(f.val))
		case handshakeFieldSignature:
			h.Signature = cloneBytes(f.val)
			haveSig = true
		case handshakeFieldChain:
			h.Chain = append(h.Chain, cloneBytes(f.val))
		}
	}
	if !haveID || !haveSig {
		return nil, ErrMalformedMessage
	}
	return h, nil
}

// Range is the optional start/end window carried by Sync.
type Range struct {
	Start  []byte
	End    []byte
	HasEnd bool
}

const (
	rangeFieldStart = protowire.Number(1)
	rangeFieldEnd   = protowire.Number(2)
)

func encodeRange(r *Range) []byte {
	var b []byte
	b = appendBytesField(b, rangeFieldStart, r.Start)
	if r.HasEnd {
		b = appendBytesField(b, rangeFieldEnd, r.End)
	}
	return b
}

func decodeRange(body []byte) (*Range, error) {
	fields, err := parseFields(body)
	if err != nil {
		return nil, err
	}
	r := &Range{}
	var haveStart bool
	for _, f := range fields {
		switch f.num {
		case rangeFieldStart:
			r.Start = cloneBytes(f.val)
			haveStart = true
		case rangeFieldEnd:
			r.End = cloneBytes(f.val)
			r.HasEnd = true
		}
	}
	if !haveStart {
		return nil, ErrMalformedMessage
	}
	return r, nil
}

// Sync is message id 1: the opaque Bloom-filter sync proposal.
type Sync struct {
	Filter   []byte
	Size     uint32
	N        uint32
	Seed     uint32
	Limit    uint32
	HasLimit bool
	Range    *Range
}

func (*Sync) Kind() Kind { return KindSync }

const (
	syncFieldFilter = protowire.Number(1)
	syncFieldSize   = protowire.Number(2)
	syncFieldN      = protowire.Number(3)
	syncFieldSeed   = protowire.Number(4)
	syncFieldLimit  = protowire.Number(5)
	syncFieldRange  = protowire.Number(6)
)

func EncodeSync(s *Sync) []byte {
	var b []byte
	b = appendBytesField(b, syncFieldFilter, s.Filter)
	b = appendVarintField(b, syncFieldSize, uint64(s.Size))
	b = appendVarintField(b, syncFieldN, uint64(s.N))
	b = appendVarintField(b, syncFieldSeed, uint64(s.Seed))
	if s.HasLimit {
		b = appendVarintField(b, syncFieldLimit, uint64(s.Limit))
	}
	if s.Range != nil {
		b = appendBytesField(b, syncFieldRange, encodeRange(s.Range))
	}
	return b
}

func decodeSync(body []byte) (*Sync, error) {
	fields, err := parseFields(body)
	if err != nil {
		return nil, err
	}
	s := &Sync{}
	var haveFilter, haveSize, haveN, haveSeed bool
	for _, f := range fields {
		switch f.num {
		case syncFieldFilter:
			s.Filter = cloneBytes(f.val)
			haveFilter = true
		case syncFieldSize:
			s.Size = uint32(f.u64)
			haveSize = true
		case syncFieldN:
			s.N = uint32(f.u64)
			haveN = true
		case syncFieldSeed:
			s.Seed = uint32(f.u64)
			haveSeed = true
		case syncFieldLimit:
			s.Limit = uint32(f.u64)
			s.HasLimit = true
		case syncFieldRange:
			r, err := decodeRange(f.val)
			if err != nil {
				return nil, err
			}
			s.Range = r
		}
	}
	if !haveFilter || !haveSize || !haveN || !haveSeed {
		return nil, ErrMalformedMessage
	}
	return s, nil
}

// FilterOptions is message id 2. size and n carry distinct tags so the
// two fields survive a round trip independently.
type FilterOptions struct {
	Size uint32
	N    uint32
}

func (*FilterOptions) Kind() Kind { return KindFilterOptions }

const (
	filterOptionsFieldSize = protowire.Number(1)
	filterOptionsFieldN    = protowire.Number(2)
)

func EncodeFilterOptions(f *FilterOptions) []byte {
	var b []byte
	b = appendVarintField(b, filterOptionsFieldSize, uint64(f.Size))
	b = appendVarintField(b, filterOptionsFieldN, uint64(f.N))
	return b
}

func decodeFilterOptions(body []byte) (*FilterOptions, error) {
	fields, err := parseFields(body)
	if err != nil {
		return nil, err
	}
	fo := &FilterOptions{}
	var haveSize, haveN bool
	for _, f := range fields {
		switch f.num {
		case filterOptionsFieldSize:
			fo.Size = uint32(f.u64)
			haveSize = true
		case filterOptionsFieldN:
			fo.N = uint32(f.u64)
			haveN = true
		}
	}
	if !haveSize || !haveN {
		return nil, ErrMalformedMessage
	}
	return fo, nil
}

// Data is message id 3: reconciled values. The non-empty/no-duplicate/
// no-empty-element invariant is enforced by the session, not the codec.
type Data struct {
	Values [][]byte
}

func (*Data) Kind() Kind { return KindData }

const dataFieldValues = protowire.Number(1)

func EncodeData(d *Data) []byte {
	var b []byte
	for _, v := range d.Values {
		b = appendBytesField(b, dataFieldValues, v)
	}
	return b
}

func decodeData(body []byte) (*Data, error) {
	fields, err := parseFields(body)
	if err != nil {
		return nil, err
	}
	d := &Data{}
	for _, f := range fields {
		if f.num == dataFieldValues {
			d.Values = append(d.Values, cloneBytes(f.val))
		}
	}
	return d, nil
}

// Request is message id 4.
type Request struct {
	Start    []byte
	End      []byte
	HasEnd   bool
	Limit    uint32
	HasLimit bool
}

func (*Request) Kind() Kind { return KindRequest }

const (
	requestFieldStart = protowire.Number(1)
	requestFieldEnd   = protowire.Number(2)
	requestFieldLimit = protowire.Number(3)
)

func EncodeRequest(r *Request) []byte {
	var b []byte
	b = appendBytesField(b, requestFieldStart, r.Start)
	if r.HasEnd {
		b = appendBytesField(b, requestFieldEnd, r.End)
	}
	if r.HasLimit {
		b = appendVarintField(b, requestFieldLimit, uint64(r.Limit))
	}
	return b
}

func decodeRequest(body []byte) (*Request, error) {
	fields, err := parseFields(body)
	if err != nil {
		return nil, err
	}
	r := &Request{}
	var haveStart bool
	for _, f := range fields {
		switch f.num {
		case requestFieldStart:
			r.Start = cloneBytes(f.val)
			haveStart = true
		case requestFieldEnd:
			r.End = cloneBytes(f.val)
			r.HasEnd = true
		case requestFieldLimit:
			r.Limit = uint32(f.u64)
			r.HasLimit = true
		}
	}
	if !haveStart {
		return nil, ErrMalformedMessage
	}
	return r, nil
}

// Link is message id 5: one opaque Trust Link offered for chain extension
// or chain shortening.
type Link struct {
	Link []byte
}

func (*Link) Kind() Kind { return KindLink }

const linkFieldLink = protowire.Number(1)

func EncodeLink(l *Link) []byte {
	return appendBytesField(nil, linkFieldLink, l.Link)
}

func decodeLink(body []byte) (*Link, error) {
	fields, err := parseFields(body)
	if err != nil {
		return nil, err
	}
	l := &Link{}
	var have bool
	for _, f := range fields {
		if f.num == linkFieldLink {
			l.Link = cloneBytes(f.val)
			have = true
		}
	}
	if !have {
		return nil, ErrMalformedMessage
	}
	return l, nil
}

// EncodeMessage renders a known Message variant to its frame body
// (varint(id) ‖ payload — the outer length prefix is the parser/session's
// job, since only they know whether the frame needs XORing).
func EncodeMessage(m Message) ([]byte, error) {
	var payload []byte
	switch v := m.(type) {
	case *Handshake:
		payload = EncodeHandshake(v)
	case *Sync:
		payload = EncodeSync(v)
	case *FilterOptions:
		payload = EncodeFilterOptions(v)
	case *Data:
		payload = EncodeData(v)
	case *Request:
		payload = EncodeRequest(v)
	case *Link:
		payload = EncodeLink(v)
	default:
		return nil, ErrMalformedMessage
	}
	out := AppendVarint(nil, uint64(m.Kind()))
	out = append(out, payload...)
	return out, nil
}

// DecodeBody decodes a message body of the given kind. body is the payload
// bytes following the id varint within a MsgBody frame.
func DecodeBody(kind Kind, body []byte) (Message, error) {
	switch kind {
	case KindHandshake:
		return decodeHandshake(body)
	case KindSync:
		return decodeSync(body)
	case KindFilterOptions:
		return decodeFilterOptions(body)
	case KindData:
		return decodeData(body)
	case KindRequest:
		return decodeRequest(body)
	case KindLink:
		return decodeLink(body)
	default:
		return nil, ErrMalformedMessage
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
