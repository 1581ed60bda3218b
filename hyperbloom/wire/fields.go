package wire

import "google.golang.org/protobuf/encoding/protowire"

// field is one decoded tag/value pair from a message body. Only varint and
// length-delimited (bytes/string) wire types appear in this schema.
type field struct {
	num protowire.Number
	typ protowire.Type
	u64 uint64
	val []byte
}

// parseFields walks every tag/value pair in b. Unknown field numbers are
// collected like any other — callers simply never look for them, which is
// how protobuf3-style forward compatibility falls out without special
// casing. A value whose declared length runs past the buffer, or a
// tag/length varint cut off by the end of the buffer, is malformed; a
// varint longer than 5 bytes is reported as ErrVarintOverflow.
func parseFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		tagVal, n, err := ReadVarint(b)
		if err != nil {
			if isIncomplete(err) {
				return nil, ErrMalformedMessage
			}
			return nil, err
		}
		b = b[n:]

		num, typ := protowire.DecodeTag(tagVal)
		if num <= 0 {
			return nil, ErrMalformedMessage
		}

		switch typ {
		case protowire.VarintType:
			v, n, err := ReadVarint(b)
			if err != nil {
				if isIncomplete(err) {
					return nil, ErrMalformedMessage
				}
				return nil, err
			}
			b = b[n:]
			fields = append(fields, field{num: num, typ: typ, u64: v})
		case protowire.BytesType:
			length, n, err := ReadVarint(b)
			if err != nil {
				if isIncomplete(err) {
					return nil, ErrMalformedMessage
				}
				return nil, err
			}
			b = b[n:]
			if length > uint64(len(b)) {
				return nil, ErrMalformedMessage
			}
			fields = append(fields, field{num: num, typ: typ, val: b[:length]})
			b = b[length:]
		default:
			return nil, ErrMalformedMessage
		}
	}
	return fields, nil
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, v)
	return b
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendString(b, s)
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = AppendVarint(b, v)
	return b
}
