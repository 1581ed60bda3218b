// Package wire implements the HyperBloom frame codec: the varint length
// prefix and the six message variants. It never touches the network and
// never encrypts — that is the frame parser's and the session's job.
package wire

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// maxVarintBytes bounds every varint in the wire format to 5 bytes,
	// i.e. at most 32 significant bits — tighter than protobuf's usual
	// 64-bit/10-byte varints.
	maxVarintBytes = 5
	maxVarintValue = 1<<32 - 1
)

var (
	// ErrVarintOverflow is returned when a varint runs past 5 bytes or
	// decodes to a value above 2^32-1.
	ErrVarintOverflow = errors.New("hyperbloom/wire: varint overflow")

	// ErrMalformedMessage is returned for any decode failure short of a
	// varint overflow: a missing required field, a bytes field whose
	// declared length runs past the buffer, or a truncated varint.
	ErrMalformedMessage = errors.New("hyperbloom/wire: malformed message")

	// errIncompleteVarint is internal: it means the buffer ended before a
	// terminating (high-bit-clear) byte was seen. Callers reading a
	// complete, length-delimited buffer treat this as ErrMalformedMessage;
	// the frame parser treats it as "wait for more bytes".
	errIncompleteVarint = errors.New("hyperbloom/wire: incomplete varint")
)

// ReadVarint decodes a single unsigned LEB128 varint from the front of b,
// returning the value and the number of bytes consumed. It is used both for
// the outer frame-length prefix and for every field-level varint inside a
// message body, so the 5-byte ceiling applies uniformly across the wire
// format.
func ReadVarint(b []byte) (v uint64, n int, err error) {
	var shift uint
	for n = 0; n < len(b); n++ {
		if n == maxVarintBytes {
			return 0, 0, ErrVarintOverflow
		}
		c := b[n]
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			n++
			if v > maxVarintValue {
				return 0, 0, ErrVarintOverflow
			}
			return v, n, nil
		}
		shift += 7
	}
	return 0, 0, errIncompleteVarint
}

// AppendVarint appends v's minimal LEB128 encoding to b. v must fit in 32
// bits; callers never construct a varint field wider than that.
func AppendVarint(b []byte, v uint64) []byte {
	return protowire.AppendVarint(b, v)
}

func isIncomplete(err error) bool {
	return errors.Is(err, errIncompleteVarint)
}
