// Package store is a pebble-backed store of known values and ranges for
// the demo command in cmd/hyperbloom-peer: somewhere to put the bytes a
// Data message carries and somewhere to read a Request's range scan from.
// The engine packages (wire, parser, session, trust) never import it.
//
// Values are content-addressed by blake3(value), so the no-duplicates
// rule enforced upstream in session lines up naturally with a key/value
// map keyed by content hash rather than by caller-assigned id.
package store

import (
	"bytes"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"lukechampine.com/blake3"
)

// Store is a sorted, content-addressed range store. Keys are the 32-byte
// blake3 digest of the stored value, so Bloom-filter reconciliation
// naturally operates on content identity rather than caller-chosen ids.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) a Store backed by a Pebble database at
// dir. Pass "" for an ephemeral in-memory store, useful in tests.
func Open(dir string) (*Store, error) {
	opts := &pebble.Options{}
	if dir == "" {
		opts.FS = vfs.NewMem()
		dir = "hyperbloom"
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Key derives the content-addressed key for value.
func Key(value []byte) []byte {
	sum := blake3.Sum256(value)
	return sum[:]
}

// Put inserts value, addressed by Key(value). Idempotent: re-inserting an
// identical value is a no-op write to the same key.
func (s *Store) Put(value []byte) error {
	return s.db.Set(Key(value), value, pebble.NoSync)
}

// Has reports whether a value with the given content key is present.
func (s *Store) Has(key []byte) bool {
	v, closer, err := s.db.Get(key)
	if err != nil {
		return false
	}
	closer.Close()
	_ = v
	return true
}

// Range returns every stored value whose content key lies in [start, end)
// (end == nil means "no upper bound"), honoring an optional limit (0 means
// unbounded). This backs the demo handling of a Request message.
func (s *Store) Range(start, end []byte, limit uint32) ([][]byte, error) {
	iterOpts := &pebble.IterOptions{LowerBound: start}
	if end != nil {
		iterOpts.UpperBound = end
	}
	it, err := s.db.NewIter(iterOpts)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out [][]byte
	for it.First(); it.Valid(); it.Next() {
		if end != nil && bytes.Compare(it.Key(), end) >= 0 {
			break
		}
		val := make([]byte, len(it.Value()))
		copy(val, it.Value())
		out = append(out, val)
		if limit > 0 && uint32(len(out)) >= limit {
			break
		}
	}
	return out, it.Error()
}

// All returns every stored value in key order; the demo command sends
// them to a peer as a Data message once a session is secure.
func (s *Store) All() ([][]byte, error) {
	return s.Range(nil, nil, 0)
}
