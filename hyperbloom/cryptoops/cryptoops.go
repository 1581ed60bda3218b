// Package cryptoops is the narrow contract the HyperBloom engine signs,
// verifies, hashes, and XORs through. It never decides policy — callers
// (trust, session) own the protocol meaning of every hash and signature.
package cryptoops

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/salsa20"
)

const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SignatureSize  = ed25519.SignatureSize
	HashSize       = blake2b.Size256
	NonceSize      = 24 // XSalsa20
)

var ErrInvalidKey = errors.New("hyperbloom/cryptoops: invalid key length")

// HashKey and DiscoveryHashKey are the fixed keyed-hash personalization
// bytes for, respectively, the handshake's paired-nonce hash and trust
// link hashes (the "hyperbloom" domain), and for deriving a feed's
// publishable discovery identifier from its public key. They are domain
// separation salts, not secrets.
var (
	HashKey          = []byte("hyperbloom-handshake-and-trust-link-hash-v1")
	DiscoveryHashKey = []byte("hyperbloom-discovery-key-derivation-v1")
)

// ExpirationNever represents an unbounded trust link expiration.
const ExpirationNever = ^uint64(0)

// Sign produces a detached Ed25519 signature of msgHash under privateKey.
func Sign(privateKey []byte, msgHash []byte) ([]byte, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, ErrInvalidKey
	}
	return ed25519.Sign(ed25519.PrivateKey(privateKey), msgHash), nil
}

// Verify reports whether signature is a valid Ed25519 signature of msgHash
// under publicKey.
func Verify(msgHash, signature, publicKey []byte) bool {
	if len(publicKey) != PublicKeySize || len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), msgHash, signature)
}

// Hash computes the keyed BLAKE2b-256 hash of input under key, used for
// HASH_KEY-personalized paired-nonce hashes and chain-link hashes, and for
// DISCOVERY_HASH_KEY-personalized feed derivation.
func Hash(key, input []byte) ([]byte, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return nil, err
	}
	h.Write(input)
	return h.Sum(nil), nil
}

// RandomBytes fills and returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Keystream is a stateful XSalsa20 byte sink: Xor advances position
// monotonically and is never rewound.
//
// salsa20.XORKeyStream always starts the cipher's internal block counter
// at zero and exposes no way to resume mid-stream, so Xor keeps a cache
// of the keystream generated from position zero and grows it (doubling
// capacity, so total regeneration work stays linear in the final stream
// length) whenever a call needs bytes past what's cached.
type Keystream struct {
	key      [32]byte
	nonce    [24]byte
	cache    []byte
	position uint64
}

// NewKeystream derives an XSalsa20 keystream from a 32-byte key and a
// 24-byte nonce.
func NewKeystream(key, nonce []byte) (*Keystream, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	if len(nonce) != NonceSize {
		return nil, ErrInvalidKey
	}
	ks := &Keystream{}
	copy(ks.key[:], key)
	copy(ks.nonce[:], nonce)
	return ks, nil
}

// Xor applies the keystream to buf in place and advances the stream
// position by len(buf).
func (ks *Keystream) Xor(buf []byte) {
	if len(buf) == 0 {
		return
	}
	need := ks.position + uint64(len(buf))
	if uint64(len(ks.cache)) < need {
		newCap := uint64(len(ks.cache)) * 2
		if newCap < need {
			newCap = need
		}
		fresh := make([]byte, newCap)
		salsa20.XORKeyStream(fresh, fresh, ks.nonce[:], &ks.key)
		ks.cache = fresh
	}
	pad := ks.cache[ks.position:need]
	for i := range buf {
		buf[i] ^= pad[i]
	}
	ks.position = need
}
