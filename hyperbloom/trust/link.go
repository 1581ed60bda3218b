// Package trust implements Trust Link encoding, chain-walk verification,
// and the chain-shortening issuance rule. Links are opaque to every other
// package — only trust parses them.
package trust

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gosuda/hyperbloom/hyperbloom/cryptoops"
)

// MaxChainLength bounds every chain the engine accepts or emits.
const MaxChainLength = 5

// LinkVersion is the only Trust Link schema version this engine accepts.
const LinkVersion = 1

var (
	ErrMalformedLink = errors.New("hyperbloom/trust: malformed link")
	ErrInvalidChain  = errors.New("hyperbloom/trust: invalid chain")
	ErrUntrustedPeer = errors.New("hyperbloom/trust: untrusted peer")
	ErrChainTooLong  = errors.New("hyperbloom/trust: chain too long")
)

// Link is one signed delegation: feedKey (or the previous link's
// PublicKey) vouches for PublicKey until Expiration.
type Link struct {
	Version    uint32
	PublicKey  []byte
	Nonce      []byte
	Signature  []byte
	Expiration uint64
}

const (
	linkFieldVersion    = protowire.Number(1)
	linkFieldPublicKey  = protowire.Number(2)
	linkFieldNonce      = protowire.Number(3)
	linkFieldSignature  = protowire.Number(4)
	linkFieldExpiration = protowire.Number(5)
)

// signedFields returns version || publicKey || nonce, the input whose
// keyed hash H(HashKey, ...) a link's Signature covers. Expiration is deliberately
// excluded — it is informational at verification time, per the protocol.
func signedFields(version uint32, publicKey, nonce []byte) []byte {
	b := protowire.AppendVarint(nil, uint64(version))
	b = append(b, publicKey...)
	b = append(b, nonce...)
	return b
}

// Encode renders l to its opaque wire form (the bytes carried inside a
// Handshake.chain entry or a Link message's link field).
func Encode(l *Link) []byte {
	var b []byte
	b = protowire.AppendTag(b, linkFieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(l.Version))
	b = protowire.AppendTag(b, linkFieldPublicKey, protowire.BytesType)
	b = protowire.AppendBytes(b, l.PublicKey)
	b = protowire.AppendTag(b, linkFieldNonce, protowire.BytesType)
	b = protowire.AppendBytes(b, l.Nonce)
	b = protowire.AppendTag(b, linkFieldSignature, protowire.BytesType)
	b = protowire.AppendBytes(b, l.Signature)
	b = protowire.AppendTag(b, linkFieldExpiration, protowire.VarintType)
	b = protowire.AppendVarint(b, l.Expiration)
	return b
}

// Decode parses an opaque Trust Link. It rejects anything but version 1,
// per the protocol's "MUST reject any link whose version is not 1" rule.
func Decode(b []byte) (*Link, error) {
	l := &Link{}
	var haveVersion, havePub, haveNonce, haveSig, haveExp bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, ErrMalformedLink
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, ErrMalformedLink
			}
			b = b[n:]
			switch num {
			case linkFieldVersion:
				l.Version = uint32(v)
				haveVersion = true
			case linkFieldExpiration:
				l.Expiration = v
				haveExp = true
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, ErrMalformedLink
			}
			b = b[n:]
			switch num {
			case linkFieldPublicKey:
				l.PublicKey = append([]byte(nil), v...)
				havePub = true
			case linkFieldNonce:
				l.Nonce = append([]byte(nil), v...)
				haveNonce = true
			case linkFieldSignature:
				l.Signature = append([]byte(nil), v...)
				haveSig = true
			}
		default:
			return nil, ErrMalformedLink
		}
	}
	if !haveVersion || !havePub || !haveNonce || !haveSig || !haveExp {
		return nil, ErrMalformedLink
	}
	if l.Version != LinkVersion {
		return nil, ErrMalformedLink
	}
	return l, nil
}

// Issue builds and signs a new Trust Link delegating to publicKey, signed
// by signerPrivateKey (the current chain terminal's private key).
func Issue(signerPrivateKey, publicKey []byte, expiration uint64) (*Link, error) {
	nonce, err := cryptoops.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	hash, err := cryptoops.Hash(cryptoops.HashKey, signedFields(LinkVersion, publicKey, nonce))
	if err != nil {
		return nil, err
	}
	sig, err := cryptoops.Sign(signerPrivateKey, hash)
	if err != nil {
		return nil, err
	}
	return &Link{
		Version:    LinkVersion,
		PublicKey:  publicKey,
		Nonce:      nonce,
		Signature:  sig,
		Expiration: expiration,
	}, nil
}
