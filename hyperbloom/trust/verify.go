package trust

import "github.com/gosuda/hyperbloom/hyperbloom/cryptoops"

// WalkResult is what a successful chain walk establishes.
type WalkResult struct {
	// TerminalPublicKey is the public key the chain ultimately delegates
	// to; the empty chain's terminal key is the feed key itself.
	TerminalPublicKey []byte
	// MinExpiration is the minimum Expiration across every link walked,
	// or cryptoops.ExpirationNever if the chain is empty.
	MinExpiration uint64
}

// Walk verifies a chain of opaque-encoded links rooted at feedKey: each
// link's signature must cover H(HashKey, version||publicKey||nonce) under
// the current public key, after which the current public key advances to
// the link's PublicKey. An empty chain walks to feedKey unchanged.
func Walk(feedKey []byte, chain [][]byte) (*WalkResult, error) {
	if len(chain) > MaxChainLength {
		return nil, ErrChainTooLong
	}
	current := feedKey
	minExp := cryptoops.ExpirationNever
	for _, raw := range chain {
		link, err := Decode(raw)
		if err != nil {
			return nil, err
		}
		hash, err := cryptoops.Hash(cryptoops.HashKey, signedFields(link.Version, link.PublicKey, link.Nonce))
		if err != nil {
			return nil, err
		}
		if !cryptoops.Verify(hash, link.Signature, current) {
			return nil, ErrUntrustedPeer
		}
		if link.Expiration < minExp {
			minExp = link.Expiration
		}
		current = link.PublicKey
	}
	return &WalkResult{TerminalPublicKey: current, MinExpiration: minExp}, nil
}

// VerifyHandshakeSignature walks remoteChain from feedKey and checks that
// signature verifies against msgHash under the chain's terminal public
// key.
func VerifyHandshakeSignature(feedKey []byte, remoteChain [][]byte, msgHash, signature []byte) (*WalkResult, error) {
	result, err := Walk(feedKey, remoteChain)
	if err != nil {
		return nil, err
	}
	if !cryptoops.Verify(msgHash, signature, result.TerminalPublicKey) {
		return nil, ErrUntrustedPeer
	}
	return result, nil
}

// SelfCheck is the self-test start() runs on the local chain: sign an
// all-zero hash with privateKey and confirm the chain's terminal public
// key (walked from feedKey) is the one that would actually verify a
// signature made with privateKey. This is how a caller-supplied chain and
// private key are checked for mutual consistency before any bytes hit the
// wire.
func SelfCheck(feedKey, privateKey []byte, chain [][]byte) error {
	result, err := Walk(feedKey, chain)
	if err != nil {
		return ErrInvalidChain
	}
	zero := make([]byte, cryptoops.HashSize)
	sig, err := cryptoops.Sign(privateKey, zero)
	if err != nil {
		return ErrInvalidChain
	}
	if !cryptoops.Verify(zero, sig, result.TerminalPublicKey) {
		return ErrInvalidChain
	}
	return nil
}

// ShouldIssueShortening reports whether the local side may issue a
// shortening link for the given local/remote chain lengths. The issued
// link would hand the remote a chain of length localLen+1 (our own chain
// plus the new link), so issuing is only useful when that is strictly
// shorter than what the remote already carries.
func ShouldIssueShortening(localLen, remoteLen int) bool {
	return remoteLen-1 > localLen
}

// IssueShortening walks remoteChain to find its terminal public key and
// minimum expiration, then issues a new link delegating to that terminal
// key, signed by localPrivateKey (the local chain's own terminal
// authority).
func IssueShortening(feedKey, localPrivateKey []byte, remoteChain [][]byte) (*Link, error) {
	result, err := Walk(feedKey, remoteChain)
	if err != nil {
		return nil, err
	}
	return Issue(localPrivateKey, result.TerminalPublicKey, result.MinExpiration)
}

// ShouldAcceptExtension reports whether an incoming Link is worth
// processing: the candidate chain it yields has length remoteLen+1, so it
// is ignored unless that is strictly shorter than the local chain.
func ShouldAcceptExtension(localLen, remoteLen int) bool {
	return localLen-1 > remoteLen
}

// VerifyExtension builds the candidate chain offered by an incoming Link
// message — the counterparty's own chain (as presented in its Handshake
// and already held as remoteChain) followed by the new link — and checks
// that it is a valid chain terminating at a public key localPrivateKey can
// sign for. On success it returns the candidate ready to replace the
// local chain.
func VerifyExtension(feedKey, localPrivateKey []byte, remoteChain [][]byte, newLink []byte) ([][]byte, error) {
	candidate := make([][]byte, 0, len(remoteChain)+1)
	candidate = append(candidate, remoteChain...)
	candidate = append(candidate, newLink)

	if len(candidate) > MaxChainLength {
		return nil, ErrChainTooLong
	}
	if err := SelfCheck(feedKey, localPrivateKey, candidate); err != nil {
		return nil, ErrInvalidChain
	}
	return candidate, nil
}
