package discovery

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/cockroachdb/crlib/testutils/require"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

func TestAddrInfoFromPicksUsableAddr(t *testing.T) {
	_, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	pid, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)

	ad := announcement{
		Peer: pid.String(),
		Addrs: []string{
			"not-a-multiaddr",
			"/ip4/127.0.0.1/tcp/4101/p2p/" + pid.String(),
		},
		TS: time.Now(),
	}
	ai := addrInfoFrom(ad)
	if ai == nil {
		t.Fatal("expected a usable AddrInfo from the /p2p/ addr")
	}
	if ai.ID != pid {
		t.Fatalf("AddrInfo peer = %s, want %s", ai.ID, pid)
	}
}

func TestAddrInfoFromRejectsUnusable(t *testing.T) {
	ad := announcement{Peer: "x", Addrs: []string{"garbage", "/ip4/127.0.0.1/tcp/4101"}}
	if ai := addrInfoFrom(ad); ai != nil {
		t.Fatalf("expected nil AddrInfo for announcement with no /p2p/ addr, got %v", ai)
	}
}
