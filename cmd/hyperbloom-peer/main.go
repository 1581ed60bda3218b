// Command hyperbloom-peer is a runnable demo around the HyperBloom engine:
// it starts a Session, wires it to a libp2p stream transport, rendezvous
// with other peers over a gossip topic, and serves a small chi-routed
// status page listing known sessions.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/hyperbloom/hyperbloom/cryptoops"
	"github.com/gosuda/hyperbloom/hyperbloom/discovery"
	"github.com/gosuda/hyperbloom/hyperbloom/store"
	"github.com/gosuda/hyperbloom/hyperbloom/transport"
)

var rootCmd = &cobra.Command{
	Use:   "hyperbloom-peer",
	Short: "Demo HyperBloom peer: libp2p transport, gossip rendezvous, status HTTP",
	RunE:  run,
}

var (
	flagPort      int
	flagHTTP      string
	flagStoreDir  string
	flagFeedSeed  string // hex-encoded ed25519 seed; random if empty
	flagChainHex  []string
	flagEnableDHT bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.IntVar(&flagPort, "port", 4101, "libp2p listen port (TCP + QUIC)")
	flags.StringVar(&flagHTTP, "http", ":8088", "status HTTP listen address")
	flags.StringVar(&flagStoreDir, "store", "", "pebble store directory (empty = in-memory)")
	flags.StringVar(&flagFeedSeed, "feed-seed", "", "hex ed25519 seed for this peer's feed key (random if omitted)")
	flags.StringSliceVar(&flagChainHex, "chain-link", nil, "hex-encoded opaque trust link, repeatable, in chain order")
	flags.BoolVar(&flagEnableDHT, "relay", false, "enable libp2p circuit relay")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute root command")
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub, priv, err := loadOrGenerateFeedKey(flagFeedSeed)
	if err != nil {
		return err
	}
	chain, err := decodeChain(flagChainHex)
	if err != nil {
		return err
	}
	feed, err := cryptoops.Hash(cryptoops.DiscoveryHashKey, pub)
	if err != nil {
		return err
	}

	st, err := store.Open(flagStoreDir)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := newRegistry()
	peerOpts := peerOptions{feedKey: pub, privateKey: priv, chain: chain, store: st, registry: reg}

	h, err := transport.NewHost(flagPort, flagEnableDHT, streamHandler(ctx, peerOpts))
	if err != nil {
		return err
	}
	defer h.Close()

	rv, err := discovery.Join(ctx, h, discovery.Topic)
	if err != nil {
		return err
	}
	defer rv.Close()
	if err := rv.Announce(feed); err != nil {
		log.Warn().Err(err).Msg("hyperbloom-peer: initial announce failed")
	}
	go announceLoop(ctx, rv, feed)
	go dialLoop(ctx, h, rv, feed, peerOpts)

	go serveStatus(ctx, flagHTTP, reg)

	log.Info().Str("peer", h.ID().String()).Str("feed", hex.EncodeToString(feed)).Msg("hyperbloom-peer: ready")
	<-ctx.Done()
	return nil
}

func loadOrGenerateFeedKey(seedHex string) (pub ed25519.PublicKey, priv ed25519.PrivateKey, err error) {
	if seedHex == "" {
		return ed25519.GenerateKey(nil)
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, nil, err
	}
	priv = ed25519.NewKeyFromSeed(seed)
	pub = priv.Public().(ed25519.PublicKey)
	return pub, priv, nil
}

func decodeChain(links []string) ([][]byte, error) {
	out := make([][]byte, 0, len(links))
	for _, s := range links {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func announceLoop(ctx context.Context, rv *discovery.Rendezvous, feed []byte) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := rv.Announce(feed); err != nil {
				log.Debug().Err(err).Msg("hyperbloom-peer: re-announce failed")
			}
		}
	}
}
