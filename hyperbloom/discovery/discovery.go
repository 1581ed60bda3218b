// Package discovery is a thin pubsub-based rendezvous helper: a peer
// announces the discovery key it is willing to sync on a well-known
// gossip topic, and listens for other peers announcing the same key. It
// hands resulting peer.IDs to the libp2p transport to dial.
//
// The discovery key is safe to publish — it is a keyed hash of the feed
// public key, never the key itself. The engine packages (wire, parser,
// session, trust) import nothing from here.
package discovery

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog/log"
)

// Topic is the default gossip topic hyperbloom peers announce on. A
// deployment can partition rendezvous traffic by using a different topic
// string per network.
const Topic = "hyperbloom.discovery.v1"

// announcement is the JSON payload published on Topic.
type announcement struct {
	Feed  string    `json:"feed"` // hex-encoded discovery key
	Peer  string    `json:"peer"`
	Addrs []string  `json:"addrs"`
	TS    time.Time `json:"ts"`
}

// Peer is one discovered candidate for a given feed.
type Peer struct {
	ID       peer.ID
	AddrInfo peer.AddrInfo
	LastSeen time.Time
}

// Rendezvous announces and discovers peers willing to sync a given feed
// (discovery key) over a GossipSub topic.
type Rendezvous struct {
	ctx context.Context
	h   host.Host
	top *pubsub.Topic
	sub *pubsub.Subscription

	mu     sync.Mutex
	byFeed map[string][]Peer // hex(feed) -> known peers
}

// Join creates a Rendezvous bound to h, joining and subscribing to topic.
func Join(ctx context.Context, h host.Host, topic string) (*Rendezvous, error) {
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}
	t, err := ps.Join(topic)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, err
	}
	r := &Rendezvous{
		ctx:    ctx,
		h:      h,
		top:    t,
		sub:    sub,
		byFeed: make(map[string][]Peer),
	}
	go r.collect()
	return r, nil
}

// Announce publishes this host's willingness to sync feed.
func (r *Rendezvous) Announce(feed []byte) error {
	addrs := make([]string, 0, len(r.h.Addrs()))
	for _, a := range r.h.Addrs() {
		addrs = append(addrs, a.String()+"/p2p/"+r.h.ID().String())
	}
	ad := announcement{
		Feed:  hex.EncodeToString(feed),
		Peer:  r.h.ID().String(),
		Addrs: addrs,
		TS:    time.Now(),
	}
	body, err := json.Marshal(ad)
	if err != nil {
		return err
	}
	return r.top.Publish(r.ctx, body)
}

// Peers returns the peers currently known to have announced feed.
func (r *Rendezvous) Peers(feed []byte) []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	known := r.byFeed[hex.EncodeToString(feed)]
	out := make([]Peer, len(known))
	copy(out, known)
	return out
}

// Close cancels the subscription.
func (r *Rendezvous) Close() error {
	r.sub.Cancel()
	return r.top.Close()
}

func (r *Rendezvous) collect() {
	for {
		msg, err := r.sub.Next(r.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == r.h.ID() {
			continue
		}
		var ad announcement
		if err := json.Unmarshal(msg.Data, &ad); err != nil {
			continue
		}
		ai := addrInfoFrom(ad)
		if ai == nil {
			continue
		}
		r.mu.Lock()
		entries := r.byFeed[ad.Feed]
		replaced := false
		for i, e := range entries {
			if e.ID == ai.ID {
				entries[i] = Peer{ID: ai.ID, AddrInfo: *ai, LastSeen: ad.TS}
				replaced = true
				break
			}
		}
		if !replaced {
			entries = append(entries, Peer{ID: ai.ID, AddrInfo: *ai, LastSeen: ad.TS})
		}
		r.byFeed[ad.Feed] = entries
		r.mu.Unlock()
	}
}

func addrInfoFrom(ad announcement) *peer.AddrInfo {
	for _, s := range ad.Addrs {
		m, err := ma.NewMultiaddr(s)
		if err != nil {
			continue
		}
		if ai, err := peer.AddrInfoFromP2pAddr(m); err == nil {
			return ai
		}
	}
	log.Debug().Str("peer", ad.Peer).Msg("hyperbloom/discovery: announcement had no usable /p2p/ addr")
	return nil
}
