package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// sessionInfo is the status snapshot the registry exposes for the status
// page: one entry per live Session.
type sessionInfo struct {
	Peer   string `json:"peer"`
	Open   bool   `json:"open"`
	Secure bool   `json:"secure"`
}

// registry tracks every live Session's open/secure milestones, keyed by a
// local sequence id (the protocol's own peer id is only known after
// Secure).
type registry struct {
	mu       sync.Mutex
	sessions map[int]*sessionInfo
	next     int
}

func newRegistry() *registry {
	return &registry{sessions: make(map[int]*sessionInfo)}
}

func (r *registry) add() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.sessions[id] = &sessionInfo{}
	return id
}

func (r *registry) markOpen(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Open = true
	}
}

func (r *registry) markSecure(id int, peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Secure = true
		s.Peer = peer
	}
}

func (r *registry) remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *registry) snapshot() []sessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

// serveStatus serves a tiny chi-routed JSON status endpoint listing every
// session this peer currently knows about.
func serveStatus(ctx context.Context, addr string, reg *registry) {
	if addr == "" {
		return
	}
	r := chi.NewRouter()
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reg.snapshot())
	})

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Info().Str("addr", addr).Msg("hyperbloom-peer: status HTTP listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn().Err(err).Msg("hyperbloom-peer: status HTTP server stopped")
	}
}
