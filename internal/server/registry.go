package server

import (
	"sync"
	"time"
)

// Session is the server-side record of one streamed recording.
type Session struct {
	ID           string
	ArtifactPath string
	Bytes        int64
	Chunks       int
	StartedAt    time.Time
	Closed       bool
}

// registry tracks sessions in memory. The original backend keeps no durable
// session store either; the artifact on disk is the only persistent output.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*Session)}
}

func (r *registry) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *registry) get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (r *registry) recordChunk(id string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Bytes += int64(n)
		s.Chunks++
	}
}

func (r *registry) markClosed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Closed = true
	}
}
