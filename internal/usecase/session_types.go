package usecase

import (
	"github.com/ealbalas/ai-speaking-coach/internal/ports"
)

// activeSession is the controller-owned state of one recording attempt. The
// epoch tags every asynchronous continuation spawned for the attempt; results
// arriving after the session was discarded carry a stale epoch and are
// ignored.
type activeSession struct {
	epoch     uint64
	sessionID string

	audio  ports.AudioSession
	stream ports.StreamSession

	stopPump chan struct{}
	pumpDone chan struct{}

	pumpStarted bool
}

// stopPumping signals the chunk pump to exit and waits for it. Safe to call
// when the pump never started.
func (s *activeSession) stopPumping() {
	if !s.pumpStarted {
		return
	}
	select {
	case <-s.stopPump:
	default:
		close(s.stopPump)
	}
	<-s.pumpDone
	s.pumpStarted = false
}
