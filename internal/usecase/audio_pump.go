package usecase

import (
	"errors"
	"io"
	"time"

	"github.com/ealbalas/ai-speaking-coach/internal/ports"
)

type pumpConfig struct {
	audio     ports.AudioSession
	stream    ports.StreamSession
	interval  time.Duration
	chunkSize int
	stop      <-chan struct{}
	done      chan struct{}
	onError   func(error)
}

// pumpChunks forwards captured audio to the stream at a fixed cadence, one
// chunk per tick, in capture order. Chunks are handed to the stream exactly
// once; whether they reach the server is the stream's best-effort concern.
func pumpChunks(cfg pumpConfig) {
	defer close(cfg.done)

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	buf := make([]byte, cfg.chunkSize)
	for {
		select {
		case <-cfg.stop:
			return
		case <-ticker.C:
		}

		n, err := cfg.audio.Read(buf)
		if n > 0 {
			cfg.stream.SendAudio(buf[:n])
		}
		if err != nil {
			// A read failure after stop was requested is the capture
			// winding down, not a session error.
			select {
			case <-cfg.stop:
				return
			default:
			}
			if !errors.Is(err, io.EOF) {
				cfg.onError(err)
			} else {
				cfg.onError(errors.New("audio capture ended unexpectedly"))
			}
			return
		}
	}
}
