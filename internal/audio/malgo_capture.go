package audio

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/ealbalas/ai-speaking-coach/internal/ports"
)

// MalgoCapture records microphone audio through the miniaudio bindings. It
// produces raw 16-bit PCM; like the ffmpeg backend, the bytes are opaque to
// everything downstream.
type MalgoCapture struct{}

func NewMalgoCapture() *MalgoCapture {
	return &MalgoCapture{}
}

func (c *MalgoCapture) Start(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	allocated, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("microphone unavailable: %w", err)
	}

	session := &malgoSession{
		ctx:  allocated,
		data: make(chan []byte, 64),
		done: make(chan struct{}),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			session.push(data)
		},
	}

	device, err := malgo.InitDevice(allocated.Context, deviceConfig, callbacks)
	if err != nil {
		allocated.Uninit()
		allocated.Free()
		return nil, fmt.Errorf("microphone unavailable: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		allocated.Uninit()
		allocated.Free()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	session.device = device
	return session, nil
}

type malgoSession struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	data    chan []byte
	done    chan struct{}
	pending []byte

	stopOnce sync.Once
}

// push copies callback data onto the session queue. The miniaudio callback
// must never block, so the frame is dropped when the reader falls behind.
func (s *malgoSession) push(data []byte) {
	if len(data) == 0 {
		return
	}
	copied := append([]byte(nil), data...)
	select {
	case s.data <- copied:
	case <-s.done:
	default:
	}
}

func (s *malgoSession) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		select {
		case frame := <-s.data:
			s.pending = frame
		case <-s.done:
			// Drain frames queued before the device stopped.
			select {
			case frame := <-s.data:
				s.pending = frame
			default:
				return 0, io.EOF
			}
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *malgoSession) Close() error {
	return s.Stop()
}

// Stop releases the capture device. Safe to call on every exit path.
func (s *malgoSession) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.device != nil {
			s.device.Stop()
			s.device.Uninit()
		}
		s.ctx.Uninit()
		s.ctx.Free()
	})
	return nil
}
