// Package bootstrap assembles the client runtime graph.
package bootstrap

import (
	"github.com/rs/zerolog"

	"github.com/ealbalas/ai-speaking-coach/internal/analysis"
	"github.com/ealbalas/ai-speaking-coach/internal/audio"
	"github.com/ealbalas/ai-speaking-coach/internal/config"
	coachlog "github.com/ealbalas/ai-speaking-coach/internal/log"
	"github.com/ealbalas/ai-speaking-coach/internal/ports"
	"github.com/ealbalas/ai-speaking-coach/internal/stream"
	"github.com/ealbalas/ai-speaking-coach/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
}

// Build wires all client dependencies for the current runtime.
func Build(eventSink ports.EventSink, logger zerolog.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	var capture ports.AudioCapture
	switch cfg.Audio.Backend {
	case config.BackendMalgo:
		capture = audio.NewMalgoCapture()
	default:
		capture = audio.NewFFmpegCapture(cfg.Audio.RecorderCommand)
	}

	controller := usecase.NewSessionController(
		capture,
		stream.NewDialer(cfg.Server.URL, coachlog.Component(logger, "stream")),
		analysis.NewClient(cfg.Server.URL, cfg.Server.ReportTimeout),
		eventSink,
		usecase.Config{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			ChunkInterval: cfg.Session.ChunkInterval,
			ChunkSize:     cfg.Session.ChunkSize,
			MaxNotices:    cfg.Session.MaxNotices,
		},
		coachlog.Component(logger, "controller"),
	)

	return Services{Controller: controller, Config: cfg}, nil
}
