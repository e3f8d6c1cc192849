// Package config resolves runtime configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for the coach client.
type Config struct {
	Server  ServerConfig
	Audio   AudioConfig
	Session SessionConfig
}

type ServerConfig struct {
	URL           string
	ReportTimeout time.Duration
}

type AudioConfig struct {
	Backend         string
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type SessionConfig struct {
	ChunkInterval time.Duration
	ChunkSize     int
	MaxNotices    int
}

const (
	// BackendFFmpeg spawns ffmpeg for capture.
	BackendFFmpeg = "ffmpeg"
	// BackendMalgo captures through the miniaudio bindings.
	BackendMalgo = "malgo"
)

// Load resolves configuration from environment variables and sensible
// defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			URL:           envOrDefault("COACH_SERVER_URL", "http://localhost:8000"),
			ReportTimeout: time.Duration(envOrDefaultInt("COACH_REPORT_TIMEOUT_MS", 30000)) * time.Millisecond,
		},
		Audio: AudioConfig{
			Backend:         strings.ToLower(envOrDefault("COACH_CAPTURE_BACKEND", BackendFFmpeg)),
			RecorderCommand: envOrDefault("COACH_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("COACH_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("COACH_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("COACH_SAMPLE_RATE", 16000),
			Channels:        envOrDefaultInt("COACH_CHANNELS", 1),
		},
		Session: SessionConfig{
			ChunkInterval: time.Duration(envOrDefaultInt("COACH_CHUNK_INTERVAL_MS", 1000)) * time.Millisecond,
			ChunkSize:     envOrDefaultInt("COACH_AUDIO_CHUNK_SIZE", 32*1024),
			MaxNotices:    envOrDefaultInt("COACH_MAX_NOTICES", 8),
		},
	}

	if cfg.Audio.Backend != BackendFFmpeg && cfg.Audio.Backend != BackendMalgo {
		cfg.Audio.Backend = BackendFFmpeg
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Session.ChunkInterval < 100*time.Millisecond {
		cfg.Session.ChunkInterval = time.Second
	}
	if cfg.Session.ChunkSize < 1024 {
		cfg.Session.ChunkSize = 32 * 1024
	}
	if cfg.Session.MaxNotices <= 0 {
		cfg.Session.MaxNotices = 8
	}
	if cfg.Server.ReportTimeout <= 0 {
		cfg.Server.ReportTimeout = 30 * time.Second
	}

	return cfg, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
