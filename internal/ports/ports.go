package ports

import (
	"context"
	"io"

	"github.com/ealbalas/ai-speaking-coach/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session. The device handle is exclusively
// owned by the session and released by Stop on every exit path.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions. Start fails when the
// capture device is unavailable or access is denied.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamSession is one live bidirectional connection to the coach server.
type StreamSession interface {
	// SendAudio forwards one encoded chunk. If the connection is not open
	// the chunk is silently dropped; a live stream never queues or retries
	// stale audio.
	SendAudio(chunk []byte)
	// Events yields inbound session events. The channel is closed after the
	// terminal closed event has been delivered.
	Events() <-chan domain.StreamEvent
	// Close initiates graceful client-side shutdown. Closure itself is the
	// end-of-stream signal; no application-level end message exists.
	Close() error
}

// StreamDialer opens streaming sessions. No session id is known until the
// server's first message arrives on the opened session.
type StreamDialer interface {
	Open(ctx context.Context) (StreamSession, error)
}

// ReportClient retrieves the post-session analysis report. Called only after
// the streaming connection has fully closed.
type ReportClient interface {
	Fetch(ctx context.Context, sessionID string) (domain.AnalysisReport, error)
}

// EventSink emits controller state/events to the presentation layer.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	InlineNotices(notices []domain.InlineNotice)
	ReportReady(report domain.AnalysisReport)
	SessionError(code domain.ErrorCode, detail string)
}
