package domain

import "time"

// SessionState models the lifecycle of one recording attempt.
type SessionState string

const (
	SessionStateIdle            SessionState = "idle"
	SessionStateConnecting      SessionState = "connecting"
	SessionStateAwaitingSession SessionState = "awaiting_session"
	SessionStateRecording       SessionState = "recording"
	SessionStateStopping        SessionState = "stopping"
	SessionStateUploaded        SessionState = "uploaded"
	SessionStateAnalyzing       SessionState = "analyzing"
	SessionStateComplete        SessionState = "complete"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady           SessionStateReason = "ready"
	SessionReasonSessionStarted  SessionStateReason = "session_started"
	SessionReasonConnected       SessionStateReason = "connected"
	SessionReasonSessionAssigned SessionStateReason = "session_assigned"
	SessionReasonStopping        SessionStateReason = "stopping"
	SessionReasonUploaded        SessionStateReason = "uploaded"
	SessionReasonAnalyzing       SessionStateReason = "analyzing"
	SessionReasonReportReady     SessionStateReason = "report_ready"
	SessionReasonReset           SessionStateReason = "reset"
	SessionReasonPermissionError SessionStateReason = "permission_error"
	SessionReasonTransportError  SessionStateReason = "transport_error"
	SessionReasonNoSessionID     SessionStateReason = "no_session_id"
	SessionReasonAnalysisFailed  SessionStateReason = "analysis_failed"
)

// ErrorCode identifies non-fatal backend errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodePermission ErrorCode = "permission"
	ErrorCodeTransport  ErrorCode = "transport"
	ErrorCodeNoSession  ErrorCode = "no_session"
	ErrorCodeAnalysis   ErrorCode = "analysis"
	ErrorCodeCapture    ErrorCode = "capture"
)

// InlineNotice is a transient mid-session feedback event, displayed for a
// fixed duration and then discarded.
type InlineNotice struct {
	Kind       string    `json:"kind"`
	Words      []string  `json:"words"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// NoticeKindFillerWord marks a detected filler-word notice.
const NoticeKindFillerWord = "FILLER_WORD"

// VocalDelivery holds the signal-derived speech metrics of a report.
type VocalDelivery struct {
	SpeakingRate    float64   `json:"speaking_rate"`
	PitchVariance   float64   `json:"pitch_variance"`
	LongPausesCount int       `json:"long_pauses_count"`
	PitchOverTime   []float64 `json:"pitch_over_time,omitempty"`
	PaceOverTime    []float64 `json:"pace_over_time,omitempty"`
}

// ContentFeedback holds the language-model-derived feedback of a report.
type ContentFeedback struct {
	FillerWordCounts map[string]int `json:"filler_word_counts"`
	ClarityScore     float64        `json:"clarity_score"`
	Suggestions      []string       `json:"suggestions"`
	ImprovedSentence string         `json:"improved_sentence,omitempty"`
}

// AnalysisReport is the terminal artifact of a session. Immutable once
// received.
type AnalysisReport struct {
	Transcript    string          `json:"transcript"`
	VocalDelivery VocalDelivery   `json:"vocal_delivery"`
	Content       ContentFeedback `json:"content"`
}

// StreamEventKind identifies inbound stream session events.
type StreamEventKind string

const (
	// StreamEventSessionAssigned carries the server-issued session id,
	// delivered exactly once before any notice.
	StreamEventSessionAssigned StreamEventKind = "session_assigned"
	// StreamEventNotice carries an inline feedback notice.
	StreamEventNotice StreamEventKind = "notice"
	// StreamEventClosed marks the end of the connection. Err is nil for a
	// clean closure and non-nil when the transport failed.
	StreamEventClosed StreamEventKind = "closed"
)

// StreamEvent is one inbound event from the streaming session client.
type StreamEvent struct {
	Kind      StreamEventKind
	SessionID string
	Notice    InlineNotice
	Err       error
}

// Status summarizes the current controller status for display.
type Status struct {
	State     SessionState `json:"state"`
	Active    bool         `json:"active"`
	SessionID string       `json:"sessionId,omitempty"`
	Message   string       `json:"message,omitempty"`
}
