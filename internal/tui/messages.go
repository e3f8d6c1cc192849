package tui

import "github.com/ealbalas/ai-speaking-coach/internal/domain"

// StateChangedMsg mirrors a controller state transition.
type StateChangedMsg struct {
	State  domain.SessionState
	Reason domain.SessionStateReason
}

// NoticesMsg carries the current inline notice queue.
type NoticesMsg struct {
	Notices []domain.InlineNotice
}

// ReportMsg carries the completed analysis report.
type ReportMsg struct {
	Report domain.AnalysisReport
}

// SessionErrorMsg carries a controller error with its display message.
type SessionErrorMsg struct {
	Code    domain.ErrorCode
	Message string
}

// actionFailedMsg is sent when a controller command returns an error.
type actionFailedMsg struct {
	err error
}
