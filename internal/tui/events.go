package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ealbalas/ai-speaking-coach/internal/domain"
)

// Events adapts controller callbacks into bubbletea messages. It implements
// ports.EventSink; the model drains it with waitEventCmd.
type Events struct {
	ch chan tea.Msg
}

func NewEvents() *Events {
	return &Events{ch: make(chan tea.Msg, 64)}
}

func (e *Events) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	e.send(StateChangedMsg{State: state, Reason: reason})
}

func (e *Events) InlineNotices(notices []domain.InlineNotice) {
	e.send(NoticesMsg{Notices: notices})
}

func (e *Events) ReportReady(report domain.AnalysisReport) {
	e.send(ReportMsg{Report: report})
}

func (e *Events) SessionError(code domain.ErrorCode, detail string) {
	e.send(SessionErrorMsg{Code: code, Message: detail})
}

// send never blocks the controller loop; the UI can afford to miss an
// intermediate update under backpressure.
func (e *Events) send(msg tea.Msg) {
	select {
	case e.ch <- msg:
	default:
	}
}

// waitEventCmd yields the next controller event as a bubbletea message.
func waitEventCmd(e *Events) tea.Cmd {
	return func() tea.Msg {
		return <-e.ch
	}
}
