// Package tui renders the coach session in the terminal. It is presentation
// only: the session controller owns all session state.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ealbalas/ai-speaking-coach/internal/domain"
)

// Controller is the slice of the session controller the UI drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Reset() error
	Status() domain.Status
}

// Model is the root bubbletea model.
type Model struct {
	controller Controller
	events     *Events

	state     domain.SessionState
	status    string
	statusErr bool
	notices   []domain.InlineNotice
	report    *domain.AnalysisReport

	width int
}

func New(controller Controller, events *Events) Model {
	return Model{
		controller: controller,
		events:     events,
		state:      domain.SessionStateIdle,
		status:     "Press enter to start a practice session",
	}
}

func (m Model) Init() tea.Cmd {
	return waitEventCmd(m.events)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StateChangedMsg:
		m.state = msg.State
		if text := statusMessage(msg.State, msg.Reason); text != "" {
			m.status = text
			m.statusErr = false
		}
		if msg.State == domain.SessionStateIdle && msg.Reason == domain.SessionReasonReset {
			m.report = nil
			m.status = "Press enter to start a practice session"
			m.statusErr = false
		}
		return m, waitEventCmd(m.events)

	case NoticesMsg:
		m.notices = msg.Notices
		return m, waitEventCmd(m.events)

	case ReportMsg:
		report := msg.Report
		m.report = &report
		return m, waitEventCmd(m.events)

	case SessionErrorMsg:
		m.status = msg.Message
		m.statusErr = true
		return m, waitEventCmd(m.events)

	case actionFailedMsg:
		m.status = msg.err.Error()
		m.statusErr = true
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "enter", " ":
		switch m.state {
		case domain.SessionStateIdle, domain.SessionStateComplete:
			return m, commandCmd(func() error {
				if err := m.controller.Reset(); err != nil {
					return err
				}
				return m.controller.Start(context.Background())
			})
		case domain.SessionStateRecording:
			return m, commandCmd(m.controller.Stop)
		}
		return m, nil

	case "r":
		return m, commandCmd(m.controller.Reset)
	}
	return m, nil
}

func commandCmd(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return actionFailedMsg{err: err}
		}
		return nil
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("AI Speaking Coach"))
	b.WriteString("\n\n")

	if m.state == domain.SessionStateRecording {
		b.WriteString(recordingStyle.Render("● REC "))
	}
	if m.statusErr {
		b.WriteString(errorStyle.Render(m.status))
	} else {
		b.WriteString(statusStyle.Render(m.status))
	}
	b.WriteString("\n")

	if len(m.notices) > 0 {
		b.WriteString("\n")
		for _, notice := range m.notices {
			b.WriteString(noticeStyle.Render("▲ filler words: " + strings.Join(notice.Words, ", ")))
			b.WriteString("\n")
		}
	}

	if m.report != nil {
		b.WriteString("\n")
		b.WriteString(renderReport(*m.report))
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.helpLine()))
	b.WriteString("\n")
	return b.String()
}

func (m Model) helpLine() string {
	switch m.state {
	case domain.SessionStateRecording:
		return "enter stop · q quit"
	case domain.SessionStateComplete:
		return "enter new session · r reset · q quit"
	default:
		return "enter start · q quit"
	}
}

func renderReport(report domain.AnalysisReport) string {
	var b strings.Builder

	b.WriteString(sectionStyle.Render("Transcript"))
	b.WriteString("\n")
	b.WriteString(metricStyle.Render(report.Transcript))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render("Vocal delivery"))
	b.WriteString("\n")
	vd := report.VocalDelivery
	b.WriteString(metricStyle.Render(fmt.Sprintf(
		"speaking rate %.0f wpm · pitch variance %.1f · long pauses %d",
		vd.SpeakingRate, vd.PitchVariance, vd.LongPausesCount)))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Content · clarity %.0f/10", report.Content.ClarityScore)))
	b.WriteString("\n")
	if len(report.Content.FillerWordCounts) > 0 {
		words := make([]string, 0, len(report.Content.FillerWordCounts))
		for word := range report.Content.FillerWordCounts {
			words = append(words, word)
		}
		sort.Strings(words)
		parts := make([]string, 0, len(words))
		for _, word := range words {
			parts = append(parts, fmt.Sprintf("%s ×%d", word, report.Content.FillerWordCounts[word]))
		}
		b.WriteString(metricStyle.Render("filler words: " + strings.Join(parts, ", ")))
		b.WriteString("\n")
	}
	for _, suggestion := range report.Content.Suggestions {
		b.WriteString(metricStyle.Render("• " + suggestion))
		b.WriteString("\n")
	}
	if report.Content.ImprovedSentence != "" {
		b.WriteString(metricStyle.Render("try: " + report.Content.ImprovedSentence))
		b.WriteString("\n")
	}

	return b.String()
}

func statusMessage(state domain.SessionState, reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonSessionStarted:
		return "Connecting..."
	case domain.SessionReasonConnected:
		return "Waiting for session..."
	case domain.SessionReasonSessionAssigned:
		return "Recording · speak now"
	case domain.SessionReasonStopping:
		return "Uploading..."
	case domain.SessionReasonUploaded:
		return "Uploaded"
	case domain.SessionReasonAnalyzing:
		return "Analyzing your speech..."
	case domain.SessionReasonReportReady:
		return "Report ready"
	default:
		// Reset clears the line; error reasons keep the message already
		// delivered by SessionErrorMsg.
		return ""
	}
}
