// Command coach is the interactive practice client: it records microphone
// audio, streams it to the coach server, and shows the post-session report.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ealbalas/ai-speaking-coach/internal/bootstrap"
	coachlog "github.com/ealbalas/ai-speaking-coach/internal/log"
	"github.com/ealbalas/ai-speaking-coach/internal/tui"
)

func main() {
	logFile, err := os.OpenFile(logPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open log file:", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := coachlog.Setup(logFile)

	events := tui.NewEvents()
	services, err := bootstrap.Build(events, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}
	defer services.Controller.Close()

	program := tea.NewProgram(tui.New(services.Controller, events), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// logPath keeps diagnostics out of the TUI's terminal.
func logPath() string {
	if path := os.Getenv("COACH_LOG_FILE"); path != "" {
		return path
	}
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "coach.log"
	}
	return cacheDir + "/coach.log"
}
