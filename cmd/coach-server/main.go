// Command coach-server runs the practice server with the stub analyzer and a
// scripted notice source, for local development against the coach client.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	coachlog "github.com/ealbalas/ai-speaking-coach/internal/log"
	"github.com/ealbalas/ai-speaking-coach/internal/server"
)

func main() {
	logger := coachlog.Setup(os.Stderr)

	srv := server.New(server.Config{
		Addr:        envOrDefault("COACH_SERVER_ADDR", ":8000"),
		ArtifactDir: envOrDefault("COACH_ARTIFACT_DIR", "recordings"),
		Notices: []server.ScriptedNotice{
			{After: 4 * time.Second, Words: []string{"um"}},
			{After: 9 * time.Second, Words: []string{"like", "you know"}},
		},
	}, coachlog.Component(logger, "server"))

	if _, err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("shutdown incomplete")
	}
}

func envOrDefault(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
