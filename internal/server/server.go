// Package server implements the coach practice server: it accepts one audio
// stream per websocket connection, assigns session ids, persists the audio
// artifact, pushes inline notices, and serves post-session analysis reports.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/ealbalas/ai-speaking-coach/internal/domain"
)

// ScriptedNotice is an inline notice the server pushes a fixed delay after
// session assignment. Used by the dev server and tests; the production
// notice source is the live transcription pipeline.
type ScriptedNotice struct {
	After time.Duration
	Words []string
}

// Config controls the practice server.
type Config struct {
	Addr        string
	ArtifactDir string
	Analyzer    Analyzer
	Notices     []ScriptedNotice
}

// Server is the practice/dev coach backend.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	registry *registry
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	wg sync.WaitGroup
}

func New(cfg Config, logger zerolog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = os.TempDir()
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = StubAnalyzer{}
	}

	s := &Server{
		cfg:      cfg,
		log:      logger,
		registry: newRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	return s
}

// Router builds the HTTP routing surface, CORS-wrapped for browser clients.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleStream)
	r.HandleFunc("/analysis/{sessionID}", s.handleAnalysis).Methods(http.MethodGet)
	return cors.AllowAll().Handler(r)
}

// Start begins serving and returns the bound address.
func (s *Server) Start() (string, error) {
	if err := os.MkdirAll(s.cfg.ArtifactDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.Router()}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("server stopped")
		}
	}()

	addr := listener.Addr().String()
	s.log.Info().Str("addr", addr).Msg("coach server listening")
	return addr, nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	return err
}

// handleStream owns one recording session: upgrade, assign an id, then read
// binary chunks into the artifact until the peer closes. The closure is the
// end-of-stream signal; there is no application-level end message.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	artifactPath := filepath.Join(s.cfg.ArtifactDir, sessionID+".ogg")
	artifact, err := os.Create(artifactPath)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to create artifact")
		return
	}
	defer artifact.Close()

	s.registry.add(&Session{
		ID:           sessionID,
		ArtifactPath: artifactPath,
		StartedAt:    time.Now(),
	})
	logger := s.log.With().Str("session_id", sessionID).Logger()

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	// Session assignment is the first message, before any notice.
	if err := writeJSON(map[string]string{"session_id": sessionID}); err != nil {
		logger.Warn().Err(err).Msg("failed to send session assignment")
		return
	}
	logger.Info().Msg("session started")

	stop := make(chan struct{})
	defer close(stop)
	go s.pushNotices(writeJSON, stop, logger)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.BinaryMessage {
			// Tolerate unknown client text messages.
			continue
		}
		if _, err := artifact.Write(payload); err != nil {
			logger.Error().Err(err).Msg("failed to persist chunk")
			break
		}
		s.registry.recordChunk(sessionID, len(payload))
	}

	s.registry.markClosed(sessionID)
	session, _ := s.registry.get(sessionID)
	logger.Info().Int("chunks", session.Chunks).Int64("bytes", session.Bytes).Msg("session closed")
}

func (s *Server) pushNotices(writeJSON func(any) error, stop <-chan struct{}, logger zerolog.Logger) {
	for _, notice := range s.cfg.Notices {
		select {
		case <-stop:
			return
		case <-time.After(notice.After):
		}
		payload := map[string]any{
			"type":  domain.NoticeKindFillerWord,
			"words": notice.Words,
		}
		if err := writeJSON(payload); err != nil {
			logger.Debug().Err(err).Msg("failed to push notice")
			return
		}
	}
}

// handleAnalysis serves the post-session report. Valid only after the
// session's stream has fully closed.
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	session, ok := s.registry.get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if !session.Closed {
		http.Error(w, "session is still streaming", http.StatusConflict)
		return
	}

	report, err := s.cfg.Analyzer.Analyze(r.Context(), session)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("analysis failed")
		http.Error(w, "analysis failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.log.Warn().Err(err).Msg("failed to write report")
	}
}
