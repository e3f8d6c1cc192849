// Package stream owns the websocket connection used to upload audio for one
// recording session and to receive session identity and inline feedback.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ealbalas/ai-speaking-coach/internal/domain"
	"github.com/ealbalas/ai-speaking-coach/internal/ports"
)

// closeGrace bounds how long a graceful Close waits for the server to finish
// the closing handshake before the connection is torn down.
const closeGrace = 4 * time.Second

// Dialer opens one streaming session per recording attempt against a fixed
// server endpoint. There is no reconnect; a failed or closed connection ends
// the session.
type Dialer struct {
	serverURL string
	log       zerolog.Logger
}

func NewDialer(serverURL string, logger zerolog.Logger) *Dialer {
	return &Dialer{serverURL: serverURL, log: logger}
}

// Open establishes the connection. No session identifier is known until the
// server's first message arrives.
func (d *Dialer) Open(ctx context.Context) (ports.StreamSession, error) {
	wsURL, err := buildStreamURL(d.serverURL)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coach server: %w", err)
	}

	s := &session{
		conn:     conn,
		events:   make(chan domain.StreamEvent, 64),
		audio:    make(chan []byte, 32),
		readDead: make(chan struct{}),
		done:     make(chan struct{}),
		log:      d.log,
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		s.emitClosed(domain.StreamEvent{Kind: domain.StreamEventClosed, Err: s.closedErr()})
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()

	return s, nil
}

type session struct {
	conn *websocket.Conn

	events   chan domain.StreamEvent
	audio    chan []byte
	readDead chan struct{}
	done     chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeOnce  sync.Once
	sendMu     sync.RWMutex
	sendClosed bool

	log zerolog.Logger
}

// SendAudio forwards one chunk of encoded audio. Chunks offered while the
// connection is not open, or while the outbound queue is full, are dropped:
// retrying stale audio after the fact would desynchronize the server-side
// timing analysis, so a live stream loses audio instead of queuing it.
func (s *session) SendAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	// The read lock spans the send so Close cannot close the channel while a
	// chunk is in flight.
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
	case <-s.done:
	default:
		s.log.Debug().Int("bytes", len(chunk)).Msg("outbound queue full, chunk dropped")
	}
}

func (s *session) Events() <-chan domain.StreamEvent {
	return s.events
}

// Close stops outbound audio and performs the closing handshake. The closure
// is the explicit end-of-stream signal to the server.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()

		select {
		case <-s.done:
		case <-time.After(closeGrace):
			_ = s.conn.Close()
			<-s.done
		}
	})
	return nil
}

func (s *session) closedErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	if err == nil {
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return
		}
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				// Graceful shutdown: the close frame is the end-of-stream
				// signal to the server.
				deadline := time.Now().Add(time.Second)
				message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				if err := s.conn.WriteControl(websocket.CloseMessage, message, deadline); err != nil {
					s.setErr(fmt.Errorf("failed to close stream: %w", err))
				}
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
				return
			}
		case <-s.readDead:
			// The connection already ended on the read side; there is nothing
			// left to say to the server.
			return
		}
	}
}

// inboundMessage covers both recognized server message shapes. Anything that
// matches neither is ignored for forward compatibility.
type inboundMessage struct {
	SessionID string   `json:"session_id"`
	Type      string   `json:"type"`
	Words     []string `json:"words"`
}

func (s *session) readLoop() {
	defer s.wg.Done()
	defer close(s.readDead)

	assigned := false
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("connection lost: %w", err))
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.Debug().Msg("ignoring malformed server message")
			continue
		}

		switch {
		case msg.SessionID != "":
			if assigned {
				continue
			}
			assigned = true
			s.events <- domain.StreamEvent{
				Kind:      domain.StreamEventSessionAssigned,
				SessionID: msg.SessionID,
			}
		case msg.Type == domain.NoticeKindFillerWord:
			s.emitNotice(domain.InlineNotice{
				Kind:       msg.Type,
				Words:      msg.Words,
				ReceivedAt: time.Now(),
			})
		default:
			s.log.Debug().Str("type", msg.Type).Msg("ignoring unrecognized server message")
		}
	}
}

// emitClosed delivers the terminal event without ever blocking: if the buffer
// is full it evicts buffered events until the send succeeds. Both loops have
// exited by now, so this goroutine is the only sender.
func (s *session) emitClosed(event domain.StreamEvent) {
	for {
		select {
		case s.events <- event:
			return
		default:
		}
		select {
		case dropped := <-s.events:
			s.log.Debug().Str("kind", string(dropped.Kind)).Msg("event dropped to deliver closure")
		default:
		}
	}
}

// emitNotice never blocks; notices are advisory and may be dropped under
// backpressure.
func (s *session) emitNotice(notice domain.InlineNotice) {
	event := domain.StreamEvent{Kind: domain.StreamEventNotice, Notice: notice}
	select {
	case s.events <- event:
	case <-s.done:
	default:
	}
}

func buildStreamURL(serverURL string) (string, error) {
	base := strings.TrimSpace(serverURL)
	if base == "" {
		return "", fmt.Errorf("coach server URL is not configured")
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	streamURL, err := url.Parse(base + "/ws")
	if err != nil {
		return "", fmt.Errorf("invalid coach server URL: %w", err)
	}
	return streamURL.String(), nil
}
