// Package usecase drives one recording session at a time through capture,
// streaming upload, and report retrieval.
package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ealbalas/ai-speaking-coach/internal/domain"
	"github.com/ealbalas/ai-speaking-coach/internal/ports"
)

var ErrControllerClosed = errors.New("session controller is closed")

// DefaultNoticeTTL is how long an inline notice stays visible.
const DefaultNoticeTTL = 5 * time.Second

// Config controls recording session behavior.
type Config struct {
	Audio         ports.AudioConfig
	ChunkInterval time.Duration
	ChunkSize     int
	NoticeTTL     time.Duration
	MaxNotices    int
}

// SessionController owns at most one recording session and sequences it
// through the lifecycle:
//
//	Idle -> Connecting -> AwaitingSessionID -> Recording -> Stopping ->
//	Uploaded -> Analyzing -> Complete
//
// with every failure path returning to Idle. All triggers (user commands,
// stream events, capture results, fetch continuations) are serialized onto
// one event-loop goroutine, so session state needs no further locking.
type SessionController struct {
	capture ports.AudioCapture
	dialer  ports.StreamDialer
	reports ports.ReportClient
	events  ports.EventSink
	cfg     Config
	log     zerolog.Logger

	loopCh    chan func()
	closed    chan struct{}
	closeOnce sync.Once

	// Owned by the event loop.
	state   domain.SessionState
	message string
	epoch   uint64
	sess    *activeSession
	report  *domain.AnalysisReport
	notices []domain.InlineNotice
}

func NewSessionController(
	capture ports.AudioCapture,
	dialer ports.StreamDialer,
	reports ports.ReportClient,
	events ports.EventSink,
	cfg Config,
	logger zerolog.Logger,
) *SessionController {
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = time.Second
	}
	if cfg.ChunkSize < 1024 {
		cfg.ChunkSize = 32 * 1024
	}
	if cfg.NoticeTTL <= 0 {
		cfg.NoticeTTL = DefaultNoticeTTL
	}
	if cfg.MaxNotices <= 0 {
		cfg.MaxNotices = 8
	}

	c := &SessionController{
		capture: capture,
		dialer:  dialer,
		reports: reports,
		events:  events,
		cfg:     cfg,
		log:     logger,
		loopCh:  make(chan func(), 128),
		closed:  make(chan struct{}),
		state:   domain.SessionStateIdle,
	}
	go c.loop()
	return c
}

func (c *SessionController) loop() {
	for {
		select {
		case fn := <-c.loopCh:
			fn()
		case <-c.closed:
			c.discardSession()
			return
		}
	}
}

// post schedules fn onto the event loop. Returns false once the controller is
// closed.
func (c *SessionController) post(fn func()) bool {
	select {
	case c.loopCh <- fn:
		return true
	case <-c.closed:
		return false
	}
}

// run executes fn on the event loop and waits for its result.
func (c *SessionController) run(fn func() error) error {
	reply := make(chan error, 1)
	if !c.post(func() { reply <- fn() }) {
		return ErrControllerClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.closed:
		return ErrControllerClosed
	}
}

// Close shuts down the event loop and discards any active session.
func (c *SessionController) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Start begins a new recording session. Any session in flight is discarded
// first; its late callbacks become inert.
func (c *SessionController) Start(ctx context.Context) error {
	return c.run(func() error {
		c.discardSession()
		c.report = nil
		c.clearNotices()

		epoch := c.epoch
		c.transition(domain.SessionStateConnecting, domain.SessionReasonSessionStarted, "Connecting...")

		go c.beginSession(ctx, epoch)
		return nil
	})
}

// beginSession acquires the microphone and opens the stream off the event
// loop; both are the slow, permission-gated steps of session startup.
func (c *SessionController) beginSession(ctx context.Context, epoch uint64) {
	audioSession, err := c.capture.Start(ctx, c.cfg.Audio)
	if err != nil {
		c.post(func() {
			if epoch != c.epoch {
				return
			}
			c.failSession(domain.SessionReasonPermissionError, domain.ErrorCodePermission,
				"Microphone unavailable: "+err.Error())
		})
		return
	}

	streamSession, err := c.dialer.Open(ctx)
	if err != nil {
		_ = audioSession.Stop()
		c.post(func() {
			if epoch != c.epoch {
				return
			}
			c.failSession(domain.SessionReasonTransportError, domain.ErrorCodeTransport,
				"Could not connect to coach server")
		})
		return
	}

	c.post(func() {
		if epoch != c.epoch {
			// A reset or restart won the race; release everything.
			_ = audioSession.Stop()
			_ = streamSession.Close()
			return
		}
		c.sess = &activeSession{
			epoch:    epoch,
			audio:    audioSession,
			stream:   streamSession,
			stopPump: make(chan struct{}),
			pumpDone: make(chan struct{}),
		}
		c.transition(domain.SessionStateAwaitingSession, domain.SessionReasonConnected, "Waiting for session...")
		go c.forwardStreamEvents(epoch, streamSession)
	})
}

func (c *SessionController) forwardStreamEvents(epoch uint64, s ports.StreamSession) {
	for event := range s.Events() {
		event := event
		c.post(func() {
			if epoch != c.epoch {
				return
			}
			c.handleStreamEvent(event)
		})
	}
}

func (c *SessionController) handleStreamEvent(event domain.StreamEvent) {
	switch event.Kind {
	case domain.StreamEventSessionAssigned:
		c.handleSessionAssigned(event.SessionID)
	case domain.StreamEventNotice:
		c.handleNotice(event.Notice)
	case domain.StreamEventClosed:
		c.handleStreamClosed(event.Err)
	}
}

// handleSessionAssigned stores the server-issued id and begins forwarding
// captured chunks. The id is set at most once.
func (c *SessionController) handleSessionAssigned(sessionID string) {
	if c.state != domain.SessionStateAwaitingSession || c.sess == nil || sessionID == "" {
		return
	}
	if c.sess.sessionID != "" {
		return
	}

	c.sess.sessionID = sessionID
	c.log.Debug().Str("session_id", sessionID).Msg("session assigned")
	c.transition(domain.SessionStateRecording, domain.SessionReasonSessionAssigned, "Recording")

	c.sess.pumpStarted = true
	go pumpChunks(pumpConfig{
		audio:     c.sess.audio,
		stream:    c.sess.stream,
		interval:  c.cfg.ChunkInterval,
		chunkSize: c.cfg.ChunkSize,
		stop:      c.sess.stopPump,
		done:      c.sess.pumpDone,
		onError:   c.captureErrorFn(c.sess.epoch),
	})
}

func (c *SessionController) captureErrorFn(epoch uint64) func(error) {
	return func(err error) {
		c.post(func() {
			if epoch != c.epoch || c.state != domain.SessionStateRecording {
				return
			}
			c.failSession(domain.SessionReasonTransportError, domain.ErrorCodeCapture,
				"Audio capture failed: "+err.Error())
		})
	}
}

func (c *SessionController) handleNotice(notice domain.InlineNotice) {
	if c.state != domain.SessionStateRecording {
		return
	}

	c.notices = append(c.notices, notice)
	if len(c.notices) > c.cfg.MaxNotices {
		c.notices = c.notices[len(c.notices)-c.cfg.MaxNotices:]
	}
	c.events.InlineNotices(snapshotNotices(c.notices))

	epoch := c.epoch
	time.AfterFunc(c.cfg.NoticeTTL, func() {
		c.post(func() {
			if epoch != c.epoch {
				return
			}
			c.expireNotices()
		})
	})
}

// expireNotices drops notices older than the display TTL, oldest first.
func (c *SessionController) expireNotices() {
	cutoff := time.Now().Add(-c.cfg.NoticeTTL)
	kept := c.notices[:0]
	for _, n := range c.notices {
		if n.ReceivedAt.After(cutoff) {
			kept = append(kept, n)
		}
	}
	if len(kept) == len(c.notices) {
		return
	}
	c.notices = kept
	c.events.InlineNotices(snapshotNotices(c.notices))
}

func (c *SessionController) clearNotices() {
	if len(c.notices) == 0 {
		return
	}
	c.notices = nil
	c.events.InlineNotices(nil)
}

// Stop ends the recording phase: capture stops and the connection is closed,
// which is the server's signal that post-processing may begin. Stopping an
// already-stopped session is a no-op.
func (c *SessionController) Stop() error {
	return c.run(func() error {
		switch c.state {
		case domain.SessionStateRecording, domain.SessionStateAwaitingSession:
		default:
			return nil
		}
		if c.sess == nil {
			return nil
		}

		c.transition(domain.SessionStateStopping, domain.SessionReasonStopping, "Uploading...")
		c.sess.stopPumping()
		if err := c.sess.audio.Stop(); err != nil {
			c.log.Warn().Err(err).Msg("audio capture did not stop cleanly")
		}
		// The closed event completes the transition to Uploaded.
		go func(s ports.StreamSession) { _ = s.Close() }(c.sess.stream)
		return nil
	})
}

// handleStreamClosed routes connection closure according to where the
// session was in its lifecycle.
func (c *SessionController) handleStreamClosed(closeErr error) {
	switch c.state {
	case domain.SessionStateStopping:
		if c.sess == nil || c.sess.sessionID == "" {
			c.failSession(domain.SessionReasonNoSessionID, domain.ErrorCodeNoSession,
				"Could not get session ID")
			return
		}
		if closeErr != nil {
			c.failSession(domain.SessionReasonTransportError, domain.ErrorCodeTransport,
				"Connection failed during upload")
			return
		}

		sessionID := c.sess.sessionID
		epoch := c.epoch
		c.transition(domain.SessionStateUploaded, domain.SessionReasonUploaded, "Uploaded")
		c.transition(domain.SessionStateAnalyzing, domain.SessionReasonAnalyzing, "Analyzing...")
		go c.fetchReport(epoch, sessionID)

	case domain.SessionStateAwaitingSession:
		// Closed before an id was ever assigned: a failed session, never a
		// zero-length successful one.
		c.failSession(domain.SessionReasonNoSessionID, domain.ErrorCodeNoSession,
			"Could not get session ID")

	case domain.SessionStateRecording:
		c.failSession(domain.SessionReasonTransportError, domain.ErrorCodeTransport,
			"Connection to coach server lost")
	}
}

func (c *SessionController) fetchReport(epoch uint64, sessionID string) {
	report, err := c.reports.Fetch(context.Background(), sessionID)
	c.post(func() {
		if epoch != c.epoch || c.state != domain.SessionStateAnalyzing {
			return
		}
		if err != nil {
			c.failSession(domain.SessionReasonAnalysisFailed, domain.ErrorCodeAnalysis,
				"Analysis failed: "+err.Error())
			return
		}
		c.report = &report
		c.discardSession()
		// Discarding made any pending expiry timers inert, so drop the
		// notices here; they must not outlive the recording onto the report.
		c.clearNotices()
		c.transition(domain.SessionStateComplete, domain.SessionReasonReportReady, "Report ready")
		c.events.ReportReady(report)
	})
}

// Reset discards the session and any stored report and returns to Idle.
// Reset from Idle is a no-op.
func (c *SessionController) Reset() error {
	return c.run(func() error {
		if c.state == domain.SessionStateIdle {
			return nil
		}
		c.discardSession()
		c.report = nil
		c.clearNotices()
		c.transition(domain.SessionStateIdle, domain.SessionReasonReset, "")
		return nil
	})
}

// Status returns the current controller status.
func (c *SessionController) Status() domain.Status {
	reply := make(chan domain.Status, 1)
	ok := c.post(func() {
		status := domain.Status{
			State:   c.state,
			Active:  c.state != domain.SessionStateIdle && c.state != domain.SessionStateComplete,
			Message: c.message,
		}
		if c.sess != nil {
			status.SessionID = c.sess.sessionID
		}
		reply <- status
	})
	if !ok {
		return domain.Status{State: domain.SessionStateIdle}
	}
	select {
	case status := <-reply:
		return status
	case <-c.closed:
		return domain.Status{State: domain.SessionStateIdle}
	}
}

// Report returns the stored analysis report, if the last session completed.
func (c *SessionController) Report() (domain.AnalysisReport, bool) {
	type result struct {
		report domain.AnalysisReport
		ok     bool
	}
	reply := make(chan result, 1)
	posted := c.post(func() {
		if c.report == nil {
			reply <- result{}
			return
		}
		reply <- result{report: *c.report, ok: true}
	})
	if !posted {
		return domain.AnalysisReport{}, false
	}
	select {
	case r := <-reply:
		return r.report, r.ok
	case <-c.closed:
		return domain.AnalysisReport{}, false
	}
}

// failSession tears the session down and returns to Idle with a user-visible
// message. No failure path retries; the user starts a new attempt explicitly.
func (c *SessionController) failSession(reason domain.SessionStateReason, code domain.ErrorCode, message string) {
	c.discardSession()
	c.clearNotices()
	c.events.SessionError(code, message)
	c.transition(domain.SessionStateIdle, reason, message)
}

// discardSession bumps the epoch, making every in-flight continuation inert,
// and releases the microphone and connection.
func (c *SessionController) discardSession() {
	c.epoch++
	if c.sess == nil {
		return
	}
	sess := c.sess
	c.sess = nil

	sess.stopPumping()
	if err := sess.audio.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("audio capture did not stop cleanly")
	}
	go func() { _ = sess.stream.Close() }()
}

func (c *SessionController) transition(state domain.SessionState, reason domain.SessionStateReason, message string) {
	c.state = state
	c.message = message
	c.log.Debug().Str("state", string(state)).Str("reason", string(reason)).Msg("session state changed")
	c.events.SessionStateChanged(state, reason)
}

func snapshotNotices(notices []domain.InlineNotice) []domain.InlineNotice {
	out := make([]domain.InlineNotice, len(notices))
	copy(out, notices)
	return out
}
