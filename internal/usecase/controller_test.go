package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ealbalas/ai-speaking-coach/internal/domain"
	"github.com/ealbalas/ai-speaking-coach/internal/ports"
)

func testConfig() Config {
	return Config{
		ChunkInterval: 10 * time.Millisecond,
		ChunkSize:     1024,
		NoticeTTL:     40 * time.Millisecond,
		MaxNotices:    4,
	}
}

func newTestController(
	capture ports.AudioCapture,
	dialer ports.StreamDialer,
	reports ports.ReportClient,
	events ports.EventSink,
) *SessionController {
	return NewSessionController(capture, dialer, reports, events, testConfig(), zerolog.Nop())
}

func TestSessionCompletesWithReport(t *testing.T) {
	t.Parallel()

	streamSession := newFakeStreamSession()
	audioSession := newFakeAudioSession()
	reports := &fakeReportClient{report: sampleReport()}
	events := &fakeEventSink{}

	controller := newTestController(
		&fakeAudioCapture{sessions: []ports.AudioSession{audioSession}},
		&fakeDialer{sessions: []ports.StreamSession{streamSession}},
		reports,
		events,
	)
	defer controller.Close()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	events.waitForState(t, domain.SessionStateAwaitingSession)

	streamSession.assign("abc")
	events.waitForState(t, domain.SessionStateRecording)

	waitUntil(t, func() bool { return streamSession.sentCount() >= 3 }, "expected 3 chunks streamed")

	if err := controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	events.waitForState(t, domain.SessionStateComplete)

	if got := reports.calls(); len(got) != 1 || got[0] != "abc" {
		t.Fatalf("expected exactly one fetch for abc, got %v", got)
	}
	report, ok := controller.Report()
	if !ok {
		t.Fatalf("expected stored report")
	}
	if report.Transcript != sampleReport().Transcript {
		t.Fatalf("unexpected transcript: %q", report.Transcript)
	}
	if audioSession.stopCalls() == 0 {
		t.Fatalf("expected microphone to be released")
	}

	states := events.stateSequence()
	want := []domain.SessionState{
		domain.SessionStateConnecting,
		domain.SessionStateAwaitingSession,
		domain.SessionStateRecording,
		domain.SessionStateStopping,
		domain.SessionStateUploaded,
		domain.SessionStateAnalyzing,
		domain.SessionStateComplete,
	}
	if len(states) != len(want) {
		t.Fatalf("unexpected transitions: %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transition %d: got %s, want %s", i, states[i], want[i])
		}
	}
}

func TestNoChunksForwardedBeforeSessionAssigned(t *testing.T) {
	t.Parallel()

	streamSession := newFakeStreamSession()
	events := &fakeEventSink{}

	controller := newTestController(
		&fakeAudioCapture{sessions: []ports.AudioSession{newFakeAudioSession()}},
		&fakeDialer{sessions: []ports.StreamSession{streamSession}},
		&fakeReportClient{},
		events,
	)
	defer controller.Close()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	events.waitForState(t, domain.SessionStateAwaitingSession)

	time.Sleep(60 * time.Millisecond)
	if n := streamSession.sentCount(); n != 0 {
		t.Fatalf("expected zero chunks before session assignment, got %d", n)
	}
}

func TestCloseBeforeAssignmentIsFailedSession(t *testing.T) {
	t.Parallel()

	streamSession := newFakeStreamSession()
	reports := &fakeReportClient{}
	events := &fakeEventSink{}

	controller := newTestController(
		&fakeAudioCapture{sessions: []ports.AudioSession{newFakeAudioSession()}},
		&fakeDialer{sessions: []ports.StreamSession{streamSession}},
		reports,
		events,
	)
	defer controller.Close()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	events.waitForState(t, domain.SessionStateAwaitingSession)

	streamSession.remoteClose(nil)
	events.waitForReason(t, domain.SessionReasonNoSessionID)

	if len(reports.calls()) != 0 {
		t.Fatalf("expected no report fetch for a session without an id")
	}
	errorsGot := events.snapshotErrors()
	if len(errorsGot) == 0 || errorsGot[0].code != domain.ErrorCodeNoSession {
		t.Fatalf("expected no-session error, got %v", errorsGot)
	}
}

func TestPermissionDenialNeverConnects(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	events := &fakeEventSink{}

	controller := newTestController(
		&fakeAudioCapture{err: errors.New("device access denied")},
		dialer,
		&fakeReportClient{},
		events,
	)
	defer controller.Close()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	events.waitForReason(t, domain.SessionReasonPermissionError)

	if dialer.callCount() != 0 {
		t.Fatalf("expected no connection attempt after permission denial")
	}
	status := controller.Status()
	if status.State != domain.SessionStateIdle {
		t.Fatalf("expected Idle, got %s", status.State)
	}
	if status.Message == "" {
		t.Fatalf("expected a permission failure message")
	}
}

func TestInlineNoticeExpiresWithoutStateChange(t *testing.T) {
	t.Parallel()

	streamSession := newFakeStreamSession()
	events := &fakeEventSink{}

	controller := newTestController(
		&fakeAudioCapture{sessions: []ports.AudioSession{newFakeAudioSession()}},
		&fakeDialer{sessions: []ports.StreamSession{streamSession}},
		&fakeReportClient{},
		events,
	)
	defer controller.Close()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	streamSession.assign("abc")
	events.waitForState(t, domain.SessionStateRecording)

	streamSession.pushNotice([]string{"um"})
	waitUntil(t, func() bool {
		latest := events.latestNotices()
		return len(latest) == 1 && latest[0].Words[0] == "um"
	}, "expected notice to be queued")

	waitUntil(t, func() bool { return len(events.latestNotices()) == 0 }, "expected notice to expire")

	if got := controller.Status().State; got != domain.SessionStateRecording {
		t.Fatalf("notice expiry must not change state, got %s", got)
	}
}

func TestNoticeDoesNotOutliveSession(t *testing.T) {
	t.Parallel()

	streamSession := newFakeStreamSession()
	events := &fakeEventSink{}

	controller := newTestController(
		&fakeAudioCapture{sessions: []ports.AudioSession{newFakeAudioSession()}},
		&fakeDialer{sessions: []ports.StreamSession{streamSession}},
		&fakeReportClient{report: sampleReport()},
		events,
	)
	defer controller.Close()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	streamSession.assign("abc")
	events.waitForState(t, domain.SessionStateRecording)

	// A notice arriving right before stop has a pending expiry timer that
	// dies with the session; the notice must still be dropped on completion.
	streamSession.pushNotice([]string{"um"})
	waitUntil(t, func() bool { return len(events.latestNotices()) == 1 }, "expected notice to be queued")

	if err := controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	events.waitForState(t, domain.SessionStateComplete)

	waitUntil(t, func() bool { return len(events.latestNotices()) == 0 },
		"expected notices to be cleared when the session completes")
	if got := controller.Status().State; got != domain.SessionStateComplete {
		t.Fatalf("clearing notices must not change state, got %s", got)
	}
}

func TestReportFetchFailureReturnsToIdle(t *testing.T) {
	t.Parallel()

	streamSession := newFakeStreamSession()
	events := &fakeEventSink{}

	controller := newTestController(
		&fakeAudioCapture{sessions: []ports.AudioSession{newFakeAudioSession()}},
		&fakeDialer{sessions: []ports.StreamSession{streamSession}},
		&fakeReportClient{err: errors.New("server returned 500")},
		events,
	)
	defer controller.Close()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	streamSession.assign("abc")
	events.waitForState(t, domain.SessionStateRecording)

	if err := controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	events.waitForReason(t, domain.SessionReasonAnalysisFailed)

	if _, ok := controller.Report(); ok {
		t.Fatalf("no partial report may be stored after a failed fetch")
	}
	if got := controller.Status().State; got != domain.SessionStateIdle {
		t.Fatalf("expected Idle after fetch failure, got %s", got)
	}
}

func TestConnectionLossDuringRecordingAbortsSession(t *testing.T) {
	t.Parallel()

	streamSession := newFakeStreamSession()
	reports := &fakeReportClient{}
	events := &fakeEventSink{}

	controller := newTestController(
		&fakeAudioCapture{sessions: []ports.AudioSession{newFakeAudioSession()}},
		&fakeDialer{sessions: []ports.StreamSession{streamSession}},
		reports,
		events,
	)
	defer controller.Close()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	streamSession.assign("abc")
	events.waitForState(t, domain.SessionStateRecording)

	streamSession.remoteClose(errors.New("connection reset"))
	events.waitForReason(t, domain.SessionReasonTransportError)

	if len(reports.calls()) != 0 {
		t.Fatalf("an aborted session must not fetch a report")
	}
}

func TestStopAndResetAreIdempotent(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	controller := newTestController(
		&fakeAudioCapture{},
		&fakeDialer{},
		&fakeReportClient{},
		events,
	)
	defer controller.Close()

	if err := controller.Stop(); err != nil {
		t.Fatalf("stop from Idle must be a no-op, got %v", err)
	}
	if err := controller.Reset(); err != nil {
		t.Fatalf("reset from Idle must be a no-op, got %v", err)
	}
	if got := len(events.stateSequence()); got != 0 {
		t.Fatalf("expected no transitions, got %d", got)
	}
}

func TestResetDiscardsLateReport(t *testing.T) {
	t.Parallel()

	streamSession := newFakeStreamSession()
	release := make(chan struct{})
	reports := &fakeReportClient{report: sampleReport(), block: release}
	events := &fakeEventSink{}

	controller := newTestController(
		&fakeAudioCapture{sessions: []ports.AudioSession{newFakeAudioSession()}},
		&fakeDialer{sessions: []ports.StreamSession{streamSession}},
		reports,
		events,
	)
	defer controller.Close()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	streamSession.assign("abc")
	events.waitForState(t, domain.SessionStateRecording)

	if err := controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	events.waitForState(t, domain.SessionStateAnalyzing)

	if err := controller.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	close(release)

	time.Sleep(50 * time.Millisecond)
	if _, ok := controller.Report(); ok {
		t.Fatalf("a report for an abandoned session must be ignored")
	}
	if got := controller.Status().State; got != domain.SessionStateIdle {
		t.Fatalf("expected Idle after reset, got %s", got)
	}
}

func TestRestartDiscardsPreviousSession(t *testing.T) {
	t.Parallel()

	firstStream := newFakeStreamSession()
	secondStream := newFakeStreamSession()
	firstAudio := newFakeAudioSession()
	secondAudio := newFakeAudioSession()
	events := &fakeEventSink{}

	controller := newTestController(
		&fakeAudioCapture{sessions: []ports.AudioSession{firstAudio, secondAudio}},
		&fakeDialer{sessions: []ports.StreamSession{firstStream, secondStream}},
		&fakeReportClient{},
		events,
	)
	defer controller.Close()

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	events.waitForState(t, domain.SessionStateAwaitingSession)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("second start failed: %v", err)
	}

	waitUntil(t, func() bool { return firstAudio.stopCalls() > 0 }, "first microphone must be released")
	waitUntil(t, func() bool { return firstStream.closeCalls() > 0 }, "first stream must be closed")
}

func sampleReport() domain.AnalysisReport {
	return domain.AnalysisReport{
		Transcript: "hello world",
		VocalDelivery: domain.VocalDelivery{
			SpeakingRate:    130,
			PitchVariance:   22,
			LongPausesCount: 1,
		},
		Content: domain.ContentFeedback{
			FillerWordCounts: map[string]int{"um": 2},
			ClarityScore:     8,
			Suggestions:      []string{"slow down"},
		},
	}
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("%s", msg)
}

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	err      error
	index    int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.index >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.index]
	f.index++
	return session, nil
}

type fakeAudioSession struct {
	mu      sync.Mutex
	stopped bool
	stops   int
}

func newFakeAudioSession() *fakeAudioSession {
	return &fakeAudioSession{}
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return 0, io.EOF
	}
	return copy(p, []byte("aud")), nil
}

func (f *fakeAudioSession) Close() error { return f.Stop() }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.stops++
	return nil
}

func (f *fakeAudioSession) stopCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []ports.StreamSession
	err      error
	index    int
}

func (f *fakeDialer) Open(_ context.Context) (ports.StreamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.index >= len(f.sessions) {
		return nil, errors.New("no stream session configured")
	}
	session := f.sessions[f.index]
	f.index++
	return session, nil
}

func (f *fakeDialer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.index
}

type fakeStreamSession struct {
	mu     sync.Mutex
	events chan domain.StreamEvent
	sent   [][]byte
	closed bool
	closes int
}

func newFakeStreamSession() *fakeStreamSession {
	return &fakeStreamSession{events: make(chan domain.StreamEvent, 16)}
}

func (f *fakeStreamSession) SendAudio(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.sent = append(f.sent, append([]byte(nil), chunk...))
}

func (f *fakeStreamSession) Events() <-chan domain.StreamEvent { return f.events }

func (f *fakeStreamSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if !f.closed {
		f.closed = true
		f.events <- domain.StreamEvent{Kind: domain.StreamEventClosed}
		close(f.events)
	}
	return nil
}

// remoteClose simulates the server or transport ending the connection.
func (f *fakeStreamSession) remoteClose(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.events <- domain.StreamEvent{Kind: domain.StreamEventClosed, Err: err}
	close(f.events)
}

func (f *fakeStreamSession) assign(id string) {
	f.events <- domain.StreamEvent{Kind: domain.StreamEventSessionAssigned, SessionID: id}
}

func (f *fakeStreamSession) pushNotice(words []string) {
	f.events <- domain.StreamEvent{
		Kind:   domain.StreamEventNotice,
		Notice: domain.InlineNotice{Kind: domain.NoticeKindFillerWord, Words: words, ReceivedAt: time.Now()},
	}
}

func (f *fakeStreamSession) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeStreamSession) closeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeReportClient struct {
	mu     sync.Mutex
	report domain.AnalysisReport
	err    error
	block  chan struct{}
	ids    []string
}

func (f *fakeReportClient) Fetch(_ context.Context, sessionID string) (domain.AnalysisReport, error) {
	f.mu.Lock()
	f.ids = append(f.ids, sessionID)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.err != nil {
		return domain.AnalysisReport{}, f.err
	}
	return f.report, nil
}

func (f *fakeReportClient) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ids))
	copy(out, f.ids)
	return out
}

type fakeEventSink struct {
	mu      sync.Mutex
	states  []stateEvent
	notices [][]domain.InlineNotice
	errors  []errEvent
	reports []domain.AnalysisReport
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) InlineNotices(notices []domain.InlineNotice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, notices)
}

func (f *fakeEventSink) ReportReady(report domain.AnalysisReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) stateSequence() []domain.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SessionState, len(f.states))
	for i, s := range f.states {
		out[i] = s.state
	}
	return out
}

func (f *fakeEventSink) latestNotices() []domain.InlineNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.notices) == 0 {
		return nil
	}
	return f.notices[len(f.notices)-1]
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) hasState(state domain.SessionState) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.states {
		if s.state == state {
			return true
		}
	}
	return false
}

func (f *fakeEventSink) hasReason(reason domain.SessionStateReason) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.states {
		if s.reason == reason {
			return true
		}
	}
	return false
}

func (f *fakeEventSink) waitForState(t *testing.T, state domain.SessionState) {
	t.Helper()
	waitUntil(t, func() bool { return f.hasState(state) }, "timed out waiting for state "+string(state))
}

func (f *fakeEventSink) waitForReason(t *testing.T, reason domain.SessionStateReason) {
	t.Helper()
	waitUntil(t, func() bool { return f.hasReason(reason) }, "timed out waiting for reason "+string(reason))
}
