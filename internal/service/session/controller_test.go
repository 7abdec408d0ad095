package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"speech-coach-service/internal/events"
	"speech-coach-service/internal/models"
	"speech-coach-service/internal/service/analysis"
	"speech-coach-service/internal/service/recognition"
)

// fakeSource implements recognition.Source for testing
type fakeSource struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
	handler  recognition.Handler
}

func (s *fakeSource) Start(ctx context.Context, h recognition.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.handler = h
	return s.startErr
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeSource) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// fakeAnalyzer implements Analyzer and SessionResetter for testing
type fakeAnalyzer struct {
	mu       sync.Mutex
	requests []models.AnalysisRequest
	resets   []string
	result   *models.AnalysisResult
	err      error
	resetErr error
	block    chan struct{}
	entered  chan struct{}
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	block, entered := a.block, a.entered
	a.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		<-block
	}
	if a.err != nil {
		return nil, a.err
	}
	if a.result != nil {
		return a.result, nil
	}
	return &models.AnalysisResult{Analysis: models.Analysis{FullText: req.Text, Rate: 120, RateUnit: "spm"}}, nil
}

func (a *fakeAnalyzer) ResetSession(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resets = append(a.resets, sessionID)
	return a.resetErr
}

func (a *fakeAnalyzer) requestCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

// recordingPresenter captures presentation updates
type recordingPresenter struct {
	mu          sync.Mutex
	statuses    []string
	transcripts []string
	results     []*models.AnalysisResult
	failures    []error
	ended       int
}

func (p *recordingPresenter) Status(_ string, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, msg)
}

func (p *recordingPresenter) Transcript(_ string, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transcripts = append(p.transcripts, text)
}

func (p *recordingPresenter) Elapsed(_ string, _ int, ended bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ended {
		p.ended++
	}
}

func (p *recordingPresenter) Result(_ string, r *models.AnalysisResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
}

func (p *recordingPresenter) Failure(_ string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, err)
}

func (p *recordingPresenter) lastStatus() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.statuses) == 0 {
		return ""
	}
	return p.statuses[len(p.statuses)-1]
}

func (p *recordingPresenter) failureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.failures)
}

func newTestController(src *fakeSource, an Analyzer, pres *recordingPresenter) *Controller {
	opts := DefaultOptions()
	opts.TickInterval = time.Hour
	opts.Publisher = events.New(&events.Config{Enabled: false})
	return NewController(src, Granted, an, pres, opts)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestController_SingleFinalIsAnalyzed(t *testing.T) {
	src := &fakeSource{}
	an := &fakeAnalyzer{}
	pres := &recordingPresenter{}
	c := newTestController(src, an, pres)
	initialID := c.SessionID()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.State() != StateRecording {
		t.Fatalf("expected StateRecording, got %v", c.State())
	}

	c.OnResult(models.Final("안녕하세요"))

	res, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	if an.requestCount() != 1 {
		t.Fatalf("expected 1 analysis request, got %d", an.requestCount())
	}
	req := an.requests[0]
	if req.Text != "안녕하세요" {
		t.Errorf("expected text '안녕하세요', got %q", req.Text)
	}
	if req.SessionID != initialID {
		t.Errorf("expected first session to use %q, got %q", initialID, req.SessionID)
	}
	if !req.RequestAIFeedback {
		t.Error("expected AI feedback to be requested")
	}
	if req.EndTimeSeconds < req.StartTimeSeconds {
		t.Errorf("end %v before start %v", req.EndTimeSeconds, req.StartTimeSeconds)
	}
	if res == nil || res.SessionID != initialID {
		t.Errorf("expected result for %q, got %+v", initialID, res)
	}
	if c.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", c.State())
	}
	if pres.lastStatus() != StatusAnalysisComplete {
		t.Errorf("expected status %q, got %q", StatusAnalysisComplete, pres.lastStatus())
	}
	if len(pres.results) != 1 {
		t.Errorf("expected 1 presented result, got %d", len(pres.results))
	}
	if pres.ended != 1 {
		t.Errorf("expected timer to end once, got %d", pres.ended)
	}
	if len(c.Fragments()) != 0 {
		t.Error("expected fragment log to be cleared after analysis")
	}
	if c.DisplayText() != "안녕하세요" {
		t.Errorf("expected transcript to stay on display, got %q", c.DisplayText())
	}
}

func TestController_RevisedFinalNotDuplicated(t *testing.T) {
	src := &fakeSource{}
	an := &fakeAnalyzer{}
	c := newTestController(src, an, &recordingPresenter{})

	_ = c.Start(context.Background())
	c.OnResult(models.Final("안녕"))
	c.OnResult(models.Final("안녕 하세요"))

	if got := c.FullText(); got != "안녕 하세요" {
		t.Errorf("expected '안녕 하세요', got %q", got)
	}
}

func TestController_StopWithEmptyTranscript(t *testing.T) {
	src := &fakeSource{}
	an := &fakeAnalyzer{}
	pres := &recordingPresenter{}
	c := newTestController(src, an, pres)

	_ = c.Start(context.Background())
	c.OnResult(models.Interim("음"))

	res, err := c.Stop(context.Background())
	if err != nil || res != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", res, err)
	}
	if an.requestCount() != 0 {
		t.Errorf("expected no analysis request, got %d", an.requestCount())
	}
	if c.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", c.State())
	}
	if pres.lastStatus() != StatusNothingRecorded {
		t.Errorf("expected status %q, got %q", StatusNothingRecorded, pres.lastStatus())
	}
}

func TestController_AnalysisServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal"}`))
	}))
	defer srv.Close()

	src := &fakeSource{}
	pres := &recordingPresenter{}
	client := analysis.New(analysis.Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	c := newTestController(src, client, pres)

	_ = c.Start(context.Background())
	c.OnResult(models.Final("hello"))

	_, err := c.Stop(context.Background())

	var te *analysis.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
	if te.Message != "internal" {
		t.Errorf("expected message 'internal', got %q", te.Message)
	}
	if c.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", c.State())
	}
	if pres.failureCount() != 1 || !errors.As(pres.failures[0], &te) {
		t.Errorf("expected presented TransportError, got %v", pres.failures)
	}
	if pres.lastStatus() != StatusAnalysisFailed {
		t.Errorf("expected status %q, got %q", StatusAnalysisFailed, pres.lastStatus())
	}
	if len(c.Fragments()) != 1 {
		t.Error("expected fragment log to be kept after a failed analysis")
	}
}

func TestController_StopFromIdle(t *testing.T) {
	src := &fakeSource{}
	an := &fakeAnalyzer{}
	pres := &recordingPresenter{}
	c := newTestController(src, an, pres)

	if _, err := c.Stop(context.Background()); err != ErrNotRecording {
		t.Errorf("expected ErrNotRecording, got %v", err)
	}
	if c.State() != StateIdle || an.requestCount() != 0 || len(pres.statuses) != 0 {
		t.Error("expected stop from idle to change nothing")
	}
}

func TestController_DoubleStart(t *testing.T) {
	src := &fakeSource{}
	c := newTestController(src, &fakeAnalyzer{}, &recordingPresenter{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := c.Start(context.Background()); err != ErrAlreadyActive {
		t.Errorf("expected ErrAlreadyActive, got %v", err)
	}
	if src.startCount() != 1 {
		t.Errorf("expected source started once, got %d", src.startCount())
	}
	c.Close()
}

func TestController_ResultsIgnoredWhenIdle(t *testing.T) {
	c := newTestController(&fakeSource{}, &fakeAnalyzer{}, &recordingPresenter{})

	c.OnResult(models.Final("stray"))

	if c.FullText() != "" {
		t.Errorf("expected idle controller to ignore results, got %q", c.FullText())
	}
}

func TestController_AutoRestartKeepsTranscript(t *testing.T) {
	src := &fakeSource{}
	an := &fakeAnalyzer{}
	c := newTestController(src, an, &recordingPresenter{})

	_ = c.Start(context.Background())
	c.OnResult(models.Final("first part"))

	c.OnEnd()
	waitFor(t, func() bool { return src.startCount() == 2 })

	// The new pass re-announces the last final before continuing
	c.OnResult(models.Final("first part"))
	c.OnResult(models.Final("second part"))

	if c.Restarts() != 1 {
		t.Errorf("expected 1 restart, got %d", c.Restarts())
	}
	if c.State() != StateRecording {
		t.Errorf("expected still recording, got %v", c.State())
	}

	_, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := an.requests[0].Text; got != "first part second part" {
		t.Errorf("expected 'first part second part', got %q", got)
	}
}

func TestController_EndAfterStopDoesNotRestart(t *testing.T) {
	src := &fakeSource{}
	c := newTestController(src, &fakeAnalyzer{}, &recordingPresenter{})

	_ = c.Start(context.Background())
	_, _ = c.Stop(context.Background())

	c.OnEnd()
	time.Sleep(20 * time.Millisecond)

	if src.startCount() != 1 {
		t.Errorf("expected no restart after stop, got %d starts", src.startCount())
	}
}

func TestController_RecognitionErrorAborts(t *testing.T) {
	src := &fakeSource{}
	an := &fakeAnalyzer{}
	pres := &recordingPresenter{}
	c := newTestController(src, an, pres)

	_ = c.Start(context.Background())
	c.OnResult(models.Final("partial talk"))
	c.OnError(&recognition.Error{Code: "network"})

	if c.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", c.State())
	}
	if pres.lastStatus() != "recognition error: network" {
		t.Errorf("unexpected status %q", pres.lastStatus())
	}
	if pres.failureCount() != 1 {
		t.Errorf("expected 1 failure, got %d", pres.failureCount())
	}
	if an.requestCount() != 0 {
		t.Error("expected no analysis after recognition error")
	}
	if _, err := c.Stop(context.Background()); err != ErrNotRecording {
		t.Errorf("expected ErrNotRecording after abort, got %v", err)
	}
}

func TestController_RestartFailureAborts(t *testing.T) {
	src := &fakeSource{}
	pres := &recordingPresenter{}
	c := newTestController(src, &fakeAnalyzer{}, pres)

	_ = c.Start(context.Background())

	src.mu.Lock()
	src.startErr = &recognition.Error{Code: "audio-capture"}
	src.mu.Unlock()

	c.OnEnd()
	waitFor(t, func() bool { return c.State() == StateIdle })

	if pres.lastStatus() != "recognition error: audio-capture" {
		t.Errorf("unexpected status %q", pres.lastStatus())
	}
}

func TestController_StartFailure(t *testing.T) {
	src := &fakeSource{startErr: errors.New("engine unavailable")}
	pres := &recordingPresenter{}
	c := newTestController(src, &fakeAnalyzer{}, pres)

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if c.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", c.State())
	}
	if pres.lastStatus() != "recognition error: engine" {
		t.Errorf("unexpected status %q", pres.lastStatus())
	}
}

func TestController_PermissionDenied(t *testing.T) {
	src := &fakeSource{}
	pres := &recordingPresenter{}
	opts := DefaultOptions()
	opts.Publisher = events.New(nil)
	deny := PermissionFunc(func(context.Context) error { return errors.New("user dismissed prompt") })
	c := NewController(src, deny, &fakeAnalyzer{}, pres, opts)

	err := c.Start(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", c.State())
	}
	if src.startCount() != 0 {
		t.Error("expected source not to be started")
	}
	if pres.lastStatus() != StatusPermissionRequired {
		t.Errorf("expected status %q, got %q", StatusPermissionRequired, pres.lastStatus())
	}

	// A later start with permission is not blocked by the failed attempt
	c.permission = Granted
	if err := c.Start(context.Background()); err != nil {
		t.Errorf("expected start to succeed after grant, got %v", err)
	}
	c.Close()
}

func TestController_BusyWhileAnalyzing(t *testing.T) {
	src := &fakeSource{}
	an := &fakeAnalyzer{block: make(chan struct{}), entered: make(chan struct{})}
	pres := &recordingPresenter{}
	c := newTestController(src, an, pres)

	_ = c.Start(context.Background())
	c.OnResult(models.Final("slow analysis"))

	done := make(chan error, 1)
	go func() {
		_, err := c.Stop(context.Background())
		done <- err
	}()
	<-an.entered

	if c.State() != StateAnalyzing {
		t.Errorf("expected StateAnalyzing, got %v", c.State())
	}
	if err := c.Start(context.Background()); err != ErrBusy {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if err := c.Reset(context.Background()); err != ErrBusy {
		t.Errorf("expected reset to be refused while analyzing, got %v", err)
	}
	if _, err := c.Stop(context.Background()); err != ErrNotRecording {
		t.Errorf("expected second stop to be refused, got %v", err)
	}

	// A late engine error must not disturb the analysis
	c.OnError(&recognition.Error{Code: "aborted"})
	if c.State() != StateAnalyzing {
		t.Errorf("expected StateAnalyzing after late error, got %v", c.State())
	}

	close(an.block)
	if err := <-done; err != nil {
		t.Fatalf("stop: %v", err)
	}
	if c.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", c.State())
	}
	if an.requestCount() != 1 {
		t.Errorf("expected exactly one analysis, got %d", an.requestCount())
	}
}

func TestController_NewSessionIDPerStart(t *testing.T) {
	src := &fakeSource{}
	an := &fakeAnalyzer{}
	c := newTestController(src, an, &recordingPresenter{})

	_ = c.Start(context.Background())
	c.OnResult(models.Final("one"))
	_, _ = c.Stop(context.Background())

	_ = c.Start(context.Background())
	if c.FullText() != "" {
		t.Errorf("expected fresh transcript, got %q", c.FullText())
	}
	c.OnResult(models.Final("two"))
	_, _ = c.Stop(context.Background())

	if an.requests[0].SessionID == an.requests[1].SessionID {
		t.Errorf("expected distinct session ids, both %q", an.requests[0].SessionID)
	}
	if an.requests[1].Text != "two" {
		t.Errorf("expected second transcript 'two', got %q", an.requests[1].Text)
	}
}

func TestController_Reset(t *testing.T) {
	src := &fakeSource{}
	an := &fakeAnalyzer{}
	pres := &recordingPresenter{}
	c := newTestController(src, an, pres)

	_ = c.Start(context.Background())
	if err := c.Reset(context.Background()); err != ErrAlreadyActive {
		t.Errorf("expected ErrAlreadyActive while recording, got %v", err)
	}
	c.OnResult(models.Final("before reset"))
	_, _ = c.Stop(context.Background())

	previous := c.SessionID()
	if err := c.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if c.SessionID() == previous {
		t.Error("expected a new session id after reset")
	}
	if c.FullText() != "" || c.DisplayText() != "" {
		t.Error("expected empty transcript after reset")
	}
	if len(an.resets) != 1 || an.resets[0] != previous {
		t.Errorf("expected remote reset of %q, got %v", previous, an.resets)
	}
	if pres.lastStatus() != StatusNewSession {
		t.Errorf("expected status %q, got %q", StatusNewSession, pres.lastStatus())
	}

	// The fresh id is used by the next recording
	fresh := c.SessionID()
	_ = c.Start(context.Background())
	if c.SessionID() != fresh {
		t.Errorf("expected next start to use %q, got %q", fresh, c.SessionID())
	}
	c.Close()
}

func TestController_ResetRemoteFailure(t *testing.T) {
	an := &fakeAnalyzer{resetErr: errors.New("unreachable")}
	pres := &recordingPresenter{}
	c := newTestController(&fakeSource{}, an, pres)

	if err := c.Reset(context.Background()); err != nil {
		t.Fatalf("expected local reset to succeed, got %v", err)
	}
	if pres.lastStatus() != StatusRemoteResetFailed {
		t.Errorf("expected status %q, got %q", StatusRemoteResetFailed, pres.lastStatus())
	}
}

func TestController_CloseAbandons(t *testing.T) {
	src := &fakeSource{}
	an := &fakeAnalyzer{}
	c := newTestController(src, an, &recordingPresenter{})

	_ = c.Start(context.Background())
	c.OnResult(models.Final("unsent"))
	c.Close()

	if c.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", c.State())
	}
	if an.requestCount() != 0 {
		t.Error("expected no analysis on close")
	}
	c.Close()
}
