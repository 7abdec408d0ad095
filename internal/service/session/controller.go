package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"speech-coach-service/internal/events"
	"speech-coach-service/internal/models"
	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/observability/metrics"
	"speech-coach-service/internal/service/recognition"
	"speech-coach-service/internal/service/transcript"
)

// Status messages sent to the presenter.
const (
	StatusRecording          = "recording"
	StatusPermissionRequired = "microphone permission is required"
	StatusNothingRecorded    = "nothing was recorded"
	StatusAnalyzing          = "analyzing"
	StatusAnalysisComplete   = "analysis complete"
	StatusAnalysisFailed     = "analysis failed"
	StatusNewSession         = "new session started"
	StatusRemoteResetFailed  = "new session started (remote reset failed)"
	StatusStopped            = "recording stopped"
)

// Session outcomes used for metrics and lifecycle events.
const (
	outcomeEmpty    = "empty"
	outcomeAnalyzed = "analyzed"
	outcomeFailed   = "failed"
	outcomeAborted  = "aborted"
)

// Presenter is the presentation layer fed by the controller.
type Presenter interface {
	Status(sessionID, message string)
	Transcript(sessionID, text string)
	Elapsed(sessionID string, seconds int, ended bool)
	Result(sessionID string, result *models.AnalysisResult)
	Failure(sessionID string, err error)
}

// Analyzer sends a finished transcript for analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error)
}

// SessionResetter is implemented by analyzers that keep per-session state remotely.
type SessionResetter interface {
	ResetSession(ctx context.Context, sessionID string) error
}

// Permission acquires the audio-capture grant required to record.
type Permission interface {
	Acquire(ctx context.Context) error
}

// PermissionFunc adapts a function to Permission.
type PermissionFunc func(ctx context.Context) error

func (f PermissionFunc) Acquire(ctx context.Context) error {
	return f(ctx)
}

// Granted always grants permission.
var Granted = PermissionFunc(func(context.Context) error { return nil })

// Options configures a Controller.
type Options struct {
	TickInterval      time.Duration
	RequestAIFeedback bool
	IDs               *IDGenerator
	Publisher         *events.Publisher
	Metrics           *metrics.Metrics
	Now               func() time.Time
}

// DefaultOptions returns a one-second ticker with AI feedback requested.
func DefaultOptions() Options {
	return Options{
		TickInterval:      time.Second,
		RequestAIFeedback: true,
	}
}

// Controller drives the IDLE → RECORDING → ANALYZING → IDLE cycle.
// It implements recognition.Handler and owns one accumulator and one timer per
// session; both are replaced on every Start.
//
// At most one session is active per controller. While recording, a source
// that ends on its own is restarted by a dedicated loop without touching the
// accumulator.
type Controller struct {
	source     recognition.Source
	permission Permission
	analyzer   Analyzer
	presenter  Presenter
	publisher  *events.Publisher
	metrics    *metrics.Metrics
	ids        *IDGenerator
	opts       Options

	lifecycle *Lifecycle

	mu          sync.Mutex
	sessionID   string
	consumed    bool
	starting    bool
	recording   bool
	acc         *transcript.Accumulator
	timer       *Timer
	startedAt   time.Time
	endedAt     time.Time
	restarts    int
	fragmentSeq int
	cancel      context.CancelFunc
	restartCh   chan struct{}
}

// NewController creates an idle controller with a fresh session ID.
func NewController(
	source recognition.Source,
	permission Permission,
	analyzer Analyzer,
	presenter Presenter,
	opts Options,
) *Controller {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.IDs == nil {
		opts.IDs = NewIDGenerator()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if permission == nil {
		permission = Granted
	}
	if presenter == nil {
		presenter = NopPresenter{}
	}

	return &Controller{
		source:     source,
		permission: permission,
		analyzer:   analyzer,
		presenter:  presenter,
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
		ids:        opts.IDs,
		opts:       opts,
		lifecycle:  NewLifecycle(),
		sessionID:  opts.IDs.Next(),
		acc:        transcript.New(),
	}
}

// Start acquires the capture permission and begins recording.
// Returns ErrAlreadyActive or ErrBusy if a session is in progress.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.starting {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	switch c.lifecycle.State() {
	case StateRecording:
		c.mu.Unlock()
		return ErrAlreadyActive
	case StateAnalyzing:
		c.mu.Unlock()
		return ErrBusy
	}
	c.starting = true
	c.mu.Unlock()

	if err := c.permission.Acquire(ctx); err != nil {
		c.mu.Lock()
		c.starting = false
		sid := c.sessionID
		c.mu.Unlock()

		if !errors.Is(err, ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		logger := logging.WithSession(sid)
		logger.Warn().Err(err).Msg("Microphone permission not granted")
		c.presenter.Status(sid, StatusPermissionRequired)
		c.presenter.Failure(sid, err)
		return err
	}

	c.mu.Lock()
	c.starting = false
	if err := c.lifecycle.Begin(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.consumed {
		c.sessionID = c.ids.Next()
	}
	c.consumed = true
	sid := c.sessionID

	sessCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.restartCh = make(chan struct{}, 1)
	c.acc = transcript.New()
	c.timer = NewTimer(c.opts.TickInterval, c.tickSink(sid))
	c.startedAt = c.opts.Now()
	c.endedAt = time.Time{}
	c.restarts = 0
	c.fragmentSeq = 0
	c.recording = true
	timer, restartCh, startedAt := c.timer, c.restartCh, c.startedAt
	c.mu.Unlock()

	logger := logging.WithSession(sid)
	logger.Info().Time("startedAt", startedAt).Msg("Session recording started")

	c.metrics.RecordSessionStart()
	c.publishSession(models.SessionEvent{EventType: models.EventSessionStarted, SessionID: sid})
	c.presenter.Transcript(sid, "")
	c.presenter.Status(sid, StatusRecording)

	go c.restartLoop(sessCtx, restartCh)
	timer.Start()

	if err := c.source.Start(sessCtx, c); err != nil {
		c.OnError(err)
		return fmt.Errorf("start recognition: %w", err)
	}
	return nil
}

// Stop ends recording and, when something was said, sends the transcript for
// analysis. It blocks until the analysis resolves. An empty transcript returns
// the controller to IDLE and yields (nil, nil). Stop without an active
// recording returns ErrNotRecording and changes nothing.
func (c *Controller) Stop(ctx context.Context) (*models.AnalysisResult, error) {
	c.mu.Lock()
	if !c.recording || c.lifecycle.State() != StateRecording {
		c.mu.Unlock()
		return nil, ErrNotRecording
	}
	c.recording = false
	c.endedAt = c.opts.Now()
	c.cancel()
	sid := c.sessionID
	timer := c.timer
	text := c.acc.FullText()
	startedAt, endedAt, restarts := c.startedAt, c.endedAt, c.restarts
	recorded := endedAt.Sub(startedAt).Seconds()

	logger := logging.WithSession(sid)

	if text == "" {
		c.lifecycle.Finish()
		c.mu.Unlock()

		timer.Stop()
		c.stopSource(sid)

		logger.Info().Msg("Session stopped with empty transcript")
		c.metrics.RecordSessionEnd(outcomeEmpty, recorded)
		c.publishSession(models.SessionEvent{
			EventType:      models.EventSessionEmpty,
			SessionID:      sid,
			ElapsedSeconds: timer.Elapsed(),
			Restarts:       restarts,
		})
		c.presenter.Status(sid, StatusNothingRecorded)
		return nil, nil
	}

	if err := c.lifecycle.Analyze(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	timer.Stop()
	c.stopSource(sid)

	req := models.AnalysisRequest{
		SessionID:         sid,
		Text:              text,
		RequestAIFeedback: c.opts.RequestAIFeedback,
		StartTimeSeconds:  unixSeconds(startedAt),
		EndTimeSeconds:    unixSeconds(endedAt),
	}

	logger.Info().
		Int("chars", len(text)).
		Int("restarts", restarts).
		Float64("recordedSeconds", recorded).
		Msg("Session stopped, requesting analysis")
	c.presenter.Status(sid, StatusAnalyzing)

	var (
		result *models.AnalysisResult
		err    error
	)
	if c.analyzer == nil {
		err = errors.New("no analyzer configured")
	} else {
		result, err = c.analyzer.Analyze(ctx, req)
		if err == nil && result == nil {
			err = errors.New("analyzer returned no result")
		}
	}

	c.mu.Lock()
	c.lifecycle.Finish()
	if err == nil {
		c.acc.ClearFragments()
	}
	c.mu.Unlock()

	if err != nil {
		logger.Error().Err(err).Msg("Analysis failed")
		c.metrics.RecordSessionEnd(outcomeFailed, recorded)
		c.publishSession(models.SessionEvent{
			EventType:      models.EventSessionFailed,
			SessionID:      sid,
			ElapsedSeconds: timer.Elapsed(),
			Restarts:       restarts,
			Text:           text,
			Error:          err.Error(),
		})
		c.presenter.Status(sid, StatusAnalysisFailed)
		c.presenter.Failure(sid, err)
		return nil, err
	}

	if result.SessionID == "" {
		result.SessionID = sid
	}
	logger.Info().
		Float64("rate", result.Analysis.Rate).
		Str("rateUnit", result.Analysis.RateUnit).
		Int("totalFillers", result.Analysis.TotalFillers).
		Msg("Analysis complete")
	c.metrics.RecordSessionEnd(outcomeAnalyzed, recorded)
	c.publishSession(models.SessionEvent{
		EventType:      models.EventSessionAnalyzed,
		SessionID:      sid,
		ElapsedSeconds: timer.Elapsed(),
		Restarts:       restarts,
		Text:           text,
		Rate:           result.Analysis.Rate,
		RateUnit:       result.Analysis.RateUnit,
		TotalFillers:   result.Analysis.TotalFillers,
	})
	c.presenter.Status(sid, StatusAnalysisComplete)
	c.presenter.Result(sid, result)
	return result, nil
}

// Reset begins a new logical session: a new session ID and an empty
// transcript. Only allowed while idle. The analysis service is asked to drop
// state for the previous ID; a failure there is reported but does not undo
// the local reset.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	if c.starting {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	switch c.lifecycle.State() {
	case StateRecording:
		c.mu.Unlock()
		return ErrAlreadyActive
	case StateAnalyzing:
		c.mu.Unlock()
		return ErrBusy
	}
	previous := c.sessionID
	c.sessionID = c.ids.Next()
	c.consumed = false
	c.acc = transcript.New()
	sid := c.sessionID
	c.mu.Unlock()

	logger := logging.WithSession(sid)
	logger.Info().Str("previousSessionId", previous).Msg("Session reset")
	c.publishSession(models.SessionEvent{EventType: models.EventSessionReset, SessionID: previous})
	c.presenter.Transcript(sid, "")

	if r, ok := c.analyzer.(SessionResetter); ok {
		if err := r.ResetSession(ctx, previous); err != nil {
			logger.Warn().Err(err).Str("previousSessionId", previous).Msg("Remote session reset failed")
			c.presenter.Status(sid, StatusRemoteResetFailed)
			return nil
		}
	}
	c.presenter.Status(sid, StatusNewSession)
	return nil
}

// Close abandons an active recording without analysis and stops background work.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return
	}
	c.recording = false
	c.endedAt = c.opts.Now()
	c.cancel()
	c.lifecycle.Finish()
	sid, timer := c.sessionID, c.timer
	recorded := c.endedAt.Sub(c.startedAt).Seconds()
	c.mu.Unlock()

	timer.Stop()
	c.stopSource(sid)

	logger := logging.WithSession(sid)
	logger.Info().Msg("Session abandoned")
	c.metrics.RecordSessionEnd(outcomeAborted, recorded)
	c.publishSession(models.SessionEvent{EventType: models.EventSessionAborted, SessionID: sid, Error: "closed"})
}

// --- recognition.Handler implementation ---

// OnResult feeds a recognition event into the accumulator.
// Events arriving while not recording are ignored.
func (c *Controller) OnResult(ev models.RecognitionEvent) {
	c.mu.Lock()
	if !c.recording {
		sid := c.sessionID
		c.mu.Unlock()
		logger := logging.WithSession(sid)
		logger.Debug().Msg("Recognition result ignored: not recording")
		return
	}
	upd := c.acc.OnEvent(ev)
	display := c.acc.DisplayText()
	sid := c.sessionID
	firstSeq := c.fragmentSeq
	c.fragmentSeq += len(upd.Appended)
	c.mu.Unlock()

	kind := "interim"
	if len(upd.Appended) > 0 || upd.Duplicates > 0 {
		kind = "final"
	}
	c.metrics.RecordRecognitionEvent(kind)
	c.metrics.RecordFinals(len(upd.Appended), upd.Duplicates)

	if upd.Duplicates > 0 {
		logger := logging.WithSession(sid)
		logger.Debug().Int("duplicates", upd.Duplicates).Msg("Skipped re-announced final results")
	}

	now := c.opts.Now().UnixMilli()
	for i, part := range upd.Appended {
		c.publishTranscript(models.TranscriptFinal{
			EventType: models.EventTranscriptFinal,
			SessionID: sid,
			Sequence:  firstSeq + i + 1,
			Text:      part,
			Timestamp: now,
		})
	}

	c.presenter.Transcript(sid, display)
}

// OnEnd requests a restart while recording is still desired.
func (c *Controller) OnEnd() {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return
	}
	ch := c.restartCh
	c.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
}

// OnError aborts an active recording. Errors reported while not recording
// are surfaced as a status only.
func (c *Controller) OnError(err error) {
	re := recognition.AsError(err)
	c.metrics.RecordRecognitionError(re.Code)

	c.mu.Lock()
	sid := c.sessionID
	if !c.recording {
		state := c.lifecycle.State()
		c.mu.Unlock()
		logger := logging.WithSession(sid)
		logger.Warn().Err(re).Str("state", state.String()).Msg("Recognition error outside recording")
		c.presenter.Status(sid, "recognition error: "+re.Code)
		return
	}
	c.recording = false
	c.endedAt = c.opts.Now()
	c.cancel()
	c.lifecycle.Finish()
	timer := c.timer
	restarts := c.restarts
	recorded := c.endedAt.Sub(c.startedAt).Seconds()
	c.mu.Unlock()

	timer.Stop()
	c.stopSource(sid)

	logger := logging.WithSession(sid)
	logger.Error().Err(re).Str("code", re.Code).Msg("Recognition error, session aborted")
	c.metrics.RecordSessionEnd(outcomeAborted, recorded)
	c.publishSession(models.SessionEvent{
		EventType:      models.EventSessionAborted,
		SessionID:      sid,
		ElapsedSeconds: timer.Elapsed(),
		Restarts:       restarts,
		Error:          re.Error(),
	})
	c.presenter.Status(sid, "recognition error: "+re.Code)
	c.presenter.Failure(sid, re)
}

// restartLoop re-invokes the source each time it ends on its own, for as
// long as the session is recording.
func (c *Controller) restartLoop(ctx context.Context, ch <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			c.restart(ctx)
		}
	}
}

func (c *Controller) restart(ctx context.Context) {
	c.mu.Lock()
	if !c.recording || ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.restarts++
	n := c.restarts
	sid := c.sessionID
	c.mu.Unlock()

	logger := logging.WithSession(sid)
	logger.Debug().Int("restart", n).Msg("Recognition ended while recording, restarting")
	c.metrics.RecordRestart()

	if err := c.source.Start(ctx, c); err != nil {
		c.OnError(err)
	}
}

// --- accessors ---

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return c.lifecycle.State()
}

// SessionID returns the current session identifier.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// FullText returns the committed transcript of the current session.
func (c *Controller) FullText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.FullText()
}

// DisplayText returns the live display text of the current session.
func (c *Controller) DisplayText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.DisplayText()
}

// Fragments returns the committed fragment log of the current session.
func (c *Controller) Fragments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.Fragments()
}

// Restarts returns the number of automatic restarts in the current session.
func (c *Controller) Restarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts
}

// Elapsed returns the timer's elapsed seconds for the current session.
func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		return 0
	}
	return c.timer.Elapsed()
}

// --- helpers ---

func (c *Controller) tickSink(sid string) TickFunc {
	return func(seconds int, ended bool) {
		c.presenter.Elapsed(sid, seconds, ended)
	}
}

func (c *Controller) stopSource(sid string) {
	if err := c.source.Stop(); err != nil {
		logger := logging.WithSession(sid)
		logger.Warn().Err(err).Msg("Failed to stop recognition source")
	}
}

func (c *Controller) publishSession(ev models.SessionEvent) {
	if ev.Timestamp == 0 {
		ev.Timestamp = c.opts.Now().UnixMilli()
	}
	if err := c.publisher.PublishLifecycle(context.Background(), ev); err != nil {
		c.logger(ev.SessionID).Error().Err(err).Str("eventType", ev.EventType).Msg("Failed to publish session event")
	}
}

func (c *Controller) publishTranscript(ev models.TranscriptFinal) {
	if err := c.publisher.PublishFragment(context.Background(), ev); err != nil {
		c.logger(ev.SessionID).Error().Err(err).Int("sequence", ev.Sequence).Msg("Failed to publish transcript fragment")
	}
}

func (c *Controller) logger(sid string) *zerolog.Logger {
	l := logging.WithSession(sid)
	return &l
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

// NopPresenter discards all presentation updates.
type NopPresenter struct{}

func (NopPresenter) Status(string, string) {}
func (NopPresenter) Transcript(string, string) {}
func (NopPresenter) Elapsed(string, int, bool) {}
func (NopPresenter) Result(string, *models.AnalysisResult) {}
func (NopPresenter) Failure(string, error) {}
