// Package mock provides a scripted recognition source for running without a
// browser or cloud credentials. It replays recognition passes the way a
// continuous engine delivers them: progressive interim results, finals, a
// re-announced final after each restart, and an end-of-pass notification.
package mock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/service/recognition"
)

// Pass is one recognition pass, from Start until the engine ends on its own.
type Pass struct {
	Events []models.RecognitionEvent `yaml:"events"`
	// Error, when set, is reported with this engine code instead of ending the pass.
	Error string `yaml:"error,omitempty"`
}

// Script is a sequence of passes replayed across restarts.
type Script struct {
	Interval time.Duration `yaml:"interval"`
	Passes   []Pass        `yaml:"passes"`
}

// DefaultScript is a short presentation split over two passes.
var DefaultScript = Script{
	Interval: 200 * time.Millisecond,
	Passes: []Pass{
		{Events: []models.RecognitionEvent{
			models.Interim("안녕"),
			models.Interim("안녕하세요"),
			models.Final("안녕하세요"),
			{StartIndex: 1, Results: []models.ResultCandidate{{Text: "안녕하세요", IsFinal: true}, {Text: "오늘은"}}},
			{StartIndex: 1, Results: []models.ResultCandidate{{Text: "안녕하세요", IsFinal: true}, {Text: "오늘은 음 발표를"}}},
			{StartIndex: 1, Results: []models.ResultCandidate{{Text: "안녕하세요", IsFinal: true}, {Text: "오늘은 음 발표를 시작하겠습니다", IsFinal: true}}},
		}},
		{Events: []models.RecognitionEvent{
			models.Final("오늘은 음 발표를 시작하겠습니다"),
			models.Interim("어 첫 번째로"),
			models.Final("어 첫 번째로 말씀드릴 것은"),
		}},
	},
}

// LoadScript reads a YAML script from path.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, err
	}
	return ParseScript(data)
}

// ParseScript decodes a YAML script.
func ParseScript(data []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("parse recognition script: %w", err)
	}
	if len(s.Passes) == 0 {
		return Script{}, fmt.Errorf("parse recognition script: no passes")
	}
	return s, nil
}

// Source implements recognition.Source by replaying a Script.
// Once every pass has been replayed, further passes are no-ops and Drained is closed.
type Source struct {
	script Script
	logger zerolog.Logger

	mu        sync.Mutex
	next      int
	cancel    context.CancelFunc
	passDone  chan struct{}
	drained   chan struct{}
	drainOnce sync.Once
}

// New creates a mock source for script. A zero interval replays without delay.
func New(script Script) *Source {
	return &Source{
		script:  script,
		logger:  logging.WithSource("mock"),
		drained: make(chan struct{}),
	}
}

// Drained is closed once every pass has been replayed.
func (s *Source) Drained() <-chan struct{} {
	return s.drained
}

// Start replays the next pass in the background.
func (s *Source) Start(ctx context.Context, h recognition.Handler) error {
	s.mu.Lock()
	prev := s.passDone
	s.mu.Unlock()
	if prev != nil {
		<-prev
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.script.Passes) {
		s.logger.Debug().Msg("Script exhausted, skipping recognition pass")
		s.drainOnce.Do(func() { close(s.drained) })
		return nil
	}
	pass := s.script.Passes[s.next]
	s.next++
	last := s.next == len(s.script.Passes)

	passCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.passDone = done

	s.logger.Debug().
		Int("pass", s.next).
		Int("events", len(pass.Events)).
		Str("error", pass.Error).
		Msg("Replaying scripted pass")

	go s.replay(passCtx, pass, last, h, done)
	return nil
}

// Stop cancels the pass in progress. Idempotent.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}

func (s *Source) replay(ctx context.Context, pass Pass, last bool, h recognition.Handler, done chan<- struct{}) {
	var timer *time.Timer
	if s.script.Interval > 0 {
		timer = time.NewTimer(s.script.Interval)
		defer timer.Stop()
	}

	for _, ev := range pass.Events {
		if timer != nil {
			select {
			case <-ctx.Done():
				close(done)
				h.OnEnd()
				return
			case <-timer.C:
				timer.Reset(s.script.Interval)
			}
		} else if ctx.Err() != nil {
			close(done)
			h.OnEnd()
			return
		}
		h.OnResult(ev)
	}

	if last && pass.Error == "" {
		s.drainOnce.Do(func() { close(s.drained) })
	}
	close(done)

	if pass.Error != "" {
		h.OnError(&recognition.Error{Code: pass.Error})
		return
	}
	h.OnEnd()
}
