// Package browser drives a Web Speech API recogniser running in a connected
// browser. Commands go out through a Sender; the bridge that owns the
// connection feeds the browser's events back through Result, End and Error.
package browser

import (
	"context"
	"errors"
	"sync"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/service/recognition"
)

// Command types sent to the browser.
const (
	CommandStart = "recognition.start"
	CommandStop  = "recognition.stop"
)

// ErrNotConnected is returned when no sender is attached.
var ErrNotConnected = errors.New("browser not connected")

// Command instructs the browser recogniser.
type Command struct {
	Type            string `json:"type"`
	Lang            string `json:"lang,omitempty"`
	Continuous      bool   `json:"continuous,omitempty"`
	InterimResults  bool   `json:"interimResults,omitempty"`
	MaxAlternatives int    `json:"maxAlternatives,omitempty"`
}

// Sender delivers a command to the browser.
type Sender interface {
	Send(cmd Command) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(cmd Command) error

func (f SenderFunc) Send(cmd Command) error {
	return f(cmd)
}

// Source implements recognition.Source for a remote browser recogniser.
type Source struct {
	cfg    recognition.Config
	sender Sender

	mu      sync.Mutex
	handler recognition.Handler
	running bool
}

// New creates a browser source that issues commands through sender.
func New(cfg recognition.Config, sender Sender) *Source {
	return &Source{cfg: cfg, sender: sender}
}

// Start asks the browser to begin a recognition pass.
func (s *Source) Start(ctx context.Context, h recognition.Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.sender == nil {
		return &recognition.Error{Code: "network", Err: ErrNotConnected}
	}

	s.mu.Lock()
	s.handler = h
	s.running = true
	s.mu.Unlock()

	err := s.sender.Send(Command{
		Type:            CommandStart,
		Lang:            s.cfg.Language,
		Continuous:      s.cfg.Continuous,
		InterimResults:  s.cfg.InterimResults,
		MaxAlternatives: s.cfg.MaxAlternatives,
	})
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return &recognition.Error{Code: "network", Err: err}
	}
	return nil
}

// Stop asks the browser to end the current pass. Idempotent.
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.sender == nil {
		return nil
	}
	return s.sender.Send(Command{Type: CommandStop})
}

// Running reports whether a pass has been started and not yet ended.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Result forwards a browser result event.
func (s *Source) Result(ev models.RecognitionEvent) {
	if h := s.current(); h != nil {
		h.OnResult(ev)
	}
}

// End forwards the browser's end-of-pass notification.
func (s *Source) End() {
	s.mu.Lock()
	s.running = false
	h := s.handler
	s.mu.Unlock()

	if h != nil {
		h.OnEnd()
	}
}

// Error forwards a browser recognition error code.
func (s *Source) Error(code string) {
	if code == "" {
		code = "unknown"
	}
	if h := s.current(); h != nil {
		h.OnError(&recognition.Error{Code: code})
	}
}

func (s *Source) current() recognition.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}
