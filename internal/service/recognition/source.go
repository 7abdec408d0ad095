// Package recognition defines the contract between speech recognition engines
// and the session controller.
package recognition

import (
	"context"
	"errors"
	"fmt"

	"speech-coach-service/internal/models"
)

// Handler receives the event stream of a recognition source.
// Calls for one pass are made in arrival order and never concurrently.
type Handler interface {
	// OnResult is called for each batch of results.
	OnResult(ev models.RecognitionEvent)

	// OnEnd is called when the engine stops on its own (silence timeout,
	// duration limits) or after Stop.
	OnEnd()

	// OnError is called when the engine reports an error.
	OnError(err error)
}

// Source is a restartable recognition engine (browser Web Speech API,
// Google Cloud Speech, scripted replays).
type Source interface {
	// Start begins a recognition pass delivering to h. Start may be called
	// again after the pass has ended. Callbacks must not be invoked from
	// within Start itself.
	Start(ctx context.Context, h Handler) error

	// Stop ends the current pass. Idempotent.
	Stop() error
}

// Config is the deployment-fixed recognition configuration.
type Config struct {
	Language        string
	Continuous      bool
	InterimResults  bool
	MaxAlternatives int
}

// DefaultConfig mirrors a continuous, interim-enabled Korean deployment.
func DefaultConfig() Config {
	return Config{
		Language:        "ko-KR",
		Continuous:      true,
		InterimResults:  true,
		MaxAlternatives: 1,
	}
}

// Error is an error reported by the recognition engine.
// Code is the engine's own error code (e.g. "no-speech", "network").
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recognition error %s: %v", e.Code, e.Err)
	}
	return "recognition error: " + e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError wraps err into an *Error unless it already is one.
func AsError(err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return &Error{Code: "engine", Err: err}
}
