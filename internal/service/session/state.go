// Package session drives one narration session: recording, transcript
// accumulation, the elapsed-time ticker and the hand-off to analysis.
package session

import (
	"fmt"
	"sync"
)

// State represents the lifecycle state of a session controller.
type State int

const (
	// StateIdle - No session is active. Initial and terminal state.
	StateIdle State = iota
	// StateRecording - The recognition source is running and events are accumulated.
	StateRecording
	// StateAnalyzing - Recording has stopped and one analysis request is in flight.
	StateAnalyzing
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StateAnalyzing:
		return "ANALYZING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsActive returns true if a session occupies the controller.
func (s State) IsActive() bool {
	return s == StateRecording || s == StateAnalyzing
}

// Lifecycle manages the state machine for a controller.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → RECORDING → ANALYZING → IDLE
//	          │
//	          └── Finish() ──→ IDLE (empty transcript, recognition error)
//
// Rules:
//   - IDLE: Begin() moves to RECORDING; everything else is rejected
//   - RECORDING: Analyze() moves to ANALYZING, Finish() returns to IDLE
//   - ANALYZING: only Finish() is accepted, so one analysis is in flight at most
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a lifecycle in IDLE state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Begin transitions IDLE → RECORDING.
func (l *Lifecycle) Begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateIdle:
		l.state = StateRecording
		return nil
	case StateRecording:
		return ErrAlreadyActive
	case StateAnalyzing:
		return ErrBusy
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Analyze transitions RECORDING → ANALYZING.
func (l *Lifecycle) Analyze() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateRecording:
		l.state = StateAnalyzing
		return nil
	case StateIdle:
		return ErrNotRecording
	case StateAnalyzing:
		return ErrBusy
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Finish returns to IDLE from any active state.
// Returns the previous state and whether a transition happened.
func (l *Lifecycle) Finish() (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.state
	if !prev.IsActive() {
		return prev, false
	}
	l.state = StateIdle
	return prev, true
}
