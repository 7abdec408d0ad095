package session

import "errors"

// Errors for invalid state transitions.
var (
	ErrAlreadyActive    = errors.New("session is already recording")
	ErrNotRecording     = errors.New("session is not recording")
	ErrBusy             = errors.New("session is busy analyzing")
	ErrPermissionDenied = errors.New("microphone permission denied")
)
