package models

// Session lifecycle event types published to the session topic.
const (
	EventSessionStarted  = "session.started"
	EventSessionEmpty    = "session.empty"
	EventSessionAnalyzed = "session.analyzed"
	EventSessionFailed   = "session.failed"
	EventSessionAborted  = "session.aborted"
	EventSessionReset    = "session.reset"

	EventTranscriptFinal = "presentation.transcript.final"
)

// TranscriptFinal is published for every fragment committed to a transcript.
type TranscriptFinal struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Sequence  int    `json:"sequence"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// SessionEvent describes a session lifecycle transition.
type SessionEvent struct {
	EventType      string  `json:"eventType"`
	SessionID      string  `json:"sessionId"`
	Timestamp      int64   `json:"timestamp"`
	ElapsedSeconds int     `json:"elapsedSeconds,omitempty"`
	Restarts       int     `json:"restarts,omitempty"`
	Text           string  `json:"text,omitempty"`
	Rate           float64 `json:"rate,omitempty"`
	RateUnit       string  `json:"rateUnit,omitempty"`
	TotalFillers   int     `json:"totalFillers,omitempty"`
	Error          string  `json:"error,omitempty"`
}
