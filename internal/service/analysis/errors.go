package analysis

import "fmt"

// TransportError is a network failure or a non-2xx response from the
// analysis service. Message carries the service's own error text when the
// body contained one.
type TransportError struct {
	StatusCode int // 0 when no response was received
	Message    string
	Body       []byte
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("analysis service returned %d: %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("analysis service returned %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("analysis service unreachable: %v", e.Err)
	default:
		return "analysis service unreachable"
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is a 2xx response that does not decode into an analysis.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid analysis response: %s: %v", e.Reason, e.Err)
	}
	return "invalid analysis response: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
