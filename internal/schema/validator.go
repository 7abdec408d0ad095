// Package schema validates payloads arriving from clients before they reach
// the session controller or the analysis service.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"speech-coach-service/internal/models"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid payload")

// MaxTextBytes bounds a transcript accepted for analysis.
const MaxTextBytes = 1 << 20

type Validator struct {
	maxResults int
}

func New() *Validator {
	return &Validator{maxResults: 1000}
}

// ValidateAnalysisRequest checks a transcript submitted for analysis.
func (v *Validator) ValidateAnalysisRequest(req models.AnalysisRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalid)
	}
	if len(req.Text) > MaxTextBytes {
		return fmt.Errorf("%w: text exceeds %d bytes", ErrInvalid, MaxTextBytes)
	}
	if req.EndTimeSeconds != 0 && req.EndTimeSeconds < req.StartTimeSeconds {
		return fmt.Errorf("%w: end_time before start_time", ErrInvalid)
	}
	return nil
}

// ValidateRecognitionEvent checks a recognition event relayed by a browser.
// A startIndex past the end of results is allowed; such events carry nothing new.
func (v *Validator) ValidateRecognitionEvent(ev models.RecognitionEvent) error {
	if ev.StartIndex < 0 {
		return fmt.Errorf("%w: negative startIndex %d", ErrInvalid, ev.StartIndex)
	}
	if len(ev.Results) > v.maxResults {
		return fmt.Errorf("%w: %d results exceeds limit %d", ErrInvalid, len(ev.Results), v.maxResults)
	}
	log.Trace().
		Int("startIndex", ev.StartIndex).
		Int("results", len(ev.Results)).
		Msg("recognition event validated")
	return nil
}
