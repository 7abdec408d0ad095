package analysis

import (
	"encoding/json"
	"fmt"

	"speech-coach-service/internal/models"
)

// wireAnalysis accepts every field name the analysis service has used for
// the same quantity. toCanonical picks the first one present.
type wireAnalysis struct {
	SessionID string `json:"session_id"`
	FullText  string `json:"full_text"`

	Rate         *float64 `json:"rate"`
	RateUnit     string   `json:"rate_unit"`
	SPM          *float64 `json:"spm"`
	WPM          *float64 `json:"wpm"`
	RateFeedback string   `json:"rate_feedback"`
	SPMFeedback  string   `json:"spm_feedback"`
	WPMFeedback  string   `json:"wpm_feedback"`

	WordCount     *int `json:"word_count"`
	SyllableCount *int `json:"syllable_count"`

	DurationSeconds *float64 `json:"duration_seconds"`
	SpeechDuration  *float64 `json:"speech_duration"`
	DurationSec     *float64 `json:"duration_sec"`
	Duration        *float64 `json:"duration"`

	FillerWords  map[string]int `json:"filler_words"`
	TotalFillers *int           `json:"total_fillers"`
	AIFeedback   string         `json:"ai_feedback"`
}

type wireResponse struct {
	Success   *bool           `json:"success"`
	SessionID string          `json:"session_id"`
	Analysis  json.RawMessage `json:"analysis"`
	Error     string          `json:"error"`
}

// decodeResponse maps a service response body onto the canonical result.
func decodeResponse(body []byte) (*models.AnalysisResult, error) {
	var resp wireResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProtocolError{Reason: "malformed JSON", Err: err}
	}
	if resp.Success == nil {
		return nil, &ProtocolError{Reason: "missing success indicator"}
	}
	if !*resp.Success {
		reason := "success is false"
		if resp.Error != "" {
			reason = fmt.Sprintf("success is false: %s", resp.Error)
		}
		return nil, &ProtocolError{Reason: reason}
	}
	if len(resp.Analysis) == 0 || string(resp.Analysis) == "null" {
		return nil, &ProtocolError{Reason: "missing analysis"}
	}

	var wa wireAnalysis
	if err := json.Unmarshal(resp.Analysis, &wa); err != nil {
		return nil, &ProtocolError{Reason: "malformed analysis", Err: err}
	}

	sid := resp.SessionID
	if sid == "" {
		sid = wa.SessionID
	}
	return &models.AnalysisResult{
		SessionID: sid,
		Analysis:  wa.toCanonical(),
		Raw:       resp.Analysis,
	}, nil
}

func (w wireAnalysis) toCanonical() models.Analysis {
	a := models.Analysis{
		FullText:      w.FullText,
		WordCount:     w.WordCount,
		SyllableCount: w.SyllableCount,
		FillerWords:   w.FillerWords,
		AIFeedback:    w.AIFeedback,
	}

	switch {
	case w.Rate != nil:
		a.Rate, a.RateUnit = *w.Rate, w.RateUnit
	case w.SPM != nil:
		a.Rate, a.RateUnit = *w.SPM, "spm"
	case w.WPM != nil:
		a.Rate, a.RateUnit = *w.WPM, "wpm"
	}

	a.RateFeedback = firstNonEmpty(w.RateFeedback, w.SPMFeedback, w.WPMFeedback)
	a.DurationSeconds = firstSet(w.DurationSeconds, w.SpeechDuration, w.DurationSec, w.Duration)

	if a.FillerWords == nil {
		a.FillerWords = map[string]int{}
	}
	if w.TotalFillers != nil {
		a.TotalFillers = *w.TotalFillers
	} else {
		for _, n := range a.FillerWords {
			a.TotalFillers += n
		}
	}
	return a
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstSet(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}
