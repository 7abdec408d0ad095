package models

import "encoding/json"

// AnalysisRequest is sent to the analysis service once per session.
type AnalysisRequest struct {
	SessionID         string  `json:"session_id"`
	Text              string  `json:"text"`
	RequestAIFeedback bool    `json:"generate_ai_feedback"`
	StartTimeSeconds  float64 `json:"start_time"`
	EndTimeSeconds    float64 `json:"end_time"`
}

// Analysis is the canonical shape of a speech analysis. Rate is expressed in
// RateUnit ("spm" or "wpm") as reported by the service.
type Analysis struct {
	FullText        string         `json:"full_text"`
	Rate            float64        `json:"rate"`
	RateUnit        string         `json:"rate_unit"`
	RateFeedback    string         `json:"rate_feedback,omitempty"`
	WordCount       *int           `json:"word_count,omitempty"`
	SyllableCount   *int           `json:"syllable_count,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
	FillerWords     map[string]int `json:"filler_words"`
	TotalFillers    int            `json:"total_fillers"`
	AIFeedback      string         `json:"ai_feedback,omitempty"`
}

// AnalysisResult is a successful analysis response. Raw keeps the service's
// analysis object untouched for pass-through consumers.
type AnalysisResult struct {
	SessionID string          `json:"session_id"`
	Analysis  Analysis        `json:"analysis"`
	Raw       json.RawMessage `json:"-"`
}
