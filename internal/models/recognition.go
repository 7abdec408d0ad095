// Package models defines the data structures shared across the service.
package models

// ResultCandidate is the top alternative of one recognition result.
type ResultCandidate struct {
	Text    string `json:"text" yaml:"text"`
	IsFinal bool   `json:"isFinal" yaml:"isFinal"`
}

// RecognitionEvent is one delivery from a recognition source.
// StartIndex is the first index in Results that is new or changed within the
// current recognition pass; earlier entries are re-announcements.
type RecognitionEvent struct {
	StartIndex int               `json:"startIndex" yaml:"startIndex"`
	Results    []ResultCandidate `json:"results" yaml:"results"`
}

// Final is a convenience constructor for a single final candidate event.
func Final(text string) RecognitionEvent {
	return RecognitionEvent{Results: []ResultCandidate{{Text: text, IsFinal: true}}}
}

// Interim is a convenience constructor for a single interim candidate event.
func Interim(text string) RecognitionEvent {
	return RecognitionEvent{Results: []ResultCandidate{{Text: text}}}
}
