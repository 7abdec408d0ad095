// Package transcript reconciles a stream of recognition events into a single
// growing, non-duplicated transcript.
package transcript

import (
	"strings"

	"speech-coach-service/internal/models"
)

// Update summarises what a single event did to the transcript.
type Update struct {
	Appended   []string // fragments committed by this event
	Duplicates int      // final candidates skipped as re-announcements
	Interim    string   // last interim text seen in the event
}

// Accumulator consumes recognition events and maintains the committed and
// live-display text of one session.
//
// Dedup rules for a final candidate:
//   - committed already ends with the candidate: skip (re-announced after a restart)
//   - candidate starts with committed: append only the new suffix
//   - otherwise: append the candidate as a new utterance
//
// Interim text is shown but never committed. Not safe for concurrent use;
// the owner serialises calls.
type Accumulator struct {
	committed   string
	liveDisplay string
	fragments   []string
}

// New returns an empty accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// Reset clears all state.
func (a *Accumulator) Reset() {
	a.committed = ""
	a.liveDisplay = ""
	a.fragments = nil
}

// OnEvent processes the candidates of ev from ev.StartIndex onwards, in order.
func (a *Accumulator) OnEvent(ev models.RecognitionEvent) Update {
	var upd Update
	start := ev.StartIndex
	if start < 0 {
		start = 0
	}

	for i := start; i < len(ev.Results); i++ {
		c := ev.Results[i]
		if !c.IsFinal {
			upd.Interim = c.Text
			continue
		}
		if part, ok := a.commit(c.Text); ok {
			upd.Appended = append(upd.Appended, part)
		} else {
			upd.Duplicates++
		}
	}

	a.liveDisplay = strings.TrimSpace(a.committed + upd.Interim)
	return upd
}

// commit applies the dedup rules to one final candidate.
func (a *Accumulator) commit(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", false
	}

	tail := strings.TrimRight(a.committed, " ")
	if strings.HasSuffix(tail, text) {
		return "", false
	}

	part := text
	if tail != "" && strings.HasPrefix(text, tail) {
		part = strings.TrimSpace(text[len(tail):])
		if part == "" {
			return "", false
		}
	}

	a.committed += part + " "
	a.fragments = append(a.fragments, part)
	return part, true
}

// FullText is the authoritative transcript used for analysis.
func (a *Accumulator) FullText() string {
	return strings.TrimSpace(a.committed)
}

// DisplayText is committed text plus the latest interim text.
func (a *Accumulator) DisplayText() string {
	return a.liveDisplay
}

// Fragments returns a copy of the committed fragment log.
func (a *Accumulator) Fragments() []string {
	out := make([]string, len(a.fragments))
	copy(out, a.fragments)
	return out
}

// ClearFragments empties the fragment log; committed and display text are kept.
func (a *Accumulator) ClearFragments() {
	a.fragments = nil
}
