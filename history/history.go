// Package history stores per-entity component timelines: predicted values
// frame by frame, the spans during which the component existed, and the
// sparse authoritative values received from the server.
package history

import (
	"puckstorm/client/frame"
)

// Span is a half-open interval of frames during which a component existed.
// End is exclusive; End == 0 marks a span that is still open.
type Span struct {
	Start frame.Number `json:"start"`
	End   frame.Number `json:"end,omitempty"`
}

// Contains reports whether f falls inside the span.
func (s Span) Contains(f frame.Number) bool {
	return f >= s.Start && (s.End == 0 || f < s.End)
}

// Values is the frame-by-frame timeline of one component on one entity.
// Alongside the raw values it tracks the component's alive spans, so a
// rollback can distinguish "existed with value v" from "did not exist" at
// any frame inside the window.
//
// Not safe for concurrent use. Callers must hold the world mutex.
type Values[T comparable] struct {
	buf   *frame.Buffer[T]
	spans []Span

	mostRecentAuthoritative frame.Number
	correctionLogging       bool
}

// NewValues creates a timeline with the given buffer capacity, reporting a
// birth at birthFrame and storing the initial value there.
func NewValues[T comparable](capacity int, birthFrame frame.Number, initial T) *Values[T] {
	v := &Values[T]{buf: frame.NewBuffer[T](capacity)}
	v.ReportBirth(birthFrame)
	_ = v.buf.Insert(birthFrame, initial)
	return v
}

// Insert stores a value at f. Returns frame.ErrFrameTooOld for writes below
// the window.
func (v *Values[T]) Insert(f frame.Number, value T) error {
	return v.buf.Insert(f, value)
}

// AtFrame returns the recorded value for f, if any.
func (v *Values[T]) AtFrame(f frame.Number) (T, bool) {
	return v.buf.Get(f)
}

// AliveAt reports whether the component existed at f.
func (v *Values[T]) AliveAt(f frame.Number) bool {
	for _, span := range v.spans {
		if span.Contains(f) {
			return true
		}
	}
	return false
}

// ReportBirth opens a new alive span starting at f. Returns false without
// modifying anything when the component is already alive at f; spans stay
// sorted and non-overlapping.
func (v *Values[T]) ReportBirth(f frame.Number) bool {
	if v.AliveAt(f) {
		return false
	}
	v.spans = append(v.spans, Span{Start: f})
	v.normalizeSpans()
	return true
}

// ReportDeath closes the span covering f, ending it at f (exclusive). A
// no-op when the component is not alive at f, which happens routinely when
// a death is replayed during resimulation.
func (v *Values[T]) ReportDeath(f frame.Number) bool {
	for i, span := range v.spans {
		if !span.Contains(f) {
			continue
		}
		if span.Start == f {
			// Born and died on the same frame: the span never existed.
			v.spans = append(v.spans[:i], v.spans[i+1:]...)
		} else {
			v.spans[i].End = f
		}
		return true
	}
	return false
}

// RemoveFrameAndBeyond erases recorded values and liveness from f onward, so
// the timeline can be rewritten during resimulation. Spans starting at or
// after f are dropped; a span straddling f is reopened.
func (v *Values[T]) RemoveFrameAndBeyond(f frame.Number) {
	if f == 0 {
		return
	}
	v.buf.RemoveNewerThan(f - 1)
	kept := v.spans[:0]
	for _, span := range v.spans {
		if span.Start >= f {
			continue
		}
		if span.End != 0 && span.End > f {
			span.End = 0
		}
		kept = append(kept, span)
	}
	v.spans = kept
}

// AliveSpans returns a copy of the alive spans, oldest first.
func (v *Values[T]) AliveSpans() []Span {
	out := make([]Span, len(v.spans))
	copy(out, v.spans)
	return out
}

// SetMostRecentAuthoritative records the newest frame carrying server data.
func (v *Values[T]) SetMostRecentAuthoritative(f frame.Number) {
	if f > v.mostRecentAuthoritative {
		v.mostRecentAuthoritative = f
	}
}

// MostRecentAuthoritative returns the newest frame carrying server data, or 0.
func (v *Values[T]) MostRecentAuthoritative() frame.Number {
	return v.mostRecentAuthoritative
}

// EnableCorrectionLogging opts this timeline into misprediction reporting.
func (v *Values[T]) EnableCorrectionLogging() {
	v.correctionLogging = true
}

// CorrectionLogging reports whether mispredictions should be recorded.
func (v *Values[T]) CorrectionLogging() bool {
	return v.correctionLogging
}

// Occupancy exposes the underlying buffer occupancy for fault dumps.
func (v *Values[T]) Occupancy() []bool {
	return v.buf.Occupancy()
}

// OldestFrame returns the oldest queryable frame of the timeline.
func (v *Values[T]) OldestFrame() frame.Number {
	return v.buf.OldestFrame()
}

// NewestFrame returns the newest recorded frame of the timeline.
func (v *Values[T]) NewestFrame() frame.Number {
	return v.buf.NewestFrame()
}

// normalizeSpans keeps spans sorted by start frame.
func (v *Values[T]) normalizeSpans() {
	for i := len(v.spans) - 1; i > 0; i-- {
		if v.spans[i].Start < v.spans[i-1].Start {
			v.spans[i], v.spans[i-1] = v.spans[i-1], v.spans[i]
		}
	}
}
