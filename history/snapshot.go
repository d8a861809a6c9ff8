package history

import "puckstorm/client/frame"

// Snapshot caches authoritative server values for one component on one
// entity. Far sparser than the predicted timeline, so it keeps a much wider
// window: old authoritative data is still useful for late-joining state.
type Snapshot[T comparable] struct {
	buf *frame.Buffer[T]
}

// NewSnapshot returns a snapshot cache holding capacity frames.
func NewSnapshot[T comparable](capacity int) *Snapshot[T] {
	return &Snapshot[T]{buf: frame.NewBuffer[T](capacity)}
}

// Insert stores an authoritative value at f. Returns frame.ErrFrameTooOld
// for writes below the window.
func (s *Snapshot[T]) Insert(f frame.Number, value T) error {
	return s.buf.Insert(f, value)
}

// AtFrame returns the authoritative value for f, if any.
func (s *Snapshot[T]) AtFrame(f frame.Number) (T, bool) {
	return s.buf.Get(f)
}

// NewestFrame returns the newest authoritative frame received, or 0.
func (s *Snapshot[T]) NewestFrame() frame.Number {
	return s.buf.NewestFrame()
}
