package frame

import "errors"

// ErrFrameTooOld reports a write below the buffer's valid window. The value is
// dropped; callers decide whether to count or log the fault.
var ErrFrameTooOld = errors.New("frame too old")

type slot[T any] struct {
	value T
	ok    bool
}

// Buffer is a fixed-capacity circular store of optional per-frame values.
// The newest buffered frame anchors the valid window: a buffer of capacity N
// whose newest frame is F can hold frames (F-N, F]. Values are dense by
// position but sparse by presence, so a frame inside the window can still
// hold nothing. Reads make no distinction between "empty slot" and "outside
// the window".
//
// Not safe for concurrent use. Callers must hold the world mutex.
type Buffer[T any] struct {
	slots []slot[T]
	head  int    // slot index of the newest frame, meaningful when count > 0
	count int    // materialized slots, newest first
	front Number // newest buffered frame, 0 = never written
}

// NewBuffer returns a buffer able to hold capacity consecutive frames.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{slots: make([]slot[T], capacity)}
}

// Capacity returns the width of the frame window.
func (b *Buffer[T]) Capacity() int {
	return len(b.slots)
}

// NewestFrame returns the newest frame ever written, or 0 when empty.
func (b *Buffer[T]) NewestFrame() Number {
	return b.front
}

// OldestFrame returns the oldest frame still inside the valid window, or 0
// when the buffer has never been written.
func (b *Buffer[T]) OldestFrame() Number {
	if b.front == 0 {
		return 0
	}
	oldest := saturatingSub(b.front, Number(len(b.slots)-1))
	if oldest == 0 {
		oldest = 1
	}
	return oldest
}

// at maps a frame to its slot index, reporting whether the frame lies inside
// the materialized window.
func (b *Buffer[T]) at(f Number) (int, bool) {
	if f == 0 || b.front == 0 || f > b.front {
		return 0, false
	}
	offset := b.front - f
	if offset >= Number(b.count) {
		return 0, false
	}
	return (b.head + int(offset)) % len(b.slots), true
}

// Get returns the value stored for f, if any.
func (b *Buffer[T]) Get(f Number) (T, bool) {
	var zero T
	idx, ok := b.at(f)
	if !ok {
		return zero, false
	}
	s := b.slots[idx]
	if !s.ok {
		return zero, false
	}
	return s.value, true
}

// Insert stores v at frame f. Writes inside the window overwrite in place.
// Writes ahead of the newest frame advance the window, materializing empty
// slots for any skipped frames and evicting frames that fall off the back.
// Writes below the window return ErrFrameTooOld and leave the buffer
// untouched.
func (b *Buffer[T]) Insert(f Number, v T) error {
	if f == 0 {
		return ErrFrameTooOld
	}
	if b.front == 0 {
		b.head = 0
		b.count = 1
		b.slots[0] = slot[T]{value: v, ok: true}
		b.front = f
		return nil
	}
	if f <= b.front {
		offset := b.front - f
		if offset >= Number(len(b.slots)) {
			return ErrFrameTooOld
		}
		// Materialize any gap between the written region and f.
		for Number(b.count) <= offset {
			b.slots[(b.head+b.count)%len(b.slots)] = slot[T]{}
			b.count++
		}
		b.slots[(b.head+int(offset))%len(b.slots)] = slot[T]{value: v, ok: true}
		return nil
	}
	advance := f - b.front
	if advance >= Number(len(b.slots)) {
		// The whole window moves past the old contents.
		b.head = 0
		b.count = 1
		b.slots[0] = slot[T]{value: v, ok: true}
		b.front = f
		return nil
	}
	for i := Number(0); i < advance; i++ {
		b.head = (b.head - 1 + len(b.slots)) % len(b.slots)
		if b.count < len(b.slots) {
			b.count++
		}
		b.slots[b.head] = slot[T]{}
	}
	b.slots[b.head] = slot[T]{value: v, ok: true}
	b.front = f
	return nil
}

// RemoveNewerThan discards every stored value for frames greater than f and
// repositions the window so f becomes the newest frame. A no-op when f is at
// or ahead of the newest frame.
func (b *Buffer[T]) RemoveNewerThan(f Number) {
	if b.front == 0 || f >= b.front {
		return
	}
	if f == 0 {
		b.count = 0
		b.head = 0
		b.front = 0
		return
	}
	drop := b.front - f
	if drop >= Number(b.count) {
		b.count = 0
		b.head = 0
	} else {
		b.head = (b.head + int(drop)) % len(b.slots)
		b.count -= int(drop)
	}
	b.front = f
}

// Occupancy reports which slots in the window hold values, newest first.
// Diagnostic helper for fault dumps.
func (b *Buffer[T]) Occupancy() []bool {
	occ := make([]bool, b.count)
	for i := 0; i < b.count; i++ {
		occ[i] = b.slots[(b.head+i)%len(b.slots)].ok
	}
	return occ
}
