// Package frame provides the frame-indexed primitives used by the rollback
// core: the simulation clock and a fixed-capacity circular buffer of
// per-frame values.
package frame

// Number identifies a discrete simulation tick. Frame numbers increase
// monotonically; zero is reserved to mean "no data yet" and is never a
// simulated frame.
type Number uint64

// saturatingSub returns a-b, clamped at zero.
func saturatingSub(a, b Number) Number {
	if a <= b {
		return 0
	}
	return a - b
}
