package history

import "puckstorm/client/frame"

// Correction records a visible misprediction: the value the client had
// predicted for a frame and the value resimulation produced for that same
// frame. Hosts consume these to drive visual smoothing instead of snapping.
type Correction[T comparable] struct {
	Before T            `json:"before"`
	After  T            `json:"after"`
	Frame  frame.Number `json:"frame"`
}
