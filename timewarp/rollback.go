package timewarp

import (
	"time"

	"puckstorm/client/frame"
)

// Request asks for resimulation starting at Frame. Raised internally when
// authoritative data lands on an already-simulated frame; hosts normally
// never construct one themselves.
type Request struct {
	Frame frame.Number
}

// Rollback describes one resimulation episode. Frames Start through End
// inclusive are replayed; the clock is rewound to Start-1 so the restored
// state is the post-simulation state of the frame before the replay begins.
type Rollback struct {
	Start frame.Number
	End   frame.Number
	// OriginalStep holds the effective timestep to restore once the episode
	// completes. While rolling back the world reports a zero step so the
	// host loop fast-forwards without wall-clock delay.
	OriginalStep time.Duration
	// Aborted marks an episode rejected by the depth check.
	Aborted bool
}

// Depth returns how many frames the episode replays.
func (r Rollback) Depth() frame.Number {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Stats counts notable netcode occurrences since the world was created.
type Stats struct {
	Rollbacks          uint64 `json:"rollbacks"`
	AbortedRollbacks   uint64 `json:"abortedRollbacks"`
	RangeFaults        uint64 `json:"rangeFaults"`
	NonRollbackUpdates uint64 `json:"nonRollbackUpdates"`
	EntitiesDestroyed  uint64 `json:"entitiesDestroyed"`
	LastRollbackDepth  uint64 `json:"lastRollbackDepth"`
}
