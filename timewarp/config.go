// Package timewarp coordinates client-side rollback and resimulation: it
// records predicted component values frame by frame, ingests authoritative
// server data for past frames, and when they disagree rewinds the simulation
// clock and replays the affected frames.
package timewarp

import "puckstorm/client/frame"

// ConsolidationStrategy picks which frame wins when several rollback
// requests arrive in the same tick.
type ConsolidationStrategy string

const (
	// ConsolidateOldest resimulates from the oldest requested frame, so every
	// piece of new authoritative data is honored. The default.
	ConsolidateOldest ConsolidationStrategy = "oldest"
	// ConsolidateNewest resimulates from the newest requested frame, trading
	// correctness of older data for shorter replays.
	ConsolidateNewest ConsolidationStrategy = "newest"
)

const defaultSnapshotScale = 60

// Config carries the tuning knobs for a World.
type Config struct {
	// RollbackWindow is how many frames of history are kept, and therefore
	// the deepest rollback the world will attempt.
	RollbackWindow frame.Number
	// ConsolidationStrategy resolves competing rollback requests.
	ConsolidationStrategy ConsolidationStrategy
	// ForceRollback disables the confirmed-prediction shortcut, rolling back
	// for every authoritative past-frame value even when it matches the
	// prediction. A worst-case load knob for profiling, not for production.
	ForceRollback bool
	// SnapshotScale multiplies RollbackWindow to size the authoritative
	// snapshot cache, which is sparse and benefits from a wider window.
	SnapshotScale int
}

func (c Config) normalized() Config {
	if c.RollbackWindow < 1 {
		c.RollbackWindow = 1
	}
	if c.ConsolidationStrategy == "" {
		c.ConsolidationStrategy = ConsolidateOldest
	}
	if c.SnapshotScale < 1 {
		c.SnapshotScale = defaultSnapshotScale
	}
	return c
}

func (c Config) snapshotCapacity() int {
	return int(c.RollbackWindow) * c.SnapshotScale
}

// historyCapacity sizes per-entity timelines: one frame more than the
// window, so a maximum-depth rollback can still restore the frame just
// before its replay range.
func (c Config) historyCapacity() int {
	return int(c.RollbackWindow) + 1
}
