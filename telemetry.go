package main

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"puckstorm/client/timewarp"
)

// telemetryCounters aggregates netcode health metrics for the diagnostics
// endpoint. All fields are atomics so the tick loop and HTTP handlers never
// contend.
type telemetryCounters struct {
	ticksTotal         atomic.Uint64
	framesSimulated    atomic.Uint64
	resimulatedFrames  atomic.Uint64
	rollbacks          atomic.Uint64
	abortedRollbacks   atomic.Uint64
	rangeFaults        atomic.Uint64
	nonRollbackUpdates atomic.Uint64
	entitiesDestroyed  atomic.Uint64
	lastRollbackDepth  atomic.Uint64
	lastTickMicros     atomic.Int64
	debug              bool
}

type telemetrySnapshot struct {
	TicksTotal         uint64 `json:"ticksTotal"`
	FramesSimulated    uint64 `json:"framesSimulated"`
	ResimulatedFrames  uint64 `json:"resimulatedFrames"`
	Rollbacks          uint64 `json:"rollbacks"`
	AbortedRollbacks   uint64 `json:"abortedRollbacks"`
	RangeFaults        uint64 `json:"rangeFaults"`
	NonRollbackUpdates uint64 `json:"nonRollbackUpdates"`
	EntitiesDestroyed  uint64 `json:"entitiesDestroyed"`
	LastRollbackDepth  uint64 `json:"lastRollbackDepth"`
	LastTickMicros     int64  `json:"lastTickMicros"`
}

func newTelemetryCounters() *telemetryCounters {
	t := &telemetryCounters{}
	if os.Getenv("DEBUG_TELEMETRY") == "1" {
		t.debug = true
	}
	return t
}

// RecordTick folds one wall-clock tick into the counters. frames is how
// many simulation frames the tick ran: one, plus any fast-forwarded replays.
func (t *telemetryCounters) RecordTick(frames uint64, elapsed time.Duration, stats timewarp.Stats) {
	if t == nil {
		return
	}
	t.ticksTotal.Add(1)
	t.framesSimulated.Add(frames)
	if frames > 1 {
		t.resimulatedFrames.Add(frames - 1)
	}
	t.rollbacks.Store(stats.Rollbacks)
	t.abortedRollbacks.Store(stats.AbortedRollbacks)
	t.rangeFaults.Store(stats.RangeFaults)
	t.nonRollbackUpdates.Store(stats.NonRollbackUpdates)
	t.entitiesDestroyed.Store(stats.EntitiesDestroyed)
	t.lastRollbackDepth.Store(stats.LastRollbackDepth)
	t.lastTickMicros.Store(elapsed.Microseconds())
	if t.debug {
		fmt.Println(t.debugLine())
	}
}

func (t *telemetryCounters) debugLine() string {
	return fmt.Sprintf(
		"[telemetry] tick=%dus frames=%d resim=%d rollbacks=%d aborted=%d faults=%d depth=%d",
		t.lastTickMicros.Load(),
		t.framesSimulated.Load(),
		t.resimulatedFrames.Load(),
		t.rollbacks.Load(),
		t.abortedRollbacks.Load(),
		t.rangeFaults.Load(),
		t.lastRollbackDepth.Load(),
	)
}

func (t *telemetryCounters) Snapshot() telemetrySnapshot {
	if t == nil {
		return telemetrySnapshot{}
	}
	return telemetrySnapshot{
		TicksTotal:         t.ticksTotal.Load(),
		FramesSimulated:    t.framesSimulated.Load(),
		ResimulatedFrames:  t.resimulatedFrames.Load(),
		Rollbacks:          t.rollbacks.Load(),
		AbortedRollbacks:   t.abortedRollbacks.Load(),
		RangeFaults:        t.rangeFaults.Load(),
		NonRollbackUpdates: t.nonRollbackUpdates.Load(),
		EntitiesDestroyed:  t.entitiesDestroyed.Load(),
		LastRollbackDepth:  t.lastRollbackDepth.Load(),
		LastTickMicros:     t.lastTickMicros.Load(),
	}
}
