package timewarp

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"puckstorm/client/frame"
	"puckstorm/client/logging"
	"puckstorm/client/logging/netcode"
)

// World coordinates the rollback lifecycle for every registered component
// type. Hosts drive it by calling RunFrame once per simulation tick and
// feeding authoritative data through the Tracked handles between ticks.
//
// A World is not safe for concurrent use; hosts serialize access the same
// way they serialize their own simulation state.
type World struct {
	cfg   Config
	clock *frame.Clock
	types []trackedType

	// step is the effective timestep the host loop should wait between
	// ticks. Zeroed while a rollback is active so replayed frames run
	// back to back.
	step         time.Duration
	originalStep time.Duration

	requests []request
	rb       *Rollback
	prev     *Rollback

	statuses     map[string]*Status
	despawns     map[string]*DespawnMarker
	destroyed    mapset.Set[string]
	framesBehind map[string]frame.Number

	stats     Stats
	publisher logging.Publisher
	ctx       context.Context
	onDestroy func(id string)
}

type request struct {
	Request
	entity string
}

// NewWorld creates a rollback world. step is the host's nominal tick
// duration; publisher may be nil.
func NewWorld(cfg Config, step time.Duration, publisher logging.Publisher) *World {
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &World{
		cfg:          cfg.normalized(),
		clock:        frame.NewClock(),
		step:         step,
		originalStep: step,
		statuses:     make(map[string]*Status),
		despawns:     make(map[string]*DespawnMarker),
		destroyed:    mapset.NewSet[string](),
		framesBehind: make(map[string]frame.Number),
		publisher:    publisher,
		ctx:          context.Background(),
	}
}

// SetDespawnHandler installs a callback invoked when a despawned entity is
// finally destroyed, so the host can release its own resources.
func (w *World) SetDespawnHandler(fn func(id string)) {
	w.onDestroy = fn
}

// Frame returns the current simulation frame.
func (w *World) Frame() frame.Number {
	return w.clock.Frame()
}

// Clock exposes the simulation clock.
func (w *World) Clock() *frame.Clock {
	return w.clock
}

// SetFramesBehind marks id as anachronous: simulated n frames behind the
// local clock, the way remote players are shown slightly in the past so
// their authoritative data arrives in time. Server data for frame f is then
// treated as data for local frame f+n. Zero clears the mark. Typically n is
// tuned at runtime from network stats.
func (w *World) SetFramesBehind(id string, n frame.Number) {
	if n == 0 {
		delete(w.framesBehind, id)
		return
	}
	w.framesBehind[id] = n
}

// FramesBehind returns id's anachronous delay, zero for contemporary
// entities.
func (w *World) FramesBehind(id string) frame.Number {
	return w.framesBehind[id]
}

// Step returns the effective timestep: the nominal tick duration, or zero
// while a rollback is replaying frames.
func (w *World) Step() time.Duration {
	return w.step
}

// Config returns the normalized configuration.
func (w *World) Config() Config {
	return w.cfg
}

// Resimulating reports whether a rollback episode is active.
func (w *World) Resimulating() bool {
	return w.rb != nil
}

// ActiveRollback returns a copy of the in-flight episode, if any.
func (w *World) ActiveRollback() (Rollback, bool) {
	if w.rb == nil {
		return Rollback{}, false
	}
	return *w.rb, true
}

// PreviousRollback returns the most recently finished episode, if any.
func (w *World) PreviousRollback() (Rollback, bool) {
	if w.prev == nil {
		return Rollback{}, false
	}
	return *w.prev, true
}

// Stats returns a copy of the counters.
func (w *World) Stats() Stats {
	return w.stats
}

// RunFrame advances the simulation by one frame. The supplied logic is the
// host's deterministic per-frame simulation; it runs exactly once per call,
// for whichever frame the rollback lifecycle lands on. The intra-tick order
// is fixed:
//
//  1. an active rollback that has caught up completes;
//  2. outside a rollback, queued authoritative data is reconciled, requests
//     are consolidated, and a new episode may begin (rewinding the clock and
//     restoring recorded state); inside one, missing components are reborn;
//  3. the clock advances and logic runs;
//  4. post-simulation values are recorded into history;
//  5. inside a rollback, recorded deaths are re-applied;
//  6. despawn markers are stamped, stripped, or finalized.
func (w *World) RunFrame(logic func(f frame.Number)) {
	cur := w.clock.Frame()

	if w.rb != nil && cur == w.rb.End {
		w.completeRollback(cur)
	}

	if w.rb == nil {
		for _, t := range w.types {
			t.ingestAuthoritative(cur)
		}
		if rb, ok := w.consolidateRequests(cur); ok {
			w.beginRollback(rb)
		}
	} else {
		for _, t := range w.types {
			t.rebirthAt(cur)
		}
	}

	w.clock.Advance(1)
	f := w.clock.Frame()
	logic(f)

	for _, t := range w.types {
		t.recordAt(f, w.rb)
	}
	if w.rb != nil {
		for _, t := range w.types {
			t.rekillAt(f)
		}
	}

	w.processDespawns(f)
}

// raise queues a rollback request attributed to an entity.
func (w *World) raise(req Request, entity string) {
	w.requests = append(w.requests, request{Request: req, entity: entity})
	if entity != "" {
		w.status(entity).RollbackTriggers++
	}
}

// consolidateRequests collapses every queued request into at most one
// rollback. With an episode already active the winning frame can only
// extend its start backwards, never shrink it.
func (w *World) consolidateRequests(cur frame.Number) (Rollback, bool) {
	if len(w.requests) == 0 {
		return Rollback{}, false
	}
	chosen := w.requests[0].Frame
	for _, req := range w.requests[1:] {
		switch w.cfg.ConsolidationStrategy {
		case ConsolidateNewest:
			if req.Frame > chosen {
				chosen = req.Frame
			}
		default:
			if req.Frame < chosen {
				chosen = req.Frame
			}
		}
	}
	w.requests = w.requests[:0]
	if chosen < 2 {
		// Frame 1 is the first simulated frame; there is no frame 0 state
		// to restore, so the replay can start no earlier than frame 2.
		chosen = 2
	}
	if w.rb != nil {
		if chosen < w.rb.Start {
			w.rb.Start = chosen
		}
		return Rollback{}, false
	}
	if chosen > cur {
		return Rollback{}, false
	}
	return Rollback{Start: chosen, End: cur}, true
}

// beginRollback runs the depth check and, if the episode is viable, rewinds
// the clock and restores the recorded state of the frame before the replay.
func (w *World) beginRollback(rb Rollback) {
	if rb.Depth() > w.cfg.RollbackWindow {
		rb.Aborted = true
		w.stats.AbortedRollbacks++
		netcode.RollbackAborted(w.ctx, w.publisher, uint64(rb.End), netcode.AbortPayload{
			Start:  uint64(rb.Start),
			End:    uint64(rb.End),
			Window: uint64(w.cfg.RollbackWindow),
		})
		return
	}

	rb.OriginalStep = w.originalStep
	w.step = 0
	w.stats.Rollbacks++
	w.stats.LastRollbackDepth = uint64(rb.Depth())

	restoreFrame := rb.Start - 1
	w.clock.Set(restoreFrame)
	for _, t := range w.types {
		t.restoreAt(restoreFrame)
	}
	w.rb = &rb

	netcode.RollbackStarted(w.ctx, w.publisher, uint64(rb.End), netcode.RollbackPayload{
		Start:  uint64(rb.Start),
		End:    uint64(rb.End),
		Frames: uint64(rb.Depth()),
	})
}

// completeRollback archives the episode and restores the host timestep.
func (w *World) completeRollback(cur frame.Number) {
	done := *w.rb
	w.prev = &done
	w.step = done.OriginalStep
	w.rb = nil

	netcode.RollbackCompleted(w.ctx, w.publisher, uint64(cur), netcode.RollbackPayload{
		Start:  uint64(done.Start),
		End:    uint64(done.End),
		Frames: uint64(done.Depth()),
	})
}

// processDespawns stamps fresh markers, strips tracked components, and
// destroys entities whose grace period has passed. Destruction never runs
// mid-rollback: a replay may still need to revive the entity.
func (w *World) processDespawns(f frame.Number) {
	for id, marker := range w.despawns {
		if !marker.stripped {
			if marker.Frame == 0 {
				marker.Frame = f
			}
			for _, t := range w.types {
				t.stripEntity(id, marker.Frame)
			}
			marker.stripped = true
			netcode.EntityDespawned(w.ctx, w.publisher, uint64(f), entityRef(id),
				netcode.DespawnPayload{MarkedAt: uint64(marker.Frame)})
			continue
		}
		if w.rb == nil && f >= marker.Frame+w.cfg.RollbackWindow {
			for _, t := range w.types {
				t.dropEntity(id)
			}
			delete(w.despawns, id)
			delete(w.statuses, id)
			delete(w.framesBehind, id)
			w.destroyed.Add(id)
			w.stats.EntitiesDestroyed++
			if w.onDestroy != nil {
				w.onDestroy(id)
			}
			netcode.EntityDestroyed(w.ctx, w.publisher, uint64(f), entityRef(id),
				netcode.DespawnPayload{MarkedAt: uint64(marker.Frame)})
		}
	}
}

// rangeFault counts and reports authoritative data dropped for being older
// than the kept window.
func (w *World) rangeFault(componentType, id string, f, oldest frame.Number) {
	w.stats.RangeFaults++
	netcode.FrameTooOld(w.ctx, w.publisher, uint64(w.clock.Frame()), entityRef(id),
		netcode.StaleDataPayload{
			ComponentType: componentType,
			Frame:         uint64(f),
			OldestKept:    uint64(oldest),
		})
}
