package timewarp

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sanity-io/litter"

	"puckstorm/client/frame"
	"puckstorm/client/history"
	"puckstorm/client/logging"
	"puckstorm/client/logging/netcode"
)

// trackedType is the type-erased handle the world drives each tick.
type trackedType interface {
	typeName() string
	ingestAuthoritative(cur frame.Number)
	restoreAt(f frame.Number)
	rebirthAt(f frame.Number)
	recordAt(f frame.Number, rb *Rollback)
	rekillAt(f frame.Number)
	stripEntity(id string, f frame.Number)
	dropEntity(id string)
}

// Tracked manages rollback state for one component type: the per-entity
// predicted timelines, the authoritative snapshot caches, and the live store
// the host simulates against.
type Tracked[T comparable] struct {
	name  string
	world *World
	store Store[T]

	correctionLogging bool

	histories   map[string]*history.Values[T]
	snapshots   map[string]*history.Snapshot[T]
	corrections map[string]history.Correction[T]

	// dirty holds entities with snapshot data not yet examined.
	dirty mapset.Set[string]
	// pending holds authoritative past-frame inserts queued by the host.
	pending []pastInsert[T]
}

type pastInsert[T comparable] struct {
	entity string
	frame  frame.Number
	value  T
}

// RegisterType attaches a component type to the world. The name appears in
// events and diagnostics; the store is the host's live storage for the type.
func RegisterType[T comparable](w *World, name string, store Store[T]) *Tracked[T] {
	t := &Tracked[T]{
		name:        name,
		world:       w,
		store:       store,
		histories:   make(map[string]*history.Values[T]),
		snapshots:   make(map[string]*history.Snapshot[T]),
		corrections: make(map[string]history.Correction[T]),
		dirty:       mapset.NewSet[string](),
	}
	w.types = append(w.types, t)
	return t
}

// RegisterTypeWithCorrection is RegisterType plus misprediction reporting:
// when resimulation of the newest frame produces a different value than the
// prediction, a Correction is retained for the host's smoothing layer.
func RegisterTypeWithCorrection[T comparable](w *World, name string, store Store[T]) *Tracked[T] {
	t := RegisterType(w, name, store)
	t.correctionLogging = true
	return t
}

func (t *Tracked[T]) typeName() string {
	return t.name
}

// Store returns the live store the type was registered with.
func (t *Tracked[T]) Store() Store[T] {
	return t.store
}

// InsertSnapshot feeds an authoritative server value for entity id at frame
// f. The value is cached immediately; reconciliation against the predicted
// timeline happens at the start of the next RunFrame.
func (t *Tracked[T]) InsertSnapshot(id string, f frame.Number, value T) {
	if f == 0 || t.world.destroyed.Contains(id) {
		return
	}
	snap, ok := t.snapshots[id]
	if !ok {
		snap = history.NewSnapshot[T](t.world.cfg.snapshotCapacity())
		t.snapshots[id] = snap
	}
	if err := snap.Insert(f, value); err != nil {
		t.world.rangeFault(t.name, id, f, snap.NewestFrame())
		return
	}
	t.dirty.Add(id)
}

// InsertAtFrame authoritatively writes a value at an arbitrary frame,
// creating the entity's timeline if it never existed. Past frames trigger a
// rollback, the current frame applies immediately, future frames stay queued
// and are re-examined each tick until the clock reaches them.
func (t *Tracked[T]) InsertAtFrame(id string, f frame.Number, value T) {
	if f == 0 || t.world.destroyed.Contains(id) {
		return
	}
	t.pending = append(t.pending, pastInsert[T]{entity: id, frame: f, value: value})
}

// ValueAt returns the recorded value for id at frame f.
func (t *Tracked[T]) ValueAt(id string, f frame.Number) (T, bool) {
	var zero T
	h, ok := t.histories[id]
	if !ok {
		return zero, false
	}
	return h.AtFrame(f)
}

// AliveAt reports whether id's component existed at frame f.
func (t *Tracked[T]) AliveAt(id string, f frame.Number) bool {
	h, ok := t.histories[id]
	return ok && h.AliveAt(f)
}

// AliveSpans returns the recorded alive spans for id, oldest first.
func (t *Tracked[T]) AliveSpans(id string) []history.Span {
	h, ok := t.histories[id]
	if !ok {
		return nil
	}
	return h.AliveSpans()
}

// Correction returns the most recent misprediction for id, if one is
// waiting to be consumed.
func (t *Tracked[T]) Correction(id string) (history.Correction[T], bool) {
	c, ok := t.corrections[id]
	return c, ok
}

// TakeCorrection returns and clears the pending misprediction for id.
func (t *Tracked[T]) TakeCorrection(id string) (history.Correction[T], bool) {
	c, ok := t.corrections[id]
	if ok {
		delete(t.corrections, id)
	}
	return c, ok
}

// ingestAuthoritative reconciles queued authoritative data against the
// predicted timelines. cur is the current frame, not yet advanced for this
// tick. Data for cur applies to the live store directly; data for older
// frames rewrites history and raises a rollback request.
func (t *Tracked[T]) ingestAuthoritative(cur frame.Number) {
	w := t.world

	retained := t.pending[:0]
	for _, ins := range t.pending {
		if w.destroyed.Contains(ins.entity) {
			continue
		}
		if ins.frame > cur {
			// Not due yet; keep it queued and look again next tick.
			retained = append(retained, ins)
			continue
		}
		h, ok := t.histories[ins.entity]
		if !ok {
			h = t.adopt(ins.entity, ins.frame, ins.value)
		} else {
			if err := h.Insert(ins.frame, ins.value); err != nil {
				w.rangeFault(t.name, ins.entity, ins.frame, h.OldestFrame())
				continue
			}
			if !h.AliveAt(ins.frame) {
				h.ReportBirth(ins.frame)
			}
		}
		h.SetMostRecentAuthoritative(ins.frame)
		if snap, ok := t.snapshots[ins.entity]; ok {
			_ = snap.Insert(ins.frame, ins.value)
		}
		w.noteSnapped(ins.entity, ins.frame)
		t.settle(ins.entity, ins.frame, cur, ins.value)
	}
	t.pending = retained

	for _, id := range t.dirty.ToSlice() {
		t.dirty.Remove(id)
		snap, ok := t.snapshots[id]
		if !ok {
			continue
		}
		snapFrame := snap.NewestFrame()
		if snapFrame == 0 {
			continue
		}
		value, ok := snap.AtFrame(snapFrame)
		if !ok {
			continue
		}
		w.noteSnapped(id, snapFrame)

		// An anachronous entity runs behind the local clock, so server data
		// for frame f describes its local frame f+n.
		eff := snapFrame + w.framesBehind[id]
		if eff > cur {
			// Not due yet; stay dirty and look again next tick.
			t.dirty.Add(id)
			continue
		}

		h, ok := t.histories[id]
		if !ok {
			h = t.adopt(id, eff, value)
			h.SetMostRecentAuthoritative(eff)
			t.settle(id, eff, cur, value)
			continue
		}
		if stored, ok := h.AtFrame(eff); ok && !w.cfg.ForceRollback &&
			h.AliveAt(eff) && stored == value {
			// Prediction confirmed, nothing to replay.
			continue
		}
		if err := h.Insert(eff, value); err != nil {
			w.rangeFault(t.name, id, eff, h.OldestFrame())
			continue
		}
		if !h.AliveAt(eff) {
			h.ReportBirth(eff)
		}
		h.SetMostRecentAuthoritative(eff)
		t.settle(id, eff, cur, value)
	}
}

// adopt starts tracking an entity first seen through authoritative data.
func (t *Tracked[T]) adopt(id string, birth frame.Number, value T) *history.Values[T] {
	h := history.NewValues(t.world.cfg.historyCapacity(), birth, value)
	if t.correctionLogging {
		h.EnableCorrectionLogging()
	}
	t.histories[id] = h
	if _, ok := t.snapshots[id]; !ok {
		t.snapshots[id] = history.NewSnapshot[T](t.world.cfg.snapshotCapacity())
	}
	return h
}

// settle decides what new authoritative data at frame f means relative to
// the current frame cur: apply live, request a rollback, or wait.
func (t *Tracked[T]) settle(id string, f, cur frame.Number, value T) {
	w := t.world
	switch {
	case f == cur:
		t.store.Set(id, value)
		w.stats.NonRollbackUpdates++
		netcode.SnapshotApplied(w.ctx, w.publisher, uint64(cur), entityRef(id),
			netcode.SnapshotPayload{ComponentType: t.name, Frame: uint64(f)})
	case f < cur:
		w.raise(Request{Frame: f + 1}, id)
	}
	// Future frames stay cached until the clock reaches them.
}

// restoreAt loads the recorded state of frame f into the live store. For
// every known entity the (alive then, present now) pair decides the action:
// overwrite, revive, remove, or nothing.
func (t *Tracked[T]) restoreAt(f frame.Number) {
	for id, h := range t.histories {
		_, present := t.store.Get(id)
		if !h.AliveAt(f) {
			if present {
				t.store.Remove(id)
			}
			continue
		}
		value, ok := h.AtFrame(f)
		if !ok {
			t.faultMissingValue(id, f, h)
		}
		t.store.Set(id, value)
	}
}

// rebirthAt re-inserts components that exist at frame f but are absent from
// the live store, which happens when resimulation crosses a birth frame.
func (t *Tracked[T]) rebirthAt(f frame.Number) {
	for id, h := range t.histories {
		if !h.AliveAt(f) {
			continue
		}
		if _, present := t.store.Get(id); present {
			continue
		}
		value, ok := h.AtFrame(f)
		if !ok {
			t.faultMissingValue(id, f, h)
		}
		t.store.Set(id, value)
	}
}

// recordAt writes the live store's post-simulation values into history for
// frame f. Outside a rollback it also derives births and deaths by diffing
// the store against recorded liveness. During a rollback those transitions
// are replays of known history, so only values are written; and on the
// episode's final frame a divergent value becomes a Correction.
func (t *Tracked[T]) recordAt(f frame.Number, rb *Rollback) {
	w := t.world
	t.store.Each(func(id string, value T) {
		h, ok := t.histories[id]
		if !ok {
			h = history.NewValues(w.cfg.historyCapacity(), f, value)
			if t.correctionLogging {
				h.EnableCorrectionLogging()
			}
			t.histories[id] = h
			t.snapshots[id] = history.NewSnapshot[T](w.cfg.snapshotCapacity())
			return
		}
		if rb != nil && f == h.MostRecentAuthoritative() {
			// Replay reached a frame with authoritative data: the server
			// value wins over the resimulated one, and the entity carries
			// it forward into the rest of the replay.
			if auth, ok := h.AtFrame(f); ok {
				t.store.Set(id, auth)
				return
			}
		}
		if rb == nil && !h.AliveAt(f) {
			h.ReportBirth(f)
		}
		if h.CorrectionLogging() && rb != nil && rb.End == f {
			if old, ok := h.AtFrame(f); ok && old != value {
				t.corrections[id] = history.Correction[T]{Before: old, After: value, Frame: f}
				netcode.Correction(w.ctx, w.publisher, uint64(f), entityRef(id),
					netcode.CorrectionPayload{ComponentType: t.name, Frame: uint64(f)})
			}
		}
		if err := h.Insert(f, value); err != nil {
			w.rangeFault(t.name, id, f, h.OldestFrame())
		}
	})
	if rb == nil {
		for id, h := range t.histories {
			if !h.AliveAt(f) {
				continue
			}
			if _, present := t.store.Get(id); !present {
				h.ReportDeath(f)
			}
		}
	}
}

// rekillAt removes components the recorded timeline says were dead at frame
// f, truncating any values the replay wrote past the death.
func (t *Tracked[T]) rekillAt(f frame.Number) {
	for id, h := range t.histories {
		if h.AliveAt(f) {
			continue
		}
		if _, present := t.store.Get(id); !present {
			continue
		}
		h.RemoveFrameAndBeyond(f)
		t.store.Remove(id)
	}
}

// stripEntity removes id's live component and records the death at frame f.
func (t *Tracked[T]) stripEntity(id string, f frame.Number) {
	if _, present := t.store.Get(id); present {
		t.store.Remove(id)
	}
	if h, ok := t.histories[id]; ok {
		h.ReportDeath(f)
	}
}

// dropEntity forgets everything about id.
func (t *Tracked[T]) dropEntity(id string) {
	t.store.Remove(id)
	delete(t.histories, id)
	delete(t.snapshots, id)
	delete(t.corrections, id)
	t.dirty.Remove(id)
}

// faultMissingValue panics with a full dump. A frame classified alive with
// no recorded value means the liveness spans and the value buffer have
// diverged, which is unrecoverable corruption.
func (t *Tracked[T]) faultMissingValue(id string, f frame.Number, h *history.Values[T]) {
	panic(fmt.Sprintf("timewarp: %s/%s alive at frame %d but no value recorded\nspans: %s\noccupancy (newest first): %s",
		t.name, id, f, litter.Sdump(h.AliveSpans()), litter.Sdump(h.Occupancy())))
}

func entityRef(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindEntity}
}
