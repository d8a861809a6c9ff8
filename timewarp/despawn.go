package timewarp

import "puckstorm/client/frame"

// DespawnMarker schedules delayed, reversible teardown of an entity. The
// entity's tracked components are stripped immediately, but the histories
// survive for another RollbackWindow frames so a late rollback can still
// revive and replay the entity. Only then is the entity destroyed for good.
type DespawnMarker struct {
	// Frame is the frame the despawn takes effect on. Zero means "stamp with
	// the current frame when first processed".
	Frame frame.Number

	stripped bool
}

// MarkDespawn schedules id for teardown effective the current frame.
func (w *World) MarkDespawn(id string) {
	w.MarkDespawnAt(id, 0)
}

// MarkDespawnAt schedules id for teardown effective frame f. Re-marking an
// already despawning entity is a no-op.
func (w *World) MarkDespawnAt(id string, f frame.Number) {
	if _, ok := w.despawns[id]; ok {
		return
	}
	if w.destroyed.Contains(id) {
		return
	}
	w.despawns[id] = &DespawnMarker{Frame: f}
}

// Despawning reports whether id is in its teardown grace period.
func (w *World) Despawning(id string) bool {
	_, ok := w.despawns[id]
	return ok
}

// Destroyed reports whether id has been fully torn down.
func (w *World) Destroyed(id string) bool {
	return w.destroyed.Contains(id)
}
