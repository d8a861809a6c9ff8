package timewarp

import "puckstorm/client/frame"

// Status summarizes the server's view of one entity: when it last received
// authoritative data and how often that data forced a rollback.
type Status struct {
	LastSnapFrame    frame.Number `json:"lastSnapFrame"`
	RollbackTriggers uint64       `json:"rollbackTriggers"`
}

func (w *World) status(id string) *Status {
	st, ok := w.statuses[id]
	if !ok {
		st = &Status{}
		w.statuses[id] = st
	}
	return st
}

func (w *World) noteSnapped(id string, f frame.Number) {
	st := w.status(id)
	if f > st.LastSnapFrame {
		st.LastSnapFrame = f
	}
}

// Status returns the per-entity sync summary, if the entity has ever
// received authoritative data.
func (w *World) Status(id string) (Status, bool) {
	st, ok := w.statuses[id]
	if !ok {
		return Status{}, false
	}
	return *st, true
}
