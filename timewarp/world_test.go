package timewarp

import (
	"testing"
	"time"

	"puckstorm/client/frame"
	"puckstorm/client/logging"
)

const testStep = 16 * time.Millisecond

// healthHarness is a minimal deterministic game: every entity with a health
// component loses one point per simulated frame.
type healthHarness struct {
	world  *World
	store  *MapStore[int]
	health *Tracked[int]
}

func newHealthHarness(cfg Config) *healthHarness {
	w := NewWorld(cfg, testStep, logging.NopPublisher())
	store := NewMapStore[int]()
	return &healthHarness{world: w, store: store, health: RegisterType(w, "health", store)}
}

func newCorrectionHarness(cfg Config) *healthHarness {
	w := NewWorld(cfg, testStep, logging.NopPublisher())
	store := NewMapStore[int]()
	return &healthHarness{world: w, store: store, health: RegisterTypeWithCorrection(w, "health", store)}
}

func (h *healthHarness) logic(frame.Number) {
	ids := make([]string, 0, h.store.Len())
	h.store.Each(func(id string, _ int) {
		ids = append(ids, id)
	})
	for _, id := range ids {
		v, _ := h.store.Get(id)
		h.store.Set(id, v-1)
	}
}

func (h *healthHarness) tick() {
	h.world.RunFrame(h.logic)
}

// tickSettled runs frames until no rollback is active, mirroring a host
// loop that fast-forwards replayed frames without wall-clock delay.
func (h *healthHarness) tickSettled(t *testing.T) {
	t.Helper()
	for i := 0; i < 64; i++ {
		h.tick()
		if !h.world.Resimulating() {
			return
		}
	}
	t.Fatalf("rollback never completed")
}

func (h *healthHarness) mustValueAt(t *testing.T, id string, f frame.Number, want int) {
	t.Helper()
	got, ok := h.health.ValueAt(id, f)
	if !ok {
		t.Fatalf("no recorded value for %s at frame %d", id, f)
	}
	if got != want {
		t.Fatalf("expected %s = %d at frame %d, got %d", id, want, f, got)
	}
}

func TestPredictionRecordsHistory(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 10})
	h.store.Set("e1", 10)
	for i := 0; i < 4; i++ {
		h.tick()
	}
	if h.world.Frame() != 4 {
		t.Fatalf("expected frame 4, got %d", h.world.Frame())
	}
	for f := frame.Number(1); f <= 4; f++ {
		h.mustValueAt(t, "e1", f, 10-int(f))
	}
	if !h.health.AliveAt("e1", 1) || h.health.AliveAt("e1", 0) {
		t.Fatalf("expected birth recorded at frame 1")
	}
}

func TestSnapshotForPastFrameTriggersRollback(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 10})
	h.store.Set("e1", 10)
	for i := 0; i < 4; i++ {
		h.tick()
	}

	h.health.InsertSnapshot("e1", 2, 100)
	h.tickSettled(t)

	if got := h.world.Stats().Rollbacks; got != 1 {
		t.Fatalf("expected exactly one rollback, got %d", got)
	}
	h.mustValueAt(t, "e1", 2, 100)
	h.mustValueAt(t, "e1", 3, 99)
	h.mustValueAt(t, "e1", 4, 98)
	h.mustValueAt(t, "e1", 5, 97)
	if v, _ := h.store.Get("e1"); v != 97 {
		t.Fatalf("expected live value 97 after resimulation, got %d", v)
	}
	if h.world.Frame() != 5 {
		t.Fatalf("expected resimulation to end at frame 5, got %d", h.world.Frame())
	}
	prev, ok := h.world.PreviousRollback()
	if !ok || prev.Start != 3 || prev.End != 4 {
		t.Fatalf("expected archived rollback 3..4, got %+v ok=%v", prev, ok)
	}
	if h.world.Step() != testStep {
		t.Fatalf("timestep not restored after rollback: %v", h.world.Step())
	}
}

func TestConfirmedPredictionSkipsRollback(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 10})
	h.store.Set("e1", 10)
	for i := 0; i < 4; i++ {
		h.tick()
	}

	// The server agrees with the predicted value for frame 2.
	h.health.InsertSnapshot("e1", 2, 8)
	h.tick()

	if got := h.world.Stats().Rollbacks; got != 0 {
		t.Fatalf("confirming snapshot caused %d rollbacks", got)
	}
	if h.world.Frame() != 5 {
		t.Fatalf("expected normal advance to frame 5, got %d", h.world.Frame())
	}
	h.mustValueAt(t, "e1", 5, 5)
}

func TestForceRollbackReplaysEvenWhenConfirmed(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 10, ForceRollback: true})
	h.store.Set("e1", 10)
	for i := 0; i < 4; i++ {
		h.tick()
	}

	h.health.InsertSnapshot("e1", 2, 8)
	h.tickSettled(t)

	if got := h.world.Stats().Rollbacks; got != 1 {
		t.Fatalf("expected forced rollback, got %d", got)
	}
	h.mustValueAt(t, "e1", 5, 5)
}

func TestRollbackZeroesTimestep(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 10})
	h.store.Set("e1", 10)
	for i := 0; i < 4; i++ {
		h.tick()
	}

	h.health.InsertSnapshot("e1", 2, 100)
	h.tick()

	if !h.world.Resimulating() {
		t.Fatalf("expected an active rollback")
	}
	if h.world.Step() != 0 {
		t.Fatalf("expected zero timestep during rollback, got %v", h.world.Step())
	}
	rb, ok := h.world.ActiveRollback()
	if !ok || rb.Start != 3 || rb.End != 4 {
		t.Fatalf("expected active rollback 3..4, got %+v ok=%v", rb, ok)
	}
	h.tickSettled(t)
	if h.world.Step() != testStep {
		t.Fatalf("timestep not restored, got %v", h.world.Step())
	}
}

func TestSnapshotForCurrentFrameAppliesWithoutRollback(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 10})
	h.store.Set("e1", 10)
	for i := 0; i < 3; i++ {
		h.tick()
	}

	h.health.InsertSnapshot("e1", 3, 50)
	h.tick()

	stats := h.world.Stats()
	if stats.Rollbacks != 0 {
		t.Fatalf("just-in-time snapshot caused %d rollbacks", stats.Rollbacks)
	}
	if stats.NonRollbackUpdates != 1 {
		t.Fatalf("expected one non-rollback update, got %d", stats.NonRollbackUpdates)
	}
	h.mustValueAt(t, "e1", 4, 49)
}

func TestStaleSnapshotCountsRangeFault(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 3})
	h.store.Set("e1", 100)
	for i := 0; i < 10; i++ {
		h.tick()
	}

	h.health.InsertSnapshot("e1", 2, 1)
	h.tick()

	stats := h.world.Stats()
	if stats.RangeFaults != 1 {
		t.Fatalf("expected one range fault, got %d", stats.RangeFaults)
	}
	if stats.Rollbacks != 0 {
		t.Fatalf("stale data must not trigger a rollback, got %d", stats.Rollbacks)
	}
}

func TestTooDeepRollbackAborts(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 3})
	h.store.Set("e1", 100)
	for i := 0; i < 10; i++ {
		h.tick()
	}

	// An authoritative spawn far in the past asks for a deeper replay than
	// the window can serve.
	h.health.InsertAtFrame("e9", 2, 5)
	h.tick()

	stats := h.world.Stats()
	if stats.AbortedRollbacks != 1 {
		t.Fatalf("expected one aborted rollback, got %d", stats.AbortedRollbacks)
	}
	if stats.Rollbacks != 0 {
		t.Fatalf("aborted rollback must not run, got %d", stats.Rollbacks)
	}
	if h.world.Resimulating() {
		t.Fatalf("world stuck in rollback after abort")
	}
	if h.world.Frame() != 11 {
		t.Fatalf("expected simulation to continue to frame 11, got %d", h.world.Frame())
	}
	if _, ok := h.store.Get("e9"); ok {
		t.Fatalf("aborted spawn leaked into the live store")
	}
}

func TestSpawnInThePastViaInsertAtFrame(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 10})
	h.store.Set("e1", 10)
	for i := 0; i < 5; i++ {
		h.tick()
	}

	h.health.InsertAtFrame("e2", 3, 20)
	h.tickSettled(t)

	if got := h.world.Stats().Rollbacks; got != 1 {
		t.Fatalf("expected one rollback, got %d", got)
	}
	h.mustValueAt(t, "e2", 3, 20)
	h.mustValueAt(t, "e2", 4, 19)
	h.mustValueAt(t, "e2", 5, 18)
	h.mustValueAt(t, "e2", 6, 17)
	if v, _ := h.store.Get("e2"); v != 17 {
		t.Fatalf("expected live value 17 for the retroactive spawn, got %d", v)
	}
	// The pre-existing entity replays its own recorded values unchanged.
	h.mustValueAt(t, "e1", 6, 4)
	if v, _ := h.store.Get("e1"); v != 4 {
		t.Fatalf("bystander entity diverged during replay: %d", v)
	}
}

func TestInsertAtFrameFutureAppliesWhenClockArrives(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 10})
	h.store.Set("e1", 10)
	for i := 0; i < 2; i++ {
		h.tick()
	}

	h.health.InsertAtFrame("e2", 9, 30)
	h.tick() // frame 3

	if h.world.Stats().Rollbacks != 0 {
		t.Fatalf("future insert triggered a rollback")
	}
	if _, ok := h.store.Get("e2"); ok {
		t.Fatalf("future insert materialized early")
	}
	if _, ok := h.health.ValueAt("e2", 9); ok {
		t.Fatalf("future insert opened a timeline before its frame")
	}

	for i := 0; i < 6; i++ {
		h.tick() // frames 4..9: still queued
	}
	if _, ok := h.store.Get("e2"); ok {
		t.Fatalf("queued insert materialized before its frame was simulated")
	}

	h.tick() // frame 10: the queued insert lands just in time for frame 9

	stats := h.world.Stats()
	if stats.Rollbacks != 0 {
		t.Fatalf("just-in-time unpack caused %d rollbacks", stats.Rollbacks)
	}
	if stats.NonRollbackUpdates != 1 {
		t.Fatalf("expected one non-rollback update, got %d", stats.NonRollbackUpdates)
	}
	h.mustValueAt(t, "e2", 9, 30)
	h.mustValueAt(t, "e2", 10, 29)
	if v, _ := h.store.Get("e2"); v != 29 {
		t.Fatalf("expected live value 29 after materialization, got %d", v)
	}
	if h.health.AliveAt("e2", 8) || !h.health.AliveAt("e2", 9) {
		t.Fatalf("birth not recorded at the insert frame: %+v", h.health.AliveSpans("e2"))
	}
}

func TestRollbackAtFullWindowDepth(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 3})
	h.store.Set("e1", 100)
	for i := 0; i < 10; i++ {
		h.tick()
	}

	// A retroactive spawn exactly window frames deep: the replay covers
	// frames 8..10 and must still restore every bystander at frame 7.
	h.health.InsertAtFrame("e9", 7, 5)
	h.tickSettled(t)

	stats := h.world.Stats()
	if stats.AbortedRollbacks != 0 {
		t.Fatalf("full-window rollback aborted, got %d aborts", stats.AbortedRollbacks)
	}
	if stats.Rollbacks != 1 {
		t.Fatalf("expected one rollback, got %d", stats.Rollbacks)
	}
	prev, ok := h.world.PreviousRollback()
	if !ok || prev.Start != 8 || prev.End != 10 {
		t.Fatalf("expected archived rollback 8..10, got %+v ok=%v", prev, ok)
	}
	if h.world.Frame() != 11 {
		t.Fatalf("expected frame 11 after the replay, got %d", h.world.Frame())
	}
	h.mustValueAt(t, "e9", 8, 4)
	if v, _ := h.store.Get("e9"); v != 1 {
		t.Fatalf("expected live value 1 for the spawn, got %d", v)
	}
	if v, _ := h.store.Get("e1"); v != 89 {
		t.Fatalf("bystander diverged during the full-window replay: %d", v)
	}
}

func TestCorrectionRecordedOnMisprediction(t *testing.T) {
	h := newCorrectionHarness(Config{RollbackWindow: 10})
	h.store.Set("e1", 10)
	for i := 0; i < 4; i++ {
		h.tick()
	}

	h.health.InsertSnapshot("e1", 2, 100)
	h.tickSettled(t)

	c, ok := h.health.TakeCorrection("e1")
	if !ok {
		t.Fatalf("expected a correction after misprediction")
	}
	if c.Before != 6 || c.After != 98 || c.Frame != 4 {
		t.Fatalf("unexpected correction %+v", c)
	}
	if _, ok := h.health.Correction("e1"); ok {
		t.Fatalf("correction not cleared after TakeCorrection")
	}
}

func TestNoCorrectionWhenReplayAgrees(t *testing.T) {
	h := newCorrectionHarness(Config{RollbackWindow: 10, ForceRollback: true})
	h.store.Set("e1", 10)
	for i := 0; i < 4; i++ {
		h.tick()
	}

	// Forced replay of values that match the prediction exactly.
	h.health.InsertSnapshot("e1", 2, 8)
	h.tickSettled(t)

	if h.world.Stats().Rollbacks != 1 {
		t.Fatalf("expected forced rollback")
	}
	if _, ok := h.health.Correction("e1"); ok {
		t.Fatalf("identical replay produced a correction")
	}
}

func TestDespawnStripsThenDestroysAfterWindow(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 3})
	h.store.Set("e1", 10)
	for i := 0; i < 3; i++ {
		h.tick()
	}

	h.world.MarkDespawn("e1")
	h.tick() // frame 4: simulated once more, then stripped

	if _, ok := h.store.Get("e1"); ok {
		t.Fatalf("component survived the despawn strip")
	}
	if !h.world.Despawning("e1") {
		t.Fatalf("entity not in its teardown grace period")
	}
	if h.health.AliveAt("e1", 4) {
		t.Fatalf("alive at the despawn frame; death must be exclusive")
	}
	if !h.health.AliveAt("e1", 3) {
		t.Fatalf("history before the despawn lost")
	}

	h.tick() // frame 5
	h.tick() // frame 6
	if h.world.Destroyed("e1") {
		t.Fatalf("destroyed before the grace period elapsed")
	}
	h.tick() // frame 7 = despawn frame 4 + window 3
	if !h.world.Destroyed("e1") {
		t.Fatalf("entity not destroyed after the grace period")
	}
	if h.world.Stats().EntitiesDestroyed != 1 {
		t.Fatalf("destruction counter not bumped")
	}
	if spans := h.health.AliveSpans("e1"); spans != nil {
		t.Fatalf("history survived destruction: %+v", spans)
	}
}

func TestDespawnHandlerRunsOnDestroy(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 2})
	destroyed := make([]string, 0, 1)
	h.world.SetDespawnHandler(func(id string) {
		destroyed = append(destroyed, id)
	})
	h.store.Set("e1", 10)
	h.tick()
	h.world.MarkDespawn("e1")
	for i := 0; i < 4; i++ {
		h.tick()
	}
	if len(destroyed) != 1 || destroyed[0] != "e1" {
		t.Fatalf("despawn handler saw %v", destroyed)
	}
}

func TestRollbackRevivesAndRekillsDespawnedEntity(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 10})
	h.store.Set("e1", 10)
	for i := 0; i < 3; i++ {
		h.tick()
	}
	h.world.MarkDespawn("e1")
	h.tick() // frame 4: stripped, death recorded
	h.tick() // frame 5: absent

	h.health.InsertSnapshot("e1", 2, 100)
	h.tickSettled(t)

	if got := h.world.Stats().Rollbacks; got != 1 {
		t.Fatalf("expected one rollback, got %d", got)
	}
	// Replayed while alive, truncated again at the recorded death.
	h.mustValueAt(t, "e1", 2, 100)
	h.mustValueAt(t, "e1", 3, 99)
	if _, ok := h.health.ValueAt("e1", 4); ok {
		t.Fatalf("value past the recorded death survived the replay")
	}
	if _, ok := h.store.Get("e1"); ok {
		t.Fatalf("despawned entity left alive after the replay")
	}
	if h.world.Destroyed("e1") {
		t.Fatalf("entity destroyed mid-grace-period")
	}
	if !h.health.AliveAt("e1", 3) || h.health.AliveAt("e1", 4) {
		t.Fatalf("alive spans corrupted by the replay: %+v", h.health.AliveSpans("e1"))
	}
}

func TestSnapshotSpawnsUnknownEntity(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 10})
	h.store.Set("e1", 10)
	for i := 0; i < 4; i++ {
		h.tick()
	}

	h.health.InsertSnapshot("e2", 2, 40)
	h.tickSettled(t)

	if got := h.world.Stats().Rollbacks; got != 1 {
		t.Fatalf("expected one rollback, got %d", got)
	}
	h.mustValueAt(t, "e2", 2, 40)
	h.mustValueAt(t, "e2", 5, 37)
	if v, _ := h.store.Get("e2"); v != 37 {
		t.Fatalf("snapshot-spawned entity live value %d", v)
	}
	st, ok := h.world.Status("e2")
	if !ok || st.LastSnapFrame != 2 || st.RollbackTriggers != 1 {
		t.Fatalf("unexpected sync status %+v ok=%v", st, ok)
	}
}

func TestSnapshotsForDestroyedEntityIgnored(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 2})
	h.store.Set("e1", 10)
	h.tick()
	h.world.MarkDespawn("e1")
	for i := 0; i < 4; i++ {
		h.tick()
	}
	if !h.world.Destroyed("e1") {
		t.Fatalf("entity should be destroyed by now")
	}

	h.health.InsertSnapshot("e1", 4, 50)
	h.tick()

	if h.world.Stats().Rollbacks != 0 {
		t.Fatalf("snapshot for a destroyed entity triggered a rollback")
	}
	if _, ok := h.store.Get("e1"); ok {
		t.Fatalf("destroyed entity resurrected by a late snapshot")
	}
}

func TestAnachronousSnapshotTargetsDelayedFrame(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 10})
	h.store.Set("e1", 10)
	// e1 is shown three frames in the past, like a remote player whose
	// inputs arrive late.
	h.world.SetFramesBehind("e1", 3)
	for i := 0; i < 6; i++ {
		h.tick()
	}

	// Server data for frame 2 describes e1's local frame 5.
	h.health.InsertSnapshot("e1", 2, 100)
	h.tickSettled(t)

	if got := h.world.Stats().Rollbacks; got != 1 {
		t.Fatalf("expected one rollback, got %d", got)
	}
	prev, ok := h.world.PreviousRollback()
	if !ok || prev.Start != 6 || prev.End != 6 {
		t.Fatalf("expected archived rollback 6..6, got %+v ok=%v", prev, ok)
	}
	h.mustValueAt(t, "e1", 5, 100)
	h.mustValueAt(t, "e1", 6, 99)
	h.mustValueAt(t, "e1", 7, 98)
	if v, _ := h.store.Get("e1"); v != 98 {
		t.Fatalf("expected live value 98 after the delayed replay, got %d", v)
	}
	st, ok := h.world.Status("e1")
	if !ok || st.LastSnapFrame != 2 {
		t.Fatalf("status should keep the raw server frame, got %+v ok=%v", st, ok)
	}
}

func TestAnachronousAndContemporarySnapshotsConsolidate(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 10})
	h.store.Set("e1", 10)
	h.store.Set("e2", 100)
	h.world.SetFramesBehind("e1", 3)
	for i := 0; i < 6; i++ {
		h.tick()
	}

	// Same server frame for both entities: e1's data maps to local frame 5,
	// e2's stays at frame 2, so the consolidated replay starts at frame 3.
	h.health.InsertSnapshot("e1", 2, 100)
	h.health.InsertSnapshot("e2", 2, 1000)
	h.tickSettled(t)

	if got := h.world.Stats().Rollbacks; got != 1 {
		t.Fatalf("expected one consolidated rollback, got %d", got)
	}
	prev, ok := h.world.PreviousRollback()
	if !ok || prev.Start != 3 || prev.End != 6 {
		t.Fatalf("expected archived rollback 3..6, got %+v ok=%v", prev, ok)
	}
	// The deep replay crosses e1's authoritative frame: the server value
	// must survive the pass and seed the rest of the replay.
	h.mustValueAt(t, "e1", 5, 100)
	h.mustValueAt(t, "e1", 6, 99)
	if v, _ := h.store.Get("e1"); v != 98 {
		t.Fatalf("expected live value 98 for the delayed entity, got %d", v)
	}
	h.mustValueAt(t, "e2", 2, 1000)
	if v, _ := h.store.Get("e2"); v != 995 {
		t.Fatalf("expected live value 995 for the contemporary entity, got %d", v)
	}
}

func TestDespawnAtPastFrameRecordsDeathThere(t *testing.T) {
	h := newHealthHarness(Config{RollbackWindow: 3})
	h.store.Set("e1", 10)
	for i := 0; i < 6; i++ {
		h.tick()
	}

	h.world.MarkDespawnAt("e1", 4)
	h.tick() // frame 7: stripped, death recorded at the marked frame

	if _, ok := h.store.Get("e1"); ok {
		t.Fatalf("component survived the despawn strip")
	}
	if h.health.AliveAt("e1", 4) {
		t.Fatalf("alive at the marked despawn frame")
	}
	if !h.health.AliveAt("e1", 3) {
		t.Fatalf("history before the marked frame lost")
	}
	if h.world.Destroyed("e1") {
		t.Fatalf("destroyed on the strip tick")
	}

	h.tick() // frame 8 >= marked frame 4 + window 3
	if !h.world.Destroyed("e1") {
		t.Fatalf("destruction should follow the marked frame, not the strip frame")
	}
}
