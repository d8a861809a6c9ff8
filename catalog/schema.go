package catalog

// Document models the JSON contract for the tracked-type manifest. It is
// shared with the schema generator so we can produce a machine-readable
// document for validation and editor tooling.
type Document struct {
	World WorldDocument  `json:"world" jsonschema:"title=World options,description=Rollback world tuning applied at startup"`
	Types []TypeDocument `json:"types" jsonschema:"title=Tracked types,description=Component types registered with the rollback world"`
}

// WorldDocument carries the world-level rollback options.
type WorldDocument struct {
	RollbackWindow        uint64 `json:"rollbackWindow" jsonschema:"title=Rollback window,minimum=1,description=Frames of history kept and the deepest rollback attempted"`
	ConsolidationStrategy string `json:"consolidationStrategy,omitempty" jsonschema:"title=Consolidation strategy,enum=oldest,enum=newest,description=Which frame wins when several rollback requests land in one tick"`
	SnapshotScale         int    `json:"snapshotScale,omitempty" jsonschema:"title=Snapshot scale,minimum=1,description=Multiplier applied to the window to size the authoritative snapshot cache"`
	ForceRollback         bool   `json:"forceRollback,omitempty" jsonschema:"title=Force rollback,description=Profiling knob that replays even confirmed predictions"`
}

// TypeDocument describes one tracked component type.
type TypeDocument struct {
	Name              string `json:"name" jsonschema:"title=Type name,pattern=^[a-z0-9-]+$,minLength=1,description=Identifier used in events and diagnostics"`
	CorrectionLogging bool   `json:"correctionLogging,omitempty" jsonschema:"title=Correction logging,description=Record mispredictions for the host smoothing layer"`
}
