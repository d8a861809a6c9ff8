// Package netcode provides typed event helpers for the rollback pipeline.
package netcode

import (
	"context"

	"puckstorm/client/logging"
)

const (
	// EventRollbackStarted is emitted when the clock is rewound for resimulation.
	EventRollbackStarted logging.EventType = "netcode.rollback_started"
	// EventRollbackCompleted is emitted when resimulation catches back up.
	EventRollbackCompleted logging.EventType = "netcode.rollback_completed"
	// EventRollbackAborted is emitted when a consolidated request exceeds the window.
	EventRollbackAborted logging.EventType = "netcode.rollback_aborted"
	// EventFrameTooOld is emitted when authoritative data arrives below the window.
	EventFrameTooOld logging.EventType = "netcode.frame_too_old"
	// EventSnapshotApplied is emitted when server data lands on the current frame.
	EventSnapshotApplied logging.EventType = "netcode.snapshot_applied"
	// EventCorrection is emitted when resimulation disagrees with the prediction.
	EventCorrection logging.EventType = "netcode.correction"
	// EventEntityDespawned is emitted when tracked components are stripped.
	EventEntityDespawned logging.EventType = "netcode.entity_despawned"
	// EventEntityDestroyed is emitted when a despawned entity leaves the window.
	EventEntityDestroyed logging.EventType = "netcode.entity_destroyed"
)

// RollbackPayload describes a resimulation episode.
type RollbackPayload struct {
	Start  uint64 `json:"start"`
	End    uint64 `json:"end"`
	Frames uint64 `json:"frames"`
}

// AbortPayload describes a rollback rejected by the depth check.
type AbortPayload struct {
	Start  uint64 `json:"start"`
	End    uint64 `json:"end"`
	Window uint64 `json:"window"`
}

// StaleDataPayload describes authoritative data that fell below the window.
type StaleDataPayload struct {
	ComponentType string `json:"componentType"`
	Frame         uint64 `json:"frame"`
	OldestKept    uint64 `json:"oldestKept"`
}

// SnapshotPayload describes server data applied without resimulation.
type SnapshotPayload struct {
	ComponentType string `json:"componentType"`
	Frame         uint64 `json:"frame"`
}

// CorrectionPayload identifies a misprediction on one component.
type CorrectionPayload struct {
	ComponentType string `json:"componentType"`
	Frame         uint64 `json:"frame"`
}

// DespawnPayload describes delayed entity teardown progress.
type DespawnPayload struct {
	MarkedAt uint64 `json:"markedAt"`
}

// RollbackStarted publishes the start of a resimulation episode.
func RollbackStarted(ctx context.Context, pub logging.Publisher, frame uint64, payload RollbackPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRollbackStarted,
		Frame:    frame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetcode,
		Payload:  payload,
	})
}

// RollbackCompleted publishes the end of a resimulation episode.
func RollbackCompleted(ctx context.Context, pub logging.Publisher, frame uint64, payload RollbackPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRollbackCompleted,
		Frame:    frame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetcode,
		Payload:  payload,
	})
}

// RollbackAborted publishes a depth-check rejection. Loud on purpose: an
// aborted rollback means the client silently diverged from the server.
func RollbackAborted(ctx context.Context, pub logging.Publisher, frame uint64, payload AbortPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRollbackAborted,
		Frame:    frame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityError,
		Category: logging.CategoryNetcode,
		Payload:  payload,
	})
}

// FrameTooOld publishes a dropped stale write.
func FrameTooOld(ctx context.Context, pub logging.Publisher, frame uint64, actor logging.EntityRef, payload StaleDataPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventFrameTooOld,
		Frame:    frame,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetcode,
		Payload:  payload,
	})
}

// SnapshotApplied publishes a just-in-time snapshot application.
func SnapshotApplied(ctx context.Context, pub logging.Publisher, frame uint64, actor logging.EntityRef, payload SnapshotPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSnapshotApplied,
		Frame:    frame,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetcode,
		Payload:  payload,
	})
}

// Correction publishes a recorded misprediction.
func Correction(ctx context.Context, pub logging.Publisher, frame uint64, actor logging.EntityRef, payload CorrectionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCorrection,
		Frame:    frame,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetcode,
		Payload:  payload,
	})
}

// EntityDespawned publishes the start of delayed teardown.
func EntityDespawned(ctx context.Context, pub logging.Publisher, frame uint64, actor logging.EntityRef, payload DespawnPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntityDespawned,
		Frame:    frame,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// EntityDestroyed publishes final teardown of a despawned entity.
func EntityDestroyed(ctx context.Context, pub logging.Publisher, frame uint64, actor logging.EntityRef, payload DespawnPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntityDestroyed,
		Frame:    frame,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}
