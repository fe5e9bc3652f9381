// Package events defines the lifecycle notifications emitted by the recorder,
// a fan-out hub that delivers them to attached sinks on a fire-and-forget basis,
// and the single-slot completion signal used to await file finalization.
package events
