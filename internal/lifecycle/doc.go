// Package lifecycle defines the unit state machine: the closed set of
// statuses a unit moves through and the fixed adjacency table of legal
// transitions between them.
//
// Statuses are persisted verbatim in the unit manifest, so renaming a value
// here is a data migration, not a refactor. Transition legality is checked by
// CanTransition; a self-transition is always legal and callers treat it as a
// no-op. Terminal statuses (READY_FOR_DOCLING, EXCEPTION_1..3, MERGER_SKIPPED)
// have no outgoing edges and can never be left.
package lifecycle
