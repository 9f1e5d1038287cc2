// Package manifest defines the persisted per-unit record and the four
// operations every other component builds on: load, durable save, append
// operation, append state. Nothing else in the repository writes the
// manifest file directly.
package manifest
