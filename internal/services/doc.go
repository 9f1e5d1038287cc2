// Package services defines shared utilities consumed by the pipeline stage
// handlers and external tool clients.
//
// Key responsibilities:
//   - Structured error markers plus the Wrap helper that keep failure
//     classification uniform across stages, and the Reason codes that decide
//     which exceptions bucket a rejected unit lands in.
//   - Context helpers that stamp unit IDs, stage names, and run identifiers
//     for logging and tracing.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability, quarantine routing) stays uniform across
// the pipeline.
package services
