// Package metrics records per-stage pipeline outcomes into a SQLite
// database for post-run inspection. Recording is best-effort and never
// fails a run.
package metrics
