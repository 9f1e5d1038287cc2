// Package preflight provides readiness checks for the filesystem paths and
// external tools a pipeline run depends on.
//
// The run command calls RunAll before acquiring the batch lock. A failed
// check halts the run up front instead of wasting a cycle on a doomed batch.
// The CLI status command reuses the individual check functions for display.
package preflight
