// Package main hosts the docprep CLI entrypoint and command graph.
//
// The Cobra-based command tree covers the whole operator surface: batch runs
// across all cycles, single-cycle and single-stage passes for debugging,
// tree inspection, preflight checks, and configuration scaffolding. It
// centralizes configuration resolution and logging setup so subcommands can
// focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
