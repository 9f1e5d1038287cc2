// Package pipeline orchestrates batch runs. A run classifies ingested
// units, drives them through the processing stages cycle by cycle, and
// finishes with a consolidation sweep into the final tree. Units are
// processed under bounded worker pools and each unit fails in isolation:
// a stage error routes that one unit to an exceptions bucket while the
// rest of the batch continues.
package pipeline
