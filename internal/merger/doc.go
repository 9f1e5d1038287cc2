// Package merger runs the final consolidation sweep: finished units are
// validated, safe-moved into the output tree keyed by their resolved route,
// and given a downstream contract. Units that fail a gate are parked in
// reason-coded exception buckets; units still mid-pipeline are left alone.
package merger
