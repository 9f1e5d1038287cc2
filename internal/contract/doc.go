// Package contract emits the downstream-facing record accepted units carry
// into the next pipeline stage: resolved document type, routing lane,
// processing history, and a cost estimate.
package contract
