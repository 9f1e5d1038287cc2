// Package converter rewrites legacy office documents into modern formats.
// Conversions run through a bounded pool because each one spawns a headless
// LibreOffice process. Output bytes are signature-checked before the source
// is discarded, and units whose files turn out to carry lying extensions are
// re-routed to name repair instead of failing.
package converter
