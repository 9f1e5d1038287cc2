// Package normalizer repairs damaged file names and lying extensions. The
// two repairs are independent: name repair fixes encoding artifacts and
// glued-on garbage, extension repair reconciles the extension with the
// sniffed content type. Both are no-ops on already-correct files.
package normalizer
