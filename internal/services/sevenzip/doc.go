// Package sevenzip shells out to the 7z binary for archive formats that have
// no native Go reader in this codebase (rar, 7z). The listing path exposes
// declared member sizes so unpack ceilings can be enforced before extraction.
package sevenzip
