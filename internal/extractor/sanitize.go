package extractor

import (
	"crypto/md5"
	"encoding/hex"
	"path"
	"path/filepath"
	"strings"
)

// maxNameBytes is the filesystem filename budget. Byte-based, not rune-based:
// multi-byte encodings inflate byte length disproportionately and the kernel
// limit is in bytes.
const maxNameBytes = 255

var illegalNameChars = func() map[rune]struct{} {
	set := map[rune]struct{}{
		'<': {}, '>': {}, ':': {}, '"': {}, '/': {}, '\\': {}, '|': {}, '?': {}, '*': {},
	}
	for r := rune(0); r < 0x20; r++ {
		set[r] = struct{}{}
	}
	return set
}()

// SanitizeEntryName makes an archive entry name safe to create under a
// destination directory: absolute prefixes and parent traversals are
// stripped, every path component is cleaned of illegal characters and
// truncated to the byte budget. Returns "" when nothing safe remains.
func SanitizeEntryName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Clean("/" + name)[1:] // collapses ../ against the virtual root
	if name == "" || name == "." {
		return ""
	}

	parts := strings.Split(name, "/")
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		part = sanitizeComponent(part)
		if part == "" {
			continue
		}
		cleaned = append(cleaned, TruncateName(part, maxNameBytes))
	}
	return filepath.Join(cleaned...)
}

func sanitizeComponent(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if _, bad := illegalNameChars[r]; bad {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), " .")
	// Collapse runs of replacement underscores.
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	if out == "" || out == "_" {
		return ""
	}
	return out
}

// TruncateName shortens a filename to at most maxBytes bytes, preserving the
// extension. The stem is trimmed rune by rune so a multi-byte character is
// never split. When the extension alone exceeds the budget the name is
// replaced by a hash-derived stem.
func TruncateName(name string, maxBytes int) string {
	if len(name) <= maxBytes {
		return name
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if len(ext) >= maxBytes {
		sum := md5.Sum([]byte(name))
		return hex.EncodeToString(sum[:])
	}

	budget := maxBytes - len(ext)
	runes := []rune(stem)
	for len(runes) > 0 && len(string(runes)) > budget {
		runes = runes[:len(runes)-1]
	}
	if len(runes) == 0 {
		sum := md5.Sum([]byte(name))
		stem = hex.EncodeToString(sum[:])
		if len(stem) > budget {
			stem = stem[:budget]
		}
		return stem + ext
	}
	return string(runes) + ext
}
