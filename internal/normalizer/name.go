package normalizer

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// commonExtensions anchor the trailing-garbage repair: a filename ending in
// one of these followed by glued-on junk is cut back to the extension.
var commonExtensions = []string{
	"docx", "xlsx", "pptx", "doc", "xls", "ppt", "rtf",
	"pdf", "html", "htm", "xml", "txt", "csv",
	"jpeg", "jpg", "png", "tiff", "tif",
	"zip", "rar", "7z", "msg", "eml",
}

var (
	spaceBeforeDot = regexp.MustCompile(`\s+\.`)
	spaceAfterDot  = regexp.MustCompile(`\.\s+`)
	underscoreRuns = regexp.MustCompile(`_{2,}`)
)

var illegalNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// RepairName applies every name-only repair and returns the fixed filename.
// The result is never empty: a name that repairs away entirely falls back to
// a hash of the original.
func RepairName(name string) string {
	original := name
	name = norm.NFKC.String(name)

	name = stripTrailingGarbage(name)

	name = spaceBeforeDot.ReplaceAllString(name, ".")
	name = spaceAfterDot.ReplaceAllString(name, ".")
	name = dropChainedExtensions(name)
	name = illegalNameChars.ReplaceAllString(name, "_")
	name = underscoreRuns.ReplaceAllString(name, "_")

	ext := filepath.Ext(name)
	stem := strings.Trim(strings.TrimSuffix(name, ext), " .")
	// Underscores left by character replacement stay in the stem; only a stem
	// with nothing else in it counts as repaired away.
	if strings.Trim(stem, "_ .") == "" {
		sum := md5.Sum([]byte(original))
		stem = hex.EncodeToString(sum[:])
	}
	return stem + strings.ToLower(ext)
}

// stripTrailingGarbage repairs the corruption pattern where junk characters
// are glued directly after a recognizable extension, as in "report.pdf™".
// The cut happens only when the tail holds no further dot and at least one
// character outside plain ASCII alphanumerics, so names like "report.pdf2"
// or "archive.tar.gz" stay intact.
func stripTrailingGarbage(name string) string {
	lower := strings.ToLower(name)
	bestEnd := -1
	for _, ext := range commonExtensions {
		idx := strings.LastIndex(lower, "."+ext)
		if idx < 0 {
			continue
		}
		if end := idx + len(ext) + 1; end > bestEnd {
			bestEnd = end
		}
	}
	if bestEnd < 0 || bestEnd >= len(name) {
		return name
	}
	tail := name[bestEnd:]
	if strings.Contains(tail, ".") || !hasNonAlnumASCII(tail) {
		return name
	}
	return name[:bestEnd]
}

func hasNonAlnumASCII(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return true
		}
	}
	return false
}

// dropChainedExtensions collapses "report.pdf.pdf" style duplication, one
// trailing duplicate at a time.
func dropChainedExtensions(name string) string {
	for {
		ext := filepath.Ext(name)
		if ext == "" {
			return name
		}
		rest := strings.TrimSuffix(name, ext)
		prev := filepath.Ext(rest)
		if prev == "" || !strings.EqualFold(prev, ext) {
			return name
		}
		name = rest
	}
}
