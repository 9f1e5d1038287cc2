package normalizer

import (
	"path/filepath"
	"strings"

	"docprep/internal/sniff"
)

// extensionAllowList holds extensions trusted as-is: when a file already
// carries one of these, the sniffed type never overrides it.
var extensionAllowList = map[string]struct{}{
	"docx": {}, "pdf": {}, "xlsx": {}, "pptx": {}, "rtf": {},
	"jpg": {}, "jpeg": {}, "png": {}, "tiff": {},
	"xml": {}, "txt": {}, "doc": {},
}

// RepairExtension fixes a filename's extension against the sniffed content
// type. It returns the repaired name and whether it differs from the input.
func RepairExtension(name string, det sniff.Detection) (string, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if _, trusted := extensionAllowList[ext]; trusted {
		return name, false
	}
	sniffed := strings.ToLower(det.DetectedType)
	if sniffed == "" || sniffed == ext {
		return name, false
	}

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		stem = name
	}
	return stem + "." + sniffed, true
}
