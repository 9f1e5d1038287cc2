package classifier

import (
	"path/filepath"
	"strings"

	"docprep/internal/sniff"
)

// Category is the closed set of per-file and per-unit classifications.
type Category string

const (
	CategoryDirect    Category = "direct"
	CategoryConvert   Category = "convert"
	CategoryExtract   Category = "extract"
	CategoryNormalize Category = "normalize"
	CategorySpecial   Category = "special"
	CategoryMixed     Category = "mixed"
	CategoryUnknown   Category = "unknown"
	CategoryEmpty     Category = "empty"
)

// directConfidence is the sniffing confidence required to accept an
// extensionless file as direct content.
const directConfidence = 0.8

// signatureExtensions are detached signatures and certificates; they are
// never document content.
var signatureExtensions = map[string]struct{}{
	"sig": {}, "p7s": {}, "pem": {}, "cer": {}, "crt": {},
}

// unsupportedExtensions are system artifacts that sometimes ride along in
// uploaded bundles.
var unsupportedExtensions = map[string]struct{}{
	"exe": {}, "dll": {}, "db": {}, "tmp": {}, "log": {},
	"ini": {}, "sys": {}, "bat": {}, "sh": {},
}

// ConversionTargets maps legacy office extensions to their modern targets.
var ConversionTargets = map[string]string{
	"doc": "docx",
	"xls": "xlsx",
	"ppt": "pptx",
	"rtf": "docx",
}

// archiveExtensions are the archive formats the extractor handles.
var archiveExtensions = map[string]struct{}{
	"zip": {}, "rar": {}, "7z": {},
}

// readyTypes can flow to the downstream stage without any processing.
var readyTypes = map[string]struct{}{
	"pdf": {}, "docx": {}, "xlsx": {}, "pptx": {}, "html": {}, "xml": {},
	"txt": {}, "csv": {}, "jpg": {}, "jpeg": {}, "png": {}, "tiff": {},
	"gif": {}, "bmp": {},
}

// normalizeTargets are sniffed types worth repairing an extension toward.
var normalizeTargets = map[string]struct{}{
	"pdf": {}, "docx": {}, "xlsx": {}, "pptx": {}, "html": {}, "xml": {},
	"txt": {}, "csv": {}, "rtf": {}, "jpg": {}, "jpeg": {}, "png": {},
	"tiff": {}, "gif": {}, "bmp": {},
}

// textualExports are sniffed types that betray a fake legacy-office file:
// an HTML/XML/plain-text export saved under a .doc/.xls/.ppt name.
var textualExports = map[string]struct{}{
	"html": {}, "xml": {}, "txt": {}, "csv": {},
}

// FileDecision is the classifier's verdict for one file.
type FileDecision struct {
	Name      string
	Category  Category
	Detection sniff.Detection
	// TargetExtension is the repair target when Category is normalize, or
	// the conversion target when Category is convert.
	TargetExtension string
	// Ambiguous distinguishes rule-9 specials from signature/system specials.
	Ambiguous bool
}

// DecideFile applies the priority-ordered classification rules to one file.
// First match wins; every file lands in some bucket, so classification
// itself never fails.
func DecideFile(name string, det sniff.Detection) FileDecision {
	decision := FileDecision{Name: name, Detection: det}
	ext := normalizedExt(name)
	sniffed := strings.ToLower(det.DetectedType)

	// No extension: trust content when it points at a known type, accept
	// confidently sniffed content directly, and park the rest as ambiguous.
	if ext == "" {
		switch {
		case inSet(sniffed, normalizeTargets):
			decision.Category = CategoryNormalize
			decision.TargetExtension = sniffed
		case det.Confidence >= directConfidence && inSet(sniffed, readyTypes):
			decision.Category = CategoryDirect
		default:
			decision.Category = CategorySpecial
			decision.Ambiguous = true
		}
		return decision
	}

	if inSet(ext, signatureExtensions) {
		decision.Category = CategorySpecial
		return decision
	}
	if inSet(ext, unsupportedExtensions) {
		decision.Category = CategorySpecial
		return decision
	}

	if inSet(ext, archiveExtensions) || inSet(sniffed, archiveExtensions) {
		decision.Category = CategoryExtract
		return decision
	}

	if target, legacy := ConversionTargets[ext]; legacy {
		if inSet(sniffed, textualExports) {
			// Export artifact: the content never was a legacy office file,
			// so conversion would fail. Repair the extension instead.
			decision.Category = CategoryNormalize
			decision.TargetExtension = sniffed
			return decision
		}
		decision.Category = CategoryConvert
		decision.TargetExtension = target
		return decision
	}

	if sniffed != "" && sniffed != ext && !equivalentExt(sniffed, ext) && inSet(sniffed, normalizeTargets) && det.Confidence >= directConfidence {
		decision.Category = CategoryNormalize
		decision.TargetExtension = sniffed
		return decision
	}

	if det.Confidence < 0.5 && !inSet(ext, readyTypes) {
		decision.Category = CategorySpecial
		decision.Ambiguous = true
		return decision
	}

	if inSet(sniffed, readyTypes) || inSet(ext, readyTypes) {
		decision.Category = CategoryDirect
		return decision
	}
	decision.Category = CategoryUnknown
	return decision
}

func normalizedExt(name string) string {
	base := filepath.Base(name)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
	return strings.TrimSpace(ext)
}

func inSet(value string, set map[string]struct{}) bool {
	_, ok := set[value]
	return ok
}

// equivalentExt treats jpeg/jpg and htm/html pairs as the same type so a
// cosmetic difference never triggers a normalize pass.
func equivalentExt(a, b string) bool {
	canon := func(e string) string {
		switch e {
		case "jpeg":
			return "jpg"
		case "htm":
			return "html"
		}
		return e
	}
	return canon(a) == canon(b)
}
