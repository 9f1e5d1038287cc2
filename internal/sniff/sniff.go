package sniff

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Detection is the result of content-level type sniffing for one file.
type Detection struct {
	MimeType     string
	DetectedType string // normalized extension, no dot; empty when unknown
	NeedsOCR     bool
	Confidence   float64
}

// Detector sniffs the content type of a file. The pipeline depends on this
// interface, not on a concrete sniffer, so tests can substitute fixed
// verdicts.
type Detector interface {
	Detect(path string) (Detection, error)
}

// MimeDetector detects types via magic-byte inspection.
type MimeDetector struct{}

// NewDetector returns the production content sniffer.
func NewDetector() Detector {
	return MimeDetector{}
}

// pdfScanProbe bounds how much of a PDF is inspected for a text layer.
const pdfScanProbe = 2 << 20

// Detect sniffs a file's content type. Low-information verdicts
// (octet-stream, bare text) report reduced confidence so the classifier can
// treat them as ambiguous.
func (MimeDetector) Detect(path string) (Detection, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return Detection{}, fmt.Errorf("sniff %s: %w", path, err)
	}

	det := Detection{
		MimeType:     mtype.String(),
		DetectedType: strings.TrimPrefix(mtype.Extension(), "."),
		Confidence:   1.0,
	}

	switch {
	case det.MimeType == "application/octet-stream", det.DetectedType == "":
		det.Confidence = 0.2
	case strings.HasPrefix(det.MimeType, "text/plain"):
		det.Confidence = 0.6
	}

	switch {
	case strings.HasPrefix(det.MimeType, "image/"):
		det.NeedsOCR = true
	case det.DetectedType == "pdf":
		needsOCR, err := pdfLacksTextLayer(path)
		if err == nil {
			det.NeedsOCR = needsOCR
		}
	}

	return det, nil
}

// pdfLacksTextLayer reports whether the leading part of a PDF carries no font
// resources, the structural signal that the document is a page-image scan.
func pdfLacksTextLayer(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf, err := io.ReadAll(io.LimitReader(f, pdfScanProbe))
	if err != nil {
		return false, err
	}
	return !bytes.Contains(buf, []byte("/Font")), nil
}
