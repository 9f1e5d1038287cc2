package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"docprep/internal/fileutil"
	"docprep/internal/manifest"
	"docprep/internal/services"
)

const (
	// Version identifies the contract schema.
	Version = "1.0"
	// PipelineVersion tags which preprocessing pipeline produced the unit.
	PipelineVersion = "2025-01"
	// FileName is the contract's name inside the unit directory.
	FileName = "docprep.contract.json"
)

// Contract is the downstream-facing record emitted alongside each accepted
// unit. The field set is closed: downstream consumers parse it strictly.
type Contract struct {
	ContractVersion       string      `json:"contract_version"`
	Unit                  UnitInfo    `json:"unit"`
	Source                SourceInfo  `json:"source"`
	DocumentProfile       Profile     `json:"document_profile"`
	Routing               Routing     `json:"routing"`
	ProcessingConstraints Constraints `json:"processing_constraints"`
	History               History     `json:"history"`
	CostEstimation        Cost        `json:"cost_estimation"`
}

// UnitInfo identifies the unit and its terminal state.
type UnitInfo struct {
	UnitID        string `json:"unit_id"`
	State         string `json:"state"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// SourceInfo describes the unit's primary file.
type SourceInfo struct {
	OriginalName   string `json:"original_name"`
	CurrentName    string `json:"current_name"`
	SizeBytes      int64  `json:"size_bytes"`
	ChecksumSHA256 string `json:"checksum_sha256"`
}

// Profile carries the resolved document characteristics.
type Profile struct {
	DocumentType string `json:"document_type"`
	MimeType     string `json:"mime_type,omitempty"`
	NeedsOCR     bool   `json:"needs_ocr"`
	HasTables    bool   `json:"has_tables"`
	PageCount    int    `json:"page_count"`
}

// Routing tells the next stage which lane to use.
type Routing struct {
	DoclingRoute    string `json:"docling_route"`
	FinalCluster    string `json:"final_cluster,omitempty"`
	PipelineVersion string `json:"pipeline_version"`
}

// Constraints bound downstream processing.
type Constraints struct {
	MaxOCRPages    int `json:"max_ocr_pages"`
	TimeoutSeconds int `json:"timeout_seconds"`
}

// History summarizes what the pipeline did to the unit.
type History struct {
	Cycles     int         `json:"cycles"`
	IsMixed    bool        `json:"is_mixed"`
	Operations []HistoryOp `json:"operations"`
}

// HistoryOp is one condensed operation record.
type HistoryOp struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Cycle  int    `json:"cycle"`
	Tool   string `json:"tool,omitempty"`
}

// Cost estimates the downstream processing expense.
type Cost struct {
	CPUSecondsEstimate float64 `json:"cpu_seconds_estimate"`
	CostUSDEstimate    float64 `json:"cost_usd_estimate"`
}

// cpuSecondsPerPage by route. OCR-heavy routes cost an order of magnitude
// more than text extraction.
var cpuSecondsPerPage = map[string]float64{
	"pdf_text":  2.0,
	"pdf_scan":  12.0,
	"pdf_mixed": 8.0,
	"image_ocr": 10.0,
	"docx":      1.5,
	"xlsx":      2.0,
	"pptx":      2.5,
	"html":      0.5,
	"xml":       0.5,
	"txt":       0.4,
	"mixed":     6.0,
}

const (
	defaultCPUSecondsPerPage = 5.0
	usdPerCPUSecond          = 0.000014
)

// EstimateCost projects the downstream cost for a route and page count.
// Unknown routes get a conservative default rather than zero.
func EstimateCost(route string, pageCount int) Cost {
	if pageCount < 1 {
		pageCount = 1
	}
	perPage, ok := cpuSecondsPerPage[route]
	if !ok {
		perPage = defaultCPUSecondsPerPage
	}
	cpu := perPage * float64(pageCount)
	return Cost{
		CPUSecondsEstimate: cpu,
		CostUSDEstimate:    cpu * usdPerCPUSecond,
	}
}

// Checksum returns the SHA-256 hex digest of a file.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Generate builds the contract for a unit from its manifest and files.
func Generate(unitDir string, m *manifest.Manifest) *Contract {
	primary := primaryFile(m)

	var source SourceInfo
	var profile Profile
	if primary != nil {
		source.OriginalName = primary.OriginalName
		source.CurrentName = primary.CurrentName
		path := filepath.Join(unitDir, primary.CurrentName)
		if info, err := os.Stat(path); err == nil {
			source.SizeBytes = info.Size()
		}
		if sum, err := Checksum(path); err == nil {
			source.ChecksumSHA256 = sum
		}
		profile.DocumentType = documentType(primary)
		profile.MimeType = primary.MimeDetected
	}

	for _, f := range m.Files {
		if f.NeedsOCR {
			profile.NeedsOCR = true
		}
		pages := f.PagesOrParts
		if pages < 1 {
			pages = 1
		}
		profile.PageCount += pages
	}
	switch profile.DocumentType {
	case "xlsx", "xls", "csv":
		profile.HasTables = true
	}

	route := m.Processing.Route
	ops := make([]HistoryOp, 0, len(m.AppliedOperations))
	for _, op := range m.AppliedOperations {
		ops = append(ops, HistoryOp{
			Type:   op.Type,
			Status: string(op.Status),
			Cycle:  op.Cycle,
			Tool:   op.Tool,
		})
	}

	return &Contract{
		ContractVersion: Version,
		Unit: UnitInfo{
			UnitID:        m.UnitID,
			State:         string(m.StateMachine.CurrentState),
			CorrelationID: m.CorrelationID,
		},
		Source:          source,
		DocumentProfile: profile,
		Routing: Routing{
			DoclingRoute:    route,
			FinalCluster:    m.Processing.FinalCluster,
			PipelineVersion: PipelineVersion,
		},
		ProcessingConstraints: Constraints{
			MaxOCRPages:    500,
			TimeoutSeconds: 3600,
		},
		History: History{
			Cycles:     m.Processing.CurrentCycle,
			IsMixed:    m.Mixed(),
			Operations: ops,
		},
		CostEstimation: EstimateCost(route, profile.PageCount),
	}
}

// Save writes the contract durably into the unit directory.
func Save(unitDir string, c *Contract) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrOperation, "contract", "encode", "marshal contract", err)
	}
	data = append(data, '\n')
	path := filepath.Join(unitDir, FileName)
	if err := fileutil.WriteFileSync(path, data, 0o644); err != nil {
		return services.Wrap(services.ErrOperation, "contract", "save", fmt.Sprintf("write %s", path), err)
	}
	return nil
}

// Load reads a contract back from a unit directory.
func Load(unitDir string) (*Contract, error) {
	path := filepath.Join(unitDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: contract at %s", services.ErrNotFound, path)
		}
		return nil, fmt.Errorf("read contract: %w", err)
	}
	var c Contract
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode contract %s: %w", path, err)
	}
	return &c, nil
}

// primaryFile picks the unit's representative file: the largest one wins,
// ties broken by name order for determinism.
func primaryFile(m *manifest.Manifest) *manifest.FileEntry {
	var best *manifest.FileEntry
	for i := range m.Files {
		f := &m.Files[i]
		if best == nil || f.SizeBytes > best.SizeBytes ||
			(f.SizeBytes == best.SizeBytes && f.CurrentName < best.CurrentName) {
			best = f
		}
	}
	return best
}

// documentType resolves a file's type label, preferring the sniffed type and
// falling back to the MIME and then the extension, so an empty detection
// never collapses everything into a generic bucket.
func documentType(f *manifest.FileEntry) string {
	if f.DetectedType != "" {
		return strings.ToLower(f.DetectedType)
	}
	if t := typeFromMime(f.MimeDetected); t != "" {
		return t
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(f.CurrentName)), ".")
}

func typeFromMime(mime string) string {
	mime = strings.ToLower(mime)
	switch {
	case mime == "":
		return ""
	case strings.Contains(mime, "spreadsheetml"):
		return "xlsx"
	case strings.Contains(mime, "wordprocessingml"):
		return "docx"
	case strings.Contains(mime, "presentationml"):
		return "pptx"
	case mime == "application/pdf":
		return "pdf"
	case mime == "application/xml", mime == "text/xml":
		return "xml"
	case mime == "text/html":
		return "html"
	case mime == "image/jpeg":
		return "jpg"
	case mime == "image/png":
		return "png"
	case mime == "image/tiff":
		return "tiff"
	case mime == "text/plain":
		return "txt"
	default:
		return ""
	}
}
