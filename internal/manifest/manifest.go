package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"docprep/internal/fileutil"
	"docprep/internal/lifecycle"
)

// SchemaVersion identifies the manifest layout. Bump on incompatible changes.
const SchemaVersion = "2.1"

// Filename is the manifest's name inside every unit directory.
const Filename = "manifest.json"

// ErrNotFound is returned when a unit directory carries no manifest.
var ErrNotFound = errors.New("manifest not found")

// OperationStatus is the outcome recorded for one applied operation.
type OperationStatus string

const (
	OpSuccess     OperationStatus = "success"
	OpFailed      OperationStatus = "failed"
	OpSkipped     OperationStatus = "skipped"
	OpQuarantined OperationStatus = "quarantined"
	OpPending     OperationStatus = "pending"
)

// Operation is one entry of the append-only operations log.
type Operation struct {
	Type      string          `json:"type"`
	Status    OperationStatus `json:"status"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Cycle     int             `json:"cycle"`
	Timestamp time.Time       `json:"timestamp"`
	Tool      string          `json:"tool,omitempty"`
	Error     string          `json:"error,omitempty"`
	// Details carries operation-specific counters such as files_extracted.
	Details map[string]int `json:"details,omitempty"`
}

// FileEntry describes one content file of the unit.
type FileEntry struct {
	OriginalName    string      `json:"original_name"`
	CurrentName     string      `json:"current_name"`
	DetectedType    string      `json:"detected_type"`
	MimeDetected    string      `json:"mime_detected"`
	SizeBytes       int64       `json:"size_bytes"`
	PagesOrParts    int         `json:"pages_or_parts"`
	NeedsOCR        bool        `json:"needs_ocr"`
	Transformations []Operation `json:"transformations"`
}

// Classification records the classifier's unit-level verdict.
type Classification struct {
	Category   string  `json:"category"`
	IsMixed    bool    `json:"is_mixed"`
	Confidence float64 `json:"confidence"`
}

// Processing tracks where the unit is in the multi-cycle flow.
type Processing struct {
	CurrentCycle   int            `json:"current_cycle"`
	MaxCycles      int            `json:"max_cycles"`
	Route          string         `json:"route,omitempty"`
	FinalCluster   string         `json:"final_cluster,omitempty"`
	FinalReason    string         `json:"final_reason,omitempty"`
	Classification Classification `json:"classification"`
}

// StateEntry is one element of the append-only state trace.
type StateEntry struct {
	State     lifecycle.Status `json:"state"`
	Cycle     int              `json:"cycle"`
	Timestamp time.Time        `json:"timestamp"`
}

// StateMachine persists the unit's position in the lifecycle.
type StateMachine struct {
	InitialState lifecycle.Status `json:"initial_state"`
	CurrentState lifecycle.Status `json:"current_state"`
	FinalState   lifecycle.Status `json:"final_state,omitempty"`
	StateTrace   []StateEntry     `json:"state_trace"`
}

// Manifest is the single persisted record for a unit. It is the sole source
// of truth: directory location is derived from its state at recovery time.
type Manifest struct {
	SchemaVersion     string            `json:"schema_version"`
	UnitID            string            `json:"unit_id"`
	CorrelationID     string            `json:"correlation_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	IsMixed           bool              `json:"is_mixed"`
	Files             []FileEntry       `json:"files"`
	Processing        Processing        `json:"processing"`
	StateMachine      StateMachine      `json:"state_machine"`
	AppliedOperations []Operation       `json:"applied_operations"`
	Trace             map[string]string `json:"trace,omitempty"`
}

// New creates a manifest for a freshly ingested unit in the RAW state.
func New(unitID string, maxCycles int) *Manifest {
	now := time.Now().UTC()
	return &Manifest{
		SchemaVersion: SchemaVersion,
		UnitID:        unitID,
		CorrelationID: uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
		Processing: Processing{
			CurrentCycle: 1,
			MaxCycles:    maxCycles,
		},
		StateMachine: StateMachine{
			InitialState: lifecycle.StatusRaw,
			CurrentState: lifecycle.StatusRaw,
			StateTrace: []StateEntry{
				{State: lifecycle.StatusRaw, Cycle: 1, Timestamp: now},
			},
		},
		Files:             []FileEntry{},
		AppliedOperations: []Operation{},
	}
}

// Load reads the manifest from a unit directory.
func Load(unitDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(unitDir, Filename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, unitDir)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest in %s: %w", unitDir, err)
	}
	return &m, nil
}

// Save persists the manifest into a unit directory with a durable flush.
// The write must reach stable storage before any directory move that depends
// on it; recovery derives unit location from manifest state.
func Save(unitDir string, m *Manifest) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileSync(filepath.Join(unitDir, Filename), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Encode renders the manifest deterministically: identical manifests always
// produce identical bytes.
func Encode(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// CurrentState returns the unit's current lifecycle status.
func (m *Manifest) CurrentState() lifecycle.Status {
	return m.StateMachine.CurrentState
}

// AppendState advances the state machine after the caller validated the
// transition. Re-entering the current state is a no-op that does not extend
// the state trace, keeping the trace free of duplicates on replays.
func (m *Manifest) AppendState(state lifecycle.Status, cycle int) {
	if m.StateMachine.CurrentState == state {
		return
	}
	now := time.Now().UTC()
	m.StateMachine.CurrentState = state
	m.StateMachine.StateTrace = append(m.StateMachine.StateTrace, StateEntry{
		State:     state,
		Cycle:     cycle,
		Timestamp: now,
	})
	if lifecycle.IsTerminal(state) {
		m.StateMachine.FinalState = state
	}
	m.UpdatedAt = now
}

// AppendOperation adds a record to the flat operations log.
func (m *Manifest) AppendOperation(op Operation) {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now().UTC()
	}
	m.AppliedOperations = append(m.AppliedOperations, op)
	m.UpdatedAt = op.Timestamp
}

// RecordTransformation appends an operation to the named file's own sub-log.
func (m *Manifest) RecordTransformation(currentName string, op Operation) bool {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now().UTC()
	}
	for i := range m.Files {
		if m.Files[i].CurrentName == currentName {
			m.Files[i].Transformations = append(m.Files[i].Transformations, op)
			m.UpdatedAt = op.Timestamp
			return true
		}
	}
	return false
}

// File returns the entry for a current file name.
func (m *Manifest) File(currentName string) (*FileEntry, bool) {
	for i := range m.Files {
		if m.Files[i].CurrentName == currentName {
			return &m.Files[i], true
		}
	}
	return nil, false
}

// SetMixed marks the unit as mixed. The flag is sticky: once set it survives
// every later reclassification, because stale leftover files can make a later
// cycle's file set look homogeneous when the unit is not.
func (m *Manifest) SetMixed() {
	m.IsMixed = true
	m.Processing.Classification.IsMixed = true
}

// Mixed reports the sticky mixed flag from either persisted location.
func (m *Manifest) Mixed() bool {
	return m.IsMixed || m.Processing.Classification.IsMixed
}

// LastOperation returns the most recent operation of the given type.
func (m *Manifest) LastOperation(opType string) (Operation, bool) {
	for i := len(m.AppliedOperations) - 1; i >= 0; i-- {
		if m.AppliedOperations[i].Type == opType {
			return m.AppliedOperations[i], true
		}
	}
	return Operation{}, false
}

// HasSuccessfulOperation reports whether any operation of the given type
// succeeded, checking the flat log and every file's transformation sub-log.
func (m *Manifest) HasSuccessfulOperation(opType string) bool {
	for _, op := range m.AppliedOperations {
		if op.Type == opType && op.Status == OpSuccess {
			return true
		}
	}
	for _, f := range m.Files {
		for _, op := range f.Transformations {
			if op.Type == opType && op.Status == OpSuccess {
				return true
			}
		}
	}
	return false
}

// ExtractedFileCount returns the files_extracted counter of the most recent
// successful extract operation, searching both operation logs.
func (m *Manifest) ExtractedFileCount() int {
	best := 0
	scan := func(op Operation) {
		if op.Type != "extract" || op.Status != OpSuccess {
			return
		}
		if n, ok := op.Details["files_extracted"]; ok && n > best {
			best = n
		}
	}
	for _, op := range m.AppliedOperations {
		scan(op)
	}
	for _, f := range m.Files {
		for _, op := range f.Transformations {
			scan(op)
		}
	}
	return best
}
