package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docprep/internal/services"
)

// MaxCycles is the fixed ceiling on processing cycles.
const MaxCycles = 3

// Work-area subdirectory names inside Processing_N.
const (
	AreaConvert   = "Convert"
	AreaExtract   = "Extract"
	AreaNormalize = "Normalize"
	AreaMixed     = "Mixed"
)

// Output subdirectory names inside Merge roots.
const (
	OutConverted  = "Converted"
	OutExtracted  = "Extracted"
	OutNormalized = "Normalized"
	OutMixed      = "Mixed"
)

var processingAreas = []string{AreaConvert, AreaExtract, AreaNormalize, AreaMixed}

var mergeAreas = []string{OutConverted, OutExtracted, OutNormalized, OutMixed}

var exceptionReasons = []services.Reason{
	services.ReasonEmpty,
	services.ReasonSpecial,
	services.ReasonAmbiguous,
	services.ReasonErConvert,
	services.ReasonErExtract,
	services.ReasonErNormalize,
	services.ReasonNoProcessableFiles,
	services.ReasonUnsupportedType,
	services.ReasonZipBomb,
}

// Tree resolves every structural path of one batch root. All components
// derive unit destinations from it instead of concatenating paths ad hoc.
type Tree struct {
	Root string
}

// New returns a Tree anchored at the given batch root.
func New(root string) Tree {
	return Tree{Root: filepath.Clean(root)}
}

// Input is the cycle-1 ingestion directory.
func (t Tree) Input() string {
	return filepath.Join(t.Root, "Input")
}

// Processing is the work area for one cycle.
func (t Tree) Processing(cycle int) string {
	return filepath.Join(t.Root, fmt.Sprintf("Processing_%d", clampCycle(cycle)))
}

// ProcessingArea is a category work area inside one cycle, e.g.
// Processing_1/Extract.
func (t Tree) ProcessingArea(cycle int, area string) string {
	return filepath.Join(t.Processing(cycle), area)
}

// MergeDirect holds units that never needed processing.
func (t Tree) MergeDirect() string {
	return filepath.Join(t.Root, "Merge", "Direct")
}

// MergeProcessed is the per-cycle output root, e.g. Merge/Processed_2.
func (t Tree) MergeProcessed(cycle int) string {
	return filepath.Join(t.Root, "Merge", fmt.Sprintf("Processed_%d", clampCycle(cycle)))
}

// MergeArea is an output bucket inside a per-cycle merge root, further keyed
// by a normalized extension (or the literal Mixed bucket).
func (t Tree) MergeArea(cycle int, area, key string) string {
	if key == "" {
		return filepath.Join(t.MergeProcessed(cycle), area)
	}
	return filepath.Join(t.MergeProcessed(cycle), area, key)
}

// ExceptionsDirect quarantines units rejected before any processing.
func (t Tree) ExceptionsDirect(reason services.Reason) string {
	return filepath.Join(t.Root, "Exceptions", "Direct", string(reason))
}

// ExceptionsProcessing quarantines units rejected during a cycle.
func (t Tree) ExceptionsProcessing(cycle int, reason services.Reason) string {
	return filepath.Join(t.Root, "Exceptions", fmt.Sprintf("Processing_%d", clampCycle(cycle)), string(reason))
}

// Final is the consolidated output tree, keyed by resolved type.
func (t Tree) Final() string {
	return filepath.Join(t.Root, "Output")
}

// FinalBucket resolves the consolidated destination for a route key. Nested
// keys such as pdf/text are passed as path elements.
func (t Tree) FinalBucket(elem ...string) string {
	return filepath.Join(append([]string{t.Final()}, elem...)...)
}

// MergeSources lists every directory the final consolidation sweep collects
// from: the direct root, every cycle's processed output, and every cycle's
// processing tree. The processing trees catch units the final cycle left in
// place as merged or leftover classified.
func (t Tree) MergeSources() []string {
	sources := []string{t.MergeDirect()}
	for cycle := 1; cycle <= MaxCycles; cycle++ {
		sources = append(sources, t.MergeProcessed(cycle))
	}
	for cycle := 1; cycle <= MaxCycles; cycle++ {
		sources = append(sources, t.Processing(cycle))
	}
	return sources
}

// StructuralRoots are directories that unit moves must never prune away.
func (t Tree) StructuralRoots() []string {
	roots := []string{
		t.Root,
		t.Input(),
		t.MergeDirect(),
		t.Final(),
		filepath.Join(t.Root, "Merge"),
		filepath.Join(t.Root, "Exceptions"),
	}
	for cycle := 1; cycle <= MaxCycles; cycle++ {
		roots = append(roots,
			t.Processing(cycle),
			t.MergeProcessed(cycle),
			filepath.Join(t.Root, "Exceptions", fmt.Sprintf("Processing_%d", cycle)),
		)
		for _, area := range processingAreas {
			roots = append(roots, t.ProcessingArea(cycle, area))
		}
		for _, area := range mergeAreas {
			roots = append(roots, filepath.Join(t.MergeProcessed(cycle), area))
		}
	}
	return roots
}

// PruneStop returns the deepest structural root containing path; moves prune
// empty parents only up to that point.
func (t Tree) PruneStop(path string) string {
	best := t.Root
	for _, root := range t.StructuralRoots() {
		if within(path, root) && len(root) > len(best) {
			best = root
		}
	}
	return best
}

// Init materializes the full batch tree.
func (t Tree) Init() error {
	dirs := []string{t.Input(), t.MergeDirect(), t.Final()}
	for cycle := 1; cycle <= MaxCycles; cycle++ {
		for _, area := range processingAreas {
			dirs = append(dirs, t.ProcessingArea(cycle, area))
		}
		for _, area := range mergeAreas {
			dirs = append(dirs, filepath.Join(t.MergeProcessed(cycle), area))
		}
		for _, reason := range exceptionReasons {
			dirs = append(dirs, t.ExceptionsProcessing(cycle, reason))
		}
	}
	for _, reason := range exceptionReasons {
		dirs = append(dirs, t.ExceptionsDirect(reason))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func clampCycle(cycle int) int {
	if cycle < 1 {
		return 1
	}
	if cycle > MaxCycles {
		return MaxCycles
	}
	return cycle
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
