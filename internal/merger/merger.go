package merger

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"docprep/internal/classifier"
	"docprep/internal/contract"
	"docprep/internal/fileutil"
	"docprep/internal/layout"
	"docprep/internal/lifecycle"
	"docprep/internal/logging"
	"docprep/internal/manifest"
	"docprep/internal/services"
	"docprep/internal/stage"
	"docprep/internal/unit"
)

// Merger consolidates finished units into the final output tree. Acceptance
// is gated: a unit that slipped through the pipeline in a bad shape is
// rejected with a named reason instead of contaminating downstream input.
type Merger struct {
	tree   layout.Tree
	logger *slog.Logger
}

// New constructs the final consolidation stage.
func New(tree layout.Tree, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Merger{
		tree:   tree,
		logger: logger.With(logging.String("component", "merger")),
	}
}

// Sources lists the directories the consolidation sweep collects from.
func (mg *Merger) Sources() []string {
	return mg.tree.MergeSources()
}

// Prepare accepts every unit; readiness is decided inside Execute because a
// not-yet-ready unit is a silent skip, not an error.
func (mg *Merger) Prepare(context.Context, *unit.Unit) error {
	return nil
}

// Execute validates one unit and either relocates it into the final tree
// with a contract record, rejects it into exceptions, or leaves it untouched
// when it is still mid-pipeline.
func (mg *Merger) Execute(ctx context.Context, u *unit.Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if state := u.Manifest.CurrentState(); !mergeable(state) {
		mg.logger.Debug("unit not ready for consolidation",
			logging.String("unit", u.ID()),
			logging.String("state", string(state)))
		return nil
	}

	files, err := u.AllContentFiles()
	if err != nil {
		return services.Wrap(services.ErrOperation, "merger", "scan", "list unit files", err)
	}

	if reason := mg.gate(u, files); reason != "" {
		return mg.reject(u, reason)
	}
	return mg.accept(u, files)
}

// HealthCheck reports readiness; consolidation touches only the filesystem.
func (mg *Merger) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("merger")
}

var _ stage.Handler = (*Merger)(nil)

// mergeable states are the two merged outcomes plus leftover classified
// units from any cycle; everything else is mid-pipeline or already settled.
func mergeable(state lifecycle.Status) bool {
	switch state {
	case lifecycle.StatusMergedDirect, lifecycle.StatusMergedProcessed,
		lifecycle.StatusClassified1, lifecycle.StatusClassified2, lifecycle.StatusClassified3:
		return true
	default:
		return false
	}
}

// gate runs the validation gates in order and returns the rejection reason,
// or empty when the unit is acceptable.
func (mg *Merger) gate(u *unit.Unit, files []string) services.Reason {
	if len(files) == 0 {
		return services.ReasonEmpty
	}
	for _, rel := range files {
		if _, err := sanitizeExtension(filepath.Ext(rel)); err != nil {
			// An extension-less file here is an upstream defect, never
			// coerced into a catch-all bucket.
			return services.ReasonUnsupportedType
		}
	}
	if hasLegacyOffice(files) && !u.Manifest.HasSuccessfulOperation("convert") {
		return services.ReasonErConvert
	}
	if hasArchive(files) && u.Manifest.ExtractedFileCount() == 0 {
		return services.ReasonErExtract
	}
	return ""
}

// accept promotes the unit to its terminal state, emits the contract, and
// safe-moves it into the resolved final bucket.
func (mg *Merger) accept(u *unit.Unit, files []string) error {
	// Leftover classified units are promoted through the matching merged
	// state first; the transition table has no direct path to the terminal
	// state from a classified one.
	switch u.Manifest.CurrentState() {
	case lifecycle.StatusClassified1:
		if err := u.Transition(lifecycle.StatusMergedDirect, 1); err != nil {
			return err
		}
	case lifecycle.StatusClassified2, lifecycle.StatusClassified3:
		if err := u.Transition(lifecycle.StatusMergedProcessed, u.Manifest.Processing.CurrentCycle); err != nil {
			return err
		}
	}

	bucket := mg.resolveBucket(u, files)
	u.Manifest.Processing.FinalCluster = strings.Join(bucket, "/")
	if err := u.Transition(lifecycle.StatusReadyForDocling, u.Manifest.Processing.CurrentCycle); err != nil {
		return err
	}
	u.Manifest.AppendOperation(manifest.Operation{
		Type:   "merge",
		Status: manifest.OpSuccess,
		To:     u.Manifest.Processing.FinalCluster,
		Cycle:  u.Manifest.Processing.CurrentCycle,
	})
	if err := u.Save(); err != nil {
		return err
	}
	if err := contract.Save(u.Dir, contract.Generate(u.Dir, u.Manifest)); err != nil {
		return err
	}

	dest := filepath.Join(mg.tree.FinalBucket(bucket...), filepath.Base(u.Dir))
	if err := fileutil.SafeMoveDir(u.Dir, dest); err != nil {
		return services.Wrap(services.ErrOperation, "merger", "relocate",
			fmt.Sprintf("safe-move unit %s", u.ID()), err)
	}
	oldDir := u.Dir
	u.Dir = dest
	fileutil.PruneEmptyParents(filepath.Dir(oldDir), mg.tree.PruneStop(oldDir))

	// The manifest is the sole source of truth; if it did not survive the
	// move intact, continuing would corrupt state silently.
	if _, err := manifest.Load(dest); err != nil {
		return services.Wrap(services.ErrOperation, "merger", "verify",
			fmt.Sprintf("manifest unreadable after safe-move of %s", u.ID()), err)
	}

	mg.logger.Info("unit consolidated",
		logging.String("unit", u.ID()),
		logging.String("bucket", u.Manifest.Processing.FinalCluster))
	return nil
}

// reject parks the unit in a reason-coded exceptions bucket in the
// MERGER_SKIPPED terminal state.
func (mg *Merger) reject(u *unit.Unit, reason services.Reason) error {
	cycle := u.Manifest.Processing.CurrentCycle
	u.Manifest.Processing.FinalReason = string(reason)
	if err := u.Transition(lifecycle.StatusMergerSkipped, cycle); err != nil {
		return err
	}
	u.Manifest.AppendOperation(manifest.Operation{
		Type:   "merge",
		Status: manifest.OpFailed,
		Cycle:  cycle,
		Error:  string(reason),
	})
	if err := u.Save(); err != nil {
		return err
	}

	dest := mg.tree.ExceptionsDirect(reason)
	if cycle > 0 {
		dest = mg.tree.ExceptionsProcessing(cycle, reason)
	}
	if err := u.MoveTo(dest, mg.tree); err != nil {
		return err
	}

	mg.logger.Warn("unit rejected at consolidation",
		logging.String("unit", u.ID()),
		logging.String("reason", string(reason)))
	return nil
}

// resolveBucket maps a unit to its final output path elements. The recorded
// route wins; the dominant extension is the fallback; anything unresolved or
// mixed lands in the literal Mixed bucket.
func (mg *Merger) resolveBucket(u *unit.Unit, files []string) []string {
	if u.Manifest.Mixed() {
		return []string{layout.OutMixed}
	}
	switch route := u.Manifest.Processing.Route; route {
	case "pdf":
		return []string{"pdf", pdfVariant(u.Manifest)}
	case "image_ocr":
		if ext := dominantImageExt(files); ext != "" {
			return []string{ext}
		}
		return []string{layout.OutMixed}
	case "mixed":
		return []string{layout.OutMixed}
	case "":
		if ext := dominantSanitizedExt(files); ext != "" {
			return []string{ext}
		}
		return []string{layout.OutMixed}
	default:
		return []string{route}
	}
}

// pdfVariant splits pdf units on the per-file OCR flags carried from
// classification.
func pdfVariant(m *manifest.Manifest) string {
	var ocr, plain int
	for _, f := range m.Files {
		if strings.EqualFold(f.DetectedType, "pdf") {
			if f.NeedsOCR {
				ocr++
			} else {
				plain++
			}
		}
	}
	switch {
	case ocr > 0 && plain > 0:
		return "mixed"
	case ocr > 0:
		return "scan"
	default:
		return "text"
	}
}

func dominantImageExt(files []string) string {
	counts := map[string]int{}
	best := ""
	for _, rel := range files {
		ext, err := sanitizeExtension(filepath.Ext(rel))
		if err != nil {
			continue
		}
		switch ext {
		case "jpeg":
			ext = "jpg"
		case "jpg", "png", "tiff", "tif", "gif", "bmp":
		default:
			continue
		}
		counts[ext]++
		if best == "" || counts[ext] > counts[best] {
			best = ext
		}
	}
	return best
}

func dominantSanitizedExt(files []string) string {
	counts := map[string]int{}
	best := ""
	for _, rel := range files {
		ext, err := sanitizeExtension(filepath.Ext(rel))
		if err != nil {
			continue
		}
		counts[ext]++
		if best == "" || counts[ext] > counts[best] {
			best = ext
		}
	}
	return best
}

func hasLegacyOffice(files []string) bool {
	for _, rel := range files {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(rel)), ".")
		if _, legacy := classifier.ConversionTargets[ext]; legacy {
			return true
		}
	}
	return false
}

var archiveExts = map[string]struct{}{
	"zip": {}, "rar": {}, "7z": {},
}

func hasArchive(files []string) bool {
	for _, rel := range files {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(rel)), ".")
		if _, ok := archiveExts[ext]; ok {
			return true
		}
	}
	return false
}

// sanitizeExtension lowercases an extension and rejects ones that cannot
// name a filesystem bucket: empty, oversize, or holding non-alphanumerics.
func sanitizeExtension(ext string) (string, error) {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		return "", fmt.Errorf("empty extension")
	}
	if len(ext) > 10 {
		return "", fmt.Errorf("extension %q too long", ext)
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("extension %q holds invalid characters", ext)
		}
	}
	return ext, nil
}
