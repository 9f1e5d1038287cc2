package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"docprep/internal/layout"
	"docprep/internal/lifecycle"
	"docprep/internal/logging"
	"docprep/internal/manifest"
	"docprep/internal/services"
	"docprep/internal/sniff"
	"docprep/internal/stage"
	"docprep/internal/unit"
)

// UnitDecision is the aggregated verdict for a whole unit.
type UnitDecision struct {
	// Category is the persisted unit category; stays mixed once mixed.
	Category Category
	// SubRoute is the concrete processing route used for this pass when the
	// unit is mixed; equals Category otherwise.
	SubRoute Category
	Mixed    bool
	Files    []FileDecision
	Reason   services.Reason
	// Route is the downstream routing key recorded in the manifest.
	Route string
	// Confidence is the weakest per-file sniffing confidence.
	Confidence float64
}

// Classifier routes units into processing categories for one cycle.
type Classifier struct {
	tree     layout.Tree
	detector sniff.Detector
	logger   *slog.Logger
	cycle    int
	maxCycle int
}

// New constructs a classifier for the given cycle.
func New(tree layout.Tree, detector sniff.Detector, logger *slog.Logger, cycle, maxCycles int) *Classifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Classifier{
		tree:     tree,
		detector: detector,
		logger:   logger.With(logging.String("component", "classifier")),
		cycle:    cycle,
		maxCycle: maxCycles,
	}
}

// Prepare rejects units that already reached a terminal state.
func (c *Classifier) Prepare(_ context.Context, u *unit.Unit) error {
	state := u.Manifest.CurrentState()
	if lifecycle.IsTerminal(state) {
		return services.Wrap(services.ErrValidation, "classifier", "prepare",
			fmt.Sprintf("unit %s is terminal in state %s", u.ID(), state), nil)
	}
	return nil
}

// Execute classifies every file, aggregates the unit verdict, records the
// classify operation, advances state per the transition table, and relocates
// the unit.
func (c *Classifier) Execute(ctx context.Context, u *unit.Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	files, err := u.AllContentFiles()
	if err != nil {
		return services.Wrap(services.ErrOperation, "classifier", "scan", "list unit files", err)
	}

	decisions := make([]FileDecision, 0, len(files))
	for _, rel := range files {
		det, err := c.detector.Detect(filepath.Join(u.Dir, rel))
		if err != nil {
			// Undetectable content is still classified, as ambiguous.
			det = sniff.Detection{Confidence: 0}
			c.logger.Warn("content sniff failed",
				logging.String("unit", u.ID()),
				logging.String("file", rel),
				logging.Error(err))
		}
		decisions = append(decisions, DecideFile(rel, det))
	}

	dec := Aggregate(decisions, u.Manifest.Mixed())
	c.syncFileEntries(u, dec)

	from := u.Manifest.CurrentState()
	target, dest := c.resolve(u, dec)

	u.Manifest.Processing.CurrentCycle = c.cycle
	u.Manifest.Processing.Route = dec.Route
	u.Manifest.Processing.Classification = manifest.Classification{
		Category:   string(dec.Category),
		IsMixed:    dec.Mixed,
		Confidence: dec.Confidence,
	}
	if dec.Mixed {
		u.Manifest.SetMixed()
	}
	if dec.Reason != "" {
		u.Manifest.Processing.FinalReason = string(dec.Reason)
	}

	// Classification into cycle N always passes through CLASSIFIED_N first.
	if err := u.Transition(lifecycle.ClassifiedFor(c.cycle), c.cycle); err != nil {
		return err
	}
	if err := u.Transition(target, c.cycle); err != nil {
		return err
	}

	u.Manifest.AppendOperation(manifest.Operation{
		Type:   "classify",
		Status: manifest.OpSuccess,
		From:   string(from),
		To:     string(target),
		Cycle:  c.cycle,
	})
	if err := u.Save(); err != nil {
		return err
	}

	if dest != "" {
		if err := u.MoveTo(dest, c.tree); err != nil {
			return err
		}
	}

	c.logger.Info("unit classified",
		logging.String("unit", u.ID()),
		logging.Int("cycle", c.cycle),
		logging.String("category", string(dec.Category)),
		logging.String("route", dec.Route),
		logging.Bool("mixed", dec.Mixed),
		logging.String("state", string(target)))
	return nil
}

// HealthCheck reports readiness; classification has no external collaborators
// beyond the filesystem.
func (c *Classifier) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("classifier")
}

var _ stage.Handler = (*Classifier)(nil)

// resolve maps a unit decision to the target state and destination parent
// directory. An empty destination means the unit stays in place.
func (c *Classifier) resolve(u *unit.Unit, dec UnitDecision) (lifecycle.Status, string) {
	switch dec.SubRoute {
	case CategoryEmpty, CategorySpecial, CategoryUnknown:
		return lifecycle.ExceptionFor(c.cycle), c.exceptionDir(dec.Reason)
	case CategoryConvert:
		return lifecycle.StatusPendingConvert,
			filepath.Join(c.tree.ProcessingArea(c.cycle, layout.AreaConvert), c.extKey(dec))
	case CategoryExtract:
		return lifecycle.StatusPendingExtract,
			filepath.Join(c.tree.ProcessingArea(c.cycle, layout.AreaExtract), c.extKey(dec))
	case CategoryNormalize:
		return lifecycle.StatusPendingNormalize,
			filepath.Join(c.tree.ProcessingArea(c.cycle, layout.AreaNormalize), c.extKey(dec))
	default: // direct
		if c.cycle == 1 {
			key := c.extKey(dec)
			return lifecycle.StatusMergedDirect, filepath.Join(c.tree.MergeDirect(), key)
		}
		// Already sitting in a merge output from the previous cycle; nothing
		// further to do, so it merges in place.
		return lifecycle.StatusMergedProcessed, ""
	}
}

func (c *Classifier) exceptionDir(reason services.Reason) string {
	if reason == "" {
		reason = services.ReasonNoProcessableFiles
	}
	if c.cycle == 1 {
		return c.tree.ExceptionsDirect(reason)
	}
	return c.tree.ExceptionsProcessing(c.cycle, reason)
}

// extKey picks the extension bucket the unit files under. Mixed units always
// use the literal Mixed bucket.
func (c *Classifier) extKey(dec UnitDecision) string {
	if dec.Mixed {
		return layout.OutMixed
	}
	switch dec.SubRoute {
	case CategoryConvert:
		for _, f := range dec.Files {
			if f.Category == CategoryConvert && f.TargetExtension != "" {
				return f.TargetExtension
			}
		}
		return "docx"
	case CategoryExtract:
		for _, f := range dec.Files {
			if f.Category == CategoryExtract {
				if ext := normalizedExt(f.Name); ext != "" {
					return ext
				}
			}
		}
		return "zip"
	case CategoryNormalize:
		for _, f := range dec.Files {
			if f.Category == CategoryNormalize && f.TargetExtension != "" {
				return normalizeKey(f.TargetExtension)
			}
		}
		return "txt"
	default:
		key := ""
		for _, f := range dec.Files {
			ext := strings.ToLower(f.Detection.DetectedType)
			if ext == "" {
				ext = normalizedExt(f.Name)
			}
			if key == "" {
				key = ext
			}
		}
		if key == "" {
			return layout.OutMixed
		}
		return normalizeKey(key)
	}
}

// normalizeKeyAllowed is the closed set of extension buckets the normalize
// area files units under.
var normalizeKeyAllowed = map[string]struct{}{
	"docx": {}, "pdf": {}, "xlsx": {}, "pptx": {}, "rtf": {}, "jpg": {},
	"jpeg": {}, "png": {}, "tiff": {}, "xml": {}, "txt": {}, "doc": {},
}

func normalizeKey(ext string) string {
	if ext == "jpeg" {
		return "jpg"
	}
	if _, ok := normalizeKeyAllowed[ext]; ok {
		return ext
	}
	return "other"
}

// Aggregate combines per-file decisions into the unit verdict. stickyMixed
// carries a previous cycle's mixed determination, which is authoritative.
func Aggregate(decisions []FileDecision, stickyMixed bool) UnitDecision {
	if len(decisions) == 0 {
		return UnitDecision{
			Category: CategoryEmpty,
			SubRoute: CategoryEmpty,
			Reason:   services.ReasonEmpty,
			Route:    "",
		}
	}

	categories := map[Category]int{}
	types := map[string]struct{}{}
	confidence := 1.0
	allAmbiguous := true
	for _, d := range decisions {
		categories[d.Category]++
		if t := strings.ToLower(d.Detection.DetectedType); t != "" {
			types[t] = struct{}{}
		}
		if d.Detection.Confidence < confidence {
			confidence = d.Detection.Confidence
		}
		if d.Category != CategorySpecial || !d.Ambiguous {
			allAmbiguous = false
		}
	}

	mixed := stickyMixed || len(categories) > 1 || len(types) > 1

	dec := UnitDecision{
		Files:      decisions,
		Mixed:      mixed,
		Confidence: confidence,
	}

	if !mixed {
		for cat := range categories {
			dec.Category = cat
			dec.SubRoute = cat
		}
		switch dec.Category {
		case CategorySpecial:
			dec.Reason = services.ReasonSpecial
			if allAmbiguous {
				dec.Reason = services.ReasonAmbiguous
			}
		case CategoryUnknown:
			dec.Reason = services.ReasonUnsupportedType
		}
		dec.Route = routeFor(decisions, dec.Category, false)
		return dec
	}

	dec.Category = CategoryMixed
	dec.SubRoute = mixedSubRoute(categories)
	switch dec.SubRoute {
	case CategorySpecial:
		dec.Reason = services.ReasonSpecial
	case CategoryUnknown:
		dec.Reason = services.ReasonUnsupportedType
	}
	dec.Route = "mixed"
	return dec
}

// mixedSubRoute picks the concrete route for a mixed unit: extraction first
// (archives can hide everything else), then conversion, then normalization,
// then direct.
func mixedSubRoute(categories map[Category]int) Category {
	for _, cat := range []Category{CategoryExtract, CategoryConvert, CategoryNormalize, CategoryDirect} {
		if categories[cat] > 0 {
			return cat
		}
	}
	if categories[CategorySpecial] > 0 {
		return CategorySpecial
	}
	return CategoryUnknown
}

// routeFor derives the downstream routing key recorded in the manifest.
func routeFor(decisions []FileDecision, category Category, mixed bool) string {
	if mixed {
		return "mixed"
	}
	switch category {
	case CategoryEmpty, CategorySpecial, CategoryUnknown:
		return ""
	}

	dominant := ""
	counts := map[string]int{}
	for _, d := range decisions {
		t := strings.ToLower(d.Detection.DetectedType)
		if t == "" {
			t = normalizedExt(d.Name)
		}
		if t == "" {
			continue
		}
		counts[t]++
		if dominant == "" || counts[t] > counts[dominant] {
			dominant = t
		}
	}
	switch dominant {
	case "":
		return ""
	case "pdf":
		return "pdf"
	case "jpg", "jpeg", "png", "tiff", "gif", "bmp":
		return "image_ocr"
	default:
		return dominant
	}
}

// syncFileEntries reconciles the manifest's file list with the decisions of
// this pass, creating entries on first contact and refreshing detection
// fields on reclassification.
func (c *Classifier) syncFileEntries(u *unit.Unit, dec UnitDecision) {
	m := u.Manifest
	for _, d := range dec.Files {
		entry, ok := m.File(d.Name)
		if !ok {
			m.Files = append(m.Files, manifest.FileEntry{
				OriginalName:    d.Name,
				CurrentName:     d.Name,
				Transformations: []manifest.Operation{},
			})
			entry = &m.Files[len(m.Files)-1]
		}
		entry.DetectedType = d.Detection.DetectedType
		entry.MimeDetected = d.Detection.MimeType
		entry.NeedsOCR = d.Detection.NeedsOCR
		if info, err := os.Stat(filepath.Join(u.Dir, d.Name)); err == nil {
			entry.SizeBytes = info.Size()
		}
	}
}
