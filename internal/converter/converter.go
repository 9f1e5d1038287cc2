package converter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"docprep/internal/classifier"
	"docprep/internal/layout"
	"docprep/internal/lifecycle"
	"docprep/internal/logging"
	"docprep/internal/manifest"
	"docprep/internal/services"
	"docprep/internal/services/soffice"
	"docprep/internal/sniff"
	"docprep/internal/stage"
	"docprep/internal/unit"
)

// Converter turns legacy office documents into their modern formats through
// a bounded pool of LibreOffice invocations.
type Converter struct {
	tree     layout.Tree
	office   soffice.Converter
	detector sniff.Detector
	pool     *Pool
	logger   *slog.Logger
	cycle    int
	maxCycle int
}

// New constructs a converter for the given cycle. The pool is shared between
// cycles and workers.
func New(tree layout.Tree, office soffice.Converter, detector sniff.Detector, pool *Pool, logger *slog.Logger, cycle, maxCycles int) *Converter {
	if logger == nil {
		logger = logging.NewNop()
	}
	if pool == nil {
		pool = NewPool(1)
	}
	return &Converter{
		tree:     tree,
		office:   office,
		detector: detector,
		pool:     pool,
		logger:   logger.With(logging.String("component", "converter")),
		cycle:    cycle,
		maxCycle: maxCycles,
	}
}

// Prepare rejects units that are not queued for conversion.
func (c *Converter) Prepare(_ context.Context, u *unit.Unit) error {
	if state := u.Manifest.CurrentState(); state != lifecycle.StatusPendingConvert {
		return services.Wrap(services.ErrValidation, "converter", "prepare",
			fmt.Sprintf("unit %s in state %s, want %s", u.ID(), state, lifecycle.StatusPendingConvert), nil)
	}
	return nil
}

// Execute converts every legacy office file in the unit. A unit whose files
// turn out to be mislabeled exports is re-routed to normalization instead of
// failing; a unit with no converted output at all becomes an exception.
func (c *Converter) Execute(ctx context.Context, u *unit.Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	files, err := u.AllContentFiles()
	if err != nil {
		return services.Wrap(services.ErrOperation, "converter", "scan", "list unit files", err)
	}

	var converted int
	var misnamed int
	var candidates int
	var lastTarget string
	var lastErr error

	for _, rel := range files {
		ext := normalizedExt(rel)
		target, legacy := classifier.ConversionTargets[ext]
		if !legacy {
			continue
		}
		candidates++
		lastTarget = target

		abs := filepath.Join(u.Dir, rel)
		det, detErr := c.detector.Detect(abs)
		if detErr == nil && det.DetectedType != "" && det.DetectedType != ext {
			// The extension lies; LibreOffice would mangle this. Route the
			// unit to name repair instead.
			misnamed++
			c.logger.Info("conversion candidate is mislabeled",
				logging.String("unit", u.ID()),
				logging.String("file", rel),
				logging.String("extension", ext),
				logging.String("detected", det.DetectedType))
			continue
		}

		output, err := c.convertOne(ctx, u, abs, target)
		if err != nil {
			lastErr = err
			u.Manifest.AppendOperation(manifest.Operation{
				Type:   "convert",
				Status: manifest.OpFailed,
				Cycle:  c.cycle,
				Tool:   "soffice",
				Error:  err.Error(),
			})
			c.logger.Warn("conversion failed",
				logging.String("unit", u.ID()),
				logging.String("file", rel),
				logging.Error(err))
			continue
		}

		op := manifest.Operation{
			Type:    "convert",
			Status:  manifest.OpSuccess,
			Cycle:   c.cycle,
			Tool:    "soffice",
			From:    rel,
			To:      filepath.Base(output),
			Details: map[string]int{"files_converted": 1},
		}
		u.Manifest.AppendOperation(op)
		u.Manifest.RecordTransformation(rel, op)
		if entry, ok := u.Manifest.File(rel); ok {
			entry.CurrentName = filepath.Base(output)
		}
		if err := os.Remove(abs); err != nil {
			c.logger.Warn("remove legacy source",
				logging.String("unit", u.ID()),
				logging.String("file", rel),
				logging.Error(err))
		}
		converted++
	}

	if candidates == 0 {
		return services.WithReason(services.ReasonErConvert,
			services.Wrap(services.ErrOperation, "converter", "scan",
				fmt.Sprintf("unit %s holds no convertible files", u.ID()), nil))
	}

	if converted == 0 {
		if misnamed > 0 {
			return c.fallbackToNormalize(u)
		}
		if saveErr := u.Save(); saveErr != nil {
			c.logger.Error("persist failure records",
				logging.String("unit", u.ID()), logging.Error(saveErr))
		}
		return services.WithReason(services.ReasonErConvert,
			services.Wrap(services.ErrOperation, "converter", "convert",
				fmt.Sprintf("unit %s: no file converted", u.ID()), lastErr))
	}

	if err := c.advance(u, lastTarget); err != nil {
		return err
	}

	c.logger.Info("unit converted",
		logging.String("unit", u.ID()),
		logging.Int("cycle", c.cycle),
		logging.Int("files_converted", converted),
		logging.String("state", string(u.Manifest.CurrentState())))
	return nil
}

// HealthCheck probes the office backend.
func (c *Converter) HealthCheck(ctx context.Context) stage.Health {
	if hc, ok := c.office.(interface{ HealthCheck(context.Context) error }); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return stage.Unhealthy("converter", err.Error())
		}
	}
	return stage.Healthy("converter")
}

var _ stage.Handler = (*Converter)(nil)

// convertOne runs a single conversion under a pool slot and validates that
// the produced bytes really are the target format. An output that fails the
// signature check is deleted so a corrupt file can never reach the merger.
func (c *Converter) convertOne(ctx context.Context, u *unit.Unit, inputPath, target string) (string, error) {
	release, err := c.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	output, err := c.office.Convert(ctx, inputPath, filepath.Dir(inputPath), target)
	if err != nil {
		return "", err
	}

	det, err := c.detector.Detect(output)
	if err != nil {
		_ = os.Remove(output)
		return "", fmt.Errorf("sniff converted output: %w", err)
	}
	if det.DetectedType != target {
		_ = os.Remove(output)
		return "", fmt.Errorf("converted output signature is %q, want %q", det.DetectedType, target)
	}
	return output, nil
}

// fallbackToNormalize hands a unit of mislabeled files to the normalizer
// within the same cycle.
func (c *Converter) fallbackToNormalize(u *unit.Unit) error {
	if err := u.Transition(lifecycle.StatusPendingNormalize, c.cycle); err != nil {
		return err
	}
	u.Manifest.AppendOperation(manifest.Operation{
		Type:   "convert",
		Status: manifest.OpSkipped,
		Cycle:  c.cycle,
		Tool:   "soffice",
		Error:  "all candidates mislabeled, re-routed to normalization",
	})
	if err := u.Save(); err != nil {
		return err
	}

	key := layout.OutMixed
	if !u.Manifest.Mixed() {
		if ext, err := u.DominantExtension(); err == nil && ext != "" {
			key = ext
		}
	}
	dest := filepath.Join(c.tree.ProcessingArea(c.cycle, layout.AreaNormalize), key)
	if err := u.MoveTo(dest, c.tree); err != nil {
		return err
	}

	c.logger.Info("unit re-routed to normalization",
		logging.String("unit", u.ID()),
		logging.Int("cycle", c.cycle))
	return nil
}

func (c *Converter) advance(u *unit.Unit, target string) error {
	if c.cycle < c.maxCycle {
		if err := u.Transition(lifecycle.ClassifiedFor(c.cycle+1), c.cycle); err != nil {
			return err
		}
		return u.Save()
	}

	if err := u.Transition(lifecycle.StatusMergedProcessed, c.cycle); err != nil {
		return err
	}
	if err := u.Save(); err != nil {
		return err
	}
	key := target
	if u.Manifest.Mixed() {
		key = layout.OutMixed
	}
	if key == "" {
		key = "docx"
	}
	return u.MoveTo(c.tree.MergeArea(c.cycle, layout.OutConverted, key), c.tree)
}

func normalizedExt(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}
