package normalizer

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

// Normalizer repairs file names and extensions in place.
type Normalizer struct {
	tree     layout.Tree
	detector sniff.Detector
	logger   *slog.Logger
	cycle    int
	maxCycle int
}

// New constructs a normalizer for the given cycle.
func New(tree layout.Tree, detector sniff.Detector, logger *slog.Logger, cycle, maxCycles int) *Normalizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Normalizer{
		tree:     tree,
		detector: detector,
		logger:   logger.With(logging.String("component", "normalizer")),
		cycle:    cycle,
		maxCycle: maxCycles,
	}
}

// Prepare rejects units that are not queued for normalization.
func (n *Normalizer) Prepare(_ context.Context, u *unit.Unit) error {
	if state := u.Manifest.CurrentState(); state != lifecycle.StatusPendingNormalize {
		return services.Wrap(services.ErrValidation, "normalizer", "prepare",
			fmt.Sprintf("unit %s in state %s, want %s", u.ID(), state, lifecycle.StatusPendingNormalize), nil)
	}
	return nil
}

// Execute repairs every file name in the unit. Files already correct pass
// through untouched; the unit fails only when a needed rename cannot be
// applied.
func (n *Normalizer) Execute(ctx context.Context, u *unit.Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	files, err := u.AllContentFiles()
	if err != nil {
		return services.Wrap(services.ErrOperation, "normalizer", "scan", "list unit files", err)
	}
	if len(files) == 0 {
		return services.WithReason(services.ReasonErNormalize,
			services.Wrap(services.ErrOperation, "normalizer", "scan",
				fmt.Sprintf("unit %s holds no files", u.ID()), nil))
	}

	var renamed, failed int
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		abs := filepath.Join(u.Dir, rel)
		base := filepath.Base(rel)

		fixed := RepairName(base)
		det, detErr := n.detector.Detect(abs)
		if detErr != nil {
			det = sniff.Detection{}
		}
		fixed, _ = RepairExtension(fixed, det)
		if fixed == base {
			continue
		}

		newRel := filepath.Join(filepath.Dir(rel), fixed)
		if err := renameUnique(u.Dir, rel, &newRel); err != nil {
			failed++
			u.Manifest.AppendOperation(manifest.Operation{
				Type:   "normalize",
				Status: manifest.OpFailed,
				Cycle:  n.cycle,
				From:   rel,
				Error:  err.Error(),
			})
			n.logger.Warn("rename failed",
				logging.String("unit", u.ID()),
				logging.String("file", rel),
				logging.Error(err))
			continue
		}

		op := manifest.Operation{
			Type:   "normalize",
			Status: manifest.OpSuccess,
			Cycle:  n.cycle,
			From:   rel,
			To:     newRel,
		}
		u.Manifest.AppendOperation(op)
		u.Manifest.RecordTransformation(rel, op)
		if entry, ok := u.Manifest.File(rel); ok {
			entry.CurrentName = newRel
		}
		renamed++
	}

	if failed > 0 && renamed == 0 {
		if saveErr := u.Save(); saveErr != nil {
			n.logger.Error("persist failure records",
				logging.String("unit", u.ID()), logging.Error(saveErr))
		}
		return services.WithReason(services.ReasonErNormalize,
			services.Wrap(services.ErrOperation, "normalizer", "rename",
				fmt.Sprintf("unit %s: every needed rename failed", u.ID()), nil))
	}

	if err := n.advance(u); err != nil {
		return err
	}

	n.logger.Info("unit normalized",
		logging.String("unit", u.ID()),
		logging.Int("cycle", n.cycle),
		logging.Int("files_renamed", renamed),
		logging.String("state", string(u.Manifest.CurrentState())))
	return nil
}

// HealthCheck reports readiness; normalization touches only the filesystem.
func (n *Normalizer) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("normalizer")
}

var _ stage.Handler = (*Normalizer)(nil)

func (n *Normalizer) advance(u *unit.Unit) error {
	if n.cycle < n.maxCycle {
		if err := u.Transition(lifecycle.ClassifiedFor(n.cycle+1), n.cycle); err != nil {
			return err
		}
		return u.Save()
	}

	if err := u.Transition(lifecycle.StatusMergedProcessed, n.cycle); err != nil {
		return err
	}
	if err := u.Save(); err != nil {
		return err
	}
	key := layout.OutMixed
	if !u.Manifest.Mixed() {
		if ext, err := u.DominantExtension(); err == nil && ext != "" {
			key = ext
		}
	}
	return u.MoveTo(n.tree.MergeArea(n.cycle, layout.OutNormalized, key), n.tree)
}

// renameUnique renames rel to *newRel inside dir, appending a numeric suffix
// when the target name is taken by another file.
func renameUnique(dir, rel string, newRel *string) error {
	src := filepath.Join(dir, rel)
	target := *newRel
	ext := filepath.Ext(target)
	stem := strings.TrimSuffix(target, ext)
	for i := 1; ; i++ {
		abs := filepath.Join(dir, target)
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			break
		}
		if i > 100 {
			return fmt.Errorf("no free name for %s", *newRel)
		}
		target = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
	if err := os.Rename(src, filepath.Join(dir, target)); err != nil {
		return err
	}
	*newRel = target
	return nil
}
