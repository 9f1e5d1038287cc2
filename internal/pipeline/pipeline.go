package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docprep/internal/classifier"
	"docprep/internal/config"
	"docprep/internal/converter"
	"docprep/internal/extractor"
	"docprep/internal/layout"
	"docprep/internal/lifecycle"
	"docprep/internal/logging"
	"docprep/internal/merger"
	"docprep/internal/metrics"
	"docprep/internal/normalizer"
	"docprep/internal/services"
	"docprep/internal/services/sevenzip"
	"docprep/internal/services/soffice"
	"docprep/internal/sniff"
	"docprep/internal/stage"
	"docprep/internal/unit"
)

// UnitFailure records one unit that could not complete the run.
type UnitFailure struct {
	UnitID string
	Stage  string
	Cycle  int
	Reason services.Reason
	Bucket string
}

// Summary is the outcome of one batch run.
type Summary struct {
	RunID     string
	Processed int
	Succeeded int
	Failed    int
	Failures  []UnitFailure
}

// Pipeline drives units through classification, the processing stages, and
// final consolidation across the configured number of cycles.
type Pipeline struct {
	cfg      *config.Config
	tree     layout.Tree
	logger   *slog.Logger
	detector sniff.Detector
	office   soffice.Converter
	archive  extractor.ArchiveTool
	pool     *converter.Pool
	sink     *metrics.Sink
	limits   workerLimits
}

// Option adjusts pipeline wiring, primarily for tests.
type Option func(*Pipeline)

// WithDetector substitutes the content sniffer.
func WithDetector(d sniff.Detector) Option {
	return func(p *Pipeline) {
		if d != nil {
			p.detector = d
		}
	}
}

// WithOffice substitutes the document conversion backend.
func WithOffice(office soffice.Converter) Option {
	return func(p *Pipeline) {
		if office != nil {
			p.office = office
		}
	}
}

// WithArchiveTool substitutes the external archive tool.
func WithArchiveTool(tool extractor.ArchiveTool) Option {
	return func(p *Pipeline) {
		if tool != nil {
			p.archive = tool
		}
	}
}

// WithMetrics attaches a metrics sink. A nil sink discards events.
func WithMetrics(sink *metrics.Sink) Option {
	return func(p *Pipeline) {
		p.sink = sink
	}
}

// New wires a pipeline from configuration. The external tool clients are
// built from the configured binaries unless overridden by options.
func New(cfg *config.Config, tree layout.Tree, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("configuration required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Pipeline{
		cfg:      cfg,
		tree:     tree,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
		detector: sniff.NewDetector(),
		pool:     converter.NewPool(cfg.Convert.PoolSize),
		limits:   limitsFor(cfg),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.office == nil {
		office, err := soffice.New(cfg.Convert.Binary, soffice.WithTimeouts(
			time.Duration(cfg.Convert.BaseTimeoutSeconds)*time.Second,
			time.Duration(cfg.Convert.TimeoutPerMB)*time.Second,
			time.Duration(cfg.Convert.MaxTimeoutSeconds)*time.Second,
		))
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "wire", "conversion engine", err)
		}
		p.office = office
	}
	if p.archive == nil {
		tool, err := sevenzip.New(cfg.Extract.SevenZipBinary, cfg.Extract.ToolTimeout)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "wire", "archive tool", err)
		}
		p.archive = tool
	}
	return p, nil
}

// Run executes one batch: a classification pass and a stage pass per cycle,
// then the consolidation sweep. Per-unit failures are recorded in the
// summary and never abort the batch; only infrastructure failures (an
// unreadable tree, a corrupt manifest) return an error.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := p.logger.With(logging.String(logging.FieldRunID, runID))

	acc := newAccumulator(runID)

	if err := p.tree.Init(); err != nil {
		return acc.summary(), services.Wrap(services.ErrOperation, "pipeline", "init", "create batch tree", err)
	}
	if err := p.healthGate(ctx); err != nil {
		return acc.summary(), err
	}

	logger.Info("batch run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Int("max_cycles", p.cfg.Pipeline.MaxCycles))

	for cycle := 1; cycle <= p.cfg.Pipeline.MaxCycles; cycle++ {
		if err := p.classifyPass(ctx, logger, cycle, acc); err != nil {
			return acc.summary(), err
		}
		if err := p.stagePass(ctx, logger, cycle, acc, ""); err != nil {
			return acc.summary(), err
		}
	}
	if err := p.mergePass(ctx, logger, acc); err != nil {
		return acc.summary(), err
	}

	s := acc.summary()
	logger.Info("batch run finished",
		logging.String(logging.FieldEventType, "run_finish"),
		logging.Int("processed", s.Processed),
		logging.Int("succeeded", s.Succeeded),
		logging.Int("failed", s.Failed))
	return s, nil
}

// healthGate refuses to start a batch when a stage's external collaborators
// are unavailable. A half-working batch would strand units mid-pipeline.
func (p *Pipeline) healthGate(ctx context.Context) error {
	handlers := []stage.Handler{
		classifier.New(p.tree, p.detector, p.logger, 1, p.cfg.Pipeline.MaxCycles),
		converter.New(p.tree, p.office, p.detector, p.pool, p.logger, 1, p.cfg.Pipeline.MaxCycles),
		extractor.New(p.tree, p.archive, p.logger, 1, p.cfg.Pipeline.MaxCycles, p.extractOptions()),
		normalizer.New(p.tree, p.detector, p.logger, 1, p.cfg.Pipeline.MaxCycles),
		merger.New(p.tree, p.logger),
	}
	var unavailable []string
	for _, h := range handlers {
		if health := h.HealthCheck(ctx); !health.Ready {
			unavailable = append(unavailable, fmt.Sprintf("%s (%s)", health.Name, health.Detail))
		}
	}
	if len(unavailable) > 0 {
		return services.Wrap(services.ErrConfiguration, "pipeline", "health",
			"stages unavailable: "+strings.Join(unavailable, ", "), nil)
	}
	return nil
}

// classifyPass classifies the units entering the given cycle. Cycle 1 adopts
// raw directories from the input tree; later cycles pick up units left in
// the previous processing tree by the stage advance.
func (p *Pipeline) classifyPass(ctx context.Context, logger *slog.Logger, cycle int, acc *accumulator) error {
	root := p.tree.Input()
	if cycle > 1 {
		root = p.tree.Processing(cycle - 1)
	}
	dirs, err := unit.Discover(root)
	if err != nil {
		return services.Wrap(services.ErrOperation, "pipeline", "discover",
			fmt.Sprintf("scan %s", root), err)
	}
	if len(dirs) == 0 {
		return nil
	}

	cls := classifier.New(p.tree, p.detector, logger, cycle, p.cfg.Pipeline.MaxCycles)
	want := lifecycle.ClassifiedFor(cycle)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limits.classify)
	for _, dir := range dirs {
		dir := dir
		g.Go(func() error {
			u, err := unit.Adopt(dir, p.cfg.Pipeline.MaxCycles)
			if err != nil {
				return services.Wrap(services.ErrOperation, "pipeline", "load",
					fmt.Sprintf("read unit at %s", dir), err)
			}
			if cycle > 1 && u.Manifest.CurrentState() != want {
				return nil
			}
			return p.runUnit(gctx, logger, "classify", cycle, cls, u, acc)
		})
	}
	return g.Wait()
}

// stagePass runs the pending processing stages for one cycle, dispatching
// each unit to the stage its state demands. A non-empty only restricts the
// pass to units pending that single stage.
func (p *Pipeline) stagePass(ctx context.Context, logger *slog.Logger, cycle int, acc *accumulator, only lifecycle.Status) error {
	dirs, err := unit.Discover(p.tree.Processing(cycle))
	if err != nil {
		return services.Wrap(services.ErrOperation, "pipeline", "discover",
			fmt.Sprintf("scan %s", p.tree.Processing(cycle)), err)
	}
	if len(dirs) == 0 {
		return nil
	}

	conv := converter.New(p.tree, p.office, p.detector, p.pool, logger, cycle, p.cfg.Pipeline.MaxCycles)
	ext := extractor.New(p.tree, p.archive, logger, cycle, p.cfg.Pipeline.MaxCycles, p.extractOptions())
	norm := normalizer.New(p.tree, p.detector, logger, cycle, p.cfg.Pipeline.MaxCycles)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limits.process)
	for _, dir := range dirs {
		dir := dir
		g.Go(func() error {
			u, err := unit.Load(dir)
			if err != nil {
				return services.Wrap(services.ErrOperation, "pipeline", "load",
					fmt.Sprintf("read unit at %s", dir), err)
			}
			state := u.Manifest.CurrentState()
			if only != "" && state != only {
				return nil
			}
			switch state {
			case lifecycle.StatusPendingConvert:
				return p.runUnit(gctx, logger, "convert", cycle, conv, u, acc)
			case lifecycle.StatusPendingExtract:
				return p.runUnit(gctx, logger, "extract", cycle, ext, u, acc)
			case lifecycle.StatusPendingNormalize:
				return p.runUnit(gctx, logger, "normalize", cycle, norm, u, acc)
			default:
				return nil
			}
		})
	}
	return g.Wait()
}

// mergePass sweeps every consolidation source and runs the merger over the
// units found there. The merger itself decides accept, reject, or skip.
func (p *Pipeline) mergePass(ctx context.Context, logger *slog.Logger, acc *accumulator) error {
	mg := merger.New(p.tree, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limits.merge)
	for _, src := range mg.Sources() {
		dirs, err := unit.Discover(src)
		if err != nil {
			return services.Wrap(services.ErrOperation, "pipeline", "discover",
				fmt.Sprintf("scan %s", src), err)
		}
		for _, dir := range dirs {
			dir := dir
			g.Go(func() error {
				u, err := unit.Load(dir)
				if err != nil {
					return services.Wrap(services.ErrOperation, "pipeline", "load",
						fmt.Sprintf("read unit at %s", dir), err)
				}
				return p.mergeUnit(gctx, logger, mg, u, acc)
			})
		}
	}
	return g.Wait()
}

// runUnit executes one stage for one unit. A stage failure routes the unit
// to an exceptions bucket and is absorbed into the summary; only a canceled
// context propagates.
func (p *Pipeline) runUnit(ctx context.Context, logger *slog.Logger, stageName string, cycle int, h stage.Handler, u *unit.Unit, acc *accumulator) error {
	acc.touch(u.ID())
	ctx = services.WithUnitID(ctx, u.ID())
	ctx = services.WithStage(ctx, stageName)
	ctx = services.WithCycle(ctx, cycle)
	start := time.Now()

	err := h.Prepare(ctx, u)
	if err == nil {
		err = h.Execute(ctx, u)
	}
	if err == nil {
		// A stage can legitimately park a unit in an exceptions bucket,
		// as the classifier does for empty or special units. The stage
		// succeeded but the unit's outcome is a failure.
		if st := u.Manifest.CurrentState(); lifecycle.IsTerminal(st) && st != lifecycle.StatusReadyForDocling {
			reason := services.Reason(u.Manifest.Processing.FinalReason)
			acc.fail(UnitFailure{UnitID: u.ID(), Stage: stageName, Cycle: cycle, Reason: reason, Bucket: u.Dir})
			p.record(ctx, u.ID(), cycle, stageName, "failed", string(reason), start)
			return nil
		}
		p.record(ctx, u.ID(), cycle, stageName, "success", "", start)
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	reason := services.ExceptionReason(err)
	status := "failed"
	if errors.Is(err, services.ErrQuarantine) {
		status = "quarantined"
	}
	logging.ErrorWithContext(logging.WithContext(ctx, logger), "stage failed", "stage_failure",
		logging.String(logging.FieldReason, string(reason)),
		logging.Error(err))

	bucket := p.isolate(logger, u, cycle, reason)
	acc.fail(UnitFailure{UnitID: u.ID(), Stage: stageName, Cycle: cycle, Reason: reason, Bucket: bucket})
	p.record(ctx, u.ID(), cycle, stageName, status, string(reason), start)
	return nil
}

// isolate parks a failed unit in the reason-coded exceptions bucket for its
// cycle and returns the bucket path. Isolation is best effort: a unit that
// cannot even be relocated stays where it is with its failure persisted.
func (p *Pipeline) isolate(logger *slog.Logger, u *unit.Unit, cycle int, reason services.Reason) string {
	u.Manifest.Processing.FinalReason = string(reason)
	if err := u.Transition(lifecycle.ExceptionFor(cycle), cycle); err != nil {
		logger.Error("exception transition failed",
			logging.String("unit", u.ID()),
			logging.Error(err))
	}
	if err := u.Save(); err != nil {
		logger.Error("persist exception state",
			logging.String("unit", u.ID()),
			logging.Error(err))
	}
	dest := p.tree.ExceptionsProcessing(cycle, reason)
	if err := u.MoveTo(dest, p.tree); err != nil {
		logger.Error("exception relocation failed",
			logging.String("unit", u.ID()),
			logging.String("dest", dest),
			logging.Error(err))
		return ""
	}
	return dest
}

// mergeUnit runs the consolidation stage for one unit and translates the
// merger's verdict into run counters.
func (p *Pipeline) mergeUnit(ctx context.Context, logger *slog.Logger, mg *merger.Merger, u *unit.Unit, acc *accumulator) error {
	acc.touch(u.ID())
	cycle := u.Manifest.Processing.CurrentCycle
	ctx = services.WithUnitID(ctx, u.ID())
	ctx = services.WithStage(ctx, "merge")
	if cycle > 0 {
		ctx = services.WithCycle(ctx, cycle)
	}
	start := time.Now()

	if err := mg.Execute(ctx, u); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		reason := services.ExceptionReason(err)
		logging.ErrorWithContext(logging.WithContext(ctx, logger), "consolidation failed", "stage_failure",
			logging.String(logging.FieldReason, string(reason)),
			logging.Error(err))
		acc.fail(UnitFailure{UnitID: u.ID(), Stage: "merge", Cycle: cycle, Reason: reason})
		p.record(ctx, u.ID(), cycle, "merge", "failed", string(reason), start)
		return nil
	}

	switch u.Manifest.CurrentState() {
	case lifecycle.StatusReadyForDocling:
		acc.success()
		p.record(ctx, u.ID(), cycle, "merge", "success", "", start)
	case lifecycle.StatusMergerSkipped:
		reason := services.Reason(u.Manifest.Processing.FinalReason)
		acc.fail(UnitFailure{UnitID: u.ID(), Stage: "merge", Cycle: cycle, Reason: reason, Bucket: u.Dir})
		p.record(ctx, u.ID(), cycle, "merge", "failed", string(reason), start)
	default:
		// Still mid-pipeline; the merger left it untouched.
	}
	return nil
}

func (p *Pipeline) record(ctx context.Context, unitID string, cycle int, stageName, status, reason string, start time.Time) {
	runID, _ := services.RunIDFromContext(ctx)
	p.sink.Record(ctx, metrics.Event{
		RunID:      runID,
		UnitID:     unitID,
		Cycle:      cycle,
		Stage:      stageName,
		Status:     status,
		Reason:     reason,
		Duration:   time.Since(start),
		OccurredAt: time.Now().UTC(),
	})
}

func (p *Pipeline) extractOptions() extractor.Options {
	return extractor.Options{
		MaxUnpackBytes: p.cfg.MaxUnpackBytes(),
		MaxFiles:       p.cfg.Extract.MaxFilesInArchive,
		MaxDepth:       p.cfg.Extract.MaxDepth,
		KeepArchives:   p.cfg.Extract.KeepArchives,
	}
}

// accumulator gathers run counters from concurrent workers.
type accumulator struct {
	mu        sync.Mutex
	runID     string
	processed map[string]struct{}
	succeeded int
	failures  []UnitFailure
}

func newAccumulator(runID string) *accumulator {
	return &accumulator{runID: runID, processed: make(map[string]struct{})}
}

func (a *accumulator) touch(unitID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.processed[unitID] = struct{}{}
}

func (a *accumulator) success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.succeeded++
}

func (a *accumulator) fail(f UnitFailure) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, f)
}

func (a *accumulator) summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	failures := make([]UnitFailure, len(a.failures))
	copy(failures, a.failures)
	return Summary{
		RunID:     a.runID,
		Processed: len(a.processed),
		Succeeded: a.succeeded,
		Failed:    len(failures),
		Failures:  failures,
	}
}
