package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"docprep/internal/lifecycle"
	"docprep/internal/logging"
	"docprep/internal/services"
)

// Stage names accepted by RunStage.
const (
	StageClassify  = "classify"
	StageConvert   = "convert"
	StageExtract   = "extract"
	StageNormalize = "normalize"
)

// RunCycle executes the classification pass and the stage pass for a single
// cycle. Used by operators to advance a batch one cycle at a time.
func (p *Pipeline) RunCycle(ctx context.Context, cycle int) (Summary, error) {
	acc, ctx, logger, err := p.begin(ctx, cycle)
	if err != nil {
		return Summary{}, err
	}
	if err := p.classifyPass(ctx, logger, cycle, acc); err != nil {
		return acc.summary(), err
	}
	if err := p.stagePass(ctx, logger, cycle, acc, ""); err != nil {
		return acc.summary(), err
	}
	return acc.summary(), nil
}

// RunStage executes one named pass for one cycle.
func (p *Pipeline) RunStage(ctx context.Context, stageName string, cycle int) (Summary, error) {
	acc, ctx, logger, err := p.begin(ctx, cycle)
	if err != nil {
		return Summary{}, err
	}
	switch stageName {
	case StageClassify:
		err = p.classifyPass(ctx, logger, cycle, acc)
	case StageConvert:
		err = p.stagePass(ctx, logger, cycle, acc, lifecycle.StatusPendingConvert)
	case StageExtract:
		err = p.stagePass(ctx, logger, cycle, acc, lifecycle.StatusPendingExtract)
	case StageNormalize:
		err = p.stagePass(ctx, logger, cycle, acc, lifecycle.StatusPendingNormalize)
	default:
		return Summary{}, services.Wrap(services.ErrConfiguration, "pipeline", "stage",
			fmt.Sprintf("unknown stage %q", stageName), nil)
	}
	return acc.summary(), err
}

// RunMerge executes only the final consolidation sweep.
func (p *Pipeline) RunMerge(ctx context.Context) (Summary, error) {
	acc, ctx, logger, err := p.begin(ctx, 1)
	if err != nil {
		return Summary{}, err
	}
	if err := p.mergePass(ctx, logger, acc); err != nil {
		return acc.summary(), err
	}
	return acc.summary(), nil
}

// begin validates the cycle, prepares the tree, and assigns a run identity.
func (p *Pipeline) begin(ctx context.Context, cycle int) (*accumulator, context.Context, *slog.Logger, error) {
	if cycle < 1 || cycle > p.cfg.Pipeline.MaxCycles {
		return nil, ctx, nil, services.Wrap(services.ErrConfiguration, "pipeline", "cycle",
			fmt.Sprintf("cycle %d outside 1..%d", cycle, p.cfg.Pipeline.MaxCycles), nil)
	}
	if err := p.tree.Init(); err != nil {
		return nil, ctx, nil, services.Wrap(services.ErrOperation, "pipeline", "init", "create batch tree", err)
	}
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := p.logger.With(logging.String(logging.FieldRunID, runID))
	return newAccumulator(runID), ctx, logger, nil
}
