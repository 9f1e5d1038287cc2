package main

import (
	"fmt"
	"io"
	"log/slog"

	"docprep/internal/config"
	"docprep/internal/layout"
	"docprep/internal/logging"
	"docprep/internal/metrics"
	"docprep/internal/pipeline"
	"docprep/internal/runlock"
)

// session bundles everything a processing command needs: the wired pipeline,
// the run lock, and the metrics sink. Close releases them in reverse order.
type session struct {
	cfg      *config.Config
	tree     layout.Tree
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
	lock     *runlock.Lock
	sink     *metrics.Sink
}

func (s *session) Close() {
	if s.sink != nil {
		_ = s.sink.Close()
	}
	if s.lock != nil {
		_ = s.lock.Release()
	}
}

// openSession acquires the run lock and wires a pipeline from configuration.
// Callers must Close the returned session.
func openSession(ctx *commandContext) (*session, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}

	lock := runlock.New(cfg.Paths.DataDir)
	if err := lock.Acquire(); err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, logger: logger, lock: lock}
	if cfg.Metrics.Enabled {
		sink, err := metrics.Open(cfg.Metrics.Path, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open metrics store: %w", err)
		}
		s.sink = sink
	}

	s.tree = layout.New(cfg.Paths.DataDir)
	p, err := pipeline.New(cfg, s.tree, logger, pipeline.WithMetrics(s.sink))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.pipeline = p
	return s, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func printSummary(out io.Writer, summary pipeline.Summary) {
	fmt.Fprintln(out, renderTable(
		[]string{"Run", "Processed", "Succeeded", "Failed"},
		[][]string{{
			summary.RunID,
			fmt.Sprintf("%d", summary.Processed),
			fmt.Sprintf("%d", summary.Succeeded),
			fmt.Sprintf("%d", summary.Failed),
		}},
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	))

	if len(summary.Failures) == 0 {
		return
	}
	rows := make([][]string, 0, len(summary.Failures))
	for _, f := range summary.Failures {
		rows = append(rows, []string{
			f.UnitID,
			f.Stage,
			fmt.Sprintf("%d", f.Cycle),
			string(f.Reason),
			f.Bucket,
		})
	}
	fmt.Fprintln(out, "Failures:")
	fmt.Fprintln(out, renderTable(
		[]string{"Unit", "Stage", "Cycle", "Reason", "Bucket"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
}
