package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"docprep/internal/pipeline"
	"docprep/internal/preflight"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process the whole batch through every cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			colorize := shouldColorize(out)
			failed := false
			for _, result := range preflight.RunAll(cfg) {
				kind := statusOK
				if !result.Passed {
					kind = statusError
					failed = true
				}
				fmt.Fprintln(out, renderCheckLine(result.Name, kind, result.Detail, colorize))
			}
			if failed {
				return errors.New("preflight checks failed; fix the reported problems and retry")
			}

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summary, runErr := s.pipeline.Run(runCtx)
			printSummary(out, summary)
			return runErr
		},
	}
}

func newCycleCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle <n>",
		Short: "Run the classification and stage passes for one cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cycle, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid cycle %q", args[0])
			}
			return runPass(ctx, cmd, func(s *session) (pipeline.Summary, error) {
				return s.pipeline.RunCycle(cmd.Context(), cycle)
			})
		},
	}
}

func newStageCommands(ctx *commandContext) []*cobra.Command {
	stages := []struct {
		name  string
		short string
	}{
		{pipeline.StageClassify, "Classify units entering a cycle"},
		{pipeline.StageConvert, "Convert pending legacy documents"},
		{pipeline.StageExtract, "Extract pending archive units"},
		{pipeline.StageNormalize, "Normalize pending file names and extensions"},
	}

	cmds := make([]*cobra.Command, 0, len(stages))
	for _, st := range stages {
		var cycle int
		cmd := &cobra.Command{
			Use:   st.name,
			Short: st.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPass(ctx, cmd, func(s *session) (pipeline.Summary, error) {
					return s.pipeline.RunStage(cmd.Context(), cmd.Use, cycle)
				})
			},
		}
		cmd.Flags().IntVar(&cycle, "cycle", 1, "Cycle to run the pass for")
		cmds = append(cmds, cmd)
	}
	return cmds
}

func newMergeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Run the final consolidation sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPass(ctx, cmd, func(s *session) (pipeline.Summary, error) {
				return s.pipeline.RunMerge(cmd.Context())
			})
		},
	}
}

func runPass(ctx *commandContext, cmd *cobra.Command, pass func(*session) (pipeline.Summary, error)) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	summary, passErr := pass(s)
	printSummary(cmd.OutOrStdout(), summary)
	return passErr
}
