package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docprep/internal/layout"
	"docprep/internal/preflight"
)

func newInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the batch directory layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			tree := layout.New(cfg.Paths.DataDir)
			if err := tree.Init(); err != nil {
				return fmt.Errorf("create batch tree: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Batch tree ready under %s\n", tree.Root)
			return nil
		},
	}
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify external tools, paths, and disk space",
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
				return fmt.Errorf("preflight checks failed")
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
}
