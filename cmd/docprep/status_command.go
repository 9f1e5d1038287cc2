package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"docprep/internal/layout"
	"docprep/internal/manifest"
	"docprep/internal/unit"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where every unit in the batch tree currently sits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			tree := layout.New(cfg.Paths.DataDir)

			dirs, err := unit.Discover(tree.Root)
			if err != nil {
				return fmt.Errorf("scan batch tree: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(dirs) == 0 {
				fmt.Fprintf(out, "No units under %s\n", tree.Root)
				return nil
			}

			type bucket struct {
				state    string
				location string
			}
			counts := map[bucket]int{}
			unreadable := 0
			for _, dir := range dirs {
				m, err := manifest.Load(dir)
				if err != nil {
					unreadable++
					continue
				}
				counts[bucket{
					state:    string(m.CurrentState()),
					location: topLevel(tree.Root, dir),
				}]++
			}

			keys := make([]bucket, 0, len(counts))
			for k := range counts {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool {
				if keys[i].location != keys[j].location {
					return keys[i].location < keys[j].location
				}
				return keys[i].state < keys[j].state
			})

			rows := make([][]string, 0, len(keys))
			total := 0
			for _, k := range keys {
				rows = append(rows, []string{k.location, k.state, fmt.Sprintf("%d", counts[k])})
				total += counts[k]
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Location", "State", "Units"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight},
			))
			fmt.Fprintf(out, "%d units total\n", total)
			if unreadable > 0 {
				fmt.Fprintf(out, "%d units with unreadable manifests\n", unreadable)
			}
			return nil
		},
	}
}

// topLevel reports the first path element of dir below root, such as Input
// or Processing_2.
func topLevel(root, dir string) string {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return dir
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) > 1 && (parts[0] == "Merge" || parts[0] == "Exceptions") {
		return filepath.Join(parts[0], parts[1])
	}
	return parts[0]
}
