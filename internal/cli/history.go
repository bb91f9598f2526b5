package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lockstep/pkg/config"
	"github.com/matzehuels/lockstep/pkg/history"
)

// historyCommand creates the history command.
func (c *CLI) historyCommand() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded release runs",
		Long: `Show the release runs recorded by the configured history backend
([history] backend = "file" or "mongo" in lockstep.toml), newest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := c.openWorkspace()
			if err != nil {
				return err
			}
			if ws.cfg.History.Backend == config.HistoryNone {
				printInfo(cmd.OutOrStdout(), "Release history is disabled")
				printDetail(cmd.OutOrStdout(), "Set [history] backend in %s", config.FileName)
				return nil
			}
			rec, err := history.Open(ctx, ws.cfg.History, ws.root)
			if err != nil {
				return err
			}
			defer rec.Close(context.WithoutCancel(ctx))

			runs, err := rec.List(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				printInfo(cmd.OutOrStdout(), "No release runs recorded")
				return nil
			}
			t := newTable("Started", "Command", "Mode", "Packages", "Duration", "Result")
			for _, r := range runs {
				t.Row(
					r.StartedAt.Local().Format(time.DateTime),
					runCommand(r),
					r.Mode,
					fmt.Sprint(len(r.Packages)),
					r.Duration().Round(time.Millisecond).String(),
					runResult(r),
				)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func runCommand(r *history.Run) string {
	parts := []string{r.Command}
	if r.Canary {
		parts = append(parts, "--canary")
	}
	if r.DryRun {
		parts = append(parts, "--dry-run")
	}
	return strings.Join(parts, " ")
}

func runResult(r *history.Run) string {
	if r.Succeeded() {
		return StyleSuccess.Render(iconSuccess + " " + strings.Join(r.Tags, ", "))
	}
	return styleIconError.Render(iconError + " " + r.ErrorCode)
}
