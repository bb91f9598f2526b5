package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lockstep/pkg/changes"
	"github.com/matzehuels/lockstep/pkg/graph"
	"github.com/matzehuels/lockstep/pkg/release"
	"github.com/matzehuels/lockstep/pkg/vcs"
)

// listEntry is one package in JSON listings.
type listEntry struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Location string `json:"location"`
	Private  bool   `json:"private"`
	Reason   string `json:"reason,omitempty"`
}

// listOpts holds the flags shared by list and changed.
type listOpts struct {
	json bool
	all  bool
}

func (o *listOpts) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.json, "json", false, "print JSON")
	cmd.Flags().BoolVarP(&o.all, "all", "a", false, "include private packages")
}

// listCommand creates the list command.
func (c *CLI) listCommand() *cobra.Command {
	var opts listOpts
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the packages of the repository",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := c.openWorkspace()
			if err != nil {
				return err
			}
			runner := release.NewRunner(ws.root, ws.cfg, nil, loggerFromContext(cmd.Context()))
			g, err := runner.Graph()
			if err != nil {
				return err
			}
			var entries []listEntry
			for _, n := range g.Nodes() {
				entries = append(entries, entryFor(ws.root, n, ""))
			}
			return writeEntries(cmd.OutOrStdout(), entries, opts)
		},
	}
	opts.register(cmd)
	return cmd
}

// changedCommand creates the changed command.
func (c *CLI) changedCommand() *cobra.Command {
	var opts listOpts
	cmd := &cobra.Command{
		Use:   "changed",
		Short: "List the packages changed since the last release",
		Long: `List the packages a version or publish run would select: packages with
changes since the last release tag, plus every package that depends on them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := c.openWorkspace()
			if err != nil {
				return err
			}
			git, err := vcs.New(ws.root, c.Logger)
			if err != nil {
				return err
			}
			runner := release.NewRunner(ws.root, ws.cfg, git, loggerFromContext(ctx))
			set, g, err := runner.Changed(ctx)
			if err != nil {
				return err
			}
			if set.Len() == 0 && !opts.json {
				printInfo(cmd.OutOrStdout(), "No changed packages found")
				return nil
			}
			entries := make([]listEntry, 0, set.Len())
			for _, u := range set.Updates() {
				entries = append(entries, entryFor(ws.root, u.Node, u.Reason))
			}
			if err := writeEntries(cmd.OutOrStdout(), entries, opts); err != nil {
				return err
			}
			if !opts.json {
				printDetail(cmd.OutOrStdout(), "%d of %d packages changed", set.Len(), g.Len())
			}
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

func entryFor(root string, n *graph.Node, reason changes.Reason) listEntry {
	loc, err := filepath.Rel(root, n.Location())
	if err != nil {
		loc = n.Location()
	}
	return listEntry{
		Name:     n.Name(),
		Version:  n.Version(),
		Location: filepath.ToSlash(loc),
		Private:  n.Package.Private,
		Reason:   string(reason),
	}
}

func writeEntries(w io.Writer, entries []listEntry, opts listOpts) error {
	shown := []listEntry{}
	for _, e := range entries {
		if e.Private && !opts.all {
			continue
		}
		shown = append(shown, e)
	}

	if opts.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(shown)
	}

	withReason := len(shown) > 0 && shown[0].Reason != ""
	headers := []string{"Package", "Version", "Location", ""}
	if withReason {
		headers = append(headers, "Reason")
	}
	t := newTable(headers...)
	for _, e := range shown {
		row := []string{e.Name, e.Version, e.Location, privateLabel(e.Private)}
		if withReason {
			row = append(row, e.Reason)
		}
		t.Row(row...)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
