package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/graph"
	"github.com/matzehuels/lockstep/pkg/release"
	"github.com/matzehuels/lockstep/pkg/render/nodelink"
	"github.com/matzehuels/lockstep/pkg/vcs"
)

// Graph output formats.
const (
	formatJSON = "json"
	formatDOT  = "dot"
	formatSVG  = "svg"
)

var graphFormats = []string{formatJSON, formatDOT, formatSVG}

// graphOpts holds the command-line flags for the graph command.
type graphOpts struct {
	output   string // output file; stdout when empty
	format   string // json, dot or svg
	detailed bool   // version and location in node labels
	cycles   bool   // report dependency cycles
	changed  bool   // highlight packages changed since the last release
}

// graphCommand creates the graph command for exporting the package graph.
//
// JSON is the node-link export of the graph; DOT and SVG are node-link
// diagrams with dependents above their dependencies and cycle members drawn
// dashed.
func (c *CLI) graphCommand() *cobra.Command {
	opts := graphOpts{format: formatJSON}

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Export the package dependency graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(opts.format); err != nil {
				return err
			}
			return c.runGraph(cmd, &opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", opts.format, "output format: json (default), dot, svg")
	cmd.Flags().BoolVar(&opts.detailed, "detailed", false, "include version details and locations in node labels")
	cmd.Flags().BoolVar(&opts.cycles, "cycles", false, "report dependency cycles")
	cmd.Flags().BoolVar(&opts.changed, "changed", false, "highlight packages changed since the last release")

	return cmd
}

// validateFormat checks --format against the supported formats.
func validateFormat(format string) error {
	if !slices.Contains(graphFormats, format) {
		return errors.New(errors.ErrCodeValidation, "invalid format %q: must be one of %s", format, strings.Join(graphFormats, ", "))
	}
	return nil
}

func (c *CLI) runGraph(cmd *cobra.Command, opts *graphOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	ws, err := c.openWorkspace()
	if err != nil {
		return err
	}

	var runner *release.Runner
	if opts.changed {
		git, err := vcs.New(ws.root, c.Logger)
		if err != nil {
			return err
		}
		runner = release.NewRunner(ws.root, ws.cfg, git, logger)
	} else {
		runner = release.NewRunner(ws.root, ws.cfg, nil, logger)
	}

	g, err := runner.Graph()
	if err != nil {
		return err
	}
	cycles := g.PartitionCycles()
	if opts.cycles {
		reportCycles(cmd, cycles)
	}

	var highlight map[string]bool
	if opts.changed {
		set, _, err := runner.Changed(ctx)
		if err != nil {
			return err
		}
		highlight = make(map[string]bool, set.Len())
		for _, name := range set.Names() {
			highlight[name] = true
		}
	}

	data, err := renderGraph(ctx, g, opts.format, nodelink.Options{
		Detailed:  opts.detailed,
		Cycles:    cycles,
		Highlight: highlight,
	})
	if err != nil {
		return err
	}

	if opts.output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(opts.output, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "write %s", opts.output)
	}
	printSuccess(cmd.ErrOrStderr(), "Graph written (%d packages)", g.Len())
	printFile(cmd.ErrOrStderr(), opts.output)
	return nil
}

// renderGraph produces the graph in format.
func renderGraph(ctx context.Context, g *graph.Graph, format string, opts nodelink.Options) ([]byte, error) {
	switch format {
	case formatJSON:
		var buf bytes.Buffer
		if err := graph.WriteJSON(&buf, g.Export(opts.Cycles)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case formatDOT:
		return []byte(nodelink.ToDOT(g, opts)), nil
	case formatSVG:
		svg, err := nodelink.RenderSVG(ctx, nodelink.ToDOT(g, opts))
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "render svg")
		}
		return svg, nil
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

// reportCycles prints every cycle path to stderr.
func reportCycles(cmd *cobra.Command, cycles *graph.CycleReport) {
	w := cmd.ErrOrStderr()
	if !cycles.HasCycles() {
		printSuccess(w, "No dependency cycles")
		return
	}
	printWarning(w, "%d dependency cycles", len(cycles.Paths))
	for _, line := range strings.Split(cycles.String(), "\n") {
		printDetail(w, "%s", line)
	}
}
