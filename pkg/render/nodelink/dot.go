package nodelink

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/lockstep/pkg/graph"
)

// Options configures node-link diagram rendering.
type Options struct {
	// Detailed includes the version and location in node labels.
	// When false, only name@version is shown.
	Detailed bool

	// Cycles marks cycle nodes. May be nil.
	Cycles *graph.CycleReport

	// Highlight lists package names drawn with a filled background.
	Highlight map[string]bool
}

// ToDOT converts a package graph to Graphviz DOT format.
// The resulting DOT string can be rendered using [RenderSVG].
func ToDOT(g *graph.Graph, opts Options) string {
	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=BT;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=14, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.5;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	for _, n := range g.Nodes() {
		attrs := fmtAttrs(n, fmtLabel(n, opts.Detailed), opts)
		fmt.Fprintf(&buf, "  %q [%s];\n", n.Name(), strings.Join(attrs, ", "))
	}

	buf.WriteString("\n")
	for _, n := range g.Nodes() {
		for _, dep := range n.DependencyNames() {
			fmt.Fprintf(&buf, "  %q -> %q;\n", n.Name(), dep)
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

func fmtLabel(n *graph.Node, detailed bool) string {
	label := n.Name() + "@" + n.Version()
	if !detailed {
		return label
	}
	parts := []string{label, n.Location()}
	if n.Package.Private {
		parts = append(parts, "private")
	}
	if ext := len(n.ExternalDependencies); ext > 0 {
		parts = append(parts, fmt.Sprintf("external: %d", ext))
	}
	return strings.Join(parts, "\n")
}

func fmtAttrs(n *graph.Node, label string, opts Options) []string {
	attrs := []string{fmt.Sprintf("label=%q", label)}
	if opts.Highlight[n.Name()] {
		attrs = append(attrs, "fillcolor=\"#d7f5dd\"")
	}
	if opts.Cycles != nil {
		if _, ok := opts.Cycles.Nodes[n.Name()]; ok {
			attrs = append(attrs, "style=\"rounded,filled,dashed\"", "color=\"#c0392b\"")
		}
	}
	return attrs
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	newSvg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)

	return svgTagRe.ReplaceAll(svg, []byte(newSvg))
}
