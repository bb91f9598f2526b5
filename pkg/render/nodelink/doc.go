// Package nodelink renders the package graph as a node-link diagram.
//
// # Usage
//
// Convert a graph to DOT format, then render to SVG:
//
//	dot := nodelink.ToDOT(g, nodelink.Options{Cycles: g.PartitionCycles()})
//	svg, err := nodelink.RenderSVG(ctx, dot)
//
// # Options
//
//   - Detailed: node labels include the version and package location
//   - Cycles: nodes on a cycle are drawn dashed
//   - Highlight: names drawn filled, e.g. the packages selected for release
//
// The generated DOT uses bottom-to-top layout (rankdir=BT) so dependencies
// sit below their dependents. Edges point from dependent to dependency.
//
// # Dependencies
//
// This package uses [github.com/goccy/go-graphviz] for in-process SVG
// rendering; no Graphviz installation is needed.
package nodelink
