// Package graph builds the package graph of a repository and analyzes its cycles.
//
// Every declared dependency of every package is classified once, at
// construction, as local (a sibling whose current version satisfies the
// declared specifier) or external (everything else, including siblings that
// were deliberately pinned to another release).
//
// # Construction
//
//	g, err := graph.New(pkgs, graph.Options{Type: graph.TypeAll})
//
// Workspace specifiers always resolve to a present sibling. An explicit
// workspace range that the sibling does not satisfy fails construction with
// a WORKSPACE error rather than silently becoming external. Git committish
// tags resolve locally when their version equals the sibling's, and
// "semver:" committish ranges when the sibling satisfies them.
//
// # Traversal
//
// [Graph.AddDependencies] and [Graph.AddDependents] return breadth-first
// closures along local edges. Both are idempotent and cycle-safe.
//
// # Cycles
//
// [Graph.PartitionCycles] reports cycle paths and cycle nodes without
// mutating the graph. [Graph.PruneCycleNodes] drops them, leaving the
// acyclic remainder. [Graph.StronglyConnected] groups nodes that are
// mutually reachable, which the batcher uses to break ties deterministically.
package graph
