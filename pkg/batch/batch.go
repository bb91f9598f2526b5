// Package batch orders packages into topological waves and runs them.
//
// A batch holds packages with no local dependency on each other, so its
// members may run concurrently. Batch i only depends on batches before it.
//
//	batches, err := batch.Batch(pkgs, batch.Options{RejectCycles: true})
//	err = batch.Run(ctx, batches, 4, func(ctx context.Context, p *manifest.Package) error {
//	    return publish(ctx, p)
//	})
package batch

import (
	"context"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/lockstep/pkg/graph"
	"github.com/matzehuels/lockstep/pkg/manifest"
)

// Options configures batching.
type Options struct {
	Graph graph.Options

	// RejectCycles fails with a cycle error instead of falling back to a
	// deterministic order for cyclic packages.
	RejectCycles bool

	Logger *log.Logger
}

// Batch groups pkgs into waves. Only edges between members of pkgs count;
// dependencies on packages outside the list are already satisfied.
//
// With cycles present and RejectCycles set, Batch returns a
// [errors.CycleError] naming every path. Otherwise the cycles are logged and
// broken deterministically: when no package is free, the lexically smallest
// member of a strongly connected component that has no outstanding
// dependencies outside itself runs alone, and is pruned before the next wave.
func Batch(pkgs []*manifest.Package, opts Options) ([][]*manifest.Package, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	g, err := graph.New(pkgs, opts.Graph)
	if err != nil {
		return nil, err
	}

	report := g.PartitionCycles()
	if report.HasCycles() {
		if opts.RejectCycles {
			return nil, report.Err()
		}
		logger.Warn("dependency cycles detected, you should fix these!", "cycles", "\n"+report.String())
	}

	var batches [][]*manifest.Package
	for g.Len() > 0 {
		var ready []*graph.Node
		for _, n := range g.Nodes() {
			if len(n.LocalDependencies) == 0 {
				ready = append(ready, n)
			}
		}
		if len(ready) == 0 {
			ready = []*graph.Node{breakCycle(g)}
			logger.Debug("breaking cycle", "package", ready[0].Name())
		}

		wave := make([]*manifest.Package, len(ready))
		for i, n := range ready {
			wave[i] = n.Package
		}
		batches = append(batches, wave)
		g.PruneCycleNodes(ready)
	}
	return batches, nil
}

// breakCycle picks the node to release when every remaining node waits on
// another. Only components that depend on nothing outside themselves are
// candidates, so a cycle never jumps ahead of its own dependencies.
func breakCycle(g *graph.Graph) *graph.Node {
	comps := g.StronglyConnected()
	member := make(map[string]int, g.Len())
	for i, comp := range comps {
		for _, n := range comp {
			member[n.Name()] = i
		}
	}

	var best *graph.Node
	for i, comp := range comps {
		if !isSource(comp, i, member) {
			continue
		}
		if best == nil || strings.Compare(comp[0].Name(), best.Name()) < 0 {
			best = comp[0]
		}
	}
	if best == nil {
		// unreachable for a finite graph; fall back to the smallest name
		best = g.Nodes()[0]
	}
	return best
}

func isSource(comp []*graph.Node, idx int, member map[string]int) bool {
	for _, n := range comp {
		for dep := range n.LocalDependencies {
			if member[dep] != idx {
				return false
			}
		}
	}
	return true
}

// Names returns the package names of each batch, for logging and tests.
func Names(batches [][]*manifest.Package) [][]string {
	out := make([][]string, len(batches))
	for i, b := range batches {
		out[i] = manifest.Names(b)
	}
	return out
}

// Flatten returns every package of batches in batch order.
func Flatten(batches [][]*manifest.Package) []*manifest.Package {
	var out []*manifest.Package
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}

// Run executes fn for every package. Batches run in sequence; within a batch
// at most concurrency packages run at once (unlimited when concurrency < 1).
// The first error cancels the rest of its batch and stops later batches.
func Run(ctx context.Context, batches [][]*manifest.Package, concurrency int, fn func(context.Context, *manifest.Package) error) error {
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		eg, egCtx := errgroup.WithContext(ctx)
		if concurrency > 0 {
			eg.SetLimit(concurrency)
		}
		for _, pkg := range slices.Clone(b) {
			eg.Go(func() error {
				if err := egCtx.Err(); err != nil {
					return err
				}
				return fn(egCtx, pkg)
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}
	return nil
}
