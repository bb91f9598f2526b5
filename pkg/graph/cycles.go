package graph

import (
	"maps"
	"slices"
	"strings"

	"github.com/matzehuels/lockstep/pkg/errors"
)

// CycleReport is the result of [Graph.PartitionCycles].
type CycleReport struct {
	// Paths are closed name sequences. A path through a tiebreaker starts at
	// the tiebreaker, walks into the cycle, and ends where the cycle closes.
	Paths [][]string

	// Nodes holds every node that sits on a cycle or breaks a tie into one.
	Nodes map[string]*Node
}

// HasCycles reports whether any cycle was found.
func (r *CycleReport) HasCycles() bool { return len(r.Paths) > 0 }

// Names returns the sorted names of the cycle nodes.
func (r *CycleReport) Names() []string {
	return slices.Sorted(maps.Keys(r.Nodes))
}

// NodeList returns the cycle nodes sorted by name.
func (r *CycleReport) NodeList() []*Node {
	names := r.Names()
	out := make([]*Node, len(names))
	for i, name := range names {
		out[i] = r.Nodes[name]
	}
	return out
}

// Err returns a [errors.CycleError] naming every path, or nil without cycles.
func (r *CycleReport) Err() error {
	if !r.HasCycles() {
		return nil
	}
	paths := make([][]string, len(r.Paths))
	for i, p := range r.Paths {
		paths[i] = slices.Clone(p)
	}
	return &errors.CycleError{Paths: paths}
}

// String renders one "a -> b -> a" line per path.
func (r *CycleReport) String() string {
	lines := make([]string, len(r.Paths))
	for i, p := range r.Paths {
		lines[i] = strings.Join(p, " -> ")
	}
	return strings.Join(lines, "\n")
}

// PartitionCycles walks local dependents from every node, keeping the
// current path. Returning to the walk's root closes a cycle and records the
// path. A node reached from a parent that the root itself depends on is a
// tiebreaker: it hangs off the cycle, and its path is recorded reversed so it
// reads from the tiebreaker into the cycle.
//
// The walk is read-only; use [Graph.PruneCycleNodes] to drop the result.
func (g *Graph) PartitionCycles() *CycleReport {
	report := &CycleReport{Nodes: make(map[string]*Node)}
	recorded := make(map[string]bool)
	record := func(path []string) {
		key := strings.Join(path, "\x00")
		if recorded[key] {
			return
		}
		recorded[key] = true
		report.Paths = append(report.Paths, path)
	}

	for _, root := range g.Nodes() {
		seen := make(map[string]bool)

		var visit func(parent *Node, walk []string)
		visit = func(parent *Node, walk []string) {
			for _, name := range parent.DependentNames() {
				dependent := parent.LocalDependents[name]
				step := append(slices.Clone(walk), name)

				if seen[name] {
					continue
				}
				seen[name] = true

				if dependent == root {
					report.Nodes[root.Name()] = root
					record(step)
					continue
				}

				// The path closes on parent, the member the tiebreaker was
				// reached through, even when it depends on other members too.
				if _, ok := parent.LocalDependents[root.Name()]; ok {
					path := slices.Clone(step)
					slices.Reverse(path)
					record(append(path, parent.Name()))
					report.Nodes[name] = dependent
				}

				visit(dependent, step)
			}
		}
		visit(root, []string{root.Name()})
	}
	return report
}

// PruneCycleNodes removes nodes from the graph, leaving the acyclic
// remainder independently batchable.
func (g *Graph) PruneCycleNodes(nodes []*Node) {
	g.Prune(nodes...)
}

// StronglyConnected returns the strongly connected components of the local
// dependency relation. Each component is sorted by name; components are
// ordered by their first name.
func (g *Graph) StronglyConnected() [][]*Node {
	var (
		index   int
		stack   []*Node
		onStack = make(map[string]bool)
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		comps   [][]*Node
	)

	var strongconnect func(v *Node)
	strongconnect = func(v *Node) {
		indices[v.Name()] = index
		lowlink[v.Name()] = index
		index++
		stack = append(stack, v)
		onStack[v.Name()] = true

		for _, name := range v.DependencyNames() {
			w, ok := g.nodes[name]
			if !ok {
				continue
			}
			if _, visited := indices[name]; !visited {
				strongconnect(w)
				lowlink[v.Name()] = min(lowlink[v.Name()], lowlink[name])
			} else if onStack[name] {
				lowlink[v.Name()] = min(lowlink[v.Name()], indices[name])
			}
		}

		if lowlink[v.Name()] == indices[v.Name()] {
			var comp []*Node
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w.Name()] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			slices.SortFunc(comp, byName)
			comps = append(comps, comp)
		}
	}

	for _, n := range g.Nodes() {
		if _, visited := indices[n.Name()]; !visited {
			strongconnect(n)
		}
	}
	slices.SortFunc(comps, func(a, b []*Node) int { return byName(a[0], b[0]) })
	return comps
}

func byName(a, b *Node) int { return strings.Compare(a.Name(), b.Name()) }
