package graph

import (
	"encoding/json"
	"fmt"
	"io"
)

// Export is the node-link serialization of a package graph, used by
// `lockstep graph --format json`.
//
//	{
//	  "nodes": [{"id": "a", "version": "1.0.0"}, {"id": "b", "version": "1.0.0"}],
//	  "edges": [{"from": "b", "to": "a", "spec": "^1.0.0"}]
//	}
type Export struct {
	Nodes []ExportNode `json:"nodes"`
	Edges []ExportEdge `json:"edges"`
}

// ExportNode is one package in an [Export].
type ExportNode struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Location string `json:"location,omitempty"`
	Private  bool   `json:"private,omitempty"`
	Cycle    bool   `json:"cycle,omitempty"` // on a cycle or a tiebreaker into one
	External int    `json:"external,omitempty"`
}

// ExportEdge is a local dependency edge, pointing from dependent to dependency.
type ExportEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Spec string `json:"spec,omitempty"`
}

// Export converts g to its node-link form. Nodes and edges are sorted by
// name. cycles may be nil.
func (g *Graph) Export(cycles *CycleReport) Export {
	out := Export{Nodes: make([]ExportNode, 0, g.Len())}
	for _, n := range g.Nodes() {
		node := ExportNode{
			ID:       n.Name(),
			Version:  n.Version(),
			Location: n.Location(),
			Private:  n.Package.Private,
			External: len(n.ExternalDependencies),
		}
		if cycles != nil {
			_, node.Cycle = cycles.Nodes[n.Name()]
		}
		out.Nodes = append(out.Nodes, node)
		for _, dep := range n.DependencyNames() {
			out.Edges = append(out.Edges, ExportEdge{
				From: n.Name(),
				To:   dep,
				Spec: n.LocalDependencies[dep].Raw,
			})
		}
	}
	return out
}

// WriteJSON writes e as indented JSON.
func WriteJSON(w io.Writer, e Export) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}
