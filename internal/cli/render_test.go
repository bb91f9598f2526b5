package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/lockstep/pkg/graph"
	"github.com/matzehuels/lockstep/pkg/manifest"
	"github.com/matzehuels/lockstep/pkg/render/nodelink"
)

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		format  string
		wantErr bool
	}{
		{"json", false},
		{"dot", false},
		{"svg", false},
		{"png", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			err := validateFormat(tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateFormat(%q) error = %v, wantErr %v", tt.format, err, tt.wantErr)
			}
		})
	}
}

func testGraph(t *testing.T) *graph.Graph {
	t.Helper()
	core := manifest.New("core", "1.0.0", "/repo/packages/core")
	app := manifest.New("app", "1.0.0", "/repo/packages/app")
	app.SetDependency(manifest.Runtime, "core", "^1.0.0")
	g, err := graph.New([]*manifest.Package{core, app}, graph.Options{})
	if err != nil {
		t.Fatalf("graph.New() error: %v", err)
	}
	return g
}

func TestRenderGraphJSON(t *testing.T) {
	g := testGraph(t)

	data, err := renderGraph(context.Background(), g, formatJSON, nodelink.Options{Cycles: g.PartitionCycles()})
	if err != nil {
		t.Fatalf("renderGraph() error: %v", err)
	}

	var doc struct {
		Nodes []struct {
			ID string `json:"id"`
		} `json:"nodes"`
		Edges []struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"edges"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode: %v\n%s", err, data)
	}
	if len(doc.Nodes) != 2 {
		t.Errorf("got %d nodes, want 2", len(doc.Nodes))
	}
	if len(doc.Edges) != 1 || doc.Edges[0].From != "app" || doc.Edges[0].To != "core" {
		t.Errorf("edges = %+v, want app -> core", doc.Edges)
	}
}

func TestRenderGraphDOT(t *testing.T) {
	g := testGraph(t)

	data, err := renderGraph(context.Background(), g, formatDOT, nodelink.Options{})
	if err != nil {
		t.Fatalf("renderGraph() error: %v", err)
	}
	if !strings.Contains(string(data), `"app" -> "core";`) {
		t.Errorf("DOT output missing edge:\n%s", data)
	}
}

func TestRenderGraphUnsupported(t *testing.T) {
	if _, err := renderGraph(context.Background(), testGraph(t), "png", nodelink.Options{}); err == nil {
		t.Error("renderGraph(png) should fail")
	}
}

func TestGraphCommandWritesFile(t *testing.T) {
	root := newTestRepo(t)
	out := filepath.Join(t.TempDir(), "graph.dot")

	if _, err := runCLI(t, root, "graph", "-f", "dot", "-o", out); err != nil {
		t.Fatalf("graph error: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), `"app" -> "core";`) {
		t.Errorf("graph.dot missing edge:\n%s", data)
	}
}

func TestGraphCommandRejectsFormat(t *testing.T) {
	if _, err := runCLI(t, newTestRepo(t), "graph", "--format", "pdf"); err == nil {
		t.Error("graph --format pdf should fail")
	}
}
