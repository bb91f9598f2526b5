// Package manifest models one package.json manifest in memory.
//
// A [Package] owns its name, version, and the four dependency collections
// (runtime, dev, optional, peer). Every other field in the file is carried
// through untouched: [Marshal] edits the original bytes with sjson, so
// unknown keys keep their order, formatting and content.
package manifest

import (
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/matzehuels/lockstep/pkg/errors"
)

// FileName is the manifest file name inside a package directory.
const FileName = "package.json"

// DepType identifies one dependency collection of a manifest.
type DepType string

const (
	Runtime  DepType = "dependencies"
	Dev      DepType = "devDependencies"
	Optional DepType = "optionalDependencies"
	Peer     DepType = "peerDependencies"
)

// DepTypes lists every dependency collection in manifest order.
var DepTypes = []DepType{Runtime, Dev, Optional, Peer}

// PublishConfig holds the subset of publishConfig the release flow reads.
type PublishConfig struct {
	Tag      string `json:"tag,omitempty"`
	Registry string `json:"registry,omitempty"`
	Access   string `json:"access,omitempty"`
}

// Package is one manifest plus the directory it lives in.
// Name is the unique key across a repository. Package values are mutated in
// place when versions are bumped; persisting them is the caller's job.
type Package struct {
	Name     string
	Version  string
	Location string // absolute package directory

	Private       bool
	Scripts       map[string]string
	PublishConfig PublishConfig

	deps   map[DepType]map[string]string
	raw    []byte
	parsed bool
}

// New creates a Package with empty dependency collections.
func New(name, version, location string) *Package {
	return &Package{
		Name:     name,
		Version:  version,
		Location: location,
		deps:     make(map[DepType]map[string]string),
	}
}

// ManifestPath returns the path of the package.json file.
func (p *Package) ManifestPath() string {
	return filepath.Join(p.Location, FileName)
}

// Dependencies returns the collection of the given type. The returned map is
// live: writes through it change the package. It is never nil.
func (p *Package) Dependencies(t DepType) map[string]string {
	if p.deps == nil {
		p.deps = make(map[DepType]map[string]string)
	}
	m, ok := p.deps[t]
	if !ok {
		m = make(map[string]string)
		p.deps[t] = m
	}
	return m
}

// SetDependency sets name to spec in the collection of type t.
func (p *Package) SetDependency(t DepType, name, spec string) {
	p.Dependencies(t)[name] = spec
}

// DependencySpec returns the raw specifier for name in collection t.
func (p *Package) DependencySpec(t DepType, name string) (string, bool) {
	spec, ok := p.deps[t][name]
	return spec, ok
}

// GraphDependencies merges the collections that form graph edges.
// Runtime entries win over optional ones, which win over dev ones.
// Peer dependencies never form edges.
func (p *Package) GraphDependencies(includeDev bool) map[string]string {
	merged := make(map[string]string)
	if includeDev {
		maps.Copy(merged, p.deps[Dev])
	}
	maps.Copy(merged, p.deps[Optional])
	maps.Copy(merged, p.deps[Runtime])
	return merged
}

// DependencyTypesOf returns every collection that declares name, in manifest order.
func (p *Package) DependencyTypesOf(name string) []DepType {
	var types []DepType
	for _, t := range DepTypes {
		if _, ok := p.deps[t][name]; ok {
			types = append(types, t)
		}
	}
	return types
}

// Clone returns a deep copy. Mutating the clone never affects p, which is how
// transient publish-time manifests are produced.
func (p *Package) Clone() *Package {
	c := *p
	c.Scripts = maps.Clone(p.Scripts)
	c.deps = make(map[DepType]map[string]string, len(p.deps))
	for t, m := range p.deps {
		c.deps[t] = maps.Clone(m)
	}
	c.raw = slices.Clone(p.raw)
	return &c
}

// SetField sets a top-level field the package does not own, such as
// "gitHead". Owned fields are rejected; they have dedicated setters.
func (p *Package) SetField(key string, v any) error {
	switch key {
	case "name", "version", "private", "scripts", "publishConfig":
		return errors.New(errors.ErrCodeInternal, "field %q is owned by the package model", key)
	}
	for _, t := range DepTypes {
		if key == string(t) {
			return errors.New(errors.ErrCodeInternal, "field %q is owned by the package model", key)
		}
	}
	doc := p.raw
	if doc == nil {
		doc = []byte("{}")
	}
	doc, err := sjson.SetBytes(doc, gjson.Escape(key), v)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "set field %q", key)
	}
	p.raw = doc
	return nil
}

// Load reads and parses the manifest at path. The package location is the
// directory containing path.
func Load(path string) (*Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "read %s", path)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "resolve %s", path)
	}
	pkg, err := Parse(data, abs)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "parse %s", path)
	}
	return pkg, nil
}

// Save writes pkg back to its manifest path.
func Save(pkg *Package) error {
	data, err := Marshal(pkg)
	if err != nil {
		return err
	}
	return os.WriteFile(pkg.ManifestPath(), data, 0o644)
}

// Names returns the sorted names of pkgs.
func Names(pkgs []*Package) []string {
	names := make([]string, len(pkgs))
	for i, p := range pkgs {
		names[i] = p.Name
	}
	slices.Sort(names)
	return names
}
