package manifest

import (
	"fmt"
	"maps"
	"slices"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/matzehuels/lockstep/pkg/errors"
)

// Parse decodes manifest bytes into a Package located at dir. The bytes are
// kept so [Marshal] can edit them in place.
func Parse(data []byte, dir string) (*Package, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("expected JSON object")
	}

	pkg := New("", "", dir)
	pkg.raw = slices.Clone(data)
	pkg.parsed = true

	var err error
	if pkg.Name, err = stringField(root, "name"); err != nil {
		return nil, err
	}
	if err := errors.ValidatePackageName(pkg.Name); err != nil {
		return nil, err
	}
	if pkg.Version, err = stringField(root, "version"); err != nil {
		return nil, err
	}
	switch private := root.Get("private"); private.Type {
	case gjson.True, gjson.False, gjson.Null:
		pkg.Private = private.Bool()
	default:
		return nil, fmt.Errorf("field %q: expected boolean", "private")
	}
	if pkg.Scripts, err = stringMap(root, "scripts"); err != nil {
		return nil, err
	}
	pc := root.Get("publishConfig")
	if pc.Exists() && pc.Type != gjson.Null && !pc.IsObject() {
		return nil, fmt.Errorf("field %q: expected object", "publishConfig")
	}
	pkg.PublishConfig = PublishConfig{
		Tag:      pc.Get("tag").String(),
		Registry: pc.Get("registry").String(),
		Access:   pc.Get("access").String(),
	}
	for _, t := range DepTypes {
		m, err := stringMap(root, string(t))
		if err != nil {
			return nil, err
		}
		if m != nil {
			pkg.deps[t] = m
		}
	}
	return pkg, nil
}

func stringField(root gjson.Result, key string) (string, error) {
	v := root.Get(gjson.Escape(key))
	switch v.Type {
	case gjson.String, gjson.Null:
		return v.String(), nil
	}
	return "", fmt.Errorf("field %q: expected string", key)
}

// stringMap reads an object of string values. A missing or null field
// yields a nil map.
func stringMap(root gjson.Result, key string) (map[string]string, error) {
	v := root.Get(gjson.Escape(key))
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if !v.IsObject() {
		return nil, fmt.Errorf("field %q: expected object", key)
	}
	m := make(map[string]string)
	var err error
	v.ForEach(func(k, val gjson.Result) bool {
		if val.Type != gjson.String {
			err = fmt.Errorf("field %q: value of %q is not a string", key, k.String())
			return false
		}
		m[k.String()] = val.String()
		return true
	})
	return m, err
}

// Marshal serializes pkg. A parsed manifest is edited in place: only owned
// values that changed are rewritten, keys the file lacked are appended
// compactly, and every other byte is left alone. A package built with [New]
// is written with two-space indentation.
func Marshal(pkg *Package) ([]byte, error) {
	doc := pkg.raw
	if doc == nil {
		doc = []byte("{}")
	}

	doc, err := setString(doc, "name", pkg.Name)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "write name of %s", pkg.Name)
	}
	if pkg.Version != "" {
		if doc, err = setString(doc, "version", pkg.Version); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "write version of %s", pkg.Name)
		}
	}
	for _, t := range DepTypes {
		if doc, err = writeDeps(doc, t, pkg.deps[t]); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "write %s of %s", t, pkg.Name)
		}
	}

	if !pkg.parsed {
		return pretty.Pretty(doc), nil
	}
	if len(doc) == 0 || doc[len(doc)-1] != '\n' {
		doc = append(slices.Clip(doc), '\n')
	}
	return doc, nil
}

// setString writes value at path unless the document already holds it.
func setString(doc []byte, path, value string) ([]byte, error) {
	if cur := gjson.GetBytes(doc, path); cur.Type == gjson.String && cur.String() == value {
		return doc, nil
	}
	return sjson.SetBytes(doc, path, value)
}

// writeDeps brings collection t of doc in line with m. Entries gone from m
// are deleted, changed ones are replaced where they stand and new ones are
// appended in sorted order.
func writeDeps(doc []byte, t DepType, m map[string]string) ([]byte, error) {
	coll := gjson.Escape(string(t))
	current := gjson.GetBytes(doc, coll)
	if len(m) == 0 && !current.Exists() {
		return doc, nil
	}

	var err error
	if !current.IsObject() {
		if doc, err = sjson.SetRawBytes(doc, coll, []byte("{}")); err != nil {
			return nil, err
		}
	}

	var stale []string
	current.ForEach(func(k, _ gjson.Result) bool {
		if _, ok := m[k.String()]; !ok {
			stale = append(stale, k.String())
		}
		return true
	})
	for _, name := range stale {
		if doc, err = sjson.DeleteBytes(doc, coll+"."+gjson.Escape(name)); err != nil {
			return nil, err
		}
	}

	for _, name := range slices.Sorted(maps.Keys(m)) {
		if doc, err = setString(doc, coll+"."+gjson.Escape(name), m[name]); err != nil {
			return nil, err
		}
	}
	return doc, nil
}
