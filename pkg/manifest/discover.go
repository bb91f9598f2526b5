package manifest

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mattn/go-zglob"

	"github.com/matzehuels/lockstep/pkg/errors"
)

// DefaultGlobs is used when a repository configures no package globs.
var DefaultGlobs = []string{"packages/*"}

// Discover loads every package matched by globs under root. Globs name
// package directories ("packages/*", "tools/**"); node_modules is skipped.
// The result is sorted by location. Duplicate names are not rejected here;
// graph construction does that with both locations in the error.
func Discover(root string, globs []string) ([]*Package, error) {
	if len(globs) == 0 {
		globs = DefaultGlobs
	}

	seen := make(map[string]bool)
	var pkgs []*Package
	for _, g := range globs {
		if err := errors.ValidatePath(strings.TrimPrefix(g, "./")); err != nil {
			return nil, err
		}
		pattern := filepath.Join(root, g, FileName)
		matches, err := zglob.Glob(pattern)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "expand %s", g)
		}
		slices.Sort(matches)
		for _, m := range matches {
			if strings.Contains(filepath.ToSlash(m), "/node_modules/") || seen[m] {
				continue
			}
			seen[m] = true
			pkg, err := Load(m)
			if err != nil {
				return nil, err
			}
			pkgs = append(pkgs, pkg)
		}
	}

	slices.SortFunc(pkgs, func(a, b *Package) int { return strings.Compare(a.Location, b.Location) })
	return pkgs, nil
}
