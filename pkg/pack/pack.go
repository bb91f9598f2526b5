// Package pack builds registry tarballs from package directories.
//
// A tarball contains every file under the package directory, minus version
// control metadata, installed dependencies and earlier tarballs, with all
// entries rooted at "package/". The package.json inside the tarball is the
// transient publish manifest handed to [Packer.Pack], not the file on disk.
package pack

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"

	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/manifest"
)

// Tarball describes a packed package.
type Tarball struct {
	Name      string
	Version   string
	Path      string
	Size      int64
	Shasum    string // hex sha1
	Integrity string // sha512 subresource integrity
	Files     []string
}

// Data reads the tarball from disk.
func (t *Tarball) Data() ([]byte, error) {
	return os.ReadFile(t.Path)
}

// Packer writes tarballs into Dir.
type Packer struct {
	Dir    string
	Logger *log.Logger
}

// New returns a Packer that writes into dir.
func New(dir string, logger *log.Logger) *Packer {
	if logger == nil {
		logger = log.Default()
	}
	return &Packer{Dir: dir, Logger: logger}
}

var skipDirs = []string{".git", "node_modules", ".hg", ".svn"}

// Deterministic entry times keep tarball checksums stable across runs.
var epoch = time.Date(1985, time.October, 26, 8, 15, 0, 0, time.UTC)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileName returns the tarball file name for a package, "@scope/name" and
// "1.0.0" giving "scope-name-1.0.0.tgz".
func FileName(name, version string) string {
	name = strings.TrimPrefix(name, "@")
	return unsafeChars.ReplaceAllString(name, "-") + "-" + version + ".tgz"
}

// Pack archives pkg with manifestJSON in place of its package.json.
func (p *Packer) Pack(ctx context.Context, pkg *manifest.Package, manifestJSON []byte) (*Tarball, error) {
	files, err := collect(pkg.Location)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "list files of %s", pkg.Name)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(zw)

	if err := writeEntry(tw, manifest.FileName, manifestJSON, 0o644); err != nil {
		return nil, err
	}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if rel == manifest.FileName {
			continue
		}
		abs := filepath.Join(pkg.Location, filepath.FromSlash(rel))
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, err
		}
		if err := writeEntry(tw, rel, data, info.Mode().Perm()); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return nil, err
	}
	out := filepath.Join(p.Dir, FileName(pkg.Name, pkg.Version))
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return nil, err
	}

	sha := sha1.Sum(buf.Bytes())
	integrity := sha512.Sum512(buf.Bytes())
	tb := &Tarball{
		Name:      pkg.Name,
		Version:   pkg.Version,
		Path:      out,
		Size:      int64(buf.Len()),
		Shasum:    hex.EncodeToString(sha[:]),
		Integrity: "sha512-" + base64.StdEncoding.EncodeToString(integrity[:]),
		Files:     append([]string{manifest.FileName}, slices.DeleteFunc(files, func(f string) bool { return f == manifest.FileName })...),
	}
	p.Logger.Debug("packed", "package", pkg.Name, "version", pkg.Version, "files", len(tb.Files), "size", tb.Size)
	return tb, nil
}

func writeEntry(tw *tar.Writer, rel string, data []byte, mode fs.FileMode) error {
	hdr := &tar.Header{
		Name:    path.Join("package", rel),
		Mode:    int64(mode),
		Size:    int64(len(data)),
		ModTime: epoch,
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(data))
	return err
}

// collect lists regular files under dir as sorted slash paths.
func collect(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && slices.Contains(skipDirs, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasSuffix(d.Name(), ".tgz") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	slices.Sort(files)
	return files, err
}
