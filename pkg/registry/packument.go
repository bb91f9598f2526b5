package registry

import (
	"context"
	"encoding/json"
	"maps"
	"slices"

	"github.com/Masterminds/semver/v3"

	"github.com/matzehuels/lockstep/pkg/cache"
	"github.com/matzehuels/lockstep/pkg/errors"
)

// Packument is the registry's document for one package, trimmed to the
// fields a release reads.
type Packument struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]json.RawMessage `json:"versions"`
	Time     map[string]string          `json:"time,omitempty"`
}

// HasVersion reports whether version was ever published.
func (p *Packument) HasVersion(version string) bool {
	if p == nil {
		return false
	}
	_, ok := p.Versions[version]
	return ok
}

// SortedVersions returns the published versions in ascending semver order.
// Entries that do not parse are dropped.
func (p *Packument) SortedVersions() []string {
	if p == nil {
		return nil
	}
	var parsed []*semver.Version
	for raw := range maps.Keys(p.Versions) {
		if v, err := semver.StrictNewVersion(raw); err == nil {
			parsed = append(parsed, v)
		}
	}
	slices.SortFunc(parsed, func(a, b *semver.Version) int { return a.Compare(b) })
	out := make([]string, len(parsed))
	for i, v := range parsed {
		out[i] = v.Original()
	}
	return out
}

// Packument fetches the document for name. A package the registry has never
// seen returns (nil, nil). With refresh the cache is bypassed.
func (c *Client) Packument(ctx context.Context, name string, refresh bool) (*Packument, error) {
	key := c.keyer.PackumentKey(c.base, name)
	if !refresh {
		var cached Packument
		if ok, _ := cache.GetJSON(ctx, c.cache, "packument", key, &cached); ok {
			return &cached, nil
		}
	}

	var doc Packument
	err := c.do(ctx, request{method: "GET", path: "/" + EscapeName(name), retry: true}, &doc)
	if errors.Is(err, errors.ErrCodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, c.cache, "packument", key, &doc, c.ttl); err != nil {
		c.logger.Debug("cache write failed", "package", name, "error", err)
	}
	return &doc, nil
}

// VersionExists reports whether name@version is published. A cached
// packument that lacks the version is refreshed once, since the version may
// have been published after the entry was cached.
func (c *Client) VersionExists(ctx context.Context, name, version string) (bool, error) {
	doc, err := c.Packument(ctx, name, false)
	if err != nil {
		return false, err
	}
	if doc.HasVersion(version) {
		return true, nil
	}
	doc, err = c.Packument(ctx, name, true)
	if err != nil {
		return false, err
	}
	return doc.HasVersion(version), nil
}
