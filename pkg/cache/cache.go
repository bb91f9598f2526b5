// Package cache stores registry metadata between lockstep runs.
//
// Three backends implement [Cache]:
//   - [FileCache]: one JSON file per key under the user cache directory
//   - [RedisCache]: a shared Redis instance, for CI runners that release
//     from several machines
//   - [NullCache]: caching disabled
//
// Keys come from a [Keyer] so that every backend lays out registry data the
// same way, and so that a [ScopedKeyer] can separate registries or users.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/matzehuels/lockstep/pkg/observability"
)

// Cache is a byte-oriented key/value store with per-entry TTL.
type Cache interface {
	// Get returns the value for key. A missing or expired entry is a miss,
	// not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// GetJSON decodes the entry for key into v. keyType labels the lookup for
// the cache hooks. Undecodable entries count as misses.
func GetJSON(ctx context.Context, c Cache, keyType, key string, v any) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || json.Unmarshal(data, v) != nil {
		observability.Cache().OnCacheMiss(ctx, keyType)
		return false, nil
	}
	observability.Cache().OnCacheHit(ctx, keyType)
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, keyType, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, key, data, ttl); err != nil {
		return err
	}
	observability.Cache().OnCacheSet(ctx, keyType, len(data))
	return nil
}

// Keyer builds cache keys for registry data.
type Keyer interface {
	// PackumentKey is the key of a package document fetched from registry.
	PackumentKey(registry, name string) string

	// DistTagsKey is the key of a package's dist-tag map.
	DistTagsKey(registry, name string) string
}

// DefaultKeyer hashes the registry URL so keys stay short and path-safe.
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default key layout.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// PackumentKey returns "packument:<hash(registry, name)>".
func (DefaultKeyer) PackumentKey(registry, name string) string {
	return hashKey("packument", registry, name)
}

// DistTagsKey returns "dist-tags:<hash(registry, name)>".
func (DefaultKeyer) DistTagsKey(registry, name string) string {
	return hashKey("dist-tags", registry, name)
}
