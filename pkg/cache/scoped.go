package cache

// ScopedKeyer wraps a Keyer with a prefix, giving each registry account its
// own namespace in a shared cache.
//
//	keyer := NewScopedKeyer(NewDefaultKeyer(), "ci:acme:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// PackumentKey returns the prefixed packument key.
func (k *ScopedKeyer) PackumentKey(registry, name string) string {
	return k.prefix + k.inner.PackumentKey(registry, name)
}

// DistTagsKey returns the prefixed dist-tags key.
func (k *ScopedKeyer) DistTagsKey(registry, name string) string {
	return k.prefix + k.inner.DistTagsKey(registry, name)
}
