// The incremental cache resource. The cache is an explicit object passed into
// every forward call: the backbone owns the cached projections it stores here,
// the core owns the occupancy accounting and its capacity invariant. One cache
// is exclusively owned by one rollout engine instance; callers must serialize
// access per instance.

package wm

import "fmt"

// Cache is a bounded-capacity store of cached per-position projections shared
// across a batch of independent rollout instances.
type Cache struct {
	batchSize int
	maxTokens int
	size      int

	// Storage holds the backbone's cached projections. The backbone creates
	// it on first use and extends it in place on every forward pass; the core
	// never inspects it. Reset clears it.
	Storage any
}

// NewCache allocates an empty cache for the given batch size and capacity in
// absolute positions.
func NewCache(batchSize, maxTokens int) (*Cache, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: cache batch size must be positive, got %d", ErrConfig, batchSize)
	}
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: cache capacity must be positive, got %d", ErrConfig, maxTokens)
	}
	return &Cache{batchSize: batchSize, maxTokens: maxTokens}, nil
}

// BatchSize returns the number of rollout instances sharing the cache.
func (c *Cache) BatchSize() int { return c.batchSize }

// Size returns the number of filled positions.
func (c *Cache) Size() int { return c.size }

// MaxTokens returns the capacity in positions.
func (c *Cache) MaxTokens() int { return c.maxTokens }

// CanAppend reports whether n more positions fit.
func (c *Cache) CanAppend(n int) bool { return c.size+n <= c.maxTokens }

// Advance records that n positions were filled by a forward pass.
func (c *Cache) Advance(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: cache advanced by %d positions", ErrInvariant, n)
	}
	if c.size+n > c.maxTokens {
		return fmt.Errorf("%w: cache overflow: %d+%d positions exceed capacity %d",
			ErrInvariant, c.size, n, c.maxTokens)
	}
	c.size += n
	return nil
}

// Reset discards all cached positions and the backbone's storage.
func (c *Cache) Reset() {
	c.size = 0
	c.Storage = nil
}
