// The sequence backbone contract. The attention implementation itself is an
// external collaborator; a reference implementation lives in wm/backbone.

package wm

import "gonum.org/v1/gonum/mat"

// Backbone computes causally-masked hidden states for a batch of embedded
// sequences. When cache is non-nil the call is incremental: the backbone reads
// cache.Size() as the already-processed prefix length and extends its
// projections in cache.Storage in place. The core advances the cache's
// occupancy after the call, so implementations must not touch it.
//
// Calls are synchronous; a forward pass either completes or fails.
type Backbone interface {
	Forward(embedded []*mat.Dense, cache *Cache) ([]*mat.Dense, error)
}
