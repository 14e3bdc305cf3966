// Categorical sampling from unnormalized log scores.

package wm

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// sampleCategorical draws one class index from the distribution defined by
// per-class log scores.
func sampleCategorical(logits []float64, src rand.Source) int64 {
	weights := make([]float64, len(logits))
	lse := floats.LogSumExp(logits)
	for i, l := range logits {
		weights[i] = math.Exp(l - lse)
	}
	dist := distuv.NewCategorical(weights, src)
	return int64(dist.Rand())
}
