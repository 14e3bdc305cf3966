// Package backbone provides a reference causal self-attention implementation
// of wm.Backbone. It supports both full-sequence training passes and
// incremental single-token passes, caching per-position key/value projections
// in the wm.Cache it is handed.
package backbone

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/Lr-2002/iris/wm"
)

// Transformer is a small pre-norm attention stack with single-head attention
// and a two-layer feed-forward block per layer.
type Transformer struct {
	embedDim  int
	hiddenDim int
	layers    []*layer
}

type layer struct {
	wq, wk, wv, wo *mat.Dense // (E, E)
	w1             *mat.Dense // (E, H)
	w2             *mat.Dense // (H, E)
	g1, b1         []float64  // pre-attention layer norm
	g2, b2         []float64  // pre-feed-forward layer norm
}

// New builds a transformer with normally distributed weights scaled by the
// fan-in.
func New(embedDim, hiddenDim, numLayers int, rng *rand.Rand) (*Transformer, error) {
	if embedDim <= 0 || hiddenDim <= 0 || numLayers <= 0 {
		return nil, fmt.Errorf("%w: backbone dimensions must be positive (embed=%d hidden=%d layers=%d)",
			wm.ErrConfig, embedDim, hiddenDim, numLayers)
	}
	t := &Transformer{embedDim: embedDim, hiddenDim: hiddenDim}
	scaleE := 1 / math.Sqrt(float64(embedDim))
	scaleH := 1 / math.Sqrt(float64(hiddenDim))
	for i := 0; i < numLayers; i++ {
		l := &layer{
			wq: randDense(embedDim, embedDim, scaleE, rng),
			wk: randDense(embedDim, embedDim, scaleE, rng),
			wv: randDense(embedDim, embedDim, scaleE, rng),
			wo: randDense(embedDim, embedDim, scaleE, rng),
			w1: randDense(embedDim, hiddenDim, scaleE, rng),
			w2: randDense(hiddenDim, embedDim, scaleH, rng),
			g1: ones(embedDim),
			b1: make([]float64, embedDim),
			g2: ones(embedDim),
			b2: make([]float64, embedDim),
		}
		t.layers = append(t.layers, l)
	}
	return t, nil
}

// storage holds cached key/value projections per layer and batch element,
// indexed by absolute position.
type storage struct {
	batch    int
	capacity int
	keys     [][]*mat.Dense // [layer][batch] (capacity x E)
	vals     [][]*mat.Dense
}

func (t *Transformer) newStorage(batch, capacity int) *storage {
	st := &storage{batch: batch, capacity: capacity}
	for range t.layers {
		ks := make([]*mat.Dense, batch)
		vs := make([]*mat.Dense, batch)
		for b := 0; b < batch; b++ {
			ks[b] = mat.NewDense(capacity, t.embedDim, nil)
			vs[b] = mat.NewDense(capacity, t.embedDim, nil)
		}
		st.keys = append(st.keys, ks)
		st.vals = append(st.vals, vs)
	}
	return st
}

// Forward implements wm.Backbone.
func (t *Transformer) Forward(embedded []*mat.Dense, cache *wm.Cache) ([]*mat.Dense, error) {
	batch := len(embedded)
	if batch == 0 {
		return nil, fmt.Errorf("%w: backbone forward with an empty batch", wm.ErrInvariant)
	}
	numNew, embedDim := embedded[0].Dims()
	if embedDim != t.embedDim {
		return nil, fmt.Errorf("%w: embedded width %d does not match backbone width %d",
			wm.ErrConfig, embedDim, t.embedDim)
	}
	for b, seq := range embedded {
		rows, cols := seq.Dims()
		if rows != numNew || cols != embedDim {
			return nil, fmt.Errorf("%w: batch element %d is %dx%d, expected %dx%d",
				wm.ErrInvariant, b, rows, cols, numNew, embedDim)
		}
	}

	prefix := 0
	var st *storage
	if cache != nil {
		prefix = cache.Size()
		var err error
		if st, err = t.ensureStorage(cache, batch); err != nil {
			return nil, err
		}
		if prefix+numNew > st.capacity {
			return nil, fmt.Errorf("%w: %d+%d positions exceed cached capacity %d",
				wm.ErrInvariant, prefix, numNew, st.capacity)
		}
	} else {
		st = t.newStorage(batch, numNew)
	}

	x := make([]*mat.Dense, batch)
	for b := range embedded {
		x[b] = mat.DenseCopyOf(embedded[b])
	}
	for li, l := range t.layers {
		for b := 0; b < batch; b++ {
			l.forward(x[b], st.keys[li][b], st.vals[li][b], prefix)
		}
	}
	return x, nil
}

func (t *Transformer) ensureStorage(cache *wm.Cache, batch int) (*storage, error) {
	if cache.Storage == nil {
		st := t.newStorage(batch, cache.MaxTokens())
		cache.Storage = st
		return st, nil
	}
	st, ok := cache.Storage.(*storage)
	if !ok {
		return nil, fmt.Errorf("%w: cache storage belongs to a different backbone", wm.ErrInvariant)
	}
	if st.batch != batch || st.capacity != cache.MaxTokens() || len(st.keys) != len(t.layers) {
		return nil, fmt.Errorf("%w: cache storage shape does not match this backbone", wm.ErrInvariant)
	}
	return st, nil
}

// forward runs one layer over numNew positions starting at absolute position
// prefix, updating x in place and appending this call's key/value rows.
func (l *layer) forward(x, keys, vals *mat.Dense, prefix int) {
	numNew, embedDim := x.Dims()
	scale := 1 / math.Sqrt(float64(embedDim))

	normed := mat.NewDense(numNew, embedDim, nil)
	for i := 0; i < numNew; i++ {
		layerNorm(normed.RawRowView(i), x.RawRowView(i), l.g1, l.b1)
	}
	q := mat.NewDense(numNew, embedDim, nil)
	q.Mul(normed, l.wq)
	k := mat.NewDense(numNew, embedDim, nil)
	k.Mul(normed, l.wk)
	v := mat.NewDense(numNew, embedDim, nil)
	v.Mul(normed, l.wv)
	for i := 0; i < numNew; i++ {
		keys.SetRow(prefix+i, k.RawRowView(i))
		vals.SetRow(prefix+i, v.RawRowView(i))
	}

	ctx := mat.NewDense(numNew, embedDim, nil)
	scores := make([]float64, prefix+numNew)
	for i := 0; i < numNew; i++ {
		visible := prefix + i + 1 // causal: this position and everything before it
		qi := q.RawRowView(i)
		for j := 0; j < visible; j++ {
			scores[j] = dot(qi, keys.RawRowView(j)) * scale
		}
		softmaxInPlace(scores[:visible])
		ctxRow := ctx.RawRowView(i)
		for j := 0; j < visible; j++ {
			w := scores[j]
			vj := vals.RawRowView(j)
			for d := range ctxRow {
				ctxRow[d] += w * vj[d]
			}
		}
	}
	attnOut := mat.NewDense(numNew, embedDim, nil)
	attnOut.Mul(ctx, l.wo)
	x.Add(x, attnOut)

	_, hiddenDim := l.w1.Dims()
	for i := 0; i < numNew; i++ {
		layerNorm(normed.RawRowView(i), x.RawRowView(i), l.g2, l.b2)
	}
	h := mat.NewDense(numNew, hiddenDim, nil)
	h.Mul(normed, l.w1)
	for i := 0; i < numNew; i++ {
		row := h.RawRowView(i)
		for j := range row {
			row[j] = math.Max(0, row[j])
		}
	}
	ffnOut := mat.NewDense(numNew, embedDim, nil)
	ffnOut.Mul(h, l.w2)
	x.Add(x, ffnOut)
}

func layerNorm(dst, src, gain, bias []float64) {
	const eps = 1e-5
	mean := 0.0
	for _, v := range src {
		mean += v
	}
	mean /= float64(len(src))
	variance := 0.0
	for _, v := range src {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(src))
	inv := 1 / math.Sqrt(variance+eps)
	for i, v := range src {
		dst[i] = gain[i]*(v-mean)*inv + bias[i]
	}
}

func softmaxInPlace(scores []float64) {
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	sum := 0.0
	for i, s := range scores {
		scores[i] = math.Exp(s - max)
		sum += scores[i]
	}
	for i := range scores {
		scores[i] /= sum
	}
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func randDense(rows, cols int, scale float64, rng *rand.Rand) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64() * scale
	}
	return mat.NewDense(rows, cols, data)
}
