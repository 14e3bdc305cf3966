// Masked prediction heads. A head is a projection from hidden states to class
// scores, active only at block positions its mask marks. Head outputs are
// compacted to the matched positions so downstream shapes stay well defined.

package wm

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Projection maps a (T x E) matrix of hidden states to a (T x C) matrix of
// class scores. Implementations must be pure functions of their input.
type Projection interface {
	Forward(hidden *mat.Dense) *mat.Dense
	OutDim() int
}

// MLPProjection is the default two-layer projection: Linear, ReLU, Linear.
type MLPProjection struct {
	w1, w2 *mat.Dense
	b1, b2 []float64
}

// NewMLPProjection builds a projection with normally distributed weights
// scaled by the fan-in.
func NewMLPProjection(inDim, hiddenDim, outDim int, rng *rand.Rand) *MLPProjection {
	return &MLPProjection{
		w1: randomDense(inDim, hiddenDim, 1/math.Sqrt(float64(inDim)), rng),
		w2: randomDense(hiddenDim, outDim, 1/math.Sqrt(float64(hiddenDim)), rng),
		b1: make([]float64, hiddenDim),
		b2: make([]float64, outDim),
	}
}

func (p *MLPProjection) OutDim() int {
	_, cols := p.w2.Dims()
	return cols
}

func (p *MLPProjection) Forward(hidden *mat.Dense) *mat.Dense {
	rows, _ := hidden.Dims()
	_, hiddenDim := p.w1.Dims()
	h := mat.NewDense(rows, hiddenDim, nil)
	h.Mul(hidden, p.w1)
	for i := 0; i < rows; i++ {
		row := h.RawRowView(i)
		for j := range row {
			row[j] = math.Max(0, row[j]+p.b1[j])
		}
	}
	out := mat.NewDense(rows, p.OutDim(), nil)
	out.Mul(h, p.w2)
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] += p.b2[j]
		}
	}
	return out
}

func randomDense(rows, cols int, scale float64, rng *rand.Rand) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64() * scale
	}
	return mat.NewDense(rows, cols, data)
}

// Head restricts a projection to the block positions its mask marks.
type Head struct {
	mask []bool
	proj Projection
}

func NewHead(mask []bool, proj Projection) (*Head, error) {
	if len(mask) == 0 {
		return nil, fmt.Errorf("%w: head mask is empty", ErrConfig)
	}
	if proj == nil {
		return nil, fmt.Errorf("%w: head projection is nil", ErrConfig)
	}
	any := false
	for _, set := range mask {
		any = any || set
	}
	if !any {
		return nil, fmt.Errorf("%w: head mask marks no block position", ErrConfig)
	}
	return &Head{mask: append([]bool(nil), mask...), proj: proj}, nil
}

// matchedPositions returns the call-local indices i in [0, numNew) whose
// absolute position prevSteps+i falls on a marked block offset.
func (h *Head) matchedPositions(numNew, prevSteps int) []int {
	var matched []int
	for i := 0; i < numNew; i++ {
		if h.mask[(prevSteps+i)%len(h.mask)] {
			matched = append(matched, i)
		}
	}
	return matched
}

// Apply projects the hidden states at matched positions only. The returned
// logits are one (len(matched) x C) matrix per batch element, nil when no
// position matches.
func (h *Head) Apply(hidden []*mat.Dense, numNew, prevSteps int) ([]*mat.Dense, []int) {
	matched := h.matchedPositions(numNew, prevSteps)
	if len(matched) == 0 {
		return make([]*mat.Dense, len(hidden)), nil
	}
	logits := make([]*mat.Dense, len(hidden))
	for b, states := range hidden {
		_, embedDim := states.Dims()
		gathered := mat.NewDense(len(matched), embedDim, nil)
		for row, i := range matched {
			gathered.SetRow(row, states.RawRowView(i))
		}
		logits[b] = h.proj.Forward(gathered)
	}
	return logits, matched
}
