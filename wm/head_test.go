package wm

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewHead_Validation(t *testing.T) {
	t.Run("empty mask", func(t *testing.T) {
		_, err := NewHead(nil, sliceProjection{2})
		assert.ErrorIs(t, err, ErrConfig)
	})
	t.Run("nil projection", func(t *testing.T) {
		_, err := NewHead([]bool{true}, nil)
		assert.ErrorIs(t, err, ErrConfig)
	})
	t.Run("all-false mask", func(t *testing.T) {
		_, err := NewHead([]bool{false, false}, sliceProjection{2})
		assert.ErrorIs(t, err, ErrConfig)
	})
}

func TestHead_ApplyCompactsMatchedPositions(t *testing.T) {
	// Mask marks offsets 1 and 3 of a 4-slot block.
	head, err := NewHead([]bool{false, true, false, true}, sliceProjection{2})
	require.NoError(t, err)

	hidden := mat.NewDense(6, 2, []float64{
		0, 0,
		1, 10,
		2, 20,
		3, 30,
		4, 40,
		5, 50,
	})

	// Six positions starting at absolute position 0 cover offsets
	// 0,1,2,3,0,1; offsets 1 and 3 match at local indices 1, 3 and 5.
	logits, positions := head.Apply([]*mat.Dense{hidden}, 6, 0)
	require.Equal(t, []int{1, 3, 5}, positions)
	require.Len(t, logits, 1)
	rows, cols := logits[0].Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, 1.0, logits[0].At(0, 0))
	assert.Equal(t, 30.0, logits[0].At(1, 1))
	assert.Equal(t, 5.0, logits[0].At(2, 0))
}

func TestHead_ApplyOffsetStart(t *testing.T) {
	head, err := NewHead([]bool{false, true, false, true}, sliceProjection{1})
	require.NoError(t, err)

	// One position at absolute position 3: offset 3 matches.
	one := mat.NewDense(1, 2, []float64{7, 70})
	logits, positions := head.Apply([]*mat.Dense{one}, 1, 3)
	require.Equal(t, []int{0}, positions)
	assert.Equal(t, 7.0, logits[0].At(0, 0))

	// One position at absolute position 4: offset 0 does not match.
	logits, positions = head.Apply([]*mat.Dense{one}, 1, 4)
	assert.Nil(t, positions)
	require.Len(t, logits, 1)
	assert.Nil(t, logits[0])
}

func TestMLPProjection_Shapes(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	proj := NewMLPProjection(4, 8, 3, rng)
	assert.Equal(t, 3, proj.OutDim())

	out := proj.Forward(mat.NewDense(5, 4, nil))
	rows, cols := out.Dims()
	assert.Equal(t, 5, rows)
	assert.Equal(t, 3, cols)
}

func TestMLPProjection_Deterministic(t *testing.T) {
	p1 := NewMLPProjection(4, 8, 3, rand.New(rand.NewPCG(1, 2)))
	p2 := NewMLPProjection(4, 8, 3, rand.New(rand.NewPCG(1, 2)))

	in := mat.NewDense(2, 4, []float64{1, -2, 3, -4, 0.5, 0.25, -0.125, 2})
	assert.True(t, mat.Equal(p1.Forward(in), p2.Forward(in)))
}
