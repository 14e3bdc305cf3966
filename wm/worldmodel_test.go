package wm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewWorldModelFromParts_Validation(t *testing.T) {
	cfg := testConfig()
	bb := &echoBackbone{blockSize: cfg.TokensPerBlock}
	model := identityWorldModel(t, cfg, bb)

	t.Run("nil backbone", func(t *testing.T) {
		_, err := NewWorldModelFromParts(cfg, model.masks, model.embedder, model.posEmb,
			nil, model.obsHead, model.rewardHead, model.endHead)
		assert.ErrorIs(t, err, ErrConfig)
	})
	t.Run("missing head", func(t *testing.T) {
		_, err := NewWorldModelFromParts(cfg, model.masks, model.embedder, model.posEmb,
			bb, nil, model.rewardHead, model.endHead)
		assert.ErrorIs(t, err, ErrConfig)
	})
	t.Run("position table too short", func(t *testing.T) {
		short := mat.NewDense(cfg.MaxTokens()-1, cfg.EmbedDim, nil)
		_, err := NewWorldModelFromParts(cfg, model.masks, model.embedder, short,
			bb, model.obsHead, model.rewardHead, model.endHead)
		assert.ErrorIs(t, err, ErrConfig)
	})
	t.Run("block size mismatch", func(t *testing.T) {
		bad := cfg
		bad.TokensPerBlock = 5
		_, err := NewWorldModelFromParts(bad, model.masks, model.embedder, model.posEmb,
			bb, model.obsHead, model.rewardHead, model.endHead)
		assert.ErrorIs(t, err, ErrConfig)
	})
}

func TestWorldModel_ForwardHeadPositions(t *testing.T) {
	cfg := testConfig()
	model := identityWorldModel(t, cfg, &echoBackbone{blockSize: cfg.TokensPerBlock})

	// One full block from position 0: obs obs obs obs task action.
	out, err := model.Forward([][]int64{{1, 2, 3, 4, 0, 2}}, nil)
	require.NoError(t, err)

	// The observation head matches the first three observation slots and
	// the action slot; reward and end match the action slot only.
	assert.Equal(t, []int{0, 1, 2, 5}, out.Obs.Positions)
	assert.Equal(t, []int{5}, out.Reward.Positions)
	assert.Equal(t, []int{5}, out.End.Positions)

	require.Len(t, out.Obs.Logits, 1)
	rows, cols := out.Obs.Logits[0].Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, cfg.ObsVocabSize, cols)
	rows, cols = out.Reward.Logits[0].Dims()
	assert.Equal(t, 1, rows)
	assert.Equal(t, 3, cols)
	rows, cols = out.End.Logits[0].Dims()
	assert.Equal(t, 1, rows)
	assert.Equal(t, 2, cols)
}

func TestWorldModel_ForwardAdvancesCache(t *testing.T) {
	cfg := testConfig()
	model := identityWorldModel(t, cfg, &echoBackbone{blockSize: cfg.TokensPerBlock})
	cache, err := NewCache(1, 12)
	require.NoError(t, err)

	_, err = model.Forward([][]int64{{1, 2, 3, 4, 0}}, cache)
	require.NoError(t, err)
	assert.Equal(t, 5, cache.Size())

	// The next call continues at position 5: the action slot.
	out, err := model.Forward([][]int64{{3}}, cache)
	require.NoError(t, err)
	assert.Equal(t, 6, cache.Size())
	assert.Equal(t, []int{0}, out.Reward.Positions)
}

func TestWorldModel_ForwardCacheOverflow(t *testing.T) {
	cfg := testConfig()
	model := identityWorldModel(t, cfg, &echoBackbone{blockSize: cfg.TokensPerBlock})
	cache, err := NewCache(1, 4)
	require.NoError(t, err)

	_, err = model.Forward([][]int64{{1, 2, 3, 4, 0}}, cache)
	assert.ErrorIs(t, err, ErrInvariant)
	assert.Equal(t, 0, cache.Size())
}

func TestWorldModel_ForwardHorizonExceeded(t *testing.T) {
	cfg := testConfig()
	model := identityWorldModel(t, cfg, &echoBackbone{blockSize: cfg.TokensPerBlock})

	long := make([]int64, cfg.MaxTokens()+cfg.TokensPerBlock)
	_, err := model.Forward([][]int64{long}, nil)
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestWorldModel_ForwardBatchMismatch(t *testing.T) {
	cfg := testConfig()
	model := identityWorldModel(t, cfg, &echoBackbone{blockSize: cfg.TokensPerBlock})
	cache, err := NewCache(2, 12)
	require.NoError(t, err)

	_, err = model.Forward([][]int64{{1}}, cache)
	assert.ErrorIs(t, err, ErrInvariant)

	_, err = model.Forward(nil, nil)
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestNewWorldModel_RandomInitialization(t *testing.T) {
	cfg := testConfig()
	rng := NewPartitionedRNG(NewSimulationKey(3)).ForSubsystem(SubsystemWeights)
	model, err := NewWorldModel(cfg, &echoBackbone{blockSize: cfg.TokensPerBlock}, rng)
	require.NoError(t, err)
	assert.Equal(t, cfg, model.Config())

	out, err := model.Forward([][]int64{{1, 2, 3, 4, 0, 2}}, nil)
	require.NoError(t, err)
	require.Len(t, out.Hidden, 1)
	rows, cols := out.Hidden[0].Dims()
	assert.Equal(t, 6, rows)
	assert.Equal(t, cfg.EmbedDim, cols)
}

func TestNewWorldModel_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.EmbedDim = 0
	rng := NewPartitionedRNG(NewSimulationKey(3)).ForSubsystem(SubsystemWeights)
	_, err := NewWorldModel(cfg, &echoBackbone{blockSize: cfg.TokensPerBlock}, rng)
	assert.ErrorIs(t, err, ErrConfig)
}
