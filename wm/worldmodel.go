// The world model: block embedder + backbone + masked heads. This is the
// trainable predictive unit; the training loss lives in loss.go.

package wm

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// HeadOutput is one head's logits, compacted to the call-local positions the
// head matched. Logits are nil for batch elements when no position matched.
type HeadOutput struct {
	Logits    []*mat.Dense // per batch element, (len(Positions) x classes)
	Positions []int        // call-local indices the head was applied at
}

// Output is the result of one forward pass.
type Output struct {
	Hidden []*mat.Dense // per batch element, (T x E)
	Obs    HeadOutput
	Reward HeadOutput
	End    HeadOutput
}

// WorldModel predicts next observation tokens, rewards and terminations from
// an interleaved token sequence.
type WorldModel struct {
	cfg      Config
	masks    BlockMasks
	embedder *Embedder
	posEmb   *mat.Dense // (MaxTokens x E), keyed by absolute position
	backbone Backbone

	obsHead    *Head
	rewardHead *Head
	endHead    *Head
}

const (
	rewardClasses = 3
	endClasses    = 2
)

// NewWorldModel builds a world model with randomly initialized embedding
// tables, position embeddings and head projections.
func NewWorldModel(cfg Config, backbone Backbone, rng *rand.Rand) (*WorldModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	masks, err := NewBlockMasks(cfg.TokensPerBlock)
	if err != nil {
		return nil, err
	}
	const initScale = 0.02
	embedder, err := NewEmbedder(masks,
		randomDense(cfg.ObsVocabSize, cfg.EmbedDim, initScale, rng),
		randomDense(cfg.TaskVocabSize, cfg.EmbedDim, initScale, rng),
		randomDense(cfg.ActVocabSize, cfg.EmbedDim, initScale, rng),
	)
	if err != nil {
		return nil, err
	}
	posEmb := randomDense(cfg.MaxTokens(), cfg.EmbedDim, initScale, rng)
	obsHead, err := NewHead(masks.ObsHeadMask(),
		NewMLPProjection(cfg.EmbedDim, cfg.EmbedDim, cfg.ObsVocabSize, rng))
	if err != nil {
		return nil, err
	}
	rewardHead, err := NewHead(masks.RewardHeadMask(),
		NewMLPProjection(cfg.EmbedDim, cfg.EmbedDim, rewardClasses, rng))
	if err != nil {
		return nil, err
	}
	endHead, err := NewHead(masks.EndHeadMask(),
		NewMLPProjection(cfg.EmbedDim, cfg.EmbedDim, endClasses, rng))
	if err != nil {
		return nil, err
	}
	return NewWorldModelFromParts(cfg, masks, embedder, posEmb, backbone, obsHead, rewardHead, endHead)
}

// NewWorldModelFromParts assembles a world model from explicit components.
// Tests use it to inject deterministic embedders and head projections.
func NewWorldModelFromParts(cfg Config, masks BlockMasks, embedder *Embedder, posEmb *mat.Dense,
	backbone Backbone, obsHead, rewardHead, endHead *Head) (*WorldModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil || posEmb == nil || obsHead == nil || rewardHead == nil || endHead == nil {
		return nil, fmt.Errorf("%w: world model is missing a component", ErrConfig)
	}
	if backbone == nil {
		return nil, fmt.Errorf("%w: world model requires a backbone", ErrConfig)
	}
	if embedder.BlockSize() != cfg.TokensPerBlock {
		return nil, fmt.Errorf("%w: embedder block size %d does not match config %d",
			ErrConfig, embedder.BlockSize(), cfg.TokensPerBlock)
	}
	posRows, posCols := posEmb.Dims()
	if posRows != cfg.MaxTokens() || posCols != embedder.EmbedDim() {
		return nil, fmt.Errorf("%w: position table is %dx%d, expected %dx%d",
			ErrConfig, posRows, posCols, cfg.MaxTokens(), embedder.EmbedDim())
	}
	return &WorldModel{
		cfg:        cfg,
		masks:      masks,
		embedder:   embedder,
		posEmb:     posEmb,
		backbone:   backbone,
		obsHead:    obsHead,
		rewardHead: rewardHead,
		endHead:    endHead,
	}, nil
}

// Config returns the model's block-layout configuration.
func (m *WorldModel) Config() Config { return m.cfg }

// Forward runs one causally-masked pass over a (B x T) token batch. With a
// cache the call is incremental: T new positions start at absolute position
// cache.Size(), and the cache is advanced by T on success.
func (m *WorldModel) Forward(tokens [][]int64, cache *Cache) (*Output, error) {
	batch := len(tokens)
	if batch == 0 || len(tokens[0]) == 0 {
		return nil, fmt.Errorf("%w: forward called with an empty token batch", ErrInvariant)
	}
	numNew := len(tokens[0])

	prevSteps := 0
	if cache != nil {
		if cache.BatchSize() != batch {
			return nil, fmt.Errorf("%w: cache batch size %d does not match token batch %d",
				ErrInvariant, cache.BatchSize(), batch)
		}
		if !cache.CanAppend(numNew) {
			return nil, fmt.Errorf("%w: cache overflow: %d+%d positions exceed capacity %d",
				ErrInvariant, cache.Size(), numNew, cache.MaxTokens())
		}
		prevSteps = cache.Size()
	}
	if prevSteps+numNew > m.cfg.MaxTokens() {
		return nil, fmt.Errorf("%w: sequence of %d positions exceeds horizon %d",
			ErrInvariant, prevSteps+numNew, m.cfg.MaxTokens())
	}

	embedded, err := m.embedder.Embed(tokens, numNew, prevSteps)
	if err != nil {
		return nil, err
	}
	for _, seq := range embedded {
		for i := 0; i < numNew; i++ {
			row := seq.RawRowView(i)
			pos := m.posEmb.RawRowView(prevSteps + i)
			for j := range row {
				row[j] += pos[j]
			}
		}
	}

	hidden, err := m.backbone.Forward(embedded, cache)
	if err != nil {
		return nil, fmt.Errorf("backbone forward: %w", err)
	}
	if len(hidden) != batch {
		return nil, fmt.Errorf("%w: backbone returned %d sequences for batch %d",
			ErrInvariant, len(hidden), batch)
	}
	if cache != nil {
		if err := cache.Advance(numNew); err != nil {
			return nil, err
		}
	}

	out := &Output{Hidden: hidden}
	out.Obs.Logits, out.Obs.Positions = m.obsHead.Apply(hidden, numNew, prevSteps)
	out.Reward.Logits, out.Reward.Positions = m.rewardHead.Apply(hidden, numNew, prevSteps)
	out.End.Logits, out.End.Positions = m.endHead.Apply(hidden, numNew, prevSteps)
	return out, nil
}
