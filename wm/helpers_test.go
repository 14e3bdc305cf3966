// Shared deterministic test doubles: an echoing backbone, an identity-style
// world model built from one-hot embedding tables, and a fixed-output codec.

package wm

import (
	"fmt"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// peakScale is large enough that softmax over one-hot rows scaled by it is
// exactly a point mass in float64, making sampling deterministic.
const peakScale = 1000.0

func testConfig() Config {
	return Config{
		ObsVocabSize:   8,
		ActVocabSize:   4,
		TaskVocabSize:  8,
		TokensPerBlock: 6, // 4 observation tokens + task + action
		MaxBlocks:      8,
		EmbedDim:       8,
	}
}

// echoStorage keeps every embedded input row by absolute position.
type echoStorage struct {
	rows [][][]float64 // [batch][position][dim]
}

// echoBackbone returns, for each position p, the input that was stored at
// position p+1-blockSize, and zeros for positions near the sequence start.
// With one-hot embedding tables this makes every prediction "the token one
// block earlier, shifted forward by one slot", which is exactly identity
// dynamics for the rollout engine's feeding order.
type echoBackbone struct {
	blockSize int
	prefixes  []int // cache.Size() observed by each cached Forward call
}

func (e *echoBackbone) Forward(embedded []*mat.Dense, cache *Cache) ([]*mat.Dense, error) {
	batch := len(embedded)
	if batch == 0 {
		return nil, fmt.Errorf("%w: echo backbone forward with an empty batch", ErrInvariant)
	}
	numNew, embedDim := embedded[0].Dims()

	prefix := 0
	var st *echoStorage
	if cache != nil {
		prefix = cache.Size()
		e.prefixes = append(e.prefixes, prefix)
		if cache.Storage == nil {
			cache.Storage = &echoStorage{rows: make([][][]float64, batch)}
		}
		var ok bool
		if st, ok = cache.Storage.(*echoStorage); !ok {
			return nil, fmt.Errorf("%w: cache storage belongs to a different backbone", ErrInvariant)
		}
	} else {
		st = &echoStorage{rows: make([][][]float64, batch)}
	}

	for b, seq := range embedded {
		for len(st.rows[b]) < prefix+numNew {
			st.rows[b] = append(st.rows[b], nil)
		}
		for i := 0; i < numNew; i++ {
			row := make([]float64, embedDim)
			copy(row, seq.RawRowView(i))
			st.rows[b][prefix+i] = row
		}
	}

	hidden := make([]*mat.Dense, batch)
	for b := range embedded {
		out := mat.NewDense(numNew, embedDim, nil)
		for i := 0; i < numNew; i++ {
			src := prefix + i + 1 - e.blockSize
			if src >= 0 {
				out.SetRow(i, st.rows[b][src])
			}
		}
		hidden[b] = out
	}
	return hidden, nil
}

// sliceProjection returns the first outDim columns of the hidden states.
// Paired with one-hot embeddings it turns echoed inputs into peaked logits.
type sliceProjection struct {
	outDim int
}

func (p sliceProjection) OutDim() int { return p.outDim }

func (p sliceProjection) Forward(hidden *mat.Dense) *mat.Dense {
	rows, _ := hidden.Dims()
	out := mat.NewDense(rows, p.outDim, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < p.outDim; j++ {
			out.Set(i, j, hidden.At(i, j))
		}
	}
	return out
}

// identityWorldModel assembles a world model whose observation predictions
// replay the token one block earlier: scaled one-hot observation embeddings,
// zero task/action embeddings, zero position embeddings, slice projections
// and the echoing backbone. Requires cfg.EmbedDim == cfg.ObsVocabSize.
func identityWorldModel(t *testing.T, cfg Config, bb Backbone) *WorldModel {
	t.Helper()
	if cfg.EmbedDim != cfg.ObsVocabSize {
		t.Fatalf("identity model requires embed dim == obs vocab size, got %d and %d",
			cfg.EmbedDim, cfg.ObsVocabSize)
	}
	masks, err := NewBlockMasks(cfg.TokensPerBlock)
	if err != nil {
		t.Fatalf("block masks: %v", err)
	}
	obsTable := mat.NewDense(cfg.ObsVocabSize, cfg.EmbedDim, nil)
	for i := 0; i < cfg.ObsVocabSize; i++ {
		obsTable.Set(i, i, peakScale)
	}
	taskTable := mat.NewDense(cfg.TaskVocabSize, cfg.EmbedDim, nil)
	actTable := mat.NewDense(cfg.ActVocabSize, cfg.EmbedDim, nil)
	embedder, err := NewEmbedder(masks, obsTable, taskTable, actTable)
	if err != nil {
		t.Fatalf("embedder: %v", err)
	}
	posEmb := mat.NewDense(cfg.MaxTokens(), cfg.EmbedDim, nil)
	obsHead, err := NewHead(masks.ObsHeadMask(), sliceProjection{cfg.ObsVocabSize})
	if err != nil {
		t.Fatalf("observation head: %v", err)
	}
	rewardHead, err := NewHead(masks.RewardHeadMask(), sliceProjection{rewardClasses})
	if err != nil {
		t.Fatalf("reward head: %v", err)
	}
	endHead, err := NewHead(masks.EndHeadMask(), sliceProjection{endClasses})
	if err != nil {
		t.Fatalf("end head: %v", err)
	}
	model, err := NewWorldModelFromParts(cfg, masks, embedder, posEmb, bb, obsHead, rewardHead, endHead)
	if err != nil {
		t.Fatalf("world model: %v", err)
	}
	return model
}

// fixedCodec encodes every frame to the same token sequence and decodes
// grids into side x side frames whose red channel carries the first
// embedding component of each cell.
type fixedCodec struct {
	perFrame []int64
}

func (c *fixedCodec) Encode(frames []Frame) ([][]int64, error) {
	out := make([][]int64, len(frames))
	for i := range frames {
		out[i] = append([]int64(nil), c.perFrame...)
	}
	return out, nil
}

func (c *fixedCodec) Embedding(tokens [][]int64) ([]*mat.Dense, error) {
	out := make([]*mat.Dense, len(tokens))
	for b, seq := range tokens {
		m := mat.NewDense(len(seq), 1, nil)
		for i, tok := range seq {
			m.Set(i, 0, float64(tok))
		}
		out[b] = m
	}
	return out, nil
}

func (c *fixedCodec) Decode(grids []*mat.Dense, side int) ([]Frame, error) {
	frames := make([]Frame, len(grids))
	for b, grid := range grids {
		rows, _ := grid.Dims()
		if rows != side*side {
			return nil, fmt.Errorf("%w: grid has %d cells, expected %d", ErrInvariant, rows, side*side)
		}
		f := NewFrame(side, side)
		for i := 0; i < rows; i++ {
			f.Set(0, i/side, i%side, grid.At(i, 0))
		}
		frames[b] = f
	}
	return frames, nil
}
