// Package codec provides a reference vector-quantizer implementation of
// wm.TokenCodec. A frame is divided into a square grid of cells; each cell is
// encoded as the id of the nearest codeword color, and decoding paints cells
// with their codeword colors. The codec's embedding space is the codeword
// colors themselves.
package codec

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/Lr-2002/iris/wm"
)

const channels = 3

// Grid is a vector-quantizer codec over side x side image cells of cell x
// cell pixels each.
type Grid struct {
	side int
	cell int
	book *mat.Dense // (vocab x 3) codeword colors
}

// NewGrid builds a codec with a uniformly random codebook in [0, 1].
func NewGrid(side, cell, vocab int, rng *rand.Rand) (*Grid, error) {
	if vocab <= 0 {
		return nil, fmt.Errorf("%w: codebook size must be positive, got %d", wm.ErrConfig, vocab)
	}
	data := make([]float64, vocab*channels)
	for i := range data {
		data[i] = rng.Float64()
	}
	return NewGridWithCodebook(side, cell, mat.NewDense(vocab, channels, data))
}

// NewGridWithCodebook builds a codec around an explicit codebook of RGB
// codewords.
func NewGridWithCodebook(side, cell int, book *mat.Dense) (*Grid, error) {
	if side <= 0 || cell <= 0 {
		return nil, fmt.Errorf("%w: grid geometry must be positive (side=%d cell=%d)", wm.ErrConfig, side, cell)
	}
	if book == nil {
		return nil, fmt.Errorf("%w: missing codebook", wm.ErrConfig)
	}
	rows, cols := book.Dims()
	if rows == 0 || cols != channels {
		return nil, fmt.Errorf("%w: codebook is %dx%d, expected (vocab x %d)", wm.ErrConfig, rows, cols, channels)
	}
	return &Grid{side: side, cell: cell, book: book}, nil
}

// Tokens returns the number of observation tokens per frame.
func (g *Grid) Tokens() int { return g.side * g.side }

// FrameSize returns the pixel edge length of frames this codec expects.
func (g *Grid) FrameSize() int { return g.side * g.cell }

// Vocab returns the codebook size.
func (g *Grid) Vocab() int {
	rows, _ := g.book.Dims()
	return rows
}

// Encode maps each frame cell to the id of the nearest codeword color.
func (g *Grid) Encode(frames []wm.Frame) ([][]int64, error) {
	size := g.FrameSize()
	out := make([][]int64, len(frames))
	for b, frame := range frames {
		if frame.W != size || frame.H != size {
			return nil, fmt.Errorf("%w: frame %d is %dx%d, codec expects %dx%d",
				wm.ErrConfig, b, frame.W, frame.H, size, size)
		}
		tokens := make([]int64, 0, g.Tokens())
		var mean [channels]float64
		for cy := 0; cy < g.side; cy++ {
			for cx := 0; cx < g.side; cx++ {
				g.cellMean(frame, cy, cx, &mean)
				tokens = append(tokens, g.nearest(&mean))
			}
		}
		out[b] = tokens
	}
	return out, nil
}

// Embedding looks up codeword colors for token ids, one (K x 3) matrix per
// batch element.
func (g *Grid) Embedding(tokens [][]int64) ([]*mat.Dense, error) {
	vocab := g.Vocab()
	out := make([]*mat.Dense, len(tokens))
	for b, seq := range tokens {
		emb := mat.NewDense(len(seq), channels, nil)
		for i, tok := range seq {
			if tok < 0 || tok >= int64(vocab) {
				return nil, fmt.Errorf("%w: token %d out of codebook range [0,%d)", wm.ErrInvariant, tok, vocab)
			}
			emb.SetRow(i, g.book.RawRowView(int(tok)))
		}
		out[b] = emb
	}
	return out, nil
}

// Decode paints each cell of the output frame with its embedded color.
func (g *Grid) Decode(grids []*mat.Dense, side int) ([]wm.Frame, error) {
	if side != g.side {
		return nil, fmt.Errorf("%w: decode grid side %d does not match codec side %d", wm.ErrConfig, side, g.side)
	}
	size := g.FrameSize()
	frames := make([]wm.Frame, len(grids))
	for b, grid := range grids {
		rows, cols := grid.Dims()
		if rows != g.Tokens() || cols != channels {
			return nil, fmt.Errorf("%w: embedded grid %d is %dx%d, expected %dx%d",
				wm.ErrInvariant, b, rows, cols, g.Tokens(), channels)
		}
		frame := wm.NewFrame(size, size)
		for cy := 0; cy < g.side; cy++ {
			for cx := 0; cx < g.side; cx++ {
				color := grid.RawRowView(cy*g.side + cx)
				for c := 0; c < channels; c++ {
					for y := cy * g.cell; y < (cy+1)*g.cell; y++ {
						for x := cx * g.cell; x < (cx+1)*g.cell; x++ {
							frame.Set(c, y, x, color[c])
						}
					}
				}
			}
		}
		frames[b] = frame
	}
	return frames, nil
}

func (g *Grid) cellMean(frame wm.Frame, cy, cx int, mean *[channels]float64) {
	for c := 0; c < channels; c++ {
		sum := 0.0
		for y := cy * g.cell; y < (cy+1)*g.cell; y++ {
			for x := cx * g.cell; x < (cx+1)*g.cell; x++ {
				sum += frame.At(c, y, x)
			}
		}
		mean[c] = sum / float64(g.cell*g.cell)
	}
}

func (g *Grid) nearest(color *[channels]float64) int64 {
	best := int64(0)
	bestDist := math.Inf(1)
	vocab := g.Vocab()
	for id := 0; id < vocab; id++ {
		row := g.book.RawRowView(id)
		dist := 0.0
		for c := 0; c < channels; c++ {
			d := row[c] - color[c]
			dist += d * d
		}
		if dist < bestDist {
			bestDist = dist
			best = int64(id)
		}
	}
	return best
}
