// Observation frames and the token codec contract. The codec's internal
// network is an external collaborator; a reference vector-quantizer lives in
// wm/codec.

package wm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Frame is one RGB observation with channel-major pixels in [0, 1].
type Frame struct {
	W, H int
	Pix  []float64 // len 3*W*H, laid out (channel, y, x)
}

// NewFrame allocates a zeroed frame.
func NewFrame(w, h int) Frame {
	return Frame{W: w, H: h, Pix: make([]float64, 3*w*h)}
}

// At returns the value of channel c at pixel (x, y).
func (f Frame) At(c, y, x int) float64 { return f.Pix[(c*f.H+y)*f.W+x] }

// Set writes the value of channel c at pixel (x, y).
func (f Frame) Set(c, y, x int, v float64) { f.Pix[(c*f.H+y)*f.W+x] = v }

// Clamp01 clamps every pixel into [0, 1] in place.
func (f Frame) Clamp01() {
	for i, v := range f.Pix {
		if v < 0 {
			f.Pix[i] = 0
		} else if v > 1 {
			f.Pix[i] = 1
		}
	}
}

// Observations pairs a batch of rendered frames with their task tokens.
type Observations struct {
	Frames []Frame
	Tasks  []int64
}

func (o Observations) Validate() error {
	if len(o.Frames) == 0 || len(o.Frames) != len(o.Tasks) {
		return fmt.Errorf("%w: observation batch has %d frames and %d task tokens",
			ErrInvariant, len(o.Frames), len(o.Tasks))
	}
	return nil
}

// TokenCodec maps observations to fixed-length sequences of discrete
// observation-token ids and back.
type TokenCodec interface {
	// Encode maps each frame to its K observation-token ids.
	Encode(frames []Frame) ([][]int64, error)
	// Embedding looks up the codec's embedding vectors for token ids,
	// returning one (K x D) matrix per batch element.
	Embedding(tokens [][]int64) ([]*mat.Dense, error)
	// Decode renders embedded side x side grids back into frames.
	Decode(grids []*mat.Dense, side int) ([]Frame, error)
}

// EnvResetter is the reset-only surface of a real environment, used to seed a
// rollout from a real observation.
type EnvResetter interface {
	Reset() (Observations, error)
}
