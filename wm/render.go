// Rendering decoded observations to images.

package wm

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// FrameImage converts a frame to an RGBA image, mapping [0,1] to [0,255].
func FrameImage(f Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.W, f.H))
	for y := 0; y < f.H; y++ {
		for x := 0; x < f.W; x++ {
			offset := img.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := f.At(c, y, x)
				if v < 0 {
					v = 0
				} else if v > 1 {
					v = 1
				}
				img.Pix[offset+c] = uint8(v*255 + 0.5)
			}
			img.Pix[offset+3] = 0xff
		}
	}
	return img
}

func scaleImage(img image.Image, scale int) image.Image {
	if scale <= 1 {
		return img
	}
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx()*scale, bounds.Dy()*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// RenderBatch decodes the current observation tokens and converts every
// frame to an image, applying the configured render scale.
func (e *ModelEnv) RenderBatch() ([]image.Image, error) {
	obs, err := e.DecodeObsTokens()
	if err != nil {
		return nil, err
	}
	images := make([]image.Image, len(obs.Frames))
	for i, frame := range obs.Frames {
		images[i] = scaleImage(FrameImage(frame), e.renderScale)
	}
	return images, nil
}

// Render is RenderBatch for a batch of exactly one instance.
func (e *ModelEnv) Render() (image.Image, error) {
	if !e.ready {
		return nil, fmt.Errorf("%w: render before initialization", ErrState)
	}
	if len(e.obsTokens) != 1 {
		return nil, fmt.Errorf("%w: render requires batch size 1, have %d", ErrInvariant, len(e.obsTokens))
	}
	images, err := e.RenderBatch()
	if err != nil {
		return nil, err
	}
	return images[0], nil
}
