// Package imageproc shrinks and re-encodes uploaded profile images.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

var ErrDecode = errors.New("imageproc: cannot decode image")

// Options control compression. Scale is the divisor applied to both
// dimensions; Quality is the JPEG quality.
type Options struct {
	Scale   float64
	Quality int
}

func DefaultOptions() Options {
	return Options{Scale: 1.5, Quality: 25}
}

// Image is an encoded JPEG and its dimensions.
type Image struct {
	Data   []byte
	Width  int
	Height int
}

type Compressor interface {
	Compress(src []byte) (*Image, error)
}

// TargetSize divides both dimensions by scale, never going below 1px.
func TargetSize(width, height int, scale float64) (int, int) {
	if scale < 1 {
		scale = 1
	}
	w := max(int(float64(width)/scale), 1)
	h := max(int(float64(height)/scale), 1)
	return w, h
}

// Imaging is a pure Go Compressor.
type Imaging struct {
	opts Options
}

func NewImaging(opts Options) *Imaging {
	return &Imaging{opts: opts}
}

func (c *Imaging) Compress(src []byte) (*Image, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	rgb := toRGB(img)
	b := rgb.Bounds()
	w, h := TargetSize(b.Dx(), b.Dy(), c.opts.Scale)
	resized := imaging.Resize(rgb, w, h, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(c.opts.Quality)); err != nil {
		return nil, fmt.Errorf("imageproc: encode jpeg: %w", err)
	}
	return &Image{Data: buf.Bytes(), Width: w, Height: h}, nil
}

// toRGB discards the alpha channel, keeping the underlying colour values.
func toRGB(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}
