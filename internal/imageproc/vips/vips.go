// Package vips compresses images with libvips through bimg. It needs cgo
// and libvips at build time, so it lives apart from the pure Go compressor.
package vips

import (
	"fmt"

	"github.com/h2non/bimg"

	"github.com/babl-app/babl/internal/imageproc"
)

type Compressor struct {
	opts imageproc.Options
}

func New(opts imageproc.Options) *Compressor {
	return &Compressor{opts: opts}
}

func (c *Compressor) Compress(src []byte) (*imageproc.Image, error) {
	img := bimg.NewImage(src)
	meta, err := img.Metadata()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", imageproc.ErrDecode, err)
	}

	width, height := meta.Size.Width, meta.Size.Height
	// EXIF orientations 5-8 swap the axes once auto-rotated
	if meta.Orientation >= 5 && meta.Orientation <= 8 {
		width, height = height, width
	}
	w, h := imageproc.TargetSize(width, height, c.opts.Scale)

	out, err := img.Process(bimg.Options{
		Width:          w,
		Height:         h,
		Force:          true,
		Quality:        c.opts.Quality,
		Type:           bimg.JPEG,
		Interpretation: bimg.InterpretationSRGB,
		Flatten:        true,
		StripMetadata:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("vips: process image: %w", err)
	}
	return &imageproc.Image{Data: out, Width: w, Height: h}, nil
}
