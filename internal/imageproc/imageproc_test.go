package imageproc

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
)

func pngBytes(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, imaging.New(w, h, c)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestTargetSize(t *testing.T) {
	tests := []struct {
		w, h   int
		scale  float64
		ww, wh int
	}{
		{300, 150, 1.5, 200, 100},
		{1000, 1000, 1.5, 666, 666},
		{1, 1, 1.5, 1, 1},
		{640, 480, 1, 640, 480},
		{640, 480, 0.5, 640, 480},
	}
	for _, tt := range tests {
		w, h := TargetSize(tt.w, tt.h, tt.scale)
		if w != tt.ww || h != tt.wh {
			t.Errorf("TargetSize(%d, %d, %v) = %dx%d, want %dx%d", tt.w, tt.h, tt.scale, w, h, tt.ww, tt.wh)
		}
	}
}

func TestImagingCompress(t *testing.T) {
	src := pngBytes(t, 300, 150, color.NRGBA{R: 200, G: 30, B: 90, A: 128})

	out, err := NewImaging(DefaultOptions()).Compress(src)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if out.Width != 200 || out.Height != 100 {
		t.Fatalf("size = %dx%d, want 200x100", out.Width, out.Height)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("format = %q, want jpeg", format)
	}
	if cfg.Width != 200 || cfg.Height != 100 {
		t.Fatalf("encoded size = %dx%d, want 200x100", cfg.Width, cfg.Height)
	}

	// alpha is dropped, not blended to black
	img, err := imaging.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatal(err)
	}
	r, _, _, _ := img.At(100, 50).RGBA()
	if r>>8 < 150 {
		t.Fatalf("red channel = %d, expected the unblended colour to survive", r>>8)
	}
}

func TestImagingQualityAffectsSize(t *testing.T) {
	img := imaging.New(400, 400, color.NRGBA{A: 255})
	for x := 0; x < 400; x++ {
		for y := 0; y < 400; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	low, err := NewImaging(Options{Scale: 1.5, Quality: 25}).Compress(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	high, err := NewImaging(Options{Scale: 1.5, Quality: 95}).Compress(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(low.Data) >= len(high.Data) {
		t.Fatalf("quality 25 produced %d bytes, quality 95 produced %d", len(low.Data), len(high.Data))
	}
}

func TestImagingRejectsNonImages(t *testing.T) {
	_, err := NewImaging(DefaultOptions()).Compress([]byte("definitely not an image"))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}
