package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basilysf1709/file-renamer-ai/internal/metrics"
)

type countingRecorder struct {
	metrics.NoopRecorder
	failures map[string]int
}

func (r *countingRecorder) IncImageNormalizeFailure(reason string) {
	if r.failures == nil {
		r.failures = map[string]int{}
	}
	r.failures[reason]++
}

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h, color.NRGBA{R: 255, A: 255})))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solid(w, h, color.NRGBA{B: 200, A: 255}), nil))
	return buf.Bytes()
}

func decodedSize(t *testing.T, data []byte) (int, int, string) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height, format
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name        string
		w, h        int
		resizedW    int
		resizedH    int
		targetW     int
		targetH     int
		resize, pad bool
	}{
		{"small portrait upscales exactly", 100, 200, 224, 448, 224, 448, true, false},
		{"tiny square", 10, 10, 224, 224, 224, 224, true, false},
		{"upscale then pad", 50, 80, 224, 359, 224, 364, true, true},
		{"large image only pads", 300, 301, 300, 301, 308, 308, false, true},
		{"compliant image is identity", 224, 280, 224, 280, 224, 280, false, false},
		{"never downscales", 1000, 560, 1000, 560, 1008, 560, false, true},
		{"wide strip", 1000, 100, 2240, 224, 2240, 224, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Plan(tt.w, tt.h, DefaultMinSide, DefaultTile)
			assert.Equal(t, tt.resizedW, s.ResizedWidth)
			assert.Equal(t, tt.resizedH, s.ResizedHeight)
			assert.Equal(t, tt.targetW, s.TargetWidth)
			assert.Equal(t, tt.targetH, s.TargetHeight)
			assert.Equal(t, tt.resize, s.Resize())
			assert.Equal(t, tt.pad, s.Pad())
		})
	}
}

func TestPlanProperties(t *testing.T) {
	for w := 1; w <= 400; w += 13 {
		for h := 1; h <= 400; h += 17 {
			s := Plan(w, h, DefaultMinSide, DefaultTile)
			if w < DefaultMinSide || h < DefaultMinSide {
				assert.GreaterOrEqual(t, s.TargetWidth, DefaultMinSide)
				assert.GreaterOrEqual(t, s.TargetHeight, DefaultMinSide)
			}
			assert.Zero(t, s.TargetWidth%DefaultTile, "width %dx%d", w, h)
			assert.Zero(t, s.TargetHeight%DefaultTile, "height %dx%d", w, h)
			assert.GreaterOrEqual(t, s.ResizedWidth, w)
			assert.GreaterOrEqual(t, s.ResizedHeight, h)
		}
	}
}

func TestNormalizeUpscalesPNG(t *testing.T) {
	n := NewNormalizer(0, 0, nil, nil)
	res := n.Normalize(encodePNG(t, 100, 200), "cat.png", "image/png")

	require.True(t, res.Changed)
	w, h, format := decodedSize(t, res.Data)
	assert.Equal(t, 224, w)
	assert.Equal(t, 448, h)
	assert.Equal(t, "png", format)
	assert.Equal(t, 224, res.Width)
	assert.Equal(t, 448, res.Height)
}

func TestNormalizePadsWithWhite(t *testing.T) {
	n := NewNormalizer(DefaultMinSide, DefaultTile, nil, nil)
	res := n.Normalize(encodePNG(t, 300, 300), "big.png", "image/png")

	require.True(t, res.Changed)
	img, err := png.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 308, 308), img.Bounds())

	r, g, b, a := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{0xffff, 0, 0, 0xffff}, []uint32{r, g, b, a}, "original content stays top-left")

	r, g, b, a = img.At(307, 307).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff, 0xffff}, []uint32{r, g, b, a}, "padding is opaque white")
}

func TestNormalizeKeepsJPEGFormat(t *testing.T) {
	n := NewNormalizer(DefaultMinSide, DefaultTile, nil, nil)
	res := n.Normalize(encodeJPEG(t, 50, 80), "dog.jpg", "image/jpeg")

	require.True(t, res.Changed)
	w, h, format := decodedSize(t, res.Data)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 224, w)
	assert.Equal(t, 364, h)
}

func TestNormalizeIdentityOnCompliantInput(t *testing.T) {
	rec := &countingRecorder{}
	n := NewNormalizer(DefaultMinSide, DefaultTile, nil, rec)
	data := encodePNG(t, 224, 280)

	res := n.Normalize(data, "ok.png", "image/png")
	assert.False(t, res.Changed)
	assert.Equal(t, data, res.Data)
	assert.Empty(t, rec.failures)
}

func TestNormalizeFailsOpen(t *testing.T) {
	rec := &countingRecorder{}
	n := NewNormalizer(DefaultMinSide, DefaultTile, nil, rec)
	data := []byte("definitely not an image")

	res := n.Normalize(data, "notes.png", "image/png")
	assert.False(t, res.Changed)
	assert.Equal(t, data, res.Data)
	assert.Equal(t, 1, rec.failures["decode_config"])
}

func TestNormalizeRejectsOversizedCanvas(t *testing.T) {
	tests := []struct {
		name      string
		w, h      int
		maxPixels int
	}{
		// A 1px strip upscales to 224x336000.
		{"thin strip", 1, 1500, 0},
		{"custom budget", 100, 200, 100_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &countingRecorder{}
			n := NewNormalizer(DefaultMinSide, DefaultTile, nil, rec, WithMaxPixels(tt.maxPixels))
			data := encodePNG(t, tt.w, tt.h)

			res := n.Normalize(data, "strip.png", "image/png")
			assert.False(t, res.Changed)
			assert.Equal(t, data, res.Data)
			assert.Equal(t, 1, rec.failures["too_large"])
		})
	}
}

func TestNormalizeWithinBudget(t *testing.T) {
	n := NewNormalizer(DefaultMinSide, DefaultTile, nil, nil, WithMaxPixels(224*448))

	res := n.Normalize(encodePNG(t, 100, 200), "a.png", "image/png")
	require.True(t, res.Changed)
	assert.Equal(t, 224, res.Width)
	assert.Equal(t, 448, res.Height)
}

func TestExceeds(t *testing.T) {
	assert.False(t, exceeds(224, 448, 224*448))
	assert.True(t, exceeds(224, 449, 224*448))
	assert.True(t, exceeds(1<<40, 1<<40, DefaultMaxPixels))
}

// BenchmarkNormalize measures a typical phone thumbnail that needs both
// upscaling and padding.
func BenchmarkNormalize(b *testing.B) {
	b.ReportAllocs()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solid(160, 120, color.NRGBA{G: 90, A: 255}), nil); err != nil {
		b.Fatal(err)
	}
	data := buf.Bytes()
	n := NewNormalizer(DefaultMinSide, DefaultTile, nil, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if res := n.Normalize(data, "thumb.jpg", "image/jpeg"); !res.Changed {
			b.Fatal("expected the image to be resized")
		}
	}
}
