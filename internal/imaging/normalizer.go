// Package imaging prepares uploaded images for the vision model: a minimum
// side length and dimensions aligned to the model's tile size.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"

	imglib "github.com/disintegration/imaging"

	"github.com/basilysf1709/file-renamer-ai/internal/metrics"
)

const (
	DefaultMinSide = 224
	DefaultTile    = 28

	// DefaultMaxPixels bounds the output canvas, about 96 MiB as NRGBA.
	DefaultMaxPixels = 24_000_000
)

var (
	errNoDimensions = errors.New("image has no dimensions")
	errTooLarge     = errors.New("normalized image exceeds pixel budget")
)

// Result is the outcome of Normalize. Data is the original slice when
// Changed is false.
type Result struct {
	Data    []byte
	Changed bool
	Width   int
	Height  int
}

// normalizeError tags a failure with a short reason for metrics.
type normalizeError struct {
	reason string
	err    error
}

func (e *normalizeError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *normalizeError) Unwrap() error { return e.err }

type Normalizer struct {
	minSide   int
	tile      int
	maxPixels int
	logger    *slog.Logger
	metrics   metrics.Recorder
}

type Option func(*Normalizer)

// WithMaxPixels caps width*height of the normalized image. Larger results
// are not produced; the original bytes are forwarded instead.
func WithMaxPixels(n int) Option {
	return func(nz *Normalizer) {
		if n > 0 {
			nz.maxPixels = n
		}
	}
}

func NewNormalizer(minSide, tile int, logger *slog.Logger, rec metrics.Recorder, opts ...Option) *Normalizer {
	if minSide <= 0 {
		minSide = DefaultMinSide
	}
	if tile <= 0 {
		tile = DefaultTile
	}
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.NewNoop()
	}
	n := &Normalizer{minSide: minSide, tile: tile, maxPixels: DefaultMaxPixels, logger: logger, metrics: rec}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize upscales data so its shorter side reaches the minimum, then pads
// right and bottom with white to the next tile multiple. It never fails: on
// any error the original bytes are returned and the failure is logged and
// counted.
func (n *Normalizer) Normalize(data []byte, filename, contentType string) Result {
	res, err := n.normalize(data)
	if err != nil {
		reason := "unknown"
		var ne *normalizeError
		if errors.As(err, &ne) {
			reason = ne.reason
		}
		n.logger.Warn("Image normalization failed, forwarding original",
			"filename", filename,
			"content_type", contentType,
			"reason", reason,
			"error", err)
		n.metrics.IncImageNormalizeFailure(reason)
		return Result{Data: data}
	}
	return res
}

func (n *Normalizer) normalize(data []byte) (Result, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Result{}, &normalizeError{reason: "decode_config", err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Result{}, &normalizeError{reason: "decode_config", err: errNoDimensions}
	}

	size := Plan(cfg.Width, cfg.Height, n.minSide, n.tile)
	if !size.Resize() && !size.Pad() {
		return Result{Data: data, Width: cfg.Width, Height: cfg.Height}, nil
	}
	if exceeds(size.TargetWidth, size.TargetHeight, n.maxPixels) {
		return Result{}, &normalizeError{
			reason: "too_large",
			err:    fmt.Errorf("%w: %dx%d", errTooLarge, size.TargetWidth, size.TargetHeight),
		}
	}

	outFormat, err := imglib.FormatFromExtension(format)
	if err != nil {
		return Result{}, &normalizeError{reason: "unsupported_format", err: err}
	}

	src, err := imglib.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, &normalizeError{reason: "decode", err: err}
	}

	var out image.Image = src
	if size.Resize() {
		out = imglib.Resize(src, size.ResizedWidth, size.ResizedHeight, imglib.Lanczos)
	}
	if size.Pad() {
		canvas := imglib.New(size.TargetWidth, size.TargetHeight, color.White)
		out = imglib.Paste(canvas, out, image.Pt(0, 0))
	}

	var buf bytes.Buffer
	if err := imglib.Encode(&buf, out, outFormat); err != nil {
		return Result{}, &normalizeError{reason: "encode", err: fmt.Errorf("%s: %w", format, err)}
	}

	return Result{
		Data:    buf.Bytes(),
		Changed: true,
		Width:   size.TargetWidth,
		Height:  size.TargetHeight,
	}, nil
}

// exceeds reports w*h > limit without overflowing.
func exceeds(w, h, limit int) bool {
	return w > limit/h
}
