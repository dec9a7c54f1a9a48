package imaging

// Size is the geometry computed for one image.
type Size struct {
	Width, Height               int
	ResizedWidth, ResizedHeight int
	TargetWidth, TargetHeight   int
}

// Resize reports whether the image must be upscaled.
func (s Size) Resize() bool {
	return s.ResizedWidth != s.Width || s.ResizedHeight != s.Height
}

// Pad reports whether white padding must be added.
func (s Size) Pad() bool {
	return s.TargetWidth != s.ResizedWidth || s.TargetHeight != s.ResizedHeight
}

// Plan computes the uniform upscale that brings the shorter side to minSide
// (never downscaling) and the tile-aligned canvas. Scaling uses integer
// ceiling division so exact ratios do not pick up rounding error.
func Plan(w, h, minSide, tile int) Size {
	s := Size{Width: w, Height: h, ResizedWidth: w, ResizedHeight: h}

	short := min(w, h)
	if short < minSide {
		s.ResizedWidth = max(1, ceilDiv(w*minSide, short))
		s.ResizedHeight = max(1, ceilDiv(h*minSide, short))
	}

	s.TargetWidth = ceilDiv(s.ResizedWidth, tile) * tile
	s.TargetHeight = ceilDiv(s.ResizedHeight, tile) * tile
	return s
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
