package render

import (
	"image/color"
	"math"
)

// HSV converts hue in degrees and saturation/value in [0,1] to an opaque
// RGBA color. Hue wraps; saturation and value clamp.
func HSV(hueDeg, sat, val float64) color.RGBA {
	h := math.Mod(hueDeg, 360)
	if h < 0 {
		h += 360
	}

	s := clamp01(sat)
	v := clamp01(val)

	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64

	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return color.RGBA{
		R: uint8((r + m) * 255),
		G: uint8((g + m) * 255),
		B: uint8((b + m) * 255),
		A: 255,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}
