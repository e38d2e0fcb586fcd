package render

// Fit selects how a source picture is mapped onto the surface.
type Fit uint8

const (
	// FitCover scales the source to cover the surface, cropping overflow.
	FitCover Fit = iota
	// FitContain scales the source to fit inside the surface, letterboxing.
	FitContain
	// FitFill stretches the source to the surface, ignoring aspect ratio.
	FitFill
)

// String returns the wire name of the fit mode.
func (f Fit) String() string {
	switch f {
	case FitContain:
		return "contain"
	case FitFill:
		return "fill"
	default:
		return "cover"
	}
}

// ParseFit maps a wire name onto a fit mode. Unknown names fall back to
// cover rather than failing.
func ParseFit(s string) Fit {
	switch s {
	case "contain":
		return FitContain
	case "fill":
		return FitFill
	default:
		return FitCover
	}
}

// FitRect places a srcW x srcH picture onto a dstW x dstH surface under the
// given fit mode. Cover may return a rectangle larger than the surface
// (cropped at draw time), contain letterboxes, fill stretches. Degenerate
// dimensions collapse to fill.
func FitRect(mode Fit, srcW, srcH, dstW, dstH int) Rect {
	full := Rect{W: dstW, H: dstH}
	if srcW < 1 || srcH < 1 || dstW < 1 || dstH < 1 || mode == FitFill {
		return full
	}

	sx := float64(dstW) / float64(srcW)
	sy := float64(dstH) / float64(srcH)

	var scale float64

	switch mode {
	case FitCover:
		scale = sx
		if sy > scale {
			scale = sy
		}
	case FitContain:
		scale = sx
		if sy < scale {
			scale = sy
		}
	default:
		return full
	}

	w := int(float64(srcW)*scale + 0.5)
	h := int(float64(srcH)*scale + 0.5)

	return Rect{
		X: (dstW - w) / 2,
		Y: (dstH - h) / 2,
		W: w,
		H: h,
	}
}
