package flipbook

import "math"

// PanBounds returns the lowest allowed pan for the scaled content. The
// highest allowed pan is always (0, 0).
func PanBounds(zoom float64, viewport, content Size) Point {
	return Point{
		X: math.Min(0, viewport.W-content.W*zoom),
		Y: math.Min(0, viewport.H-content.H*zoom),
	}
}

// ClampPan keeps the scaled content overlapping the viewport. An axis on
// which the content fits inside the viewport is pinned to 0.
func ClampPan(p Point, zoom float64, viewport, content Size) Point {
	lo := PanBounds(zoom, viewport, content)
	return Point{
		X: clamp(p.X, lo.X, 0),
		Y: clamp(p.Y, lo.Y, 0),
	}
}

// Recenter keeps the content point under the viewport center fixed while
// zoom changes from z0 to z1, then clamps against z1.
func Recenter(z0, z1 float64, pan Point, viewport, content Size) Point {
	if z0 <= 0 || !finite(z0, z1) {
		return ClampPan(pan, z1, viewport, content)
	}
	halfW, halfH := viewport.W/2, viewport.H/2

	// Center in z0-scaled content coordinates
	cx := -pan.X + halfW
	cy := -pan.Y + halfH

	scale := z1 / z0
	cx *= scale
	cy *= scale

	next := Point{X: -(cx - halfW), Y: -(cy - halfH)}
	return ClampPan(next, z1, viewport, content)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
