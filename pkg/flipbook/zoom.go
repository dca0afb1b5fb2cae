package flipbook

import "math"

// zoomSteps is the fixed ordered set of zoom levels
var zoomSteps = [...]float64{0.5, 0.75, 1, 1.25, 1.5, 2, 3}

const (
	// MinZoom is the smallest zoom step
	MinZoom = 0.5
	// MaxZoom is the largest zoom step
	MaxZoom = 3.0
)

// Steps returns a copy of the zoom steps in ascending order
func Steps() []float64 {
	out := make([]float64, len(zoomSteps))
	copy(out, zoomSteps[:])
	return out
}

// StepUp returns the smallest step strictly greater than z, or MaxZoom
func StepUp(z float64) float64 {
	for _, s := range zoomSteps {
		if s > z {
			return s
		}
	}
	return MaxZoom
}

// StepDown returns the largest step strictly less than z, or MinZoom.
// Values above MaxZoom step down to MaxZoom.
func StepDown(z float64) float64 {
	i := len(zoomSteps)
	for j, s := range zoomSteps {
		if s >= z {
			i = j
			break
		}
	}
	if i <= 0 {
		return MinZoom
	}
	return zoomSteps[i-1]
}

// NearestStep snaps z to the closest step; ties go to the lower step.
// NaN snaps to 1.
func NearestStep(z float64) float64 {
	if math.IsNaN(z) {
		return 1
	}
	best := zoomSteps[0]
	bestDist := math.Abs(z - best)
	for _, s := range zoomSteps[1:] {
		if d := math.Abs(z - s); d < bestDist {
			best, bestDist = s, d
		}
	}
	return best
}

// IsStep reports whether z is exactly one of the zoom steps
func IsStep(z float64) bool {
	for _, s := range zoomSteps {
		if s == z {
			return true
		}
	}
	return false
}
