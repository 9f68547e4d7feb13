package util

import "math"

// RoundToStep rounds v to the nearest multiple of step, ties to even.
// Negative zero is returned as zero.
func RoundToStep(v, step float64) float64 {
	if step == 0 {
		return v
	}
	r := math.RoundToEven(v/step) * step
	if r == 0 {
		return 0
	}
	return r
}
