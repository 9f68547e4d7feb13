package factors

import (
	"math"
	"sort"

	talib "github.com/markcheno/go-talib"
)

// divergenceEpsilon keeps standardization finite on flat series.
const divergenceEpsilon = 1e-10

// num maps NaN and infinities to nil.
func num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func ptr(v float64) *float64 { return &v }

func abs(v float64) float64 { return math.Abs(v) }

func valueOr(p *float64, fallback float64) float64 {
	if p == nil || math.IsNaN(*p) {
		return fallback
	}
	return *p
}

func pctChange(current, past float64) *float64 {
	return num((current/past - 1) * 100)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// popStd is the population standard deviation (ddof=0).
func popStd(xs []float64) float64 {
	switch len(xs) {
	case 0:
		return math.NaN()
	case 1:
		return 0
	}
	return last(talib.StdDev(xs, len(xs), 1))
}

// pearson is the correlation over the whole of both series. It is 0 when
// either side has zero variance and NaN when the lengths do not line up.
func pearson(xs, ys []float64) float64 {
	if len(xs) < 2 || len(xs) != len(ys) {
		return math.NaN()
	}
	r := last(talib.Correl(xs, ys, len(xs)))
	return math.Max(-1, math.Min(1, r))
}

func last(xs []float64) float64 { return xs[len(xs)-1] }

// quantile interpolates linearly between order statistics of sorted.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func sortedCopy(xs []float64) []float64 {
	out := append([]float64(nil), xs...)
	sort.Float64s(out)
	return out
}

// percentBelow is the share of window values strictly below v, in percent.
func percentBelow(window []float64, v float64) float64 {
	if len(window) == 0 {
		return math.NaN()
	}
	var below int
	for _, x := range window {
		if x < v {
			below++
		}
	}
	return float64(below) / float64(len(window)) * 100
}

func standardize(xs []float64) []float64 {
	m, s := mean(xs), popStd(xs)+divergenceEpsilon
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = (x - m) / s
	}
	return out
}
