package features

import (
	"math"
	"sort"
	"time"

	"FactorPulse/internal/domain/models"
)

// Closes extracts close prices in candle order.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts traded volumes in candle order.
func Volumes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// HighLowClose extracts the three series needed by range based indicators.
func HighLowClose(candles []models.Candle) (high, low, closes []float64) {
	high = make([]float64, len(candles))
	low = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	for i, c := range candles {
		high[i], low[i], closes[i] = c.High, c.Low, c.Close
	}
	return high, low, closes
}

// OpenInterest extracts the merged open interest series. Missing samples are NaN.
func OpenInterest(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		if c.OpenInterest == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *c.OpenInterest
	}
	return out
}

// SimpleReturns computes r_t = C_t / C_{t-1} - 1.
// It returns a slice of length len(series)-1, or nil if insufficient data.
func SimpleReturns(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		out = append(out, series[i]/series[i-1]-1)
	}
	return out
}

// Diff computes first differences x_t - x_{t-1}.
func Diff(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		out = append(out, series[i]-series[i-1])
	}
	return out
}

// Tail returns the last n elements, or the whole slice when shorter.
func Tail(series []float64, n int) []float64 {
	if n >= len(series) {
		return series
	}
	return series[len(series)-n:]
}

// MergeOpenInterest attaches open interest samples to candles sharing the
// same bucket. Candles without a matching sample keep a nil value.
func MergeOpenInterest(candles []models.Candle, points []models.OpenInterestPoint, interval time.Duration) []models.Candle {
	if len(points) == 0 {
		return candles
	}
	byBucket := make(map[int64]float64, len(points))
	for _, p := range points {
		byBucket[p.Timestamp.Truncate(interval).Unix()] = p.OpenInterest
	}
	out := make([]models.Candle, len(candles))
	copy(out, candles)
	for i := range out {
		if v, ok := byBucket[out[i].Bucket.Truncate(interval).Unix()]; ok {
			out[i].OpenInterest = models.Float64Ptr(v)
		}
	}
	return out
}

// SortCandles orders candles by bucket ascending and drops duplicate buckets,
// keeping the last occurrence.
func SortCandles(candles []models.Candle) []models.Candle {
	out := make([]models.Candle, len(candles))
	copy(out, candles)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	dedup := out[:0]
	for i := range out {
		if len(dedup) > 0 && dedup[len(dedup)-1].Bucket.Equal(out[i].Bucket) {
			dedup[len(dedup)-1] = out[i]
			continue
		}
		dedup = append(dedup, out[i])
	}
	return dedup
}

// IntervalDuration maps an exchange interval string to its duration.
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}
