package factors

import (
	"math"
	"time"

	"FactorPulse/internal/domain/models"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// walkRand is a fixed-seed generator so scenarios are reproducible.
type walkRand struct{ state uint64 }

func (r *walkRand) float() float64 {
	r.state = r.state*6364136223846793005 + 1442695040888963407
	return float64(r.state>>11) / (1 << 53)
}

func (r *walkRand) norm() float64 {
	u1, u2 := r.float(), r.float()
	if u1 < 1e-300 {
		u1 = 1e-300
	}
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

func candlesFromCloses(closes []float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Bucket:   t0.Add(time.Duration(i) * time.Hour),
			Exchange: "binance",
			Symbol:   "ETHUSDT",
			Interval: "1h",
			Open:     c,
			High:     c * 1.01,
			Low:      c * 0.99,
			Close:    c,
			Volume:   1000 + float64(i),
		}
	}
	return out
}

// logNormalWalk draws n hourly candles with 1% log returns.
func logNormalWalk(seed uint64, n int) []models.Candle {
	r := &walkRand{state: seed}
	out := make([]models.Candle, n)
	price := 100.0
	for i := range out {
		open := price
		price *= math.Exp(0.01 * r.norm())
		out[i] = models.Candle{
			Bucket:   t0.Add(time.Duration(i) * time.Hour),
			Exchange: "binance",
			Symbol:   "SOLUSDT",
			Interval: "1h",
			Open:     open,
			High:     math.Max(open, price) * 1.002,
			Low:      math.Min(open, price) * 0.998,
			Close:    price,
			Volume:   1000 * math.Exp(0.3*r.norm()),
		}
	}
	return out
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func scoreRecords(scores ...float64) []models.ScoreRecord {
	out := make([]models.ScoreRecord, len(scores))
	for i, s := range scores {
		out[i] = models.ScoreRecord{
			Timestamp:      t0,
			Exchange:       "binance",
			Symbol:         "SYM" + string(rune('A'+i%26)) + string(rune('A'+i/26)),
			CompositeScore: models.Float64Ptr(s),
			OutlierType:    models.OutlierNone,
		}
	}
	return out
}
