package factors

import (
	"math"
	"sort"

	"FactorPulse/internal/domain/models"
)

// minIQRPopulation is the smallest scored population the IQR method runs on.
const minIQRPopulation = 4

// IdentifyOutliers flags outliers within one score batch. It returns a new
// slice in input order and leaves records untouched.
//
// With UseIQR and at least four scored records the IQR bounds decide,
// otherwise the population z-score does. The TopN highest and BottomN
// lowest scores are then always flagged, bottom winning on overlap.
func (c *Calculator) IdentifyOutliers(records []models.ScoreRecord) []models.ScoreRecord {
	out := make([]models.ScoreRecord, len(records))
	copy(out, records)
	if len(out) == 0 {
		return out
	}

	scored := make([]int, 0, len(out))
	values := make([]float64, 0, len(out))
	for i := range out {
		out[i].IsOutlier = false
		out[i].OutlierType = models.OutlierNone
		if s, ok := out[i].Score(); ok && !math.IsNaN(s) {
			scored = append(scored, i)
			values = append(values, s)
		}
	}
	if len(scored) == 0 {
		return out
	}

	if c.cfg.UseIQR && len(values) >= minIQRPopulation {
		c.flagIQR(out, scored, values)
	} else {
		c.flagZScore(out, scored, values)
	}
	c.forceExtremes(out, scored)
	return out
}

func (c *Calculator) flagIQR(out []models.ScoreRecord, scored []int, values []float64) {
	sorted := sortedCopy(values)
	q1, q3 := quantile(sorted, 0.25), quantile(sorted, 0.75)
	iqr := q3 - q1
	lower := q1 - c.cfg.IQRMultiplier*iqr
	upper := q3 + c.cfg.IQRMultiplier*iqr

	for k, i := range scored {
		switch v := values[k]; {
		case v > upper:
			flag(&out[i], models.OutlierTop)
		case v < lower:
			flag(&out[i], models.OutlierBottom)
		}
	}
}

func (c *Calculator) flagZScore(out []models.ScoreRecord, scored []int, values []float64) {
	std := popStd(values)
	if std == 0 || math.IsNaN(std) {
		return
	}
	m := mean(values)
	threshold := c.cfg.Thresholds.OutlierZScore

	for k, i := range scored {
		z := (values[k] - m) / std
		if math.Abs(z) < threshold {
			continue
		}
		if z > 0 {
			flag(&out[i], models.OutlierTop)
		} else {
			flag(&out[i], models.OutlierBottom)
		}
	}
}

func (c *Calculator) forceExtremes(out []models.ScoreRecord, scored []int) {
	topN, bottomN := c.cfg.Thresholds.TopN, c.cfg.Thresholds.BottomN
	if topN <= 0 && bottomN <= 0 {
		return
	}

	order := append([]int(nil), scored...)
	sort.SliceStable(order, func(a, b int) bool {
		return *out[order[a]].CompositeScore > *out[order[b]].CompositeScore
	})

	if topN > 0 {
		for _, i := range order[:min(topN, len(order))] {
			flag(&out[i], models.OutlierTop)
		}
	}
	if bottomN > 0 {
		for _, i := range order[len(order)-min(bottomN, len(order)):] {
			flag(&out[i], models.OutlierBottom)
		}
	}
}

func flag(r *models.ScoreRecord, t models.OutlierType) {
	r.IsOutlier = true
	r.OutlierType = t
}
