package usecase

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"FactorPulse/internal/domain/models"
	"FactorPulse/pkg/util"
)

const (
	// MaxSummaryChars is the Telegram message limit.
	MaxSummaryChars = 4096

	sentimentThresholdPct = 60
	volumeAnomalyZ        = 2.0
	noteMomentumPct       = 5.0
	outliersPerSide       = 5

	opportunityMomentumPct = 5.0
	opportunityVolumeZ     = 1.5
	opportunityLimit       = 3
	oversoldZ              = -2.0
	oversoldMinScore       = -0.3
	oversoldLimit          = 2

	separator = "────────────────────────────────────────"
)

var sentimentEmoji = map[models.Sentiment]string{
	models.SentimentBullish: "🟢",
	models.SentimentBearish: "🔴",
	models.SentimentMixed:   "🟡",
}

var sentimentLabel = map[models.Sentiment]string{
	models.SentimentBullish: "Bullish",
	models.SentimentBearish: "Bearish",
	models.SentimentMixed:   "Mixed",
}

// SummaryGenerator renders the market report sent after each run.
type SummaryGenerator struct {
	loc *time.Location
	now func() time.Time
}

// NewSummaryGenerator renders timestamps in the named timezone, UTC when unknown.
func NewSummaryGenerator(timezone string) *SummaryGenerator {
	return &SummaryGenerator{loc: util.LoadLocation(timezone), now: time.Now}
}

// Generate builds the summary text and its dedupe hash from the latest
// outliers and the full score batch.
func (g *SummaryGenerator) Generate(outliers, scores []models.ScoreRecord) models.Summary {
	state := AnalyzeMarket(outliers, scores)
	now := g.now()
	return models.Summary{
		Timestamp: now.UTC(),
		Hash:      SummaryHash(state),
		Text:      g.Render(state, now),
	}
}

// AnalyzeMarket aggregates a batch into the figures shown in the report.
func AnalyzeMarket(outliers, scores []models.ScoreRecord) models.MarketState {
	st := models.MarketState{Analyzed: len(scores), Sentiment: models.SentimentMixed}

	var momSum float64
	var momN int
	for _, r := range scores {
		if s, ok := r.Score(); ok {
			switch {
			case s > 0:
				st.Bullish++
			case s < 0:
				st.Bearish++
			}
		}
		if r.MomentumFactors.Momentum24h != nil {
			momSum += *r.MomentumFactors.Momentum24h
			momN++
		}
		if r.VolumeFactors.AnomalyZScore != nil && *r.VolumeFactors.AnomalyZScore > volumeAnomalyZ {
			st.VolumeAnomalies++
		}
	}
	if st.Analyzed > 0 {
		st.BullishPct = float64(st.Bullish) / float64(st.Analyzed) * 100
		st.BearishPct = float64(st.Bearish) / float64(st.Analyzed) * 100
	}
	if momN > 0 {
		st.AvgMomentum24h = momSum / float64(momN)
	}
	switch {
	case st.BullishPct > sentimentThresholdPct:
		st.Sentiment = models.SentimentBullish
	case st.BearishPct > sentimentThresholdPct:
		st.Sentiment = models.SentimentBearish
	}

	for _, r := range outliers {
		switch r.OutlierType {
		case models.OutlierTop:
			if len(st.TopOutliers) < outliersPerSide {
				st.TopOutliers = append(st.TopOutliers, r)
			}
		case models.OutlierBottom:
			if len(st.BottomOutliers) < outliersPerSide {
				st.BottomOutliers = append(st.BottomOutliers, r)
			}
		}
	}

	st.MomentumVolumeHits = momentumVolumeHits(scores)
	st.OversoldHits = oversoldHits(scores)
	return st
}

func momentumVolumeHits(scores []models.ScoreRecord) []models.ScoreRecord {
	hits := make([]models.ScoreRecord, 0)
	for _, r := range scores {
		if r.MomentumFactors.Momentum24h == nil || r.VolumeFactors.AnomalyZScore == nil {
			continue
		}
		if *r.MomentumFactors.Momentum24h > opportunityMomentumPct && *r.VolumeFactors.AnomalyZScore > opportunityVolumeZ {
			hits = append(hits, r)
		}
	}
	// unscored records sort last
	sort.SliceStable(hits, func(i, j int) bool {
		a, aok := hits[i].Score()
		b, bok := hits[j].Score()
		if aok != bok {
			return aok
		}
		return a > b
	})
	if len(hits) > opportunityLimit {
		hits = hits[:opportunityLimit]
	}
	return hits
}

func oversoldHits(scores []models.ScoreRecord) []models.ScoreRecord {
	hits := make([]models.ScoreRecord, 0)
	for _, r := range scores {
		s, ok := r.Score()
		if !ok || r.ZScore == nil {
			continue
		}
		if *r.ZScore < oversoldZ && s > oversoldMinScore {
			hits = append(hits, r)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return *hits[i].ZScore < *hits[j].ZScore })
	if len(hits) > oversoldLimit {
		hits = hits[:oversoldLimit]
	}
	return hits
}

// Render formats the report as Telegram Markdown.
func (g *SummaryGenerator) Render(st models.MarketState, at time.Time) string {
	var b strings.Builder
	b.WriteString("📊 *Market Analysis Summary*\n")
	fmt.Fprintf(&b, "⏰ %s\n", util.FormatOffset(at, g.loc))
	b.WriteString(separator + "\n")

	b.WriteString("\n📈 *Market State Overview*\n")
	if st.Analyzed == 0 {
		b.WriteString("No data available for analysis.\n")
	} else {
		fmt.Fprintf(&b, "📊 Analyzed: %d assets\n", st.Analyzed)
		fmt.Fprintf(&b, "📈 Sentiment: %s *%s*\n", sentimentEmoji[st.Sentiment], sentimentLabel[st.Sentiment])
		fmt.Fprintf(&b, "🟢 Bullish: %.1f%% (%d assets)\n", st.BullishPct, st.Bullish)
		fmt.Fprintf(&b, "🔴 Bearish: %.1f%% (%d assets)\n", st.BearishPct, st.Bearish)
		fmt.Fprintf(&b, "📊 Avg 24h Momentum: %+.2f%%\n", st.AvgMomentum24h)
		if st.VolumeAnomalies > 0 {
			fmt.Fprintf(&b, "📊 High Volume Anomalies: %d assets\n", st.VolumeAnomalies)
		}
	}

	if len(st.TopOutliers) == 0 && len(st.BottomOutliers) == 0 {
		b.WriteString("\n🚨 *Outliers*\n")
		b.WriteString("No significant outliers detected at this time.\n")
	} else {
		b.WriteString("\n🚨 *Key Outliers*\n")
		if len(st.TopOutliers) > 0 {
			b.WriteString("🟢 *Top Outliers (Bullish):*\n")
			writeOutliers(&b, st.TopOutliers)
		}
		if len(st.BottomOutliers) > 0 {
			b.WriteString("\n🔴 *Bottom Outliers (Bearish):*\n")
			writeOutliers(&b, st.BottomOutliers)
		}
	}

	b.WriteString("\n💎 *Top Opportunities*\n")
	switch {
	case st.Analyzed == 0:
		b.WriteString("No opportunities identified.")
	case len(st.MomentumVolumeHits) == 0 && len(st.OversoldHits) == 0:
		b.WriteString("No specific opportunities identified at this time.")
	default:
		lines := make([]string, 0, len(st.MomentumVolumeHits)+len(st.OversoldHits))
		for _, r := range st.MomentumVolumeHits {
			lines = append(lines, fmt.Sprintf("  • %s: Strong momentum (%+.1f%%) + high volume", r.Symbol, *r.MomentumFactors.Momentum24h))
		}
		for _, r := range st.OversoldHits {
			lines = append(lines, fmt.Sprintf("  • %s: Oversold (z-score: %.2f) - potential bounce", r.Symbol, *r.ZScore))
		}
		b.WriteString(strings.Join(lines, "\n"))
	}

	return truncateSummary(b.String())
}

func writeOutliers(b *strings.Builder, records []models.ScoreRecord) {
	for _, r := range records {
		line := fmt.Sprintf("  • %s: Score %+.3f", r.Symbol, models.Deref(r.CompositeScore))
		if note := factorNote(r); note != "" {
			line += " " + note
		}
		b.WriteString(line + "\n")
	}
}

// factorNote names the factor that stands out most for an outlier.
func factorNote(r models.ScoreRecord) string {
	vz := r.VolumeFactors.AnomalyZScore
	if vz != nil && !math.IsNaN(*vz) && *vz > volumeAnomalyZ {
		return fmt.Sprintf("📊 Vol anomaly: %.1f", *vz)
	}
	if m := r.MomentumFactors.Momentum24h; m != nil && !math.IsNaN(*m) && math.Abs(*m) > noteMomentumPct {
		return fmt.Sprintf("📈 Momentum: %+.1f%%", *m)
	}
	return ""
}

func truncateSummary(s string) string {
	if utf8.RuneCountInString(s) <= MaxSummaryChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxSummaryChars-4]) + "\n..."
}

// SummaryHash is the dedupe signature of a report. It covers which assets
// are listed and coarse market figures, so small score moves between runs
// produce the same hash.
func SummaryHash(st models.MarketState) string {
	parts := []string{
		"sentiment:" + sentimentEmoji[st.Sentiment],
		fmt.Sprintf("bullish:%.0f%%", util.RoundToStep(st.BullishPct, 2)),
		fmt.Sprintf("bearish:%.0f%%", util.RoundToStep(st.BearishPct, 2)),
		fmt.Sprintf("avg_momentum:%.0f%%", util.RoundToStep(st.AvgMomentum24h, 50)),
	}
	for _, r := range st.TopOutliers {
		parts = append(parts, "top_outlier:"+r.Symbol)
	}
	for _, r := range st.BottomOutliers {
		parts = append(parts, "bottom_outlier:"+r.Symbol)
	}
	for _, r := range st.MomentumVolumeHits {
		parts = append(parts, "opportunity:"+r.Symbol)
	}
	for _, r := range st.OversoldHits {
		parts = append(parts, "opportunity:"+r.Symbol)
	}
	if st.VolumeAnomalies > 0 {
		parts = append(parts, fmt.Sprintf("volume_anomalies:%d", st.VolumeAnomalies))
	}
	sort.Strings(parts)
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
