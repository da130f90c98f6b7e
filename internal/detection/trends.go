package detection

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/orgpulse/orgpulse/internal/database"
)

// SeriesPoint is one sample of a metric time series
type SeriesPoint struct {
	Timestamp time.Time
	Value     float64
}

// TrendAcceleration describes a metric whose recent window is accelerating
// away from its baseline.
type TrendAcceleration struct {
	Metric              string
	Baseline            float64
	Current             float64
	ChangeRate          float64 // percent
	AccelerationFactor  float64
	Severity            database.Severity
	Confidence          int
	PredictedEscalation *time.Time
	RiskIndicators      []string
	WindowDays          int
	PointCount          int
}

// minTrendPoints is the minimum series length analyzed
const minTrendPoints = 10

// maxEscalationHorizonDays caps how far ahead a doubling prediction is
// reported
const maxEscalationHorizonDays = 90.0

// AnalyzeTrends runs AnalyzeTrend over every series and collects the metrics
// that are accelerating.
func AnalyzeTrends(series map[string][]SeriesPoint, now time.Time, windowDays int) []TrendAcceleration {
	metrics := make([]string, 0, len(series))
	for metric := range series {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	var results []TrendAcceleration
	for _, metric := range metrics {
		if accel := AnalyzeTrend(metric, series[metric], now, windowDays); accel != nil {
			results = append(results, *accel)
		}
	}
	return results
}

// AnalyzeTrend compares the oldest and newest thirds of a metric series and
// reports an acceleration when the recent window has moved far enough from
// the baseline. Returns nil when the series is too short or stable.
func AnalyzeTrend(metric string, points []SeriesPoint, now time.Time, windowDays int) *TrendAcceleration {
	if len(points) < minTrendPoints {
		return nil
	}

	sorted := make([]SeriesPoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	sliceLen := len(sorted) / 3
	if sliceLen < 1 {
		sliceLen = 1
	}
	baselineSlice := sorted[:sliceLen]
	recentSlice := sorted[len(sorted)-sliceLen:]

	baseline := meanValues(baselineSlice)
	current := meanValues(recentSlice)

	changeRate := clampValue((current - baseline) / baseline * 100)
	factor := math.Abs(current / baseline)
	if math.IsNaN(factor) || math.IsInf(factor, 0) {
		factor = 1
	}

	if factor < 1.5 && math.Abs(changeRate) < 15 {
		return nil
	}

	_, _, baseR2 := linearFit(baselineSlice)
	recentSlope, _, recentR2 := linearFit(recentSlice)

	severity := trendSeverity(factor, changeRate)

	confidence := 60 + math.Min(20, float64(len(sorted))/2) + math.Min(15, factor*3)
	if confidence > 95 {
		confidence = 95
	}

	accel := &TrendAcceleration{
		Metric:             metric,
		Baseline:           clampValue(baseline),
		Current:            clampValue(current),
		ChangeRate:         changeRate,
		AccelerationFactor: factor,
		Severity:           severity,
		Confidence:         int(confidence),
		WindowDays:         windowDays,
		PointCount:         len(sorted),
	}

	// Extrapolate days until the current value doubles, only for sustained
	// positive recent slopes and near horizons.
	if recentSlope > 0 && current > 0 {
		daysToDouble := current / recentSlope
		if daysToDouble > 0 && daysToDouble <= maxEscalationHorizonDays {
			escalation := now.Add(time.Duration(daysToDouble * 24 * float64(time.Hour)))
			accel.PredictedEscalation = &escalation
		}
	}

	accel.RiskIndicators = trendRiskIndicators(factor, changeRate, recentSlope, baseR2, recentR2)

	return accel
}

// trendSeverity maps acceleration factor and change rate onto severity bands
func trendSeverity(factor, changeRate float64) database.Severity {
	absRate := math.Abs(changeRate)
	switch {
	case factor > 4 || absRate > 100:
		return database.SeverityCritical
	case factor > 3 || absRate > 50:
		return database.SeverityHigh
	case factor > 2 || absRate > 30:
		return database.SeverityMedium
	default:
		return database.SeverityLow
	}
}

func trendRiskIndicators(factor, changeRate, recentSlope, baseR2, recentR2 float64) []string {
	var indicators []string
	if factor >= 2 {
		indicators = append(indicators, fmt.Sprintf("recent average is %.1fx the baseline", factor))
	}
	if math.Abs(changeRate) >= 50 {
		indicators = append(indicators, fmt.Sprintf("metric changed %.0f%% against baseline", changeRate))
	}
	if recentSlope > 0 && recentR2 >= 0.6 {
		indicators = append(indicators, fmt.Sprintf("sustained upward trend in recent window (R²=%.2f)", recentR2))
	}
	if baseR2 >= 0.6 && recentR2 >= 0.6 {
		indicators = append(indicators, "both windows show consistent directional movement")
	}
	return indicators
}

// linearFit computes an ordinary-least-squares line over the points with x
// measured in days since the first point. Returns slope per day, intercept,
// and R².
func linearFit(points []SeriesPoint) (slope, intercept, r2 float64) {
	n := float64(len(points))
	if n < 2 {
		return 0, 0, 0
	}

	t0 := points[0].Timestamp
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range points {
		x := p.Timestamp.Sub(t0).Hours() / 24
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for _, p := range points {
		x := p.Timestamp.Sub(t0).Hours() / 24
		predicted := slope*x + intercept
		ssTot += (p.Value - meanY) * (p.Value - meanY)
		ssRes += (p.Value - predicted) * (p.Value - predicted)
	}
	if ssTot == 0 {
		return slope, intercept, 0
	}
	r2 = 1 - ssRes/ssTot
	if r2 < 0 {
		r2 = 0
	}
	return slope, intercept, r2
}

func meanValues(points []SeriesPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points))
}

// clampValue zeroes NaN and infinite ratios so a zero baseline never
// propagates into stored signals.
func clampValue(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
