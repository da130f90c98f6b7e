package detection

import (
	"math"
	"testing"
	"time"

	"github.com/orgpulse/orgpulse/internal/database"
)

// dailySeries builds one point per day ending yesterday, oldest first
func dailySeries(now time.Time, values []float64) []SeriesPoint {
	points := make([]SeriesPoint, len(values))
	for i, v := range values {
		points[i] = SeriesPoint{
			Timestamp: now.Add(-time.Duration(len(values)-i) * 24 * time.Hour),
			Value:     v,
		}
	}
	return points
}

func TestAnalyzeTrendTooFewPoints(t *testing.T) {
	now := time.Now()
	points := dailySeries(now, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	if accel := AnalyzeTrend("incident_volume", points, now, 30); accel != nil {
		t.Errorf("expected nil for %d points, got %+v", len(points), accel)
	}
}

func TestAnalyzeTrendStableSeries(t *testing.T) {
	now := time.Now()
	points := dailySeries(now, []float64{5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5})
	if accel := AnalyzeTrend("message_volume", points, now, 30); accel != nil {
		t.Errorf("expected nil for a stable series, got %+v", accel)
	}
}

func TestAnalyzeTrendSeverityBands(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name   string
		values []float64
		want   database.Severity
	}{
		{
			// 5x the baseline
			name:   "critical",
			values: []float64{1, 1, 1, 1, 3, 3, 3, 3, 5, 5, 5, 5},
			want:   database.SeverityCritical,
		},
		{
			// +60% against baseline
			name:   "high",
			values: []float64{10, 10, 10, 10, 13, 13, 13, 13, 16, 16, 16, 16},
			want:   database.SeverityHigh,
		},
		{
			// +40% against baseline
			name:   "medium",
			values: []float64{10, 10, 10, 10, 12, 12, 12, 12, 14, 14, 14, 14},
			want:   database.SeverityMedium,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			accel := AnalyzeTrend("issue_volume", dailySeries(now, c.values), now, 30)
			if accel == nil {
				t.Fatal("expected an acceleration")
			}
			if accel.Severity != c.want {
				t.Errorf("Severity = %q, want %q (factor %.2f, rate %.0f%%)",
					accel.Severity, c.want, accel.AccelerationFactor, accel.ChangeRate)
			}
			if accel.Confidence < 60 || accel.Confidence > 95 {
				t.Errorf("Confidence %d out of [60,95]", accel.Confidence)
			}
		})
	}
}

func TestAnalyzeTrendZeroBaseline(t *testing.T) {
	now := time.Now()
	points := dailySeries(now, []float64{0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8})
	// Division by a zero baseline clamps rather than reporting infinities
	if accel := AnalyzeTrend("high_impact_events", points, now, 30); accel != nil {
		if math.IsNaN(accel.ChangeRate) || math.IsInf(accel.ChangeRate, 0) {
			t.Errorf("ChangeRate not clamped: %v", accel.ChangeRate)
		}
		if math.IsNaN(accel.AccelerationFactor) || math.IsInf(accel.AccelerationFactor, 0) {
			t.Errorf("AccelerationFactor not clamped: %v", accel.AccelerationFactor)
		}
	}
}

func TestAnalyzeTrendPredictedEscalation(t *testing.T) {
	now := time.Now()
	// Recent window rises steeply: doubling is projected within the horizon
	points := dailySeries(now, []float64{2, 2, 2, 2, 4, 6, 8, 9, 10, 12, 14, 16})
	accel := AnalyzeTrend("incident_volume", points, now, 30)
	if accel == nil {
		t.Fatal("expected an acceleration")
	}
	if accel.PredictedEscalation == nil {
		t.Fatal("expected a predicted escalation")
	}
	horizon := accel.PredictedEscalation.Sub(now)
	if horizon <= 0 || horizon > 90*24*time.Hour {
		t.Errorf("escalation horizon %v outside (0, 90d]", horizon)
	}
}

func TestAnalyzeTrendNoEscalationOnDecline(t *testing.T) {
	now := time.Now()
	// Recent window is elevated but declining: no doubling prediction
	points := dailySeries(now, []float64{10, 10, 10, 10, 20, 25, 30, 35, 40, 30, 20, 10})
	accel := AnalyzeTrend("message_volume", points, now, 30)
	if accel == nil {
		t.Fatal("expected an acceleration")
	}
	if accel.PredictedEscalation != nil {
		t.Errorf("expected no escalation for a declining recent window, got %v", accel.PredictedEscalation)
	}
}

func TestAnalyzeTrendsSortedByMetric(t *testing.T) {
	now := time.Now()
	rising := []float64{1, 1, 1, 1, 3, 3, 3, 3, 5, 5, 5, 5}
	series := map[string][]SeriesPoint{
		"zeta_volume":  dailySeries(now, rising),
		"alpha_volume": dailySeries(now, rising),
	}

	results := AnalyzeTrends(series, now, 30)
	if len(results) != 2 {
		t.Fatalf("expected 2 accelerations, got %d", len(results))
	}
	if results[0].Metric != "alpha_volume" || results[1].Metric != "zeta_volume" {
		t.Errorf("results not sorted by metric: %s, %s", results[0].Metric, results[1].Metric)
	}
}

func TestLinearFit(t *testing.T) {
	now := time.Now()
	// y = 2x + 1 measured daily
	points := []SeriesPoint{
		{Timestamp: now, Value: 1},
		{Timestamp: now.Add(24 * time.Hour), Value: 3},
		{Timestamp: now.Add(48 * time.Hour), Value: 5},
		{Timestamp: now.Add(72 * time.Hour), Value: 7},
	}
	slope, intercept, r2 := linearFit(points)
	if math.Abs(slope-2) > 1e-9 {
		t.Errorf("slope = %v, want 2", slope)
	}
	if math.Abs(intercept-1) > 1e-9 {
		t.Errorf("intercept = %v, want 1", intercept)
	}
	if math.Abs(r2-1) > 1e-9 {
		t.Errorf("r2 = %v, want 1", r2)
	}
}
