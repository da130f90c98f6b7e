package alerting

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/orgpulse/orgpulse/internal/database"
)

// StoreMetricReader implements MetricReader over the persisted store. The
// synthetic "signal_count" metric counts detected signals; any other metric
// name reads the metric_points table.
type StoreMetricReader struct {
	db *gorm.DB
}

// NewStoreMetricReader creates a DB-backed metric reader
func NewStoreMetricReader(db *gorm.DB) *StoreMetricReader {
	return &StoreMetricReader{db: db}
}

// Aggregate computes the requested aggregation over the trailing window
func (r *StoreMetricReader) Aggregate(tenantID uint, metric, aggregation string, windowMinutes int, at time.Time) (float64, error) {
	since := at.Add(-time.Duration(windowMinutes) * time.Minute)

	if metric == "signal_count" {
		var count int64
		if err := r.db.Model(&database.Signal{}).
			Where("tenant_id = ? AND detected_at > ? AND detected_at <= ?", tenantID, since, at).
			Count(&count).Error; err != nil {
			return 0, err
		}
		return float64(count), nil
	}

	query := r.db.Model(&database.MetricPoint{}).
		Where("tenant_id = ? AND metric = ? AND recorded_at > ? AND recorded_at <= ?", tenantID, metric, since, at)

	if aggregation == "count" {
		var count int64
		if err := query.Count(&count).Error; err != nil {
			return 0, err
		}
		return float64(count), nil
	}

	var expr string
	switch aggregation {
	case "avg":
		expr = "COALESCE(AVG(value), 0)"
	case "sum":
		expr = "COALESCE(SUM(value), 0)"
	case "min":
		expr = "COALESCE(MIN(value), 0)"
	case "max":
		expr = "COALESCE(MAX(value), 0)"
	default:
		return 0, fmt.Errorf("unknown aggregation %q", aggregation)
	}

	var value float64
	if err := query.Select(expr).Scan(&value).Error; err != nil {
		return 0, err
	}
	return value, nil
}

// BaselineValues returns metric samples from the baseline period ending one
// day before the evaluation time. The most recent day is excluded so the
// anomaly under test cannot contaminate its own baseline.
func (r *StoreMetricReader) BaselineValues(tenantID uint, metric string, baselineDays int, at time.Time) ([]float64, error) {
	end := at.Add(-24 * time.Hour)
	start := end.Add(-time.Duration(baselineDays) * 24 * time.Hour)

	var points []database.MetricPoint
	if err := r.db.Where("tenant_id = ? AND metric = ? AND recorded_at > ? AND recorded_at <= ?",
		tenantID, metric, start, end).
		Order("recorded_at asc").Find(&points).Error; err != nil {
		return nil, err
	}

	values := make([]float64, 0, len(points))
	for _, p := range points {
		values = append(values, p.Value)
	}
	return values, nil
}
