package alerting

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/orgpulse/orgpulse/internal/database"
	"github.com/orgpulse/orgpulse/internal/testhelpers"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	err = db.AutoMigrate(
		&database.Tenant{},
		&database.Signal{},
		&database.AlertRule{},
		&database.AlertSubscription{},
		&database.AlertHistory{},
		&database.MetricPoint{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// stubMetricReader serves canned aggregation and baseline values
type stubMetricReader struct {
	aggregate float64
	baseline  []float64
	err       error
}

func (s *stubMetricReader) Aggregate(tenantID uint, metric, aggregation string, windowMinutes int, at time.Time) (float64, error) {
	return s.aggregate, s.err
}

func (s *stubMetricReader) BaselineValues(tenantID uint, metric string, baselineDays int, at time.Time) ([]float64, error) {
	return s.baseline, s.err
}

func mustCreateRule(t *testing.T, db *gorm.DB, rule database.AlertRule) database.AlertRule {
	t.Helper()
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}
	return rule
}

func TestThresholdRuleStrictComparison(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(db, nil)

	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().AsThreshold(&database.ThresholdConfig{
		Metric:   "confidence_score",
		Operator: ">",
		Value:    5,
	}).Build())

	rec := EvalRecord{
		TenantID:   1,
		SourceType: "signal",
		SourceID:   "sig-1",
		Fields:     map[string]float64{"confidence_score": 6},
	}
	results, err := engine.Evaluate(rec)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result for 6 > 5, got %d", len(results))
	}

	// Equal value does not satisfy a strict >
	rec.Fields["confidence_score"] = 5
	results, err = engine.Evaluate(rec)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no result for 5 > 5, got %d", len(results))
	}
}

func TestThresholdRuleWithAggregation(t *testing.T) {
	db := setupTestDB(t)
	metrics := &stubMetricReader{aggregate: 12}
	engine := NewEngine(db, metrics)

	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().AsThreshold(&database.ThresholdConfig{
		Metric:            "signal_count",
		Operator:          ">=",
		Value:             10,
		TimeWindowMinutes: 60,
		Aggregation:       "count",
	}).Build())

	results, err := engine.Evaluate(EvalRecord{TenantID: 1, SourceType: "signal", SourceID: "sig-1"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected aggregated threshold to match, got %d results", len(results))
	}
}

func TestTopicRuleMatchModes(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(db, nil)

	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().WithName("any-topic").AsTopic(&database.TopicConfig{
		Topics: []string{"payments", "auth"},
		Match:  "any",
	}).Build())
	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().WithName("all-topics").AsTopic(&database.TopicConfig{
		Topics: []string{"payments", "auth"},
		Match:  "all",
	}).Build())

	results, err := engine.Evaluate(EvalRecord{
		TenantID:   1,
		SourceType: "signal",
		SourceID:   "sig-1",
		Topic:      "payments",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected only the any-mode rule to match, got %d results", len(results))
	}
	if results[0].Rule.Name != "any-topic" {
		t.Errorf("matched rule %q, want any-topic", results[0].Rule.Name)
	}

	results, err = engine.Evaluate(EvalRecord{
		TenantID:   1,
		SourceType: "signal",
		SourceID:   "sig-2",
		Topic:      "payments",
		Category:   "auth",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected both rules to match when all topics present, got %d", len(results))
	}
}

func TestTopicRuleSeverityAllowList(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(db, nil)

	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().AsTopic(&database.TopicConfig{
		Topics:     []string{"payments"},
		Match:      "any",
		Severities: []string{"critical", "high"},
	}).Build())

	rec := EvalRecord{TenantID: 1, SourceType: "signal", SourceID: "sig-1", Topic: "payments", Severity: "low"}
	results, err := engine.Evaluate(rec)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected severity allow-list to filter low, got %d results", len(results))
	}

	rec.Severity = "HIGH" // allow-list comparison is case-insensitive
	results, err = engine.Evaluate(rec)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected high severity to pass, got %d results", len(results))
	}
}

func TestPatternRuleCaseSensitivity(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(db, nil)

	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().WithName("insensitive").AsPattern(&database.PatternConfig{
		Keywords: []string{"OOM"},
		Match:    "any",
	}).Build())
	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().WithName("sensitive").AsPattern(&database.PatternConfig{
		Keywords:      []string{"OOM"},
		Match:         "any",
		CaseSensitive: true,
	}).Build())

	results, err := engine.Evaluate(EvalRecord{
		TenantID:   1,
		SourceType: "signal",
		SourceID:   "sig-1",
		Title:      "worker killed by oom watchdog",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected only the case-insensitive rule to match, got %d", len(results))
	}
	if results[0].Rule.Name != "insensitive" {
		t.Errorf("matched rule %q, want insensitive", results[0].Rule.Name)
	}
}

func TestPatternRuleIncludeDescription(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(db, nil)

	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().AsPattern(&database.PatternConfig{
		Keywords:           []string{"disk pressure"},
		Match:              "any",
		IncludeDescription: true,
	}).Build())

	results, err := engine.Evaluate(EvalRecord{
		TenantID:    1,
		SourceType:  "signal",
		SourceID:    "sig-1",
		Title:       "Node instability",
		Description: "kubelet reports disk pressure on three nodes",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected description match, got %d results", len(results))
	}
}

func TestAnomalyRuleZScore(t *testing.T) {
	db := setupTestDB(t)
	// Baseline mean 10, stddev 1
	metrics := &stubMetricReader{baseline: []float64{9, 10, 11, 9, 10, 11, 10}}
	engine := NewEngine(db, metrics)

	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().AsAnomaly(&database.AnomalyConfig{
		Metric:             "incident_volume",
		DeviationThreshold: 3,
		BaselineDays:       7,
	}).Build())

	rec := EvalRecord{
		TenantID:   1,
		SourceType: "signal",
		SourceID:   "sig-1",
		Fields:     map[string]float64{"incident_volume": 20},
	}
	results, err := engine.Evaluate(rec)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected z-score breach to match, got %d results", len(results))
	}

	rec.Fields["incident_volume"] = 11
	results, err = engine.Evaluate(rec)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected in-band value to pass, got %d results", len(results))
	}
}

func TestAnomalyRuleFlatBaselineNeverMatches(t *testing.T) {
	db := setupTestDB(t)
	metrics := &stubMetricReader{baseline: []float64{5, 5, 5, 5, 5}}
	engine := NewEngine(db, metrics)

	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().AsAnomaly(&database.AnomalyConfig{
		Metric:             "incident_volume",
		DeviationThreshold: 2,
		BaselineDays:       7,
	}).Build())

	results, err := engine.Evaluate(EvalRecord{
		TenantID:   1,
		SourceType: "signal",
		SourceID:   "sig-1",
		Fields:     map[string]float64{"incident_volume": 100},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("zero-stddev baseline must not match, got %d results", len(results))
	}
}

func TestAnomalyRuleInsufficientBaselineIsSkipped(t *testing.T) {
	db := setupTestDB(t)
	metrics := &stubMetricReader{baseline: []float64{5, 6}}
	engine := NewEngine(db, metrics)

	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().WithName("starved").AsAnomaly(&database.AnomalyConfig{
		Metric:             "incident_volume",
		DeviationThreshold: 2,
		BaselineDays:       7,
	}).Build())
	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().WithName("healthy").AsPattern(&database.PatternConfig{
		Keywords: []string{"outage"},
		Match:    "any",
	}).Build())

	// The starved anomaly rule errors and is skipped; the pattern rule runs
	results, err := engine.Evaluate(EvalRecord{
		TenantID:   1,
		SourceType: "signal",
		SourceID:   "sig-1",
		Title:      "Regional outage detected",
		Fields:     map[string]float64{"incident_volume": 100},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result from the healthy rule, got %d", len(results))
	}
	if results[0].Rule.Name != "healthy" {
		t.Errorf("matched rule %q, want healthy", results[0].Rule.Name)
	}
}

func TestEvaluateSkipsDisabledAndForeignRules(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(db, nil)

	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().WithName("disabled").Disabled().AsPattern(&database.PatternConfig{
		Keywords: []string{"outage"},
		Match:    "any",
	}).Build())
	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().WithName("other-tenant").WithTenant(99).AsPattern(&database.PatternConfig{
		Keywords: []string{"outage"},
		Match:    "any",
	}).Build())
	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().WithName("incident-only").WithSourceType("incident").AsPattern(&database.PatternConfig{
		Keywords: []string{"outage"},
		Match:    "any",
	}).Build())

	results, err := engine.Evaluate(EvalRecord{
		TenantID:   1,
		SourceType: "signal",
		SourceID:   "sig-1",
		Title:      "Regional outage detected",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no matches, got %d", len(results))
	}
}

func TestEvaluateResultCarriesAlertContext(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(db, nil)

	mustCreateRule(t, db, testhelpers.NewAlertRuleBuilder().
		WithName("payments watch").
		WithSeverity(database.SeverityHigh).
		AsPattern(&database.PatternConfig{Keywords: []string{"timeout"}, Match: "any"}).
		Build())

	results, err := engine.Evaluate(EvalRecord{
		TenantID:   1,
		SourceType: "signal",
		SourceID:   "sig-9",
		Title:      "Recurring timeout in payments",
		Data:       database.JSONB{"signal_type": "pattern_recurring"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	r := results[0]
	if r.Severity != database.SeverityHigh {
		t.Errorf("Severity = %q, want high", r.Severity)
	}
	if r.SourceID != "sig-9" {
		t.Errorf("SourceID = %q, want sig-9", r.SourceID)
	}
	if len(r.MatchedConditions) == 0 {
		t.Error("expected matched conditions")
	}
	if r.Title == "" || r.Message == "" {
		t.Error("expected a populated title and message")
	}
}

func TestCompareOperators(t *testing.T) {
	cases := []struct {
		actual   float64
		operator string
		expected float64
		want     bool
	}{
		{6, ">", 5, true},
		{5, ">", 5, false},
		{4, "<", 5, true},
		{5, ">=", 5, true},
		{5, "<=", 5, true},
		{5, "==", 5, true},
		{5, "!=", 5, false},
		{5, "~", 5, false},
	}
	for _, c := range cases {
		if got := compare(c.actual, c.operator, c.expected); got != c.want {
			t.Errorf("compare(%v, %q, %v) = %v, want %v", c.actual, c.operator, c.expected, got, c.want)
		}
	}
}
