// Package alerting implements the alert rule engine, the layered rate
// limiter, and multi-channel alert delivery.
package alerting

import (
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/orgpulse/orgpulse/internal/database"
)

// EvalRecord is the engine's view of an incoming record: a newly detected
// signal or an incident-like record, flattened for matching.
type EvalRecord struct {
	TenantID    uint
	SourceType  string // "signal", "incident"
	SourceID    string
	Title       string
	Summary     string
	Description string
	Message     string
	Content     string
	Topic       string
	Category    string
	Severity    string
	Value       float64
	Fields      map[string]float64
	Data        database.JSONB
	OccurredAt  time.Time
}

// MetricReader supplies windowed aggregations and baseline samples for
// threshold and anomaly rules.
type MetricReader interface {
	// Aggregate computes count/avg/sum/min/max of a metric over the trailing
	// window ending at the evaluation time.
	Aggregate(tenantID uint, metric, aggregation string, windowMinutes int, at time.Time) (float64, error)
	// BaselineValues returns metric samples from the trailing baseline
	// period. The window ends one day before the evaluation time, excluding
	// the most recent day.
	BaselineValues(tenantID uint, metric string, baselineDays int, at time.Time) ([]float64, error)
}

// EvaluationResult is one alert candidate produced by a matched rule
type EvaluationResult struct {
	Rule              *database.AlertRule
	Title             string
	Message           string
	Severity          database.Severity
	MatchedConditions []string
	SourceType        string
	SourceID          string
	SourceData        database.JSONB
}

// Engine evaluates active alert rules against incoming records
type Engine struct {
	db      *gorm.DB
	metrics MetricReader
	now     func() time.Time
}

// NewEngine creates a rule engine
func NewEngine(db *gorm.DB, metrics MetricReader) *Engine {
	return &Engine{db: db, metrics: metrics, now: time.Now}
}

// Evaluate runs every active rule watching the record's source type. A rule
// that errors is skipped with a logged warning; the remaining rules still
// run.
func (e *Engine) Evaluate(rec EvalRecord) ([]EvaluationResult, error) {
	var rules []database.AlertRule
	if err := e.db.Where("tenant_id = ? AND enabled = ? AND source_type = ?",
		rec.TenantID, true, rec.SourceType).Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to load alert rules: %w", err)
	}

	var results []EvaluationResult
	for i := range rules {
		rule := &rules[i]
		result, err := e.evaluateRule(rule, rec)
		if err != nil {
			log.Printf("Warning: rule %q (%d) evaluation failed, skipping: %v", rule.Name, rule.ID, err)
			continue
		}
		if result != nil {
			results = append(results, *result)
		}
	}
	return results, nil
}

// evaluateRule dispatches on the rule type. A nil result with nil error
// means the rule did not match.
func (e *Engine) evaluateRule(rule *database.AlertRule, rec EvalRecord) (*EvaluationResult, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	var matched []string
	var err error
	switch rule.RuleType {
	case database.RuleTypeThreshold:
		matched, err = e.evaluateThreshold(rule.Config.Threshold, rec)
	case database.RuleTypeTopic:
		matched = evaluateTopic(rule.Config.Topic, rec)
	case database.RuleTypePattern:
		matched = evaluatePattern(rule.Config.Pattern, rec)
	case database.RuleTypeAnomaly:
		matched, err = e.evaluateAnomaly(rule.Config.Anomaly, rec)
	}
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}

	return &EvaluationResult{
		Rule:              rule,
		Title:             fmt.Sprintf("[%s] %s", strings.ToUpper(string(rule.Severity)), rule.Name),
		Message:           buildAlertMessage(rule, rec, matched),
		Severity:          rule.Severity,
		MatchedConditions: matched,
		SourceType:        rec.SourceType,
		SourceID:          rec.SourceID,
		SourceData:        rec.Data,
	}, nil
}

func buildAlertMessage(rule *database.AlertRule, rec EvalRecord, matched []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rule %q matched a %s record", rule.Name, rec.SourceType)
	if rec.Title != "" {
		fmt.Fprintf(&b, ": %s", rec.Title)
	}
	b.WriteString("\n")
	for _, m := range matched {
		fmt.Fprintf(&b, "- %s\n", m)
	}
	return b.String()
}

// evaluateThreshold extracts a numeric value, directly or via windowed
// aggregation, and compares it against the configured threshold.
func (e *Engine) evaluateThreshold(cfg *database.ThresholdConfig, rec EvalRecord) ([]string, error) {
	var actual float64
	if cfg.Aggregation == "" || cfg.Aggregation == "none" {
		if v, ok := rec.Fields[cfg.Metric]; ok {
			actual = v
		} else {
			actual = rec.Value
		}
	} else {
		if e.metrics == nil {
			return nil, fmt.Errorf("threshold rule needs aggregation %q but no metric reader is configured", cfg.Aggregation)
		}
		v, err := e.metrics.Aggregate(rec.TenantID, cfg.Metric, cfg.Aggregation, cfg.TimeWindowMinutes, e.now())
		if err != nil {
			return nil, err
		}
		actual = v
	}

	if !compare(actual, cfg.Operator, cfg.Value) {
		return nil, nil
	}
	return []string{fmt.Sprintf("%s %s %.2f (actual %.2f)", cfg.Metric, cfg.Operator, cfg.Value, actual)}, nil
}

// evaluateTopic matches configured topics against the record's topic or
// category, optionally filtered by a severity allow-list.
func evaluateTopic(cfg *database.TopicConfig, rec EvalRecord) []string {
	if len(cfg.Severities) > 0 {
		allowed := false
		for _, s := range cfg.Severities {
			if strings.EqualFold(s, rec.Severity) {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil
		}
	}

	haystack := strings.ToLower(rec.Topic + " " + rec.Category)
	var matched []string
	for _, topic := range cfg.Topics {
		if strings.Contains(haystack, strings.ToLower(topic)) {
			matched = append(matched, fmt.Sprintf("topic %q present", topic))
		} else if cfg.Match == "all" {
			return nil
		}
	}
	if cfg.Match == "all" && len(matched) != len(cfg.Topics) {
		return nil
	}
	if len(matched) == 0 {
		return nil
	}
	return matched
}

// evaluatePattern matches keywords against the record's concatenated text
// fields.
func evaluatePattern(cfg *database.PatternConfig, rec EvalRecord) []string {
	parts := []string{rec.Title, rec.Summary, rec.Message, rec.Content}
	if cfg.IncludeDescription {
		parts = append(parts, rec.Description)
	}
	haystack := strings.Join(parts, " ")
	if !cfg.CaseSensitive {
		haystack = strings.ToLower(haystack)
	}

	var matched []string
	for _, kw := range cfg.Keywords {
		needle := kw
		if !cfg.CaseSensitive {
			needle = strings.ToLower(kw)
		}
		if strings.Contains(haystack, needle) {
			matched = append(matched, fmt.Sprintf("keyword %q present", kw))
		} else if cfg.Match == "all" {
			return nil
		}
	}
	if len(matched) == 0 {
		return nil
	}
	return matched
}

const defaultMinBaselinePoints = 5

// evaluateAnomaly runs a z-score test of the current value against baseline
// statistics. The baseline window ends one day before evaluation and the
// most recent day is excluded.
func (e *Engine) evaluateAnomaly(cfg *database.AnomalyConfig, rec EvalRecord) ([]string, error) {
	if e.metrics == nil {
		return nil, fmt.Errorf("anomaly rule needs a metric reader")
	}

	minPoints := cfg.MinBaselinePoints
	if minPoints <= 0 {
		minPoints = defaultMinBaselinePoints
	}

	baseline, err := e.metrics.BaselineValues(rec.TenantID, cfg.Metric, cfg.BaselineDays, e.now())
	if err != nil {
		return nil, err
	}
	if len(baseline) < minPoints {
		return nil, fmt.Errorf("anomaly rule has %d baseline points, needs %d", len(baseline), minPoints)
	}

	mean, sd := meanStddev(baseline)
	if sd == 0 {
		return nil, nil // flat baseline, no deviation measurable
	}

	current := rec.Value
	if v, ok := rec.Fields[cfg.Metric]; ok {
		current = v
	}

	z := math.Abs(current-mean) / sd
	if z <= cfg.DeviationThreshold {
		return nil, nil
	}
	return []string{fmt.Sprintf("%s deviates %.2fσ from baseline mean %.2f (actual %.2f, threshold %.2fσ)",
		cfg.Metric, z, mean, current, cfg.DeviationThreshold)}, nil
}

// compare applies a threshold operator
func compare(actual float64, operator string, expected float64) bool {
	switch operator {
	case ">":
		return actual > expected
	case "<":
		return actual < expected
	case ">=":
		return actual >= expected
	case "<=":
		return actual <= expected
	case "==":
		return actual == expected
	case "!=":
		return actual != expected
	default:
		return false
	}
}

func meanStddev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return mean, math.Sqrt(sumSq / float64(len(values)))
}
