package detection

import (
	"fmt"
	"strings"

	"github.com/orgpulse/orgpulse/internal/database"
)

// Synthesis is pure: these functions build Signal values but never touch the
// store. Persistence is the orchestrator's responsibility.

// SynthesizeFromPattern converts a recurring pattern into a pattern_recurring
// signal with severity scored by the additive rubric.
func SynthesizeFromPattern(tenantID uint, p RecurringPattern) database.Signal {
	severity := patternSeverity(p)

	sources := make([]database.SourceSignal, 0, len(p.Evidence))
	for _, ev := range p.Evidence {
		sources = append(sources, database.SourceSignal{
			SourceSystem: ev.Source,
			SourceID:     ev.SourceID,
			Timestamp:    ev.Timestamp,
			Relevance:    1.0,
		})
	}

	title := fmt.Sprintf("Recurring %s pattern (%d occurrences, %s)", p.Source, p.Occurrences, p.Frequency)
	if p.Type == "keyword_spike" {
		title = fmt.Sprintf("Spike in %q mentions across %s", p.Keyword, p.Source)
	}

	return database.Signal{
		TenantID:        tenantID,
		Type:            database.SignalTypePatternRecurring,
		Title:           title,
		Description:     p.Description,
		Severity:        severity,
		ConfidenceScore: p.Confidence,
		Status:          database.SignalStatusNew,
		SourceSignals:   sources,
		PatternData: &database.PatternData{
			Occurrences:    p.Occurrences,
			Frequency:      p.Frequency,
			LastOccurrence: p.LastOccurrence,
			PredictedNext:  p.PredictedNext,
		},
		Explainability:   patternExplainability(p),
		AffectedEntities: entitiesFromSources(sources),
		Category:         p.Type,
		DetectedAt:       p.LastOccurrence,
	}
}

// SynthesizeFromTrend converts a trend acceleration into a trend_acceleration
// signal, inheriting the analyzer's severity directly.
func SynthesizeFromTrend(tenantID uint, t TrendAcceleration) database.Signal {
	signal := database.Signal{
		TenantID:        tenantID,
		Type:            database.SignalTypeTrendAcceleration,
		Title:           fmt.Sprintf("Accelerating trend in %s (%.1fx baseline)", t.Metric, t.AccelerationFactor),
		Description:     fmt.Sprintf("%s moved from a baseline of %.2f to %.2f (%.0f%% change) over the last %d days", t.Metric, t.Baseline, t.Current, t.ChangeRate, t.WindowDays),
		Severity:        t.Severity,
		ConfidenceScore: t.Confidence,
		Status:          database.SignalStatusNew,
		TrendData: &database.TrendData{
			Metric:             t.Metric,
			Baseline:           t.Baseline,
			Current:            t.Current,
			ChangeRate:         t.ChangeRate,
			AccelerationFactor: t.AccelerationFactor,
			WindowDays:         t.WindowDays,
		},
		Explainability: trendExplainability(t),
		AffectedEntities: []database.AffectedEntity{
			{EntityType: "metric", Identifier: t.Metric, SourceSystem: "metrics"},
		},
		Category: "trend",
	}
	return signal
}

// patternSeverity scores a pattern with the additive rubric: occurrence
// tiers, frequency tiers, confidence tiers, and a bonus for incident/issue
// recurrence. Totals of 8+ are critical, 6+ high, 4+ medium, else low.
func patternSeverity(p RecurringPattern) database.Severity {
	score := 0

	switch {
	case p.Occurrences >= 10:
		score += 3
	case p.Occurrences >= 5:
		score += 2
	default:
		score += 1
	}

	switch p.Frequency {
	case FrequencyDaily:
		score += 3
	case FrequencyWeekly:
		score += 2
	default:
		score += 1
	}

	if p.Confidence >= 85 {
		score += 2
	} else {
		score += 1
	}

	if p.Type == "incident_recurrence" || p.Type == "issue_recurrence" {
		score += 2
	}

	switch {
	case score >= 8:
		return database.SeverityCritical
	case score >= 6:
		return database.SeverityHigh
	case score >= 4:
		return database.SeverityMedium
	default:
		return database.SeverityLow
	}
}

func patternExplainability(p RecurringPattern) *database.Explainability {
	reason := fmt.Sprintf("The same %s problem recurred %d times with a %s cadence", p.Source, p.Occurrences, p.Frequency)
	if p.Type == "keyword_spike" {
		reason = fmt.Sprintf("Mentions of %q in %s rose well above their historical rate", p.Keyword, p.Source)
	}

	factors := []string{
		fmt.Sprintf("source: %s", p.Source),
		fmt.Sprintf("frequency: %s", p.Frequency),
	}

	evidence := []database.EvidencePoint{
		{Description: fmt.Sprintf("%d matching occurrences", p.Occurrences), Weight: 0.5},
		{Description: fmt.Sprintf("detection confidence %d/100", p.Confidence), Weight: 0.3},
	}
	if p.PredictedNext != nil {
		evidence = append(evidence, database.EvidencePoint{
			Description: fmt.Sprintf("next occurrence predicted around %s", p.PredictedNext.Format("2006-01-02")),
			Weight:      0.2,
		})
	}

	var risks []string
	if p.Frequency == FrequencyDaily {
		risks = append(risks, "problem is recurring daily")
	}
	if p.Occurrences >= 10 {
		risks = append(risks, "high occurrence count suggests an unresolved root cause")
	}

	return &database.Explainability{
		PrimaryReason:       reason,
		ContributingFactors: factors,
		EvidencePoints:      evidence,
		RiskIndicators:      risks,
		ContextualFactors:   []string{fmt.Sprintf("pattern type: %s", p.Type)},
	}
}

func trendExplainability(t TrendAcceleration) *database.Explainability {
	evidence := []database.EvidencePoint{
		{Description: fmt.Sprintf("baseline average %.2f vs recent average %.2f", t.Baseline, t.Current), Weight: 0.5},
		{Description: fmt.Sprintf("acceleration factor %.2f", t.AccelerationFactor), Weight: 0.3},
		{Description: fmt.Sprintf("computed over %d data points", t.PointCount), Weight: 0.2},
	}

	contextual := []string{fmt.Sprintf("analysis window: %d days", t.WindowDays)}
	if t.PredictedEscalation != nil {
		contextual = append(contextual, fmt.Sprintf("projected to double by %s", t.PredictedEscalation.Format("2006-01-02")))
	}

	return &database.Explainability{
		PrimaryReason:       fmt.Sprintf("%s is accelerating at %.1fx its baseline rate", t.Metric, t.AccelerationFactor),
		ContributingFactors: []string{fmt.Sprintf("change rate %.0f%%", t.ChangeRate)},
		EvidencePoints:      evidence,
		RiskIndicators:      t.RiskIndicators,
		ContextualFactors:   contextual,
	}
}

// entitiesFromSources derives one affected entity per contributing source
// system.
func entitiesFromSources(sources []database.SourceSignal) []database.AffectedEntity {
	seen := make(map[string]bool)
	var entities []database.AffectedEntity
	for _, s := range sources {
		system := strings.ToLower(s.SourceSystem)
		if system == "" || seen[system] {
			continue
		}
		seen[system] = true
		entities = append(entities, database.AffectedEntity{
			EntityType:   "source_system",
			Identifier:   system,
			SourceSystem: system,
		})
	}
	return entities
}
