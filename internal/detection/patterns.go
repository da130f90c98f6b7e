// Package detection implements the weak-signal detection pipeline: pattern
// extraction over textual records, trend analysis over metric time series,
// and synthesis of both into persisted signals.
package detection

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Record source identifiers used by the pattern extractor
const (
	SourceIssues    = "issues"
	SourceIncidents = "incidents"
	SourceTimeline  = "timeline"
	SourceChat      = "chat"
	SourceEmail     = "email"
)

// Record is one structured upstream record (issue, incident, timeline event)
type Record struct {
	Source    string
	ID        string
	Text      string
	Category  string
	CreatedAt time.Time
}

// Message is one unstructured communication record (chat or email)
type Message struct {
	Source    string
	Channel   string
	Content   string
	CreatedAt time.Time
}

// PatternEvidence references one record that contributed to a pattern
type PatternEvidence struct {
	Source    string    `json:"source"`
	SourceID  string    `json:"source_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RecurringPattern is a group of similar records recurring over time, or a
// keyword mention spike in a communication stream.
type RecurringPattern struct {
	Type           string // issue_recurrence, incident_recurrence, event_recurrence, keyword_spike
	Source         string
	Keyword        string // set for keyword_spike patterns
	Description    string
	Occurrences    int
	Frequency      string // daily, weekly, monthly, irregular
	LastOccurrence time.Time
	PredictedNext  *time.Time
	Confidence     int
	Evidence       []PatternEvidence
}

// Frequency classifications for the average inter-occurrence interval
const (
	FrequencyDaily     = "daily"
	FrequencyWeekly    = "weekly"
	FrequencyMonthly   = "monthly"
	FrequencyIrregular = "irregular"
)

var digitRuns = regexp.MustCompile(`\d+`)
var whitespace = regexp.MustCompile(`\s+`)

// technicalKeywords is the fixed vocabulary scanned for in chat and email
// streams. Matching is case-insensitive whole-string containment.
var technicalKeywords = []string{
	"error", "failure", "crash", "outage", "timeout",
	"incident", "down", "broken", "slow", "degraded",
	"bug", "regression", "rollback", "blocked", "overload",
}

// signature normalizes record text into a grouping key: lower-case, digit
// runs collapsed to a placeholder, whitespace collapsed, first five words of
// length >3.
func signature(text string) string {
	normalized := strings.ToLower(text)
	normalized = digitRuns.ReplaceAllString(normalized, "#")
	normalized = whitespace.ReplaceAllString(normalized, " ")

	var words []string
	for _, w := range strings.Fields(normalized) {
		if len(w) > 3 {
			words = append(words, w)
			if len(words) == 5 {
				break
			}
		}
	}
	return strings.Join(words, " ")
}

// minOccurrences returns the group size required before a signature group
// qualifies as a pattern. Timeline events are sparser, so two suffice.
func minOccurrences(source string) int {
	if source == SourceTimeline {
		return 2
	}
	return 3
}

// sourceReliabilityBonus reflects how trustworthy a record stream is as
// pattern evidence.
func sourceReliabilityBonus(source string) int {
	switch source {
	case SourceIssues, SourceIncidents:
		return 10
	case SourceTimeline:
		return 5
	default:
		return 0
	}
}

func patternType(source string) string {
	switch source {
	case SourceIssues:
		return "issue_recurrence"
	case SourceIncidents:
		return "incident_recurrence"
	case SourceTimeline:
		return "event_recurrence"
	default:
		return "record_recurrence"
	}
}

// classifyFrequency buckets an average inter-occurrence interval
func classifyFrequency(avg time.Duration) string {
	days := avg.Hours() / 24
	switch {
	case days < 2:
		return FrequencyDaily
	case days < 10:
		return FrequencyWeekly
	case days < 35:
		return FrequencyMonthly
	default:
		return FrequencyIrregular
	}
}

// ExtractRecurringPatterns groups structured records by normalized signature
// and reports groups that recur often enough, with interval statistics and a
// confidence score.
func ExtractRecurringPatterns(records []Record) []RecurringPattern {
	type group struct {
		source  string
		text    string
		records []Record
	}
	groups := make(map[string]*group)
	var order []string

	for _, rec := range records {
		sig := signature(rec.Text)
		if sig == "" {
			continue
		}
		key := rec.Source + "|" + sig
		g, ok := groups[key]
		if !ok {
			g = &group{source: rec.Source, text: rec.Text}
			groups[key] = g
			order = append(order, key)
		}
		g.records = append(g.records, rec)
	}

	var patterns []RecurringPattern
	for _, key := range order {
		g := groups[key]
		if len(g.records) < minOccurrences(g.source) {
			continue
		}

		sort.Slice(g.records, func(i, j int) bool {
			return g.records[i].CreatedAt.Before(g.records[j].CreatedAt)
		})

		intervals := make([]float64, 0, len(g.records)-1)
		for i := 1; i < len(g.records); i++ {
			ms := float64(g.records[i].CreatedAt.Sub(g.records[i-1].CreatedAt).Milliseconds())
			intervals = append(intervals, ms)
		}

		avgMs := meanOf(intervals)
		avgInterval := time.Duration(avgMs) * time.Millisecond
		last := g.records[len(g.records)-1].CreatedAt

		var predicted *time.Time
		if avgMs > 0 {
			next := last.Add(avgInterval)
			predicted = &next
		}

		evidence := make([]PatternEvidence, 0, len(g.records))
		for _, rec := range g.records {
			evidence = append(evidence, PatternEvidence{
				Source:    rec.Source,
				SourceID:  rec.ID,
				Timestamp: rec.CreatedAt,
			})
		}

		patterns = append(patterns, RecurringPattern{
			Type:           patternType(g.source),
			Source:         g.source,
			Description:    g.text,
			Occurrences:    len(g.records),
			Frequency:      classifyFrequency(avgInterval),
			LastOccurrence: last,
			PredictedNext:  predicted,
			Confidence:     patternConfidence(len(g.records), intervals, g.source),
			Evidence:       evidence,
		})
	}

	return patterns
}

// patternConfidence scores a pattern from its occurrence count, the
// regularity of its intervals, and the reliability of its source. Bounded to
// [50, 95] for qualifying groups.
func patternConfidence(occurrences int, intervals []float64, source string) int {
	confidence := 50 + occurrences*5
	if confidence > 70 {
		confidence = 70
	}

	if cov, ok := coefficientOfVariation(intervals); ok {
		switch {
		case cov < 0.2:
			confidence += 15
		case cov < 0.4:
			confidence += 10
		case cov < 0.6:
			confidence += 5
		}
	}

	confidence += sourceReliabilityBonus(source)
	if confidence > 95 {
		confidence = 95
	}
	return confidence
}

// coefficientOfVariation returns stddev/mean of the intervals. Reports false
// when there are too few intervals or a zero mean.
func coefficientOfVariation(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	m := meanOf(values)
	if m == 0 {
		return 0, false
	}
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	sd := math.Sqrt(sumSq / float64(len(values)))
	return sd / m, true
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// spikeRecentWindow is the trailing window used for keyword spike detection
const spikeRecentWindow = 7 * 24 * time.Hour

// minimum daily rate assumed when a keyword has no historical mentions, to
// avoid dividing by zero for newly chattered-about terms
const minHistoricalRate = 0.1

// ExtractKeywordSpikes scans chat and email messages for technical-keyword
// mentions and flags a spike per (keyword, source) when the recent 7-day
// mention rate exceeds twice the prior historical rate.
func ExtractKeywordSpikes(messages []Message, now time.Time) []RecurringPattern {
	type mentionKey struct {
		keyword string
		source  string
	}
	mentions := make(map[mentionKey][]Message)
	var order []mentionKey

	for _, msg := range messages {
		content := strings.ToLower(msg.Content)
		for _, kw := range technicalKeywords {
			if !strings.Contains(content, kw) {
				continue
			}
			key := mentionKey{keyword: kw, source: msg.Source}
			if _, ok := mentions[key]; !ok {
				order = append(order, key)
			}
			mentions[key] = append(mentions[key], msg)
		}
	}

	recentCutoff := now.Add(-spikeRecentWindow)

	var patterns []RecurringPattern
	for _, key := range order {
		msgs := mentions[key]
		if len(msgs) < 5 {
			continue
		}

		sort.Slice(msgs, func(i, j int) bool {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		})

		var recent, historical []Message
		for _, m := range msgs {
			if m.CreatedAt.After(recentCutoff) {
				recent = append(recent, m)
			} else {
				historical = append(historical, m)
			}
		}
		if len(recent) < 3 {
			continue
		}

		recentRate := float64(len(recent)) / 7.0

		historicalRate := minHistoricalRate
		if len(historical) > 0 {
			histDays := recentCutoff.Sub(historical[0].CreatedAt).Hours() / 24
			if histDays < 1 {
				histDays = 1
			}
			historicalRate = float64(len(historical)) / histDays
			if historicalRate < minHistoricalRate {
				historicalRate = minHistoricalRate
			}
		}

		if recentRate <= 2*historicalRate {
			continue
		}

		confidence := int(math.Min(95, 60+10*(recentRate/historicalRate)))

		last := msgs[len(msgs)-1].CreatedAt
		evidence := make([]PatternEvidence, 0, len(recent))
		for _, m := range recent {
			evidence = append(evidence, PatternEvidence{
				Source:    m.Source,
				SourceID:  m.Channel,
				Timestamp: m.CreatedAt,
			})
		}

		patterns = append(patterns, RecurringPattern{
			Type:           "keyword_spike",
			Source:         key.source,
			Keyword:        key.keyword,
			Description:    fmt.Sprintf("Mentions of %q spiking in %s (%d in the last 7 days)", key.keyword, key.source, len(recent)),
			Occurrences:    len(recent),
			Frequency:      FrequencyDaily,
			LastOccurrence: last,
			Confidence:     confidence,
			Evidence:       evidence,
		})
	}

	return patterns
}
