package detection

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/orgpulse/orgpulse/internal/database"
)

// Collector loads upstream tenant records and turns them into analyzer
// inputs.
type Collector struct {
	db *gorm.DB
}

// NewCollector creates a collector over the given database
func NewCollector(db *gorm.DB) *Collector {
	return &Collector{db: db}
}

// Records returns the structured records (issues, incidents, timeline
// events) for a tenant since the cutoff.
func (c *Collector) Records(tenantID uint, since time.Time) ([]Record, error) {
	var records []Record

	var issues []database.IssueRecord
	if err := c.db.Where("tenant_id = ? AND created_at >= ?", tenantID, since).Find(&issues).Error; err != nil {
		return nil, fmt.Errorf("failed to load issues: %w", err)
	}
	for _, i := range issues {
		records = append(records, Record{
			Source:    SourceIssues,
			ID:        i.ExternalID,
			Text:      i.Title,
			Category:  i.Category,
			CreatedAt: i.CreatedAt,
		})
	}

	var incidents []database.IncidentRecord
	if err := c.db.Where("tenant_id = ? AND created_at >= ?", tenantID, since).Find(&incidents).Error; err != nil {
		return nil, fmt.Errorf("failed to load incidents: %w", err)
	}
	for _, i := range incidents {
		records = append(records, Record{
			Source:    SourceIncidents,
			ID:        i.ExternalID,
			Text:      i.Title,
			Category:  i.Category,
			CreatedAt: i.CreatedAt,
		})
	}

	var events []database.TimelineEvent
	if err := c.db.Where("tenant_id = ? AND created_at >= ?", tenantID, since).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load timeline events: %w", err)
	}
	for _, e := range events {
		records = append(records, Record{
			Source:    SourceTimeline,
			ID:        e.ExternalID,
			Text:      e.Title,
			Category:  e.EventType,
			CreatedAt: e.CreatedAt,
		})
	}

	return records, nil
}

// Messages returns the communication records (chat, email) for a tenant
// since the cutoff.
func (c *Collector) Messages(tenantID uint, since time.Time) ([]Message, error) {
	var messages []Message

	var chats []database.ChatMessage
	if err := c.db.Where("tenant_id = ? AND created_at >= ?", tenantID, since).Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("failed to load chat messages: %w", err)
	}
	for _, m := range chats {
		messages = append(messages, Message{
			Source:    SourceChat,
			Channel:   m.Channel,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}

	var emails []database.EmailMessage
	if err := c.db.Where("tenant_id = ? AND created_at >= ?", tenantID, since).Find(&emails).Error; err != nil {
		return nil, fmt.Errorf("failed to load email messages: %w", err)
	}
	for _, m := range emails {
		messages = append(messages, Message{
			Source:    SourceEmail,
			Channel:   m.Mailbox,
			Content:   m.Subject + " " + m.Body,
			CreatedAt: m.CreatedAt,
		})
	}

	return messages, nil
}

// MetricSeries builds per-metric time series for trend analysis: stored KPI
// points plus daily volume counts derived from the record tables.
func (c *Collector) MetricSeries(tenantID uint, since time.Time) (map[string][]SeriesPoint, error) {
	series := make(map[string][]SeriesPoint)

	var points []database.MetricPoint
	if err := c.db.Where("tenant_id = ? AND recorded_at >= ?", tenantID, since).
		Order("recorded_at asc").Find(&points).Error; err != nil {
		return nil, fmt.Errorf("failed to load metric points: %w", err)
	}
	for _, p := range points {
		series[p.Metric] = append(series[p.Metric], SeriesPoint{Timestamp: p.RecordedAt, Value: p.Value})
	}

	records, err := c.Records(tenantID, since)
	if err != nil {
		return nil, err
	}
	messages, err := c.Messages(tenantID, since)
	if err != nil {
		return nil, err
	}

	issueCounts := make(map[time.Time]float64)
	incidentCounts := make(map[time.Time]float64)
	highImpactCounts := make(map[time.Time]float64)
	for _, r := range records {
		day := r.CreatedAt.Truncate(24 * time.Hour)
		switch r.Source {
		case SourceIssues:
			issueCounts[day]++
		case SourceIncidents:
			incidentCounts[day]++
		case SourceTimeline:
			// only high-impact events count toward the volume series
		}
	}

	var highImpact []database.TimelineEvent
	if err := c.db.Where("tenant_id = ? AND created_at >= ? AND impact = ?", tenantID, since, "high").
		Find(&highImpact).Error; err != nil {
		return nil, fmt.Errorf("failed to load high-impact events: %w", err)
	}
	for _, e := range highImpact {
		highImpactCounts[e.CreatedAt.Truncate(24*time.Hour)]++
	}

	messageCounts := make(map[time.Time]float64)
	for _, m := range messages {
		messageCounts[m.CreatedAt.Truncate(24*time.Hour)]++
	}

	addDailySeries(series, "issue_volume", issueCounts)
	addDailySeries(series, "incident_volume", incidentCounts)
	addDailySeries(series, "message_volume", messageCounts)
	addDailySeries(series, "high_impact_events", highImpactCounts)

	return series, nil
}

func addDailySeries(series map[string][]SeriesPoint, metric string, counts map[time.Time]float64) {
	if len(counts) == 0 {
		return
	}
	points := make([]SeriesPoint, 0, len(counts))
	for day, count := range counts {
		points = append(points, SeriesPoint{Timestamp: day, Value: count})
	}
	series[metric] = points
}
