package database

import "time"

// Upstream record tables. Ingestion of these rows is handled by the external
// integration layer; the detection pipeline only reads them.

// IssueRecord is a normalized issue-tracker item
type IssueRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TenantID    uint      `gorm:"not null;index" json:"tenant_id"`
	ExternalID  string    `gorm:"size:255;index" json:"external_id"`
	Title       string    `gorm:"type:varchar(512)" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Category    string    `gorm:"size:100" json:"category"`
	Status      string    `gorm:"size:50" json:"status"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

func (IssueRecord) TableName() string {
	return "issue_records"
}

// IncidentRecord is a normalized incident-system entry
type IncidentRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TenantID   uint      `gorm:"not null;index" json:"tenant_id"`
	ExternalID string    `gorm:"size:255;index" json:"external_id"`
	Title      string    `gorm:"type:varchar(512)" json:"title"`
	Summary    string    `gorm:"type:text" json:"summary"`
	Severity   string    `gorm:"size:20" json:"severity"`
	Category   string    `gorm:"size:100" json:"category"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (IncidentRecord) TableName() string {
	return "incident_records"
}

// ChatMessage is a normalized chat-platform message
type ChatMessage struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TenantID   uint      `gorm:"not null;index" json:"tenant_id"`
	ExternalID string    `gorm:"size:255;index" json:"external_id"`
	Channel    string    `gorm:"size:255" json:"channel"`
	Author     string    `gorm:"size:255" json:"author"`
	Content    string    `gorm:"type:text" json:"content"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

// EmailMessage is a normalized mailbox message
type EmailMessage struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TenantID   uint      `gorm:"not null;index" json:"tenant_id"`
	ExternalID string    `gorm:"size:255;index" json:"external_id"`
	Mailbox    string    `gorm:"size:255" json:"mailbox"`
	Subject    string    `gorm:"type:varchar(512)" json:"subject"`
	Body       string    `gorm:"type:text" json:"body"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (EmailMessage) TableName() string {
	return "email_messages"
}

// TimelineEvent is a normalized organizational timeline entry
type TimelineEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TenantID   uint      `gorm:"not null;index" json:"tenant_id"`
	ExternalID string    `gorm:"size:255;index" json:"external_id"`
	Title      string    `gorm:"type:varchar(512)" json:"title"`
	EventType  string    `gorm:"size:100" json:"event_type"`
	Impact     string    `gorm:"size:20" json:"impact"` // high, medium, low
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (TimelineEvent) TableName() string {
	return "timeline_events"
}

// MetricPoint is one sample of a tenant KPI time series
type MetricPoint struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TenantID   uint      `gorm:"not null;index" json:"tenant_id"`
	Metric     string    `gorm:"size:100;not null;index" json:"metric"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `gorm:"index" json:"recorded_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func (MetricPoint) TableName() string {
	return "metric_points"
}
