package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, sok := value.(string); sok {
			bytes = []byte(s)
		} else {
			return errors.New("type assertion to []byte failed")
		}
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Tenant represents an organization whose records are analyzed
type Tenant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UUID      string    `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Active    bool      `gorm:"default:true;index" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID if one was not provided
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.UUID == "" {
		t.UUID = uuid.New().String()
	}
	return nil
}

func (Tenant) TableName() string {
	return "tenants"
}

// ========== Signal Models ==========

// SignalType classifies how a weak signal was detected
type SignalType string

const (
	SignalTypePatternRecurring   SignalType = "pattern_recurring"
	SignalTypeTrendAcceleration  SignalType = "trend_acceleration"
	SignalTypeAnomalyDetection   SignalType = "anomaly_detection"
	SignalTypeCorrelationCluster SignalType = "correlation_cluster"
)

// Severity represents normalized severity levels shared by signals and alerts
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SignalStatus represents the investigation lifecycle of a signal
type SignalStatus string

const (
	SignalStatusNew           SignalStatus = "new"
	SignalStatusInvestigating SignalStatus = "investigating"
	SignalStatusValidated     SignalStatus = "validated"
	SignalStatusDismissed     SignalStatus = "dismissed"
	SignalStatusEscalated     SignalStatus = "escalated"
)

// SourceSignal points at one upstream record that contributed to a signal
type SourceSignal struct {
	SourceSystem string    `json:"source_system"`
	SourceID     string    `json:"source_id"`
	Timestamp    time.Time `json:"timestamp"`
	Relevance    float64   `json:"relevance"`
}

// PatternData carries recurrence metadata for pattern_recurring signals
type PatternData struct {
	Occurrences    int        `json:"occurrences"`
	Frequency      string     `json:"frequency"`
	LastOccurrence time.Time  `json:"last_occurrence"`
	PredictedNext  *time.Time `json:"predicted_next,omitempty"`
}

// TrendData carries windowed statistics for trend_acceleration signals
type TrendData struct {
	Metric             string  `json:"metric"`
	Baseline           float64 `json:"baseline"`
	Current            float64 `json:"current"`
	ChangeRate         float64 `json:"change_rate"`
	AccelerationFactor float64 `json:"acceleration_factor"`
	WindowDays         int     `json:"window_days"`
}

// EvidencePoint is one weighted piece of supporting evidence
type EvidencePoint struct {
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// Explainability describes why a signal was raised
type Explainability struct {
	PrimaryReason       string          `json:"primary_reason"`
	ContributingFactors []string        `json:"contributing_factors,omitempty"`
	EvidencePoints      []EvidencePoint `json:"evidence_points,omitempty"`
	RiskIndicators      []string        `json:"risk_indicators,omitempty"`
	ContextualFactors   []string        `json:"contextual_factors,omitempty"`
}

// AffectedEntity identifies a system or team touched by a signal
type AffectedEntity struct {
	EntityType   string `json:"entity_type"`
	Identifier   string `json:"identifier"`
	SourceSystem string `json:"source_system"`
}

// Signal represents a detected weak signal of organizational stress.
// Pattern data and trend data are mutually exclusive; Validate enforces this.
type Signal struct {
	ID                uint             `gorm:"primaryKey" json:"id"`
	UUID              string           `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	TenantID          uint             `gorm:"not null;index" json:"tenant_id"`
	Type              SignalType       `gorm:"type:varchar(50);not null;index" json:"type"`
	Title             string           `gorm:"type:varchar(255)" json:"title"`
	Description       string           `gorm:"type:text" json:"description"`
	Severity          Severity         `gorm:"type:varchar(20);index" json:"severity"`
	ConfidenceScore   int              `json:"confidence_score"`
	Status            SignalStatus     `gorm:"type:varchar(20);not null;default:'new';index" json:"status"`
	SourceSignals     []SourceSignal   `gorm:"type:jsonb;serializer:json" json:"source_signals,omitempty"`
	PatternData       *PatternData     `gorm:"type:jsonb;serializer:json" json:"pattern_data,omitempty"`
	TrendData         *TrendData       `gorm:"type:jsonb;serializer:json" json:"trend_data,omitempty"`
	Explainability    *Explainability  `gorm:"type:jsonb;serializer:json" json:"explainability,omitempty"`
	AffectedEntities  []AffectedEntity `gorm:"type:jsonb;serializer:json" json:"affected_entities,omitempty"`
	Category          string           `gorm:"type:varchar(100)" json:"category"`
	DetectedAt        time.Time        `gorm:"index" json:"detected_at"`
	ValidatedAt       *time.Time       `json:"validated_at,omitempty"`
	EscalatedAt       *time.Time       `json:"escalated_at,omitempty"`
	InvestigatorNotes string           `gorm:"type:text" json:"investigator_notes"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Validate checks signal invariants before persistence
func (s *Signal) Validate() error {
	if s.PatternData != nil && s.TrendData != nil {
		return errors.New("signal cannot carry both pattern data and trend data")
	}
	if s.ConfidenceScore < 0 || s.ConfidenceScore > 100 {
		return fmt.Errorf("confidence score %d out of range [0,100]", s.ConfidenceScore)
	}
	return nil
}

// BeforeCreate sets defaults and enforces invariants
func (s *Signal) BeforeCreate(tx *gorm.DB) error {
	if s.UUID == "" {
		s.UUID = uuid.New().String()
	}
	if s.DetectedAt.IsZero() {
		s.DetectedAt = time.Now()
	}
	if s.Status == "" {
		s.Status = SignalStatusNew
	}
	return s.Validate()
}

func (Signal) TableName() string {
	return "signals"
}

// ========== Detection Run Models ==========

// DetectionRunStatus represents the state of a scheduled detection run
type DetectionRunStatus string

const (
	DetectionRunStatusRunning   DetectionRunStatus = "running"
	DetectionRunStatusCompleted DetectionRunStatus = "completed"
	DetectionRunStatusFailed    DetectionRunStatus = "failed"
)

// DetectionRun is the audit record for one scheduled detection execution.
// It doubles as the deduplication and staleness marker for the scheduler.
type DetectionRun struct {
	ID                  uint               `gorm:"primaryKey" json:"id"`
	UUID                string             `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	TenantID            uint               `gorm:"not null;index" json:"tenant_id"`
	Status              DetectionRunStatus `gorm:"type:varchar(20);not null;default:'running';index" json:"status"`
	StartedAt           time.Time          `gorm:"index" json:"started_at"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
	SignalsDetected     int                `json:"signals_detected"`
	HypothesesGenerated int                `json:"hypotheses_generated"`
	DaysAnalyzed        int                `json:"days_analyzed"`
	Summary             JSONB              `gorm:"type:jsonb" json:"summary"`
	ErrorMessage        string             `gorm:"type:text" json:"error_message"`
	DurationMs          int64              `json:"duration_ms"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// BeforeCreate sets UUID and start time
func (r *DetectionRun) BeforeCreate(tx *gorm.DB) error {
	if r.UUID == "" {
		r.UUID = uuid.New().String()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	return nil
}

func (DetectionRun) TableName() string {
	return "detection_runs"
}

// ========== Alert Rule Models ==========

// RuleType classifies how an alert rule matches records
type RuleType string

const (
	RuleTypeThreshold RuleType = "threshold"
	RuleTypeTopic     RuleType = "topic"
	RuleTypePattern   RuleType = "pattern"
	RuleTypeAnomaly   RuleType = "anomaly"
)

// ThresholdConfig compares a metric value against a fixed threshold.
// Aggregation is one of "", "count", "avg", "sum", "min", "max"; when set,
// the metric is aggregated over the trailing TimeWindowMinutes.
type ThresholdConfig struct {
	Metric            string  `json:"metric"`
	Operator          string  `json:"operator"`
	Value             float64 `json:"value"`
	TimeWindowMinutes int     `json:"time_window_minutes"`
	Aggregation       string  `json:"aggregation,omitempty"`
}

// TopicConfig matches topic keywords against a record's topic/category field
type TopicConfig struct {
	Topics     []string `json:"topics"`
	Match      string   `json:"match"` // "any" or "all"
	Severities []string `json:"severities,omitempty"`
}

// PatternConfig matches keywords against a record's textual fields
type PatternConfig struct {
	Keywords           []string `json:"keywords"`
	Match              string   `json:"match"` // "any" or "all"
	CaseSensitive      bool     `json:"case_sensitive"`
	IncludeDescription bool     `json:"include_description"`
}

// AnomalyConfig flags metric values deviating from a trailing baseline.
// The baseline window ends one day before evaluation; the most recent day
// is excluded from baseline statistics.
type AnomalyConfig struct {
	Metric             string  `json:"metric"`
	DeviationThreshold float64 `json:"deviation_threshold"`
	BaselineDays       int     `json:"baseline_days"`
	MinBaselinePoints  int     `json:"min_baseline_points"`
}

// RuleConfig is a tagged union keyed by the rule's RuleType. Exactly one
// field must be populated, and it must match the rule type.
type RuleConfig struct {
	Threshold *ThresholdConfig `json:"threshold,omitempty"`
	Topic     *TopicConfig     `json:"topic,omitempty"`
	Pattern   *PatternConfig   `json:"pattern,omitempty"`
	Anomaly   *AnomalyConfig   `json:"anomaly,omitempty"`
}

// AlertRule is a tenant-scoped matching rule evaluated against new records
type AlertRule struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	TenantID        uint       `gorm:"not null;index" json:"tenant_id"`
	Name            string     `gorm:"size:255;not null" json:"name"`
	RuleType        RuleType   `gorm:"type:varchar(20);not null;index" json:"rule_type"`
	SourceType      string     `gorm:"type:varchar(50);not null;index" json:"source_type"`
	Config          RuleConfig `gorm:"type:jsonb;serializer:json" json:"config"`
	Severity        Severity   `gorm:"type:varchar(20)" json:"severity"`
	Enabled         bool       `gorm:"default:true;index" json:"enabled"`
	Channels        []string   `gorm:"type:jsonb;serializer:json" json:"channels"`
	CooldownMinutes int        `json:"cooldown_minutes"`
	CreatedBy       string     `gorm:"size:255" json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Validate ensures the populated config variant matches the rule type
func (r *AlertRule) Validate() error {
	populated := 0
	if r.Config.Threshold != nil {
		populated++
	}
	if r.Config.Topic != nil {
		populated++
	}
	if r.Config.Pattern != nil {
		populated++
	}
	if r.Config.Anomaly != nil {
		populated++
	}
	if populated != 1 {
		return fmt.Errorf("rule %q must have exactly one config, has %d", r.Name, populated)
	}

	var ok bool
	switch r.RuleType {
	case RuleTypeThreshold:
		ok = r.Config.Threshold != nil
	case RuleTypeTopic:
		ok = r.Config.Topic != nil
	case RuleTypePattern:
		ok = r.Config.Pattern != nil
	case RuleTypeAnomaly:
		ok = r.Config.Anomaly != nil
	default:
		return fmt.Errorf("unknown rule type %q", r.RuleType)
	}
	if !ok {
		return fmt.Errorf("rule %q config does not match rule type %q", r.Name, r.RuleType)
	}
	return nil
}

// BeforeCreate enforces rule invariants
func (r *AlertRule) BeforeCreate(tx *gorm.DB) error {
	return r.Validate()
}

func (AlertRule) TableName() string {
	return "alert_rules"
}

// ========== Alert Subscription Models ==========

// AlertSubscription binds a user, optionally scoped to one rule, to channel
// configuration and delivery preferences.
type AlertSubscription struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	TenantID        uint      `gorm:"not null;index" json:"tenant_id"`
	UserID          string    `gorm:"size:255;not null;index" json:"user_id"`
	RuleID          *uint     `gorm:"index" json:"rule_id,omitempty"` // nil = all rules
	EmailAddress    string    `gorm:"size:255" json:"email_address"`
	WebhookURL      string    `gorm:"type:text" json:"webhook_url"`
	WebhookChannel  string    `gorm:"size:255" json:"webhook_channel"`
	QuietHoursStart *int      `json:"quiet_hours_start,omitempty"` // hour of day, 0-23
	QuietHoursEnd   *int      `json:"quiet_hours_end,omitempty"`
	Timezone        string    `gorm:"size:64" json:"timezone"`
	DigestMode      bool      `gorm:"default:false" json:"digest_mode"`
	SeverityFilter  []string  `gorm:"type:jsonb;serializer:json" json:"severity_filter,omitempty"`
	Active          bool      `gorm:"default:true;index" json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// InQuietHours reports whether now falls inside the subscriber's quiet-hours
// window, handling windows that wrap past midnight (e.g. 22-6).
func (s *AlertSubscription) InQuietHours(now time.Time) bool {
	if s.QuietHoursStart == nil || s.QuietHoursEnd == nil {
		return false
	}
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			now = now.In(loc)
		}
	}
	hour := now.Hour()
	start, end := *s.QuietHoursStart, *s.QuietHoursEnd
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	// Window wraps midnight
	return hour >= start || hour < end
}

// QuietHoursEndTime returns the next moment the quiet-hours window closes
func (s *AlertSubscription) QuietHoursEndTime(now time.Time) time.Time {
	if s.QuietHoursEnd == nil {
		return now
	}
	loc := now.Location()
	if s.Timezone != "" {
		if l, err := time.LoadLocation(s.Timezone); err == nil {
			loc = l
			now = now.In(loc)
		}
	}
	end := time.Date(now.Year(), now.Month(), now.Day(), *s.QuietHoursEnd, 0, 0, 0, loc)
	if !end.After(now) {
		end = end.Add(24 * time.Hour)
	}
	return end
}

// WantsSeverity reports whether the subscription accepts the given severity
func (s *AlertSubscription) WantsSeverity(severity Severity) bool {
	if len(s.SeverityFilter) == 0 {
		return true
	}
	for _, f := range s.SeverityFilter {
		if Severity(f) == severity {
			return true
		}
	}
	return false
}

func (AlertSubscription) TableName() string {
	return "alert_subscriptions"
}

// ========== Alert History Models ==========

// AlertDeliveryStatus represents the outcome of one alert delivery attempt
type AlertDeliveryStatus string

const (
	AlertStatusPending    AlertDeliveryStatus = "pending"
	AlertStatusSent       AlertDeliveryStatus = "sent"
	AlertStatusFailed     AlertDeliveryStatus = "failed"
	AlertStatusSuppressed AlertDeliveryStatus = "suppressed"
)

// ChannelResult records the outcome of one channel within a delivery attempt
type ChannelResult struct {
	Channel           string `json:"channel"`
	Success           bool   `json:"success"`
	Error             string `json:"error,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	DurationMs        int64  `json:"duration_ms"`
}

// AlertHistory is the immutable delivery record per (rule, user, alert).
// Only SentAt, Status and ChannelResults are written after creation.
type AlertHistory struct {
	ID                uint                `gorm:"primaryKey" json:"id"`
	UUID              string              `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	TenantID          uint                `gorm:"not null;index" json:"tenant_id"`
	RuleID            uint                `gorm:"not null;index" json:"rule_id"`
	UserID            string              `gorm:"size:255;index" json:"user_id"`
	Title             string              `gorm:"type:varchar(255)" json:"title"`
	Message           string              `gorm:"type:text" json:"message"`
	Severity          Severity            `gorm:"type:varchar(20);index" json:"severity"`
	SourceType        string              `gorm:"type:varchar(50)" json:"source_type"`
	SourceID          string              `gorm:"size:255;index" json:"source_id"`
	SourceData        JSONB               `gorm:"type:jsonb" json:"source_data"`
	Channels          []string            `gorm:"type:jsonb;serializer:json" json:"channels"`
	Status            AlertDeliveryStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ChannelResults    []ChannelResult     `gorm:"type:jsonb;serializer:json" json:"channel_results,omitempty"`
	SuppressionReason string              `gorm:"type:text" json:"suppression_reason"`
	SuppressedUntil   *time.Time          `json:"suppressed_until,omitempty"`
	SentAt            *time.Time          `json:"sent_at,omitempty"`
	CreatedAt         time.Time           `gorm:"index" json:"created_at"`
}

// BeforeCreate sets UUID and default status
func (h *AlertHistory) BeforeCreate(tx *gorm.DB) error {
	if h.UUID == "" {
		h.UUID = uuid.New().String()
	}
	if h.Status == "" {
		h.Status = AlertStatusPending
	}
	return nil
}

func (AlertHistory) TableName() string {
	return "alert_history"
}

// GetSeverityEmoji returns an emoji for chat-channel formatting
func GetSeverityEmoji(severity Severity) string {
	switch severity {
	case SeverityCritical:
		return ":red_circle:"
	case SeverityHigh:
		return ":large_orange_circle:"
	case SeverityMedium:
		return ":large_yellow_circle:"
	case SeverityLow:
		return ":large_blue_circle:"
	default:
		return ":white_circle:"
	}
}
