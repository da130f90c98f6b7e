// Package testhelpers provides reusable builders and HTTP utilities for
// tests.
package testhelpers

import (
	"time"

	"github.com/orgpulse/orgpulse/internal/database"
)

// ========================================
// Tenant Builder
// ========================================

// TenantBuilder builds Tenant instances for testing
type TenantBuilder struct {
	tenant database.Tenant
}

// NewTenantBuilder creates a tenant builder with defaults
func NewTenantBuilder() *TenantBuilder {
	return &TenantBuilder{
		tenant: database.Tenant{
			Name:   "test-tenant",
			Active: true,
		},
	}
}

// WithName sets the tenant name
func (b *TenantBuilder) WithName(name string) *TenantBuilder {
	b.tenant.Name = name
	return b
}

// Inactive marks the tenant inactive
func (b *TenantBuilder) Inactive() *TenantBuilder {
	b.tenant.Active = false
	return b
}

// Build returns the constructed tenant
func (b *TenantBuilder) Build() database.Tenant {
	return b.tenant
}

// ========================================
// Signal Builder
// ========================================

// SignalBuilder builds Signal instances for testing
type SignalBuilder struct {
	signal database.Signal
}

// NewSignalBuilder creates a signal builder with defaults
func NewSignalBuilder() *SignalBuilder {
	return &SignalBuilder{
		signal: database.Signal{
			TenantID:        1,
			Type:            database.SignalTypePatternRecurring,
			Title:           "Recurring deploy failures",
			Severity:        database.SeverityMedium,
			ConfidenceScore: 70,
			Status:          database.SignalStatusNew,
			DetectedAt:      time.Now(),
		},
	}
}

// WithTenant sets the tenant ID
func (b *SignalBuilder) WithTenant(id uint) *SignalBuilder {
	b.signal.TenantID = id
	return b
}

// WithType sets the signal type
func (b *SignalBuilder) WithType(t database.SignalType) *SignalBuilder {
	b.signal.Type = t
	return b
}

// WithSeverity sets the severity
func (b *SignalBuilder) WithSeverity(s database.Severity) *SignalBuilder {
	b.signal.Severity = s
	return b
}

// WithStatus sets the lifecycle status
func (b *SignalBuilder) WithStatus(s database.SignalStatus) *SignalBuilder {
	b.signal.Status = s
	return b
}

// WithConfidence sets the confidence score
func (b *SignalBuilder) WithConfidence(score int) *SignalBuilder {
	b.signal.ConfidenceScore = score
	return b
}

// WithPatternData attaches pattern metadata
func (b *SignalBuilder) WithPatternData(p *database.PatternData) *SignalBuilder {
	b.signal.PatternData = p
	return b
}

// WithTrendData attaches trend metadata
func (b *SignalBuilder) WithTrendData(t *database.TrendData) *SignalBuilder {
	b.signal.TrendData = t
	return b
}

// DetectedAt sets the detection time
func (b *SignalBuilder) DetectedAt(at time.Time) *SignalBuilder {
	b.signal.DetectedAt = at
	return b
}

// Build returns the constructed signal
func (b *SignalBuilder) Build() database.Signal {
	return b.signal
}

// ========================================
// Alert Rule Builder
// ========================================

// AlertRuleBuilder builds AlertRule instances for testing
type AlertRuleBuilder struct {
	rule database.AlertRule
}

// NewAlertRuleBuilder creates a rule builder with a pattern-rule default
func NewAlertRuleBuilder() *AlertRuleBuilder {
	return &AlertRuleBuilder{
		rule: database.AlertRule{
			TenantID:   1,
			Name:       "test-rule",
			RuleType:   database.RuleTypePattern,
			SourceType: "signal",
			Config: database.RuleConfig{
				Pattern: &database.PatternConfig{
					Keywords: []string{"failure"},
					Match:    "any",
				},
			},
			Severity: database.SeverityMedium,
			Enabled:  true,
			Channels: []string{"email"},
		},
	}
}

// WithTenant sets the tenant ID
func (b *AlertRuleBuilder) WithTenant(id uint) *AlertRuleBuilder {
	b.rule.TenantID = id
	return b
}

// WithName sets the rule name
func (b *AlertRuleBuilder) WithName(name string) *AlertRuleBuilder {
	b.rule.Name = name
	return b
}

// WithSourceType sets the watched source type
func (b *AlertRuleBuilder) WithSourceType(st string) *AlertRuleBuilder {
	b.rule.SourceType = st
	return b
}

// WithSeverity sets the alert severity
func (b *AlertRuleBuilder) WithSeverity(s database.Severity) *AlertRuleBuilder {
	b.rule.Severity = s
	return b
}

// WithCooldown sets the per-rule cooldown
func (b *AlertRuleBuilder) WithCooldown(minutes int) *AlertRuleBuilder {
	b.rule.CooldownMinutes = minutes
	return b
}

// WithChannels sets the delivery channels
func (b *AlertRuleBuilder) WithChannels(channels ...string) *AlertRuleBuilder {
	b.rule.Channels = channels
	return b
}

// AsThreshold replaces the config with a threshold config
func (b *AlertRuleBuilder) AsThreshold(cfg *database.ThresholdConfig) *AlertRuleBuilder {
	b.rule.RuleType = database.RuleTypeThreshold
	b.rule.Config = database.RuleConfig{Threshold: cfg}
	return b
}

// AsTopic replaces the config with a topic config
func (b *AlertRuleBuilder) AsTopic(cfg *database.TopicConfig) *AlertRuleBuilder {
	b.rule.RuleType = database.RuleTypeTopic
	b.rule.Config = database.RuleConfig{Topic: cfg}
	return b
}

// AsPattern replaces the config with a pattern config
func (b *AlertRuleBuilder) AsPattern(cfg *database.PatternConfig) *AlertRuleBuilder {
	b.rule.RuleType = database.RuleTypePattern
	b.rule.Config = database.RuleConfig{Pattern: cfg}
	return b
}

// AsAnomaly replaces the config with an anomaly config
func (b *AlertRuleBuilder) AsAnomaly(cfg *database.AnomalyConfig) *AlertRuleBuilder {
	b.rule.RuleType = database.RuleTypeAnomaly
	b.rule.Config = database.RuleConfig{Anomaly: cfg}
	return b
}

// Disabled marks the rule disabled
func (b *AlertRuleBuilder) Disabled() *AlertRuleBuilder {
	b.rule.Enabled = false
	return b
}

// Build returns the constructed rule
func (b *AlertRuleBuilder) Build() database.AlertRule {
	return b.rule
}

// ========================================
// Subscription Builder
// ========================================

// SubscriptionBuilder builds AlertSubscription instances for testing
type SubscriptionBuilder struct {
	sub database.AlertSubscription
}

// NewSubscriptionBuilder creates a subscription builder with defaults
func NewSubscriptionBuilder() *SubscriptionBuilder {
	return &SubscriptionBuilder{
		sub: database.AlertSubscription{
			TenantID:     1,
			UserID:       "user-1",
			EmailAddress: "user@example.com",
			Active:       true,
		},
	}
}

// WithTenant sets the tenant ID
func (b *SubscriptionBuilder) WithTenant(id uint) *SubscriptionBuilder {
	b.sub.TenantID = id
	return b
}

// WithUser sets the user ID
func (b *SubscriptionBuilder) WithUser(userID string) *SubscriptionBuilder {
	b.sub.UserID = userID
	return b
}

// WithRule scopes the subscription to one rule
func (b *SubscriptionBuilder) WithRule(ruleID uint) *SubscriptionBuilder {
	b.sub.RuleID = &ruleID
	return b
}

// WithEmail sets the email address
func (b *SubscriptionBuilder) WithEmail(addr string) *SubscriptionBuilder {
	b.sub.EmailAddress = addr
	return b
}

// WithWebhook sets the webhook destination
func (b *SubscriptionBuilder) WithWebhook(url, channel string) *SubscriptionBuilder {
	b.sub.WebhookURL = url
	b.sub.WebhookChannel = channel
	return b
}

// WithQuietHours sets the quiet-hours window
func (b *SubscriptionBuilder) WithQuietHours(start, end int) *SubscriptionBuilder {
	b.sub.QuietHoursStart = &start
	b.sub.QuietHoursEnd = &end
	return b
}

// WithSeverityFilter restricts delivered severities
func (b *SubscriptionBuilder) WithSeverityFilter(severities ...string) *SubscriptionBuilder {
	b.sub.SeverityFilter = severities
	return b
}

// Inactive marks the subscription inactive
func (b *SubscriptionBuilder) Inactive() *SubscriptionBuilder {
	b.sub.Active = false
	return b
}

// Build returns the constructed subscription
func (b *SubscriptionBuilder) Build() database.AlertSubscription {
	return b.sub
}
