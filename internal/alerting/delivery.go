package alerting

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/orgpulse/orgpulse/internal/database"
)

// Channel names
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// Channel sends one alert to one subscriber over one transport
type Channel interface {
	Name() string
	Send(ctx context.Context, result *EvaluationResult, sub *database.AlertSubscription) (providerMessageID string, err error)
}

// defaultChannelTimeout bounds each channel send so one slow transport does
// not block the others or the next subscriber.
const defaultChannelTimeout = 10 * time.Second

// Dispatcher fans an approved alert out to a subscriber's channels
// concurrently and persists the outcome.
type Dispatcher struct {
	db       *gorm.DB
	channels map[string]Channel
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher. Register transports with
// RegisterChannel before delivering.
func NewDispatcher(db *gorm.DB, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultChannelTimeout
	}
	return &Dispatcher{
		db:       db,
		channels: make(map[string]Channel),
		timeout:  timeout,
	}
}

// RegisterChannel adds a transport implementation
func (d *Dispatcher) RegisterChannel(ch Channel) {
	d.channels[ch.Name()] = ch
}

// SubscriptionsForRule returns the active subscriptions that should receive
// alerts from the rule: rule-scoped ones plus tenant-wide ones.
func (d *Dispatcher) SubscriptionsForRule(rule *database.AlertRule) ([]database.AlertSubscription, error) {
	var subs []database.AlertSubscription
	if err := d.db.Where("tenant_id = ? AND active = ? AND (rule_id IS NULL OR rule_id = ?)",
		rule.TenantID, true, rule.ID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to load subscriptions: %w", err)
	}
	return subs, nil
}

// channelsFor selects the rule's channels the subscriber has configured
func channelsFor(rule *database.AlertRule, sub *database.AlertSubscription) []string {
	var selected []string
	for _, name := range rule.Channels {
		switch name {
		case ChannelEmail:
			if sub.EmailAddress != "" {
				selected = append(selected, name)
			}
		case ChannelWebhook:
			if sub.WebhookURL != "" {
				selected = append(selected, name)
			}
		}
	}
	return selected
}

// Deliver attempts each enabled channel for the subscriber independently and
// persists an AlertHistory row. The alert is marked sent if at least one
// channel succeeded, failed otherwise.
func (d *Dispatcher) Deliver(ctx context.Context, result *EvaluationResult, sub *database.AlertSubscription) (*database.AlertHistory, error) {
	channelNames := channelsFor(result.Rule, sub)

	history := &database.AlertHistory{
		TenantID:   result.Rule.TenantID,
		RuleID:     result.Rule.ID,
		UserID:     sub.UserID,
		Title:      result.Title,
		Message:    result.Message,
		Severity:   result.Severity,
		SourceType: result.SourceType,
		SourceID:   result.SourceID,
		SourceData: result.SourceData,
		Channels:   channelNames,
		Status:     database.AlertStatusPending,
	}
	if err := d.db.Create(history).Error; err != nil {
		return nil, fmt.Errorf("failed to create alert history: %w", err)
	}

	if len(channelNames) == 0 {
		if err := d.finalize(history, database.AlertStatusFailed, nil); err != nil {
			return history, err
		}
		return history, fmt.Errorf("no configured channels for user %s", sub.UserID)
	}

	results := make([]database.ChannelResult, len(channelNames))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range channelNames {
		g.Go(func() error {
			results[i] = d.sendOne(gctx, name, result, sub)
			return nil
		})
	}
	_ = g.Wait() // the closures never return an error; Wait only synchronizes

	anySuccess := false
	for _, cr := range results {
		if cr.Success {
			anySuccess = true
		} else {
			log.Printf("Channel %s delivery failed for user %s: %s", cr.Channel, sub.UserID, cr.Error)
		}
	}

	status := database.AlertStatusFailed
	if anySuccess {
		status = database.AlertStatusSent
	}
	if err := d.finalize(history, status, results); err != nil {
		return history, err
	}
	return history, nil
}

// sendOne runs a single channel send under its own timeout
func (d *Dispatcher) sendOne(ctx context.Context, name string, result *EvaluationResult, sub *database.AlertSubscription) database.ChannelResult {
	cr := database.ChannelResult{Channel: name}

	ch, ok := d.channels[name]
	if !ok {
		cr.Error = fmt.Sprintf("channel %q not registered", name)
		return cr
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	providerID, err := ch.Send(sendCtx, result, sub)
	cr.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		cr.Error = err.Error()
		return cr
	}
	cr.Success = true
	cr.ProviderMessageID = providerID
	return cr
}

// finalize writes the terminal status, channel results and sent timestamp
func (d *Dispatcher) finalize(history *database.AlertHistory, status database.AlertDeliveryStatus, results []database.ChannelResult) error {
	now := time.Now()
	history.Status = status
	history.ChannelResults = results
	history.SentAt = &now
	// Struct-based update so the JSON serializer handles channel_results
	return d.db.Model(history).Select("status", "channel_results", "sent_at").Updates(history).Error
}

// RecordSuppressed persists a suppressed history row instead of delivering
func (d *Dispatcher) RecordSuppressed(result *EvaluationResult, sub *database.AlertSubscription, decision Decision) (*database.AlertHistory, error) {
	history := &database.AlertHistory{
		TenantID:          result.Rule.TenantID,
		RuleID:            result.Rule.ID,
		UserID:            sub.UserID,
		Title:             result.Title,
		Message:           result.Message,
		Severity:          result.Severity,
		SourceType:        result.SourceType,
		SourceID:          result.SourceID,
		SourceData:        result.SourceData,
		Status:            database.AlertStatusSuppressed,
		SuppressionReason: decision.Reason,
		SuppressedUntil:   &decision.NextAllowed,
	}
	if err := d.db.Create(history).Error; err != nil {
		return nil, fmt.Errorf("failed to record suppressed alert: %w", err)
	}
	return history, nil
}

// DeliveryStats aggregates delivery counts over a trailing window
type DeliveryStats struct {
	Window     time.Duration    `json:"-"`
	Total      int64            `json:"total"`
	ByStatus   map[string]int64 `json:"by_status"`
	ByChannel  map[string]int64 `json:"by_channel"`
	BySeverity map[string]int64 `json:"by_severity"`
}

// Stats computes delivery statistics for a tenant over the trailing window
func (d *Dispatcher) Stats(tenantID uint, window time.Duration) (*DeliveryStats, error) {
	since := time.Now().Add(-window)

	var rows []database.AlertHistory
	if err := d.db.Where("tenant_id = ? AND created_at > ?", tenantID, since).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load alert history: %w", err)
	}

	stats := &DeliveryStats{
		Window:     window,
		ByStatus:   make(map[string]int64),
		ByChannel:  make(map[string]int64),
		BySeverity: make(map[string]int64),
	}
	for _, row := range rows {
		stats.Total++
		stats.ByStatus[string(row.Status)]++
		stats.BySeverity[string(row.Severity)]++
		for _, cr := range row.ChannelResults {
			if cr.Success {
				stats.ByChannel[cr.Channel]++
			}
		}
	}
	return stats, nil
}
