package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/orgpulse/orgpulse/internal/alerting"
	"github.com/orgpulse/orgpulse/internal/database"
)

// AlertJob feeds newly created signals and incident records through the rule
// engine, gates each candidate through the rate limiter, and hands approved
// alerts to the dispatcher.
type AlertJob struct {
	db         *gorm.DB
	engine     *alerting.Engine
	limiter    *alerting.Limiter
	dispatcher *alerting.Dispatcher
	lastRun    time.Time
	now        func() time.Time
}

// NewAlertJob creates an alert job. The first tick processes records from the
// preceding alert interval.
func NewAlertJob(db *gorm.DB, engine *alerting.Engine, limiter *alerting.Limiter, dispatcher *alerting.Dispatcher) *AlertJob {
	return &AlertJob{
		db:         db,
		engine:     engine,
		limiter:    limiter,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// Start begins the periodic alert ticks
func (j *AlertJob) Start(stop <-chan struct{}) {
	settings, err := database.GetOrCreatePipelineSettings(j.db)
	if err != nil {
		log.Printf("Failed to load pipeline settings, using defaults: %v", err)
		settings = database.NewDefaultPipelineSettings()
	}

	interval := time.Duration(settings.AlertIntervalMinutes) * time.Minute
	j.lastRun = j.now().Add(-interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.RunAll(context.Background()); err != nil {
				log.Printf("Alert job error: %v", err)
			}

			newSettings, err := database.GetOrCreatePipelineSettings(j.db)
			if err == nil && newSettings.AlertIntervalMinutes != settings.AlertIntervalMinutes {
				settings = newSettings
				interval = time.Duration(settings.AlertIntervalMinutes) * time.Minute
				ticker.Reset(interval)
				log.Printf("Alert interval updated to %d minutes", settings.AlertIntervalMinutes)
			}

		case <-stop:
			log.Println("Alert job stopped")
			return
		}
	}
}

// RunAll processes all active tenants from the previous watermark. The
// watermark only advances when every tenant was processed, so a failing
// tenant's records are retried on the next tick.
func (j *AlertJob) RunAll(ctx context.Context) error {
	since := j.lastRun
	tick := j.now()

	var tenants []database.Tenant
	if err := j.db.Where("active = ?", true).Find(&tenants).Error; err != nil {
		return fmt.Errorf("failed to load tenants: %w", err)
	}

	allOK := true
	for _, tenant := range tenants {
		triggered, _, err := j.ProcessTenantSince(ctx, tenant.ID, since)
		if err != nil {
			log.Printf("Alert processing failed for tenant %d: %v", tenant.ID, err)
			allOK = false
			continue
		}
		if triggered > 0 {
			log.Printf("Alert processing for tenant %d: %d alerts triggered", tenant.ID, triggered)
		}
	}

	if allOK {
		j.lastRun = tick
	}
	return nil
}

// ProcessTenantSince evaluates every signal and incident record created for
// the tenant since the cutoff. It returns the number of alerts that were
// actually delivered (sent or failed in transit, not suppressed) and the
// number of incident records evaluated.
func (j *AlertJob) ProcessTenantSince(ctx context.Context, tenantID uint, since time.Time) (triggered, incidentsProcessed int, err error) {
	var signals []database.Signal
	if err := j.db.Where("tenant_id = ? AND created_at > ?", tenantID, since).Find(&signals).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to load signals: %w", err)
	}
	for i := range signals {
		n, err := j.processRecord(ctx, signalEvalRecord(&signals[i]))
		if err != nil {
			return triggered, 0, err
		}
		triggered += n
	}

	var incidents []database.IncidentRecord
	if err := j.db.Where("tenant_id = ? AND created_at > ?", tenantID, since).Find(&incidents).Error; err != nil {
		return triggered, 0, fmt.Errorf("failed to load incidents: %w", err)
	}
	for i := range incidents {
		n, err := j.processRecord(ctx, incidentEvalRecord(&incidents[i]))
		if err != nil {
			return triggered, incidentsProcessed, err
		}
		incidentsProcessed++
		triggered += n
	}

	return triggered, incidentsProcessed, nil
}

// processRecord runs the engine on one record and routes each matched rule's
// alert to the eligible subscribers.
func (j *AlertJob) processRecord(ctx context.Context, rec alerting.EvalRecord) (int, error) {
	results, err := j.engine.Evaluate(rec)
	if err != nil {
		return 0, err
	}

	triggered := 0
	for i := range results {
		result := &results[i]

		subs, err := j.dispatcher.SubscriptionsForRule(result.Rule)
		if err != nil {
			return triggered, err
		}

		for s := range subs {
			sub := &subs[s]
			if !sub.WantsSeverity(result.Severity) {
				continue
			}

			decision, err := j.limiter.Check(result.Rule, sub, result.SourceID)
			if err != nil {
				return triggered, err
			}
			if !decision.Allowed {
				if _, err := j.dispatcher.RecordSuppressed(result, sub, decision); err != nil {
					log.Printf("Failed to record suppression for user %s: %v", sub.UserID, err)
				}
				continue
			}

			if _, err := j.dispatcher.Deliver(ctx, result, sub); err != nil {
				log.Printf("Delivery incomplete for user %s: %v", sub.UserID, err)
			}
			triggered++
		}
	}
	return triggered, nil
}

// signalEvalRecord flattens a signal for rule matching
func signalEvalRecord(s *database.Signal) alerting.EvalRecord {
	fields := map[string]float64{
		"confidence_score": float64(s.ConfidenceScore),
	}
	if s.TrendData != nil {
		fields["acceleration_factor"] = s.TrendData.AccelerationFactor
		fields["change_rate"] = s.TrendData.ChangeRate
	}
	if s.PatternData != nil {
		fields["occurrences"] = float64(s.PatternData.Occurrences)
	}

	return alerting.EvalRecord{
		TenantID:    s.TenantID,
		SourceType:  "signal",
		SourceID:    s.UUID,
		Title:       s.Title,
		Description: s.Description,
		Topic:       s.Category,
		Category:    s.Category,
		Severity:    string(s.Severity),
		Value:       float64(s.ConfidenceScore),
		Fields:      fields,
		Data: database.JSONB{
			"signal_type":      string(s.Type),
			"severity":         string(s.Severity),
			"confidence_score": s.ConfidenceScore,
		},
		OccurredAt: s.DetectedAt,
	}
}

// incidentEvalRecord flattens an incident record for rule matching
func incidentEvalRecord(i *database.IncidentRecord) alerting.EvalRecord {
	return alerting.EvalRecord{
		TenantID:   i.TenantID,
		SourceType: "incident",
		SourceID:   i.ExternalID,
		Title:      i.Title,
		Summary:    i.Summary,
		Topic:      i.Category,
		Category:   i.Category,
		Severity:   i.Severity,
		Data: database.JSONB{
			"external_id": i.ExternalID,
			"severity":    i.Severity,
			"category":    i.Category,
		},
		OccurredAt: i.CreatedAt,
	}
}
