// Package jobs contains the periodic schedulers: the detection job that
// surfaces weak signals per tenant, the alert job that routes fresh signals
// through the rule engine, and the history cleanup job.
package jobs

import (
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/orgpulse/orgpulse/internal/database"
	"github.com/orgpulse/orgpulse/internal/detection"
)

// HypothesisTrigger is an optional hook fired for critical and high severity
// signals. Narrative generation itself lives outside this pipeline.
type HypothesisTrigger func(signal *database.Signal) error

// DetectionJob runs signal detection per tenant on a periodic cadence,
// deduplicating against recent runs and recovering stale in-flight runs.
type DetectionJob struct {
	db         *gorm.DB
	collector  *detection.Collector
	hypothesis HypothesisTrigger
	now        func() time.Time
}

// NewDetectionJob creates a detection job. The hypothesis trigger may be nil.
func NewDetectionJob(db *gorm.DB, collector *detection.Collector, hypothesis HypothesisTrigger) *DetectionJob {
	return &DetectionJob{
		db:         db,
		collector:  collector,
		hypothesis: hypothesis,
		now:        time.Now,
	}
}

// Start begins the periodic detection ticks. The interval is refreshed from
// pipeline settings after each tick so it can be tuned at runtime.
func (j *DetectionJob) Start(stop <-chan struct{}) {
	settings, err := database.GetOrCreatePipelineSettings(j.db)
	if err != nil {
		log.Printf("Failed to load pipeline settings, using defaults: %v", err)
		settings = database.NewDefaultPipelineSettings()
	}

	interval := time.Duration(settings.DetectionIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.RunAll(); err != nil {
				log.Printf("Detection job error: %v", err)
			}

			newSettings, err := database.GetOrCreatePipelineSettings(j.db)
			if err == nil && newSettings.DetectionIntervalMinutes != settings.DetectionIntervalMinutes {
				settings = newSettings
				interval = time.Duration(settings.DetectionIntervalMinutes) * time.Minute
				ticker.Reset(interval)
				log.Printf("Detection interval updated to %d minutes", settings.DetectionIntervalMinutes)
			}

		case <-stop:
			log.Println("Detection job stopped")
			return
		}
	}
}

// RunAll executes detection for every active tenant. Per-tenant failures are
// logged and do not block the remaining tenants.
func (j *DetectionJob) RunAll() error {
	settings, err := database.GetOrCreatePipelineSettings(j.db)
	if err != nil {
		return err
	}

	var tenants []database.Tenant
	if err := j.db.Where("active = ?", true).Find(&tenants).Error; err != nil {
		return fmt.Errorf("failed to load tenants: %w", err)
	}

	for _, tenant := range tenants {
		run, err := j.RunTenant(tenant.ID, settings.AnalysisWindowDays, false)
		if err != nil {
			log.Printf("Detection failed for tenant %d: %v", tenant.ID, err)
			continue
		}
		if run != nil && run.Status == database.DetectionRunStatusCompleted {
			log.Printf("Detection for tenant %d: %d signals in %dms", tenant.ID, run.SignalsDetected, run.DurationMs)
		}
	}
	return nil
}

// RunTenant executes one detection run for a tenant. When force is false,
// the run is deduplicated against recent completed runs and skipped if
// another run is in flight; a manual trigger passes force=true to bypass
// deduplication. Returns the run that covers this request, which may be a
// prior completed run, or nil when another instance holds the claim.
func (j *DetectionJob) RunTenant(tenantID uint, daysBack int, force bool) (*database.DetectionRun, error) {
	settings, err := database.GetOrCreatePipelineSettings(j.db)
	if err != nil {
		return nil, err
	}
	if daysBack <= 0 {
		daysBack = settings.AnalysisWindowDays
	}

	run, claimed, err := j.claimRun(tenantID, settings, force)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return run, nil
	}

	if err := j.execute(run, daysBack, settings.TrendWindowDays); err != nil {
		j.markFailed(run, err)
		return run, nil
	}
	return run, nil
}

// claimRun implements run deduplication and stale-run recovery against the
// persisted DetectionRun table, so multiple scheduler instances cooperate
// without a distributed lock:
//   - a completed run inside the dedup window satisfies the request;
//   - a running run younger than the staleness cutoff means another
//     instance is working, so this one yields;
//   - a running run older than the cutoff is reclassified to failed via a
//     conditional update, and only the instance whose update landed
//     proceeds;
//   - after inserting its own running row, the claimer re-checks for an
//     older concurrent claim and yields to it.
func (j *DetectionJob) claimRun(tenantID uint, settings *database.PipelineSettings, force bool) (*database.DetectionRun, bool, error) {
	now := j.now()
	dedupWindow := time.Duration(settings.DedupWindowHours) * time.Hour
	staleCutoff := now.Add(-time.Duration(settings.StaleRunMinutes) * time.Minute)

	if !force {
		var completed database.DetectionRun
		err := j.db.Where("tenant_id = ? AND status = ? AND completed_at > ?",
			tenantID, database.DetectionRunStatusCompleted, now.Add(-dedupWindow)).
			Order("completed_at desc").First(&completed).Error
		if err == nil {
			return &completed, false, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, false, err
		}
	}

	var running database.DetectionRun
	err := j.db.Where("tenant_id = ? AND status = ?", tenantID, database.DetectionRunStatusRunning).
		Order("started_at asc").First(&running).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, false, err
	}
	if err == nil {
		if running.StartedAt.After(staleCutoff) {
			// Another run is in flight
			return nil, false, nil
		}
		// Stale-run recovery: only the instance whose conditional update
		// lands gets to proceed.
		res := j.db.Model(&database.DetectionRun{}).
			Where("id = ? AND status = ?", running.ID, database.DetectionRunStatusRunning).
			Updates(map[string]interface{}{
				"status":        database.DetectionRunStatusFailed,
				"error_message": "stale run recovered by a later tick",
				"completed_at":  now,
			})
		if res.Error != nil {
			return nil, false, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, false, nil
		}
		log.Printf("Recovered stale detection run %s for tenant %d", running.UUID, tenantID)
	}

	run := &database.DetectionRun{
		TenantID:  tenantID,
		Status:    database.DetectionRunStatusRunning,
		StartedAt: now,
	}
	if err := j.db.Create(run).Error; err != nil {
		return nil, false, err
	}

	// Insert-then-verify: if an older running claim exists, yield to it
	var older database.DetectionRun
	err = j.db.Where("tenant_id = ? AND status = ? AND id < ? AND started_at > ?",
		tenantID, database.DetectionRunStatusRunning, run.ID, staleCutoff).
		First(&older).Error
	if err == nil {
		j.db.Delete(run)
		return nil, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, err
	}

	return run, true, nil
}

// execute runs both analyzers in parallel, synthesizes and persists signals,
// and completes the run with summary counts.
func (j *DetectionJob) execute(run *database.DetectionRun, daysBack, trendWindowDays int) error {
	start := j.now()
	since := start.Add(-time.Duration(daysBack) * 24 * time.Hour)
	trendSince := start.Add(-time.Duration(trendWindowDays) * 24 * time.Hour)

	var patterns []detection.RecurringPattern
	var accelerations []detection.TrendAcceleration

	var g errgroup.Group
	g.Go(func() error {
		records, err := j.collector.Records(run.TenantID, since)
		if err != nil {
			return err
		}
		messages, err := j.collector.Messages(run.TenantID, since)
		if err != nil {
			return err
		}
		patterns = detection.ExtractRecurringPatterns(records)
		patterns = append(patterns, detection.ExtractKeywordSpikes(messages, start)...)
		return nil
	})
	g.Go(func() error {
		series, err := j.collector.MetricSeries(run.TenantID, trendSince)
		if err != nil {
			return err
		}
		accelerations = detection.AnalyzeTrends(series, start, trendWindowDays)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	signals := make([]database.Signal, 0, len(patterns)+len(accelerations))
	for _, p := range patterns {
		signals = append(signals, detection.SynthesizeFromPattern(run.TenantID, p))
	}
	for _, a := range accelerations {
		signals = append(signals, detection.SynthesizeFromTrend(run.TenantID, a))
	}

	byType := make(map[string]interface{})
	bySeverity := make(map[string]interface{})
	bySource := make(map[string]interface{})
	hypotheses := 0
	persisted := 0

	for i := range signals {
		signal := &signals[i]
		if err := j.db.Create(signal).Error; err != nil {
			log.Printf("Failed to persist signal for tenant %d: %v", run.TenantID, err)
			continue
		}
		persisted++

		byType[string(signal.Type)] = toInt(byType[string(signal.Type)]) + 1
		bySeverity[string(signal.Severity)] = toInt(bySeverity[string(signal.Severity)]) + 1
		for _, src := range signal.SourceSignals {
			bySource[src.SourceSystem] = toInt(bySource[src.SourceSystem]) + 1
		}

		if j.hypothesis != nil && (signal.Severity == database.SeverityCritical || signal.Severity == database.SeverityHigh) {
			if err := j.hypothesis(signal); err != nil {
				log.Printf("Hypothesis trigger failed for signal %s: %v", signal.UUID, err)
			} else {
				hypotheses++
			}
		}
	}

	completedAt := j.now()
	return j.db.Model(run).Updates(map[string]interface{}{
		"status":               database.DetectionRunStatusCompleted,
		"completed_at":         completedAt,
		"signals_detected":     persisted,
		"hypotheses_generated": hypotheses,
		"days_analyzed":        daysBack,
		"summary": database.JSONB{
			"by_type":     byType,
			"by_severity": bySeverity,
			"by_source":   bySource,
		},
		"duration_ms": completedAt.Sub(start).Milliseconds(),
	}).Error
}

// markFailed records a run-level failure without aborting the scheduler
func (j *DetectionJob) markFailed(run *database.DetectionRun, cause error) {
	now := j.now()
	err := j.db.Model(run).Updates(map[string]interface{}{
		"status":        database.DetectionRunStatusFailed,
		"error_message": cause.Error(),
		"completed_at":  now,
		"duration_ms":   now.Sub(run.StartedAt).Milliseconds(),
	}).Error
	if err != nil {
		log.Printf("Failed to mark run %s failed: %v", run.UUID, err)
	}
}

func toInt(v interface{}) int {
	if n, ok := v.(int); ok {
		return n
	}
	return 0
}
