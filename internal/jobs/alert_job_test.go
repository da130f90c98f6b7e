package jobs

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/orgpulse/orgpulse/internal/alerting"
	"github.com/orgpulse/orgpulse/internal/database"
	"github.com/orgpulse/orgpulse/internal/testhelpers"
)

// recordingChannel captures sends so tests can assert delivery without a
// real transport.
type recordingChannel struct {
	name  string
	sends int
	err   error
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(ctx context.Context, result *alerting.EvaluationResult, sub *database.AlertSubscription) (string, error) {
	c.sends++
	if c.err != nil {
		return "", c.err
	}
	return "msg-1", nil
}

func newAlertTestStack(t *testing.T) (*AlertJob, *recordingChannel, *database.Tenant, func() *testhelpers.AlertRuleBuilder) {
	t.Helper()
	db := setupTestDB(t)
	tenant := createTenant(t, db)

	email := &recordingChannel{name: alerting.ChannelEmail}
	dispatcher := alerting.NewDispatcher(db, time.Second)
	dispatcher.RegisterChannel(email)

	engine := alerting.NewEngine(db, alerting.NewStoreMetricReader(db))
	limiter := alerting.NewLimiter(db, alerting.DefaultLimits())
	job := NewAlertJob(db, engine, limiter, dispatcher)

	ruleBuilder := func() *testhelpers.AlertRuleBuilder {
		return testhelpers.NewAlertRuleBuilder().WithTenant(tenant.ID)
	}
	return job, email, &tenant, ruleBuilder
}

func TestProcessTenantSinceDeliversMatchedSignal(t *testing.T) {
	job, email, tenant, newRule := newAlertTestStack(t)

	rule := newRule().AsPattern(&database.PatternConfig{
		Keywords: []string{"timeout"},
		Match:    "any",
	}).Build()
	if err := job.db.Create(&rule).Error; err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}

	sub := testhelpers.NewSubscriptionBuilder().WithTenant(tenant.ID).Build()
	if err := job.db.Create(&sub).Error; err != nil {
		t.Fatalf("failed to create subscription: %v", err)
	}

	signal := testhelpers.NewSignalBuilder().WithTenant(tenant.ID).Build()
	signal.Title = "Recurring timeout pattern in payments"
	if err := job.db.Create(&signal).Error; err != nil {
		t.Fatalf("failed to create signal: %v", err)
	}

	triggered, _, err := job.ProcessTenantSince(context.Background(), tenant.ID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ProcessTenantSince failed: %v", err)
	}
	if triggered != 1 {
		t.Fatalf("triggered = %d, want 1", triggered)
	}
	if email.sends != 1 {
		t.Errorf("email sends = %d, want 1", email.sends)
	}

	var history database.AlertHistory
	if err := job.db.First(&history).Error; err != nil {
		t.Fatalf("failed to load history: %v", err)
	}
	if history.Status != database.AlertStatusSent {
		t.Errorf("Status = %q, want sent", history.Status)
	}
	if history.SourceID != signal.UUID {
		t.Errorf("SourceID = %q, want signal UUID %q", history.SourceID, signal.UUID)
	}
}

func TestProcessTenantSinceRespectsSeverityFilter(t *testing.T) {
	job, email, tenant, newRule := newAlertTestStack(t)

	rule := newRule().WithSeverity(database.SeverityMedium).AsPattern(&database.PatternConfig{
		Keywords: []string{"timeout"},
		Match:    "any",
	}).Build()
	if err := job.db.Create(&rule).Error; err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}

	sub := testhelpers.NewSubscriptionBuilder().WithTenant(tenant.ID).
		WithSeverityFilter("critical").Build()
	if err := job.db.Create(&sub).Error; err != nil {
		t.Fatalf("failed to create subscription: %v", err)
	}

	signal := testhelpers.NewSignalBuilder().WithTenant(tenant.ID).Build()
	signal.Title = "Recurring timeout pattern in payments"
	if err := job.db.Create(&signal).Error; err != nil {
		t.Fatalf("failed to create signal: %v", err)
	}

	triggered, _, err := job.ProcessTenantSince(context.Background(), tenant.ID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ProcessTenantSince failed: %v", err)
	}
	if triggered != 0 {
		t.Errorf("triggered = %d, want 0 for filtered severity", triggered)
	}
	if email.sends != 0 {
		t.Errorf("email sends = %d, want 0", email.sends)
	}
}

func TestProcessTenantSinceEvaluatesIncidents(t *testing.T) {
	job, email, tenant, newRule := newAlertTestStack(t)

	rule := newRule().WithSourceType("incident").AsTopic(&database.TopicConfig{
		Topics: []string{"payments"},
		Match:  "any",
	}).Build()
	if err := job.db.Create(&rule).Error; err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}

	sub := testhelpers.NewSubscriptionBuilder().WithTenant(tenant.ID).Build()
	if err := job.db.Create(&sub).Error; err != nil {
		t.Fatalf("failed to create subscription: %v", err)
	}

	incident := database.IncidentRecord{
		TenantID:   tenant.ID,
		ExternalID: "INC-100",
		Title:      "Checkout degraded",
		Category:   "payments",
		Severity:   "high",
		CreatedAt:  time.Now(),
	}
	if err := job.db.Create(&incident).Error; err != nil {
		t.Fatalf("failed to create incident: %v", err)
	}

	triggered, incidents, err := job.ProcessTenantSince(context.Background(), tenant.ID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ProcessTenantSince failed: %v", err)
	}
	if triggered != 1 {
		t.Fatalf("triggered = %d, want 1", triggered)
	}
	if incidents != 1 {
		t.Errorf("incidents processed = %d, want 1", incidents)
	}
	if email.sends != 1 {
		t.Errorf("email sends = %d, want 1", email.sends)
	}
}

func TestProcessTenantSinceRecordsSuppression(t *testing.T) {
	job, email, tenant, newRule := newAlertTestStack(t)

	rule := newRule().AsPattern(&database.PatternConfig{
		Keywords: []string{"timeout"},
		Match:    "any",
	}).Build()
	if err := job.db.Create(&rule).Error; err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}

	// Quiet hours cover the whole day, so delivery is always suppressed
	sub := testhelpers.NewSubscriptionBuilder().WithTenant(tenant.ID).
		WithQuietHours(0, 23).Build()
	if err := job.db.Create(&sub).Error; err != nil {
		t.Fatalf("failed to create subscription: %v", err)
	}

	signal := testhelpers.NewSignalBuilder().WithTenant(tenant.ID).Build()
	signal.Title = "Recurring timeout pattern in payments"
	if err := job.db.Create(&signal).Error; err != nil {
		t.Fatalf("failed to create signal: %v", err)
	}

	hour := time.Now().Hour()
	triggered, _, err := job.ProcessTenantSince(context.Background(), tenant.ID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ProcessTenantSince failed: %v", err)
	}
	if hour == 23 {
		// The single uncovered hour of the window
		t.Skip("current hour falls outside the configured quiet window")
	}
	if triggered != 0 {
		t.Errorf("triggered = %d, want 0", triggered)
	}
	if email.sends != 0 {
		t.Errorf("email sends = %d, want 0", email.sends)
	}

	var history database.AlertHistory
	if err := job.db.First(&history).Error; err != nil {
		t.Fatalf("failed to load history: %v", err)
	}
	if history.Status != database.AlertStatusSuppressed {
		t.Errorf("Status = %q, want suppressed", history.Status)
	}
	if history.SuppressionReason == "" {
		t.Error("expected a suppression reason")
	}
}

func TestProcessRecordContinuesWhenOneRuleMisconfigured(t *testing.T) {
	job, email, tenant, newRule := newAlertTestStack(t)

	// Insert an invalid rule directly, bypassing validation hooks
	broken := newRule().WithName("broken").Build()
	broken.Config = database.RuleConfig{}
	if err := job.db.Session(&gorm.Session{SkipHooks: true}).Create(&broken).Error; err != nil {
		t.Fatalf("failed to create broken rule: %v", err)
	}

	good := newRule().WithName("good").AsPattern(&database.PatternConfig{
		Keywords: []string{"timeout"},
		Match:    "any",
	}).Build()
	if err := job.db.Create(&good).Error; err != nil {
		t.Fatalf("failed to create good rule: %v", err)
	}

	sub := testhelpers.NewSubscriptionBuilder().WithTenant(tenant.ID).Build()
	if err := job.db.Create(&sub).Error; err != nil {
		t.Fatalf("failed to create subscription: %v", err)
	}

	signal := testhelpers.NewSignalBuilder().WithTenant(tenant.ID).Build()
	signal.Title = "Recurring timeout pattern in payments"
	if err := job.db.Create(&signal).Error; err != nil {
		t.Fatalf("failed to create signal: %v", err)
	}

	triggered, _, err := job.ProcessTenantSince(context.Background(), tenant.ID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ProcessTenantSince failed: %v", err)
	}
	if triggered != 1 {
		t.Errorf("triggered = %d, want 1 from the valid rule", triggered)
	}
	if email.sends != 1 {
		t.Errorf("email sends = %d, want 1", email.sends)
	}
}
