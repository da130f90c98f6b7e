package alerting

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/orgpulse/orgpulse/internal/database"
)

// Limits holds the rate-limiter knobs. These come from static configuration
// so tests can pin deterministic values.
type Limits struct {
	DefaultCooldownMinutes int `yaml:"default_cooldown_minutes"`
	HourlyCap              int `yaml:"hourly_cap"`
	DailyCap               int `yaml:"daily_cap"`
	DuplicateCap           int `yaml:"duplicate_cap"`
	DuplicateWindowMinutes int `yaml:"duplicate_window_minutes"`
}

// DefaultLimits returns the production defaults
func DefaultLimits() Limits {
	return Limits{
		DefaultCooldownMinutes: 60,
		HourlyCap:              20,
		DailyCap:               100,
		DuplicateCap:           3,
		DuplicateWindowMinutes: 60,
	}
}

// Gate names, reported in Decision and used in tests
const (
	GateCooldown   = "rule_cooldown"
	GateHourlyCap  = "user_hourly_cap"
	GateDailyCap   = "user_daily_cap"
	GateDuplicate  = "duplicate_source"
	GateQuietHours = "quiet_hours"
)

// Decision is the outcome of a rate-limit check. When Allowed is false, Gate
// names the first gate that failed and NextAllowed is the earliest time the
// alert could pass that gate.
type Decision struct {
	Allowed     bool
	Gate        string
	Reason      string
	NextAllowed time.Time
}

// Limiter gates alert candidates through an ordered chain of checks. The
// first failing gate wins; later gates are not evaluated. All counters read
// persisted alert history, so multiple service instances share state. Counts
// are soft limits: a concurrent race past a cap is tolerated.
type Limiter struct {
	db     *gorm.DB
	limits Limits
	now    func() time.Time
}

// NewLimiter creates a rate limiter with the given limits
func NewLimiter(db *gorm.DB, limits Limits) *Limiter {
	return &Limiter{db: db, limits: limits, now: time.Now}
}

// Check runs the gate chain for one alert candidate aimed at one subscriber
func (l *Limiter) Check(rule *database.AlertRule, sub *database.AlertSubscription, sourceID string) (Decision, error) {
	now := l.now()

	// Gate 1: rule cooldown
	cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
	if rule.CooldownMinutes <= 0 {
		cooldown = time.Duration(l.limits.DefaultCooldownMinutes) * time.Minute
	}
	var lastSent database.AlertHistory
	err := l.db.Where("tenant_id = ? AND rule_id = ? AND status = ?",
		rule.TenantID, rule.ID, database.AlertStatusSent).
		Order("sent_at desc").First(&lastSent).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return Decision{}, err
	}
	if err == nil && lastSent.SentAt != nil {
		nextAllowed := lastSent.SentAt.Add(cooldown)
		if now.Before(nextAllowed) {
			return Decision{
				Gate:        GateCooldown,
				Reason:      fmt.Sprintf("Rule cooldown active: last alert sent %s ago, cooldown is %s", now.Sub(*lastSent.SentAt).Round(time.Second), cooldown),
				NextAllowed: nextAllowed,
			}, nil
		}
	}

	// Gate 2: user hourly cap
	if decision, err := l.checkUserCap(sub, now, time.Hour, l.limits.HourlyCap, GateHourlyCap); err != nil || !decision.Allowed {
		return decision, err
	}

	// Gate 3: user daily cap
	if decision, err := l.checkUserCap(sub, now, 24*time.Hour, l.limits.DailyCap, GateDailyCap); err != nil || !decision.Allowed {
		return decision, err
	}

	// Gate 4: duplicate-source suppression
	dupWindow := time.Duration(l.limits.DuplicateWindowMinutes) * time.Minute
	var dupCount int64
	if err := l.db.Model(&database.AlertHistory{}).
		Where("tenant_id = ? AND rule_id = ? AND source_id = ? AND status = ? AND sent_at > ?",
			rule.TenantID, rule.ID, sourceID, database.AlertStatusSent, now.Add(-dupWindow)).
		Count(&dupCount).Error; err != nil {
		return Decision{}, err
	}
	if dupCount >= int64(l.limits.DuplicateCap) {
		return Decision{
			Gate:        GateDuplicate,
			Reason:      fmt.Sprintf("Duplicate alert suppressed: %d alerts already sent for source %q in the last %s", dupCount, sourceID, dupWindow),
			NextAllowed: now.Add(dupWindow),
		}, nil
	}

	// Gate 5: quiet hours
	if sub.InQuietHours(now) {
		nextAllowed := sub.QuietHoursEndTime(now)
		return Decision{
			Gate:        GateQuietHours,
			Reason:      fmt.Sprintf("Subscriber quiet hours active until %s", nextAllowed.Format("15:04 MST")),
			NextAllowed: nextAllowed,
		}, nil
	}

	return Decision{Allowed: true}, nil
}

// checkUserCap counts sent alerts to the user over the trailing window
func (l *Limiter) checkUserCap(sub *database.AlertSubscription, now time.Time, window time.Duration, limit int, gate string) (Decision, error) {
	var count int64
	if err := l.db.Model(&database.AlertHistory{}).
		Where("tenant_id = ? AND user_id = ? AND status = ? AND sent_at > ?",
			sub.TenantID, sub.UserID, database.AlertStatusSent, now.Add(-window)).
		Count(&count).Error; err != nil {
		return Decision{}, err
	}
	if count < int64(limit) {
		return Decision{Allowed: true}, nil
	}

	// Next slot opens when the oldest counted alert ages out of the window
	nextAllowed := now.Add(window)
	var oldest database.AlertHistory
	err := l.db.Where("tenant_id = ? AND user_id = ? AND status = ? AND sent_at > ?",
		sub.TenantID, sub.UserID, database.AlertStatusSent, now.Add(-window)).
		Order("sent_at asc").First(&oldest).Error
	if err == nil && oldest.SentAt != nil {
		nextAllowed = oldest.SentAt.Add(window)
	}

	return Decision{
		Gate:        gate,
		Reason:      fmt.Sprintf("User %s hit the %s cap: %d alerts sent in the trailing %s (limit %d)", sub.UserID, gate, count, window, limit),
		NextAllowed: nextAllowed,
	}, nil
}
