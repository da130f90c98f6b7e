package services

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/orgpulse/orgpulse/internal/alerting"
	"github.com/orgpulse/orgpulse/internal/database"
)

// RateLimitSnapshot reports a user's current standing against the caps
type RateLimitSnapshot struct {
	UserID          string `json:"user_id"`
	SentLastHour    int64  `json:"sent_last_hour"`
	SentLastDay     int64  `json:"sent_last_day"`
	HourlyCap       int    `json:"hourly_cap"`
	DailyCap        int    `json:"daily_cap"`
	HourlyRemaining int64  `json:"hourly_remaining"`
	DailyRemaining  int64  `json:"daily_remaining"`
}

// TenantAlertStats is the operator view over a tenant's alerting activity
type TenantAlertStats struct {
	Delivery   *alerting.DeliveryStats `json:"delivery"`
	Users      []RateLimitSnapshot     `json:"users"`
	Suppressed int64                   `json:"suppressed_last_day"`
}

// StatsService aggregates delivery and rate-limit statistics
type StatsService struct {
	db         *gorm.DB
	dispatcher *alerting.Dispatcher
	limits     alerting.Limits
}

// NewStatsService creates a stats service
func NewStatsService(db *gorm.DB, dispatcher *alerting.Dispatcher, limits alerting.Limits) *StatsService {
	return &StatsService{db: db, dispatcher: dispatcher, limits: limits}
}

// TenantStats builds the alert-stats payload over a trailing 24h window
func (s *StatsService) TenantStats(tenantID uint) (*TenantAlertStats, error) {
	delivery, err := s.dispatcher.Stats(tenantID, 24*time.Hour)
	if err != nil {
		return nil, err
	}

	var suppressed int64
	if err := s.db.Model(&database.AlertHistory{}).
		Where("tenant_id = ? AND status = ? AND created_at > ?",
			tenantID, database.AlertStatusSuppressed, time.Now().Add(-24*time.Hour)).
		Count(&suppressed).Error; err != nil {
		return nil, fmt.Errorf("failed to count suppressed alerts: %w", err)
	}

	var userIDs []string
	if err := s.db.Model(&database.AlertSubscription{}).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Distinct("user_id").Pluck("user_id", &userIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to load subscribers: %w", err)
	}

	users := make([]RateLimitSnapshot, 0, len(userIDs))
	for _, userID := range userIDs {
		snap, err := s.userSnapshot(tenantID, userID)
		if err != nil {
			return nil, err
		}
		users = append(users, snap)
	}

	return &TenantAlertStats{
		Delivery:   delivery,
		Users:      users,
		Suppressed: suppressed,
	}, nil
}

func (s *StatsService) userSnapshot(tenantID uint, userID string) (RateLimitSnapshot, error) {
	now := time.Now()

	hourly, err := s.countSent(tenantID, userID, now.Add(-time.Hour))
	if err != nil {
		return RateLimitSnapshot{}, err
	}
	daily, err := s.countSent(tenantID, userID, now.Add(-24*time.Hour))
	if err != nil {
		return RateLimitSnapshot{}, err
	}

	return RateLimitSnapshot{
		UserID:          userID,
		SentLastHour:    hourly,
		SentLastDay:     daily,
		HourlyCap:       s.limits.HourlyCap,
		DailyCap:        s.limits.DailyCap,
		HourlyRemaining: maxInt64(int64(s.limits.HourlyCap)-hourly, 0),
		DailyRemaining:  maxInt64(int64(s.limits.DailyCap)-daily, 0),
	}, nil
}

func (s *StatsService) countSent(tenantID uint, userID string, since time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&database.AlertHistory{}).
		Where("tenant_id = ? AND user_id = ? AND status = ? AND sent_at > ?",
			tenantID, userID, database.AlertStatusSent, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count sent alerts: %w", err)
	}
	return count, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
