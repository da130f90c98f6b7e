// Package services holds the request-scoped operations the HTTP layer calls:
// signal lifecycle transitions and operational statistics.
package services

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/orgpulse/orgpulse/internal/database"
)

// ErrInvalidTransition is returned when a signal status change is not allowed
// from the signal's current status.
var ErrInvalidTransition = errors.New("invalid signal status transition")

// SignalService manages the investigation lifecycle of detected signals
type SignalService struct {
	db *gorm.DB
}

// NewSignalService creates a signal service
func NewSignalService(db *gorm.DB) *SignalService {
	return &SignalService{db: db}
}

// GetByUUID loads one signal
func (s *SignalService) GetByUUID(uuid string) (*database.Signal, error) {
	var signal database.Signal
	if err := s.db.Where("uuid = ?", uuid).First(&signal).Error; err != nil {
		return nil, err
	}
	return &signal, nil
}

// SignalFilter narrows List results. Zero values mean no filtering.
type SignalFilter struct {
	Status   database.SignalStatus
	Severity database.Severity
	Type     database.SignalType
	Since    time.Time
	Limit    int
}

// List returns a tenant's signals, newest first
func (s *SignalService) List(tenantID uint, filter SignalFilter) ([]database.Signal, error) {
	q := s.db.Where("tenant_id = ?", tenantID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Severity != "" {
		q = q.Where("severity = ?", filter.Severity)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if !filter.Since.IsZero() {
		q = q.Where("detected_at >= ?", filter.Since)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var signals []database.Signal
	if err := q.Order("detected_at desc").Limit(limit).Find(&signals).Error; err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	return signals, nil
}

// Validate marks a signal as confirmed by an investigator. Allowed from new
// and investigating.
func (s *SignalService) Validate(uuid, notes string) (*database.Signal, error) {
	return s.transition(uuid, database.SignalStatusValidated, notes,
		database.SignalStatusNew, database.SignalStatusInvestigating)
}

// Dismiss marks a signal as a false positive. Allowed from new,
// investigating and validated.
func (s *SignalService) Dismiss(uuid, notes string) (*database.Signal, error) {
	return s.transition(uuid, database.SignalStatusDismissed, notes,
		database.SignalStatusNew, database.SignalStatusInvestigating, database.SignalStatusValidated)
}

// Escalate promotes a signal for leadership attention. Allowed from new,
// investigating and validated.
func (s *SignalService) Escalate(uuid, notes string) (*database.Signal, error) {
	return s.transition(uuid, database.SignalStatusEscalated, notes,
		database.SignalStatusNew, database.SignalStatusInvestigating, database.SignalStatusValidated)
}

// StartInvestigation moves a new signal into the investigating state
func (s *SignalService) StartInvestigation(uuid, notes string) (*database.Signal, error) {
	return s.transition(uuid, database.SignalStatusInvestigating, notes, database.SignalStatusNew)
}

func (s *SignalService) transition(uuid string, to database.SignalStatus, notes string, allowedFrom ...database.SignalStatus) (*database.Signal, error) {
	signal, err := s.GetByUUID(uuid)
	if err != nil {
		return nil, err
	}

	permitted := false
	for _, from := range allowedFrom {
		if signal.Status == from {
			permitted = true
			break
		}
	}
	if !permitted {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, signal.Status, to)
	}

	now := time.Now()
	signal.Status = to
	switch to {
	case database.SignalStatusValidated:
		signal.ValidatedAt = &now
	case database.SignalStatusEscalated:
		signal.EscalatedAt = &now
	}
	if notes != "" {
		if signal.InvestigatorNotes != "" {
			signal.InvestigatorNotes += "\n"
		}
		signal.InvestigatorNotes += notes
	}

	if err := s.db.Save(signal).Error; err != nil {
		return nil, fmt.Errorf("failed to update signal: %w", err)
	}
	return signal, nil
}
