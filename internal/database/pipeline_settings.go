package database

import (
	"time"

	"gorm.io/gorm"
)

// PipelineSettings is a singleton row of runtime-tunable scheduler knobs.
// Rate-limit caps live in static configuration, not here; these values can
// change between ticks without restarting the service.
type PipelineSettings struct {
	ID                       uint      `gorm:"primaryKey" json:"id"`
	DetectionIntervalMinutes int       `gorm:"default:60" json:"detection_interval_minutes"`
	AlertIntervalMinutes     int       `gorm:"default:5" json:"alert_interval_minutes"`
	DedupWindowHours         int       `gorm:"default:6" json:"dedup_window_hours"`
	StaleRunMinutes          int       `gorm:"default:60" json:"stale_run_minutes"`
	AnalysisWindowDays       int       `gorm:"default:90" json:"analysis_window_days"`
	TrendWindowDays          int       `gorm:"default:30" json:"trend_window_days"`
	CleanupRetentionDays     int       `gorm:"default:30" json:"cleanup_retention_days"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

func (PipelineSettings) TableName() string {
	return "pipeline_settings"
}

// NewDefaultPipelineSettings returns settings with production defaults
func NewDefaultPipelineSettings() *PipelineSettings {
	return &PipelineSettings{
		DetectionIntervalMinutes: 60,
		AlertIntervalMinutes:     5,
		DedupWindowHours:         6,
		StaleRunMinutes:          60,
		AnalysisWindowDays:       90,
		TrendWindowDays:          30,
		CleanupRetentionDays:     30,
	}
}

// GetOrCreatePipelineSettings retrieves or creates the settings singleton.
// Accepts a db parameter for dependency injection and testing.
func GetOrCreatePipelineSettings(db *gorm.DB) (*PipelineSettings, error) {
	var settings PipelineSettings
	result := db.First(&settings)
	if result.Error == gorm.ErrRecordNotFound {
		settings = *NewDefaultPipelineSettings()
		if err := db.Create(&settings).Error; err != nil {
			return nil, err
		}
	} else if result.Error != nil {
		return nil, result.Error
	}
	return &settings, nil
}

// UpdatePipelineSettings persists changed settings
func UpdatePipelineSettings(db *gorm.DB, settings *PipelineSettings) error {
	return db.Save(settings).Error
}
