package jobs

import (
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/orgpulse/orgpulse/internal/database"
)

// cleanupInterval is fixed; retention length comes from pipeline settings
const cleanupInterval = 24 * time.Hour

// CleanupJob purges suppressed alert history rows past the retention window.
// Sent and failed rows are kept as the audit trail.
type CleanupJob struct {
	db  *gorm.DB
	now func() time.Time
}

// NewCleanupJob creates a cleanup job
func NewCleanupJob(db *gorm.DB) *CleanupJob {
	return &CleanupJob{db: db, now: time.Now}
}

// Start begins the daily cleanup ticks
func (j *CleanupJob) Start(stop <-chan struct{}) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.Run(); err != nil {
				log.Printf("Cleanup job error: %v", err)
			}
		case <-stop:
			log.Println("Cleanup job stopped")
			return
		}
	}
}

// Run deletes suppressed history rows older than the retention cutoff
func (j *CleanupJob) Run() error {
	settings, err := database.GetOrCreatePipelineSettings(j.db)
	if err != nil {
		return err
	}

	cutoff := j.now().Add(-time.Duration(settings.CleanupRetentionDays) * 24 * time.Hour)
	res := j.db.Where("status = ? AND created_at < ?", database.AlertStatusSuppressed, cutoff).
		Delete(&database.AlertHistory{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("Cleanup removed %d suppressed alert rows older than %s", res.RowsAffected, cutoff.Format("2006-01-02"))
	}
	return nil
}
