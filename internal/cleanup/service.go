package cleanup

import (
	"context"
	"fmt"
	"time"

	"attendance-go/config"
	"attendance-go/internal/core/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service prunes old probe events in the background. It never touches the
// attendance ledger or the enrolled identities; those are kept for the
// lifetime of the database.
type Service struct {
	db            *gorm.DB
	config        config.CleanupConfig
	checkInterval time.Duration
}

// NewService creates a new cleanup service.
func NewService(database *gorm.DB, cfg config.CleanupConfig) *Service {
	return &Service{
		db:            database,
		config:        cfg,
		checkInterval: 24 * time.Hour,
	}
}

// Start runs the cleanup loop until the context is cancelled. It should be
// run in a separate goroutine.
func (s *Service) Start(ctx context.Context) {
	log.Info("Cleanup service started")

	if err := s.RunCleanup(ctx); err != nil {
		log.Errorf("Initial cleanup failed: %v", err)
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Info("Running scheduled cleanup")
			if err := s.RunCleanup(ctx); err != nil {
				log.Errorf("Scheduled cleanup failed: %v", err)
			}
		case <-ctx.Done():
			log.Info("Cleanup service stopped")
			return
		}
	}
}

// RunCleanup deletes probe events older than the retention window.
func (s *Service) RunCleanup(_ context.Context) error {
	if s.config.RetentionDays <= 0 {
		log.Info("Cleanup disabled (retention days <= 0)")
		return nil
	}

	cutoffDate := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	log.Infof("Cleaning up probe events older than %s", cutoffDate.Format("2006-01-02"))

	result := s.db.Unscoped().Where("created_at < ?", cutoffDate).Delete(&models.ProbeEvent{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete old probe events: %w", result.Error)
	}

	log.Infof("Cleanup completed: deleted %d probe events", result.RowsAffected)
	return nil
}
