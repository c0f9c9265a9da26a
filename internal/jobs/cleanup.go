package jobs

import (
	"log/slog"
	"time"

	"sitepulse/internal/config"
	"sitepulse/internal/database"
	"sitepulse/internal/events"
	"sitepulse/internal/sessions"
)

// CleanupJob removes event and session rows past the retention period.
type CleanupJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewCleanupJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *CleanupJob {
	return &CleanupJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run deletes rows older than the retention window. Deletes run in batches
// to avoid holding the write lock for too long.
func (j *CleanupJob) Run() error {
	retentionDays := j.cfg.EventRetentionDays
	db := j.dbManager.GetConnection()
	cutoffDate := time.Now().AddDate(0, 0, -retentionDays)

	j.logger.Info("Starting retention cleanup",
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff_date", cutoffDate))

	batchSize := 1000
	totalDeleted := int64(0)

	for {
		result := db.Where("timestamp < ?", cutoffDate).
			Limit(batchSize).
			Delete(&events.Event{})
		if result.Error != nil {
			j.logger.Error("Failed to delete old events", slog.Any("error", result.Error))
			return result.Error
		}
		totalDeleted += result.RowsAffected
		if result.RowsAffected < int64(batchSize) {
			break
		}
	}

	for {
		result := db.Where("started_at < ?", cutoffDate).
			Limit(batchSize).
			Delete(&sessions.Session{})
		if result.Error != nil {
			j.logger.Error("Failed to delete old sessions", slog.Any("error", result.Error))
			return result.Error
		}
		totalDeleted += result.RowsAffected
		if result.RowsAffected < int64(batchSize) {
			break
		}
	}

	if totalDeleted > 0 {
		j.logger.Info("Retention cleanup completed", slog.Int64("deleted_rows", totalDeleted))
	}
	return nil
}
