package jobs

import (
	"context"
	"log/slog"
	"time"

	"sitepulse/internal/campaigns"
	"sitepulse/internal/database"
)

// CampaignSyncJob runs the campaign sync engine on the scheduler heartbeat.
// Which integrations actually sync is decided by the per-integration
// frequency gate, so running the job early or twice is harmless.
type CampaignSyncJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	syncer    *campaigns.Syncer
}

func NewCampaignSyncJob(dbManager *database.DBManager, logger *slog.Logger) *CampaignSyncJob {
	return &CampaignSyncJob{
		dbManager: dbManager,
		logger:    logger,
		syncer:    campaigns.NewSyncer(dbManager, logger),
	}
}

// Run syncs all due integrations. Provider calls are bounded by a generous
// overall deadline so a hung API cannot wedge the scheduler.
func (j *CampaignSyncJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	return j.syncer.SyncDue(ctx)
}
