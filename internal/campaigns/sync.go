package campaigns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sitepulse/internal/campaigns/providers"
	"sitepulse/internal/config"
	"sitepulse/internal/models"
)

// upsertChunkSize bounds one conflict-aware insert batch so a mid-batch
// failure cannot corrupt earlier chunks.
const upsertChunkSize = 500

// Syncer runs the campaign sync across all due integrations.
type Syncer struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	adapters  map[string]providers.Adapter
	now       func() time.Time
}

// NewSyncer wires the provider adapters.
func NewSyncer(dbManager cartridge.DBManager, logger *slog.Logger) *Syncer {
	return &Syncer{
		dbManager: dbManager,
		logger:    logger,
		adapters: map[string]providers.Adapter{
			providers.ProviderGoogleAds: providers.NewGoogleAdsAdapter(logger),
			providers.ProviderMeta:      providers.NewMetaAdapter(logger),
			providers.ProviderMailchimp: providers.NewMailchimpAdapter(logger),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// syncGroup is one unit of provider API work: integrations sharing
// credentials fetch once through the primary and copy to the rest.
type syncGroup struct {
	key          string
	integrations []Integration
}

// SyncDue finds integrations due by their frequency policy and syncs them,
// grouped by shared credentials. Groups run sequentially; a group failure is
// recorded on its integrations and never aborts the other groups.
func (s *Syncer) SyncDue(ctx context.Context) error {
	db := s.dbManager.GetConnection()
	now := s.now()

	var integrations []Integration
	err := db.Where("enabled = ? AND sync_frequency != ?", true, SyncFrequencyManual).
		Order("id ASC").
		Find(&integrations).Error
	if err != nil {
		return fmt.Errorf("failed to load integrations: %w", err)
	}

	var due []Integration
	for _, integration := range integrations {
		if isDue(&integration, now) {
			due = append(due, integration)
		}
	}
	if len(due) == 0 {
		return nil
	}

	cfg := config.GetConfig()
	window := providers.Window{
		Start: now.AddDate(0, 0, -cfg.SyncWindowDays).Truncate(24 * time.Hour),
		End:   now.Truncate(24 * time.Hour),
	}

	for _, group := range groupByCredentials(due) {
		s.syncGroup(ctx, group, window)
	}
	return nil
}

// isDue applies the frequency policy. Hourly integrations sync on every run.
// Daily integrations sync once per UTC calendar day, and only when at least
// 20 hours have passed since the last run so a late run yesterday doesn't
// trigger an early one today. Weekly integrations sync on Mondays with at
// least six days since the last run.
func isDue(integration *Integration, now time.Time) bool {
	last := integration.LastSyncAt
	switch integration.SyncFrequency {
	case SyncFrequencyHourly:
		return true
	case SyncFrequencyDaily:
		if last == nil {
			return true
		}
		sameDay := last.Year() == now.Year() && last.YearDay() == now.YearDay()
		return !sameDay && now.Sub(*last) >= 20*time.Hour
	case SyncFrequencyWeekly:
		if now.Weekday() != time.Monday {
			return false
		}
		return last == nil || now.Sub(*last) >= 6*24*time.Hour
	}
	return false
}

// groupByCredentials buckets integrations sharing a (credential_set_id,
// provider) pair. Integrations with inline credentials are standalone groups.
// Order within a group follows the load order (id ascending), which fixes
// the primary deterministically.
func groupByCredentials(integrations []Integration) []syncGroup {
	var order []string
	byKey := make(map[string][]Integration)

	for _, integration := range integrations {
		var key string
		if integration.CredentialSetID != nil {
			key = fmt.Sprintf("set:%d:%s", *integration.CredentialSetID, integration.Provider)
		} else {
			key = fmt.Sprintf("solo:%d", integration.ID)
		}
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], integration)
	}

	groups := make([]syncGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, syncGroup{key: key, integrations: byKey[key]})
	}
	return groups
}

// syncGroup performs the primary fetch and fans the rows out. The primary's
// result stands on its own: sibling persistence failures are recorded per
// sibling and never touch the primary's status.
func (s *Syncer) syncGroup(ctx context.Context, group syncGroup, window providers.Window) {
	db := s.dbManager.GetConnection()
	primary := &group.integrations[0]

	adapter, ok := s.adapters[primary.Provider]
	if !ok {
		s.markError(group.integrations, fmt.Errorf("no adapter for provider %q", primary.Provider))
		return
	}

	creds, err := resolveCredentials(db, primary)
	if err != nil {
		s.markError(group.integrations, err)
		return
	}

	rows, err := adapter.Fetch(ctx, creds, window)
	if err != nil {
		s.logger.Error("Campaign fetch failed",
			slog.String("provider", primary.Provider),
			slog.Uint64("integration_id", uint64(primary.ID)),
			slog.Any("error", err))
		s.markError(group.integrations, err)
		return
	}

	primaryRows := filterRows(rows, primary.CampaignFilter)
	if err := s.persist(primary, primaryRows, window); err != nil {
		s.markError(group.integrations[:1], err)
	} else {
		s.markSuccess(primary, len(primaryRows))
	}

	// Siblings re-filter the primary's row set with their own filter; each
	// sees at most what the primary saw.
	for i := 1; i < len(group.integrations); i++ {
		sibling := &group.integrations[i]
		siblingRows := filterRows(primaryRows, sibling.CampaignFilter)
		if err := s.persist(sibling, siblingRows, window); err != nil {
			s.markError(group.integrations[i:i+1], err)
			continue
		}
		s.markSuccess(sibling, len(siblingRows))
	}
}

// filterRows keeps rows whose campaign name contains the filter,
// case-insensitively. An empty filter keeps everything.
func filterRows(rows []providers.Row, filter string) []providers.Row {
	if filter == "" {
		return rows
	}
	needle := strings.ToLower(filter)
	var kept []providers.Row
	for _, row := range rows {
		if strings.Contains(strings.ToLower(row.CampaignName), needle) {
			kept = append(kept, row)
		}
	}
	return kept
}

// persist replaces the integration's rows for the window. Delete-then-insert
// rather than merge-in-place: upstream metrics for a day get revised, and
// rows that disappeared upstream must not survive locally.
func (s *Syncer) persist(integration *Integration, rows []providers.Row, window providers.Window) error {
	db := s.dbManager.GetConnection()
	records := make([]CampaignData, 0, len(rows))
	for _, row := range rows {
		records = append(records, CampaignData{
			IntegrationID:   integration.ID,
			SiteID:          integration.SiteID,
			CampaignID:      row.CampaignID,
			CampaignName:    row.CampaignName,
			AdGroupID:       row.AdGroupID,
			Date:            row.Date,
			Impressions:     row.Impressions,
			Clicks:          row.Clicks,
			Cost:            row.Cost,
			Conversions:     row.Conversions,
			ConversionValue: row.ConversionValue,
			Currency:        row.Currency,
			ExtraMetrics:    models.FromMap(row.ExtraMetrics),
		})
	}

	return sqlite.PerformWrite(s.logger, db, func(tx *gorm.DB) error {
		err := tx.Where("integration_id = ? AND date >= ? AND date <= ?",
			integration.ID, window.Start, window.End).
			Delete(&CampaignData{}).Error
		if err != nil {
			return fmt.Errorf("failed to clear campaign data: %w", err)
		}

		for start := 0; start < len(records); start += upsertChunkSize {
			end := start + upsertChunkSize
			if end > len(records) {
				end = len(records)
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "integration_id"}, {Name: "campaign_id"},
					{Name: "date"}, {Name: "ad_group_id"},
				},
				DoUpdates: clause.AssignmentColumns([]string{
					"campaign_name", "impressions", "clicks", "cost",
					"conversions", "conversion_value", "currency",
					"extra_metrics", "updated_at",
				}),
			}).Create(records[start:end]).Error
			if err != nil {
				return fmt.Errorf("failed to upsert campaign data chunk: %w", err)
			}
		}
		return nil
	})
}

func (s *Syncer) markSuccess(integration *Integration, rowCount int) {
	now := s.now()
	err := sqlite.PerformWrite(s.logger, s.dbManager.GetConnection(), func(tx *gorm.DB) error {
		return tx.Model(&Integration{}).Where("id = ?", integration.ID).Updates(map[string]interface{}{
			"last_sync_at":     now,
			"last_sync_status": SyncStatusSuccess,
			"last_sync_error":  "",
			"updated_at":       now,
		}).Error
	})
	if err != nil {
		s.logger.Error("Failed to record sync success",
			slog.Uint64("integration_id", uint64(integration.ID)),
			slog.Any("error", err))
		return
	}
	s.logger.Info("Campaign sync completed",
		slog.Uint64("integration_id", uint64(integration.ID)),
		slog.String("provider", integration.Provider),
		slog.Int("rows", rowCount))
}

func (s *Syncer) markError(integrations []Integration, syncErr error) {
	now := s.now()
	for i := range integrations {
		integration := &integrations[i]
		err := sqlite.PerformWrite(s.logger, s.dbManager.GetConnection(), func(tx *gorm.DB) error {
			return tx.Model(&Integration{}).Where("id = ?", integration.ID).Updates(map[string]interface{}{
				"last_sync_at":     now,
				"last_sync_status": SyncStatusError,
				"last_sync_error":  syncErr.Error(),
				"updated_at":       now,
			}).Error
		})
		if err != nil {
			s.logger.Error("Failed to record sync error",
				slog.Uint64("integration_id", uint64(integration.ID)),
				slog.Any("error", err))
		}
	}
}

// SetAdapter swaps in an adapter, used by tests to avoid real provider calls.
func (s *Syncer) SetAdapter(provider string, adapter providers.Adapter) {
	s.adapters[provider] = adapter
}

// SetClock overrides the time source, used by frequency gate tests.
func (s *Syncer) SetClock(now func() time.Time) {
	s.now = now
}
