package campaigns_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sitepulse/internal/campaigns"
	"sitepulse/internal/campaigns/providers"
	"sitepulse/internal/models"
	"sitepulse/internal/testsupport"
)

// fakeAdapter satisfies providers.Adapter with canned rows, recording how
// often it was fetched.
type fakeAdapter struct {
	provider   string
	rows       []providers.Row
	err        error
	fetchCalls int
	lastCreds  map[string]string
}

func (f *fakeAdapter) Provider() string { return f.provider }

func (f *fakeAdapter) Fetch(ctx context.Context, creds map[string]string, window providers.Window) ([]providers.Row, error) {
	f.fetchCalls++
	f.lastCreds = creds
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func fixedClock() time.Time {
	return time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
}

func fakeRows(day time.Time) []providers.Row {
	return []providers.Row{
		{CampaignID: "c1", CampaignName: "Brand US", Date: day, Impressions: 1000, Clicks: 50, Cost: 25.5, Conversions: 3, ConversionValue: 150, Currency: "USD"},
		{CampaignID: "c2", CampaignName: "Retargeting", Date: day, Impressions: 400, Clicks: 8, Cost: 4.2, Currency: "USD"},
	}
}

func createIntegration(t *testing.T, db *gorm.DB, integration *campaigns.Integration) *campaigns.Integration {
	t.Helper()
	if integration.Credentials == nil && integration.CredentialSetID == nil {
		integration.Credentials = models.FromMap(map[string]interface{}{"api_key": "k-us1"})
	}
	require.NoError(t, db.Create(integration).Error)
	return integration
}

func campaignRowCount(t *testing.T, db *gorm.DB, integrationID uint) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&campaigns.CampaignData{}).Where("integration_id = ?", integrationID).Count(&count).Error)
	return count
}

func reloadIntegration(t *testing.T, db *gorm.DB, id uint) campaigns.Integration {
	t.Helper()
	var integration campaigns.Integration
	require.NoError(t, db.First(&integration, id).Error)
	return integration
}

func TestSyncDueStandaloneIntegration(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	day := fixedClock().Truncate(24 * time.Hour)
	adapter := &fakeAdapter{provider: providers.ProviderMeta, rows: fakeRows(day)}

	integration := createIntegration(t, db, &campaigns.Integration{
		SiteID: 1, Provider: providers.ProviderMeta,
		SyncFrequency: campaigns.SyncFrequencyHourly, Enabled: true,
	})

	syncer := campaigns.NewSyncer(dbManager, logger)
	syncer.SetClock(fixedClock)
	syncer.SetAdapter(providers.ProviderMeta, adapter)

	require.NoError(t, syncer.SyncDue(context.Background()))

	assert.Equal(t, 1, adapter.fetchCalls)
	assert.Equal(t, "k-us1", adapter.lastCreds["api_key"])
	assert.Equal(t, int64(2), campaignRowCount(t, db, integration.ID))

	updated := reloadIntegration(t, db, integration.ID)
	assert.Equal(t, campaigns.SyncStatusSuccess, updated.LastSyncStatus)
	assert.Empty(t, updated.LastSyncError)
	require.NotNil(t, updated.LastSyncAt)
	assert.Equal(t, fixedClock().Unix(), updated.LastSyncAt.UTC().Unix())
}

func TestSyncDueIsIdempotent(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	day := fixedClock().Truncate(24 * time.Hour)
	adapter := &fakeAdapter{provider: providers.ProviderMeta, rows: fakeRows(day)}

	integration := createIntegration(t, db, &campaigns.Integration{
		SiteID: 1, Provider: providers.ProviderMeta,
		SyncFrequency: campaigns.SyncFrequencyHourly, Enabled: true,
	})

	syncer := campaigns.NewSyncer(dbManager, logger)
	syncer.SetClock(fixedClock)
	syncer.SetAdapter(providers.ProviderMeta, adapter)

	require.NoError(t, syncer.SyncDue(context.Background()))
	require.NoError(t, syncer.SyncDue(context.Background()))

	assert.Equal(t, 2, adapter.fetchCalls)
	assert.Equal(t, int64(2), campaignRowCount(t, db, integration.ID), "re-running the window must not duplicate rows")
}

func TestSyncDueRevisedMetricsReplaceOldRows(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	day := fixedClock().Truncate(24 * time.Hour)
	adapter := &fakeAdapter{provider: providers.ProviderMeta, rows: fakeRows(day)}

	integration := createIntegration(t, db, &campaigns.Integration{
		SiteID: 1, Provider: providers.ProviderMeta,
		SyncFrequency: campaigns.SyncFrequencyHourly, Enabled: true,
	})

	syncer := campaigns.NewSyncer(dbManager, logger)
	syncer.SetClock(fixedClock)
	syncer.SetAdapter(providers.ProviderMeta, adapter)
	require.NoError(t, syncer.SyncDue(context.Background()))

	// Upstream revises the day: one campaign disappears, the other changes.
	adapter.rows = []providers.Row{
		{CampaignID: "c1", CampaignName: "Brand US", Date: day, Impressions: 1200, Clicks: 60, Cost: 30, Currency: "USD"},
	}
	require.NoError(t, syncer.SyncDue(context.Background()))

	assert.Equal(t, int64(1), campaignRowCount(t, db, integration.ID), "rows gone upstream must not survive locally")

	var row campaigns.CampaignData
	require.NoError(t, db.Where("integration_id = ? AND campaign_id = ?", integration.ID, "c1").First(&row).Error)
	assert.Equal(t, int64(1200), row.Impressions)
}

func TestSyncDueSharedCredentialsFetchOnce(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	set := campaigns.CredentialSet{
		Name:        "agency meta",
		Provider:    providers.ProviderMeta,
		Credentials: models.FromMap(map[string]interface{}{"access_token": "tok", "ad_account_id": "act_1"}),
	}
	require.NoError(t, db.Create(&set).Error)

	primary := createIntegration(t, db, &campaigns.Integration{
		SiteID: 1, Provider: providers.ProviderMeta, CredentialSetID: &set.ID,
		SyncFrequency: campaigns.SyncFrequencyHourly, Enabled: true,
	})
	brandOnly := createIntegration(t, db, &campaigns.Integration{
		SiteID: 2, Provider: providers.ProviderMeta, CredentialSetID: &set.ID,
		SyncFrequency: campaigns.SyncFrequencyHourly, Enabled: true,
		CampaignFilter: "brand",
	})
	noMatch := createIntegration(t, db, &campaigns.Integration{
		SiteID: 3, Provider: providers.ProviderMeta, CredentialSetID: &set.ID,
		SyncFrequency: campaigns.SyncFrequencyHourly, Enabled: true,
		CampaignFilter: "video",
	})

	day := fixedClock().Truncate(24 * time.Hour)
	adapter := &fakeAdapter{provider: providers.ProviderMeta, rows: fakeRows(day)}

	syncer := campaigns.NewSyncer(dbManager, logger)
	syncer.SetClock(fixedClock)
	syncer.SetAdapter(providers.ProviderMeta, adapter)
	require.NoError(t, syncer.SyncDue(context.Background()))

	// One provider call serves the whole group.
	assert.Equal(t, 1, adapter.fetchCalls)
	assert.Equal(t, "tok", adapter.lastCreds["access_token"])

	assert.Equal(t, int64(2), campaignRowCount(t, db, primary.ID))
	assert.Equal(t, int64(1), campaignRowCount(t, db, brandOnly.ID))
	assert.Equal(t, int64(0), campaignRowCount(t, db, noMatch.ID))

	for _, id := range []uint{primary.ID, brandOnly.ID, noMatch.ID} {
		updated := reloadIntegration(t, db, id)
		assert.Equal(t, campaigns.SyncStatusSuccess, updated.LastSyncStatus)
	}
}

func TestSyncDueSiblingsSeeOnlyPrimaryRows(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	set := campaigns.CredentialSet{
		Name:        "filtered primary",
		Provider:    providers.ProviderMeta,
		Credentials: models.FromMap(map[string]interface{}{"access_token": "tok", "ad_account_id": "act_1"}),
	}
	require.NoError(t, db.Create(&set).Error)

	// The primary filters to "brand"; the sibling has no filter of its own
	// but still must not see rows the primary filtered away.
	primary := createIntegration(t, db, &campaigns.Integration{
		SiteID: 1, Provider: providers.ProviderMeta, CredentialSetID: &set.ID,
		SyncFrequency: campaigns.SyncFrequencyHourly, Enabled: true,
		CampaignFilter: "brand",
	})
	sibling := createIntegration(t, db, &campaigns.Integration{
		SiteID: 2, Provider: providers.ProviderMeta, CredentialSetID: &set.ID,
		SyncFrequency: campaigns.SyncFrequencyHourly, Enabled: true,
	})

	day := fixedClock().Truncate(24 * time.Hour)
	adapter := &fakeAdapter{provider: providers.ProviderMeta, rows: fakeRows(day)}

	syncer := campaigns.NewSyncer(dbManager, logger)
	syncer.SetClock(fixedClock)
	syncer.SetAdapter(providers.ProviderMeta, adapter)
	require.NoError(t, syncer.SyncDue(context.Background()))

	assert.Equal(t, int64(1), campaignRowCount(t, db, primary.ID))
	assert.Equal(t, int64(1), campaignRowCount(t, db, sibling.ID))

	var siblingRow campaigns.CampaignData
	require.NoError(t, db.Where("integration_id = ?", sibling.ID).First(&siblingRow).Error)
	assert.Equal(t, "c1", siblingRow.CampaignID)
}

func TestSyncDueFetchFailureMarksWholeGroup(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	set := campaigns.CredentialSet{
		Name:        "broken",
		Provider:    providers.ProviderMeta,
		Credentials: models.FromMap(map[string]interface{}{"access_token": "expired", "ad_account_id": "act_1"}),
	}
	require.NoError(t, db.Create(&set).Error)

	primary := createIntegration(t, db, &campaigns.Integration{
		SiteID: 1, Provider: providers.ProviderMeta, CredentialSetID: &set.ID,
		SyncFrequency: campaigns.SyncFrequencyHourly, Enabled: true,
	})
	sibling := createIntegration(t, db, &campaigns.Integration{
		SiteID: 2, Provider: providers.ProviderMeta, CredentialSetID: &set.ID,
		SyncFrequency: campaigns.SyncFrequencyHourly, Enabled: true,
	})

	failing := &fakeAdapter{provider: providers.ProviderMeta, err: errors.New("token expired")}

	syncer := campaigns.NewSyncer(dbManager, logger)
	syncer.SetClock(fixedClock)
	syncer.SetAdapter(providers.ProviderMeta, failing)
	require.NoError(t, syncer.SyncDue(context.Background()))

	for _, id := range []uint{primary.ID, sibling.ID} {
		updated := reloadIntegration(t, db, id)
		assert.Equal(t, campaigns.SyncStatusError, updated.LastSyncStatus)
		assert.Contains(t, updated.LastSyncError, "token expired")
		assert.Equal(t, int64(0), campaignRowCount(t, db, id))
	}
}

func TestSyncDueGroupFailureDoesNotAbortOthers(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	broken := createIntegration(t, db, &campaigns.Integration{
		SiteID: 1, Provider: providers.ProviderMeta,
		SyncFrequency: campaigns.SyncFrequencyHourly, Enabled: true,
	})
	healthy := createIntegration(t, db, &campaigns.Integration{
		SiteID: 1, Provider: providers.ProviderGoogleAds,
		SyncFrequency: campaigns.SyncFrequencyHourly, Enabled: true,
	})

	day := fixedClock().Truncate(24 * time.Hour)
	syncer := campaigns.NewSyncer(dbManager, logger)
	syncer.SetClock(fixedClock)
	syncer.SetAdapter(providers.ProviderMeta, &fakeAdapter{provider: providers.ProviderMeta, err: errors.New("rate limited")})
	syncer.SetAdapter(providers.ProviderGoogleAds, &fakeAdapter{provider: providers.ProviderGoogleAds, rows: fakeRows(day)})

	require.NoError(t, syncer.SyncDue(context.Background()))

	assert.Equal(t, campaigns.SyncStatusError, reloadIntegration(t, db, broken.ID).LastSyncStatus)
	assert.Equal(t, campaigns.SyncStatusSuccess, reloadIntegration(t, db, healthy.ID).LastSyncStatus)
	assert.Equal(t, int64(2), campaignRowCount(t, db, healthy.ID))
}

func TestSyncDueSkipsDisabledAndManual(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	disabled := createIntegration(t, db, &campaigns.Integration{
		SiteID: 1, Provider: providers.ProviderMeta,
		SyncFrequency: campaigns.SyncFrequencyHourly, Enabled: true,
	})
	require.NoError(t, db.Model(&campaigns.Integration{}).Where("id = ?", disabled.ID).Update("enabled", false).Error)
	manual := createIntegration(t, db, &campaigns.Integration{
		SiteID: 1, Provider: providers.ProviderMeta,
		SyncFrequency: campaigns.SyncFrequencyManual, Enabled: true,
	})

	day := fixedClock().Truncate(24 * time.Hour)
	adapter := &fakeAdapter{provider: providers.ProviderMeta, rows: fakeRows(day)}

	syncer := campaigns.NewSyncer(dbManager, logger)
	syncer.SetClock(fixedClock)
	syncer.SetAdapter(providers.ProviderMeta, adapter)
	require.NoError(t, syncer.SyncDue(context.Background()))

	assert.Equal(t, 0, adapter.fetchCalls)
	assert.Equal(t, int64(0), campaignRowCount(t, db, disabled.ID))
	assert.Equal(t, int64(0), campaignRowCount(t, db, manual.ID))
}
