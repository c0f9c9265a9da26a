package campaigns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sitepulse/internal/campaigns/providers"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestIsDue(t *testing.T) {
	// 2026-08-24 is a Monday.
	monday := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	tuesday := monday.AddDate(0, 0, 1)

	testCases := []struct {
		name      string
		frequency SyncFrequency
		last      *time.Time
		now       time.Time
		expect    bool
	}{
		{"hourly always due", SyncFrequencyHourly, timePtr(monday.Add(-5 * time.Minute)), monday, true},
		{"hourly due when never synced", SyncFrequencyHourly, nil, monday, true},

		{"daily due when never synced", SyncFrequencyDaily, nil, monday, true},
		{"daily not due twice in one day", SyncFrequencyDaily, timePtr(monday.Add(-2 * time.Hour)), monday, false},
		{"daily not due within 20h of a late run", SyncFrequencyDaily, timePtr(monday.Add(-10 * time.Hour)), monday, false},
		{"daily due after a full day", SyncFrequencyDaily, timePtr(monday.Add(-24 * time.Hour)), monday, true},
		{"daily due crossing midnight past 20h", SyncFrequencyDaily, timePtr(monday.Add(-21 * time.Hour)), monday, true},

		{"weekly only due on mondays", SyncFrequencyWeekly, nil, tuesday, false},
		{"weekly due on monday when never synced", SyncFrequencyWeekly, nil, monday, true},
		{"weekly not due again mid-week sync", SyncFrequencyWeekly, timePtr(monday.Add(-3 * 24 * time.Hour)), monday, false},
		{"weekly due a week after the last run", SyncFrequencyWeekly, timePtr(monday.Add(-7 * 24 * time.Hour)), monday, true},

		{"manual never due", SyncFrequencyManual, nil, monday, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			integration := &Integration{SyncFrequency: tc.frequency, LastSyncAt: tc.last}
			assert.Equal(t, tc.expect, isDue(integration, tc.now))
		})
	}
}

func TestFilterRows(t *testing.T) {
	rows := []providers.Row{
		{CampaignID: "1", CampaignName: "Brand US"},
		{CampaignID: "2", CampaignName: "brand eu"},
		{CampaignID: "3", CampaignName: "Retargeting"},
	}

	t.Run("empty filter keeps everything", func(t *testing.T) {
		assert.Len(t, filterRows(rows, ""), 3)
	})

	t.Run("matches case-insensitively", func(t *testing.T) {
		kept := filterRows(rows, "BRAND")
		assert.Len(t, kept, 2)
		assert.Equal(t, "1", kept[0].CampaignID)
		assert.Equal(t, "2", kept[1].CampaignID)
	})

	t.Run("no match keeps nothing", func(t *testing.T) {
		assert.Empty(t, filterRows(rows, "video"))
	})
}

func TestGroupByCredentials(t *testing.T) {
	setA := uint(10)
	setB := uint(20)
	integrations := []Integration{
		{ID: 1, Provider: providers.ProviderMeta, CredentialSetID: &setA},
		{ID: 2, Provider: providers.ProviderGoogleAds},
		{ID: 3, Provider: providers.ProviderMeta, CredentialSetID: &setA},
		{ID: 4, Provider: providers.ProviderMeta, CredentialSetID: &setB},
	}

	groups := groupByCredentials(integrations)
	assert.Len(t, groups, 3)

	// Shared-set integrations collapse into one group; the first loaded is
	// the primary.
	assert.Len(t, groups[0].integrations, 2)
	assert.Equal(t, uint(1), groups[0].integrations[0].ID)
	assert.Equal(t, uint(3), groups[0].integrations[1].ID)

	// Inline-credential integration stands alone.
	assert.Len(t, groups[1].integrations, 1)
	assert.Equal(t, uint(2), groups[1].integrations[0].ID)

	// Same provider, different set: separate group.
	assert.Len(t, groups[2].integrations, 1)
	assert.Equal(t, uint(4), groups[2].integrations[0].ID)
}
