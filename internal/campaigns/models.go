// Package campaigns stores ad/email platform integrations and their synced
// performance data, and runs the scheduled sync with credential-sharing
// dedup across integrations.
package campaigns

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"sitepulse/internal/models"
)

// SyncFrequency controls how often an integration is synced.
type SyncFrequency string

const (
	SyncFrequencyHourly SyncFrequency = "hourly"
	SyncFrequencyDaily  SyncFrequency = "daily"
	SyncFrequencyWeekly SyncFrequency = "weekly"
	// SyncFrequencyManual integrations are never picked up by the scheduler.
	SyncFrequencyManual SyncFrequency = "manual"
)

// Sync status values recorded on the integration after each run.
const (
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// CredentialSet is a reusable provider credential bundle. Multiple
// integrations across different sites can point at one set; the sync engine
// uses that to fetch once per set and copy to siblings.
type CredentialSet struct {
	ID          uint        `gorm:"primaryKey;autoIncrement"`
	UUID        string      `gorm:"uniqueIndex;size:36;not null"`
	Name        string      `gorm:"not null"`
	Provider    string      `gorm:"index;not null"`
	Credentials models.JSON `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate assigns the public identifier.
func (c *CredentialSet) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	return nil
}

// Integration is one (site, provider) sync configuration. Credentials come
// either from a shared CredentialSet or inline.
type Integration struct {
	ID              uint        `gorm:"primaryKey;autoIncrement"`
	SiteID          uint        `gorm:"index;not null"`
	Provider        string      `gorm:"index;not null"`
	CredentialSetID *uint       `gorm:"index"`
	Credentials     models.JSON // inline credentials when no set is linked

	SyncFrequency SyncFrequency `gorm:"not null;default:'daily'"`
	// CampaignFilter keeps only campaigns whose name contains this value,
	// case-insensitively. Empty keeps everything.
	CampaignFilter string
	Enabled        bool `gorm:"not null;default:true"`

	LastSyncAt     *time.Time
	LastSyncStatus string
	LastSyncError  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CampaignData is one (integration, campaign, date) performance snapshot.
// AdGroupID is part of the natural key but currently always empty; it
// reserves room for ad-group level breakdowns without a schema migration.
type CampaignData struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	IntegrationID uint      `gorm:"uniqueIndex:idx_campaign_data_natural;not null"`
	SiteID        uint      `gorm:"index;not null"`
	CampaignID    string    `gorm:"uniqueIndex:idx_campaign_data_natural;not null"`
	CampaignName  string    `gorm:"index;not null"`
	AdGroupID     string    `gorm:"uniqueIndex:idx_campaign_data_natural;not null;default:''"`
	Date          time.Time `gorm:"uniqueIndex:idx_campaign_data_natural;index;not null"`

	Impressions     int64   `gorm:"not null;default:0"`
	Clicks          int64   `gorm:"not null;default:0"`
	Cost            float64 `gorm:"not null;default:0"`
	Conversions     float64 `gorm:"not null;default:0"`
	ConversionValue float64 `gorm:"not null;default:0"`
	Currency        string

	ExtraMetrics models.JSON

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IntegrationNotFoundError indicates a missing integration.
type IntegrationNotFoundError struct {
	IntegrationID uint
}

func (e *IntegrationNotFoundError) Error() string {
	return fmt.Sprintf("integration %d not found", e.IntegrationID)
}

// CredentialSetNotFoundError indicates a missing credential set.
type CredentialSetNotFoundError struct {
	UUID string
}

func (e *CredentialSetNotFoundError) Error() string {
	return fmt.Sprintf("credential set %s not found", e.UUID)
}

// GetCredentialSetByUUID looks up a credential set by its public id.
func GetCredentialSetByUUID(db *gorm.DB, id string) (*CredentialSet, error) {
	var set CredentialSet
	err := db.Where("uuid = ?", id).First(&set).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &CredentialSetNotFoundError{UUID: id}
		}
		return nil, fmt.Errorf("failed to look up credential set: %w", err)
	}
	return &set, nil
}

// resolveCredentials returns the credential map an adapter should use:
// the linked set when present, otherwise the integration's inline bundle.
func resolveCredentials(db *gorm.DB, integration *Integration) (map[string]string, error) {
	var raw models.JSON
	if integration.CredentialSetID != nil {
		var set CredentialSet
		err := db.First(&set, *integration.CredentialSetID).Error
		if err != nil {
			return nil, fmt.Errorf("failed to load credential set %d: %w", *integration.CredentialSetID, err)
		}
		raw = set.Credentials
	} else {
		raw = integration.Credentials
	}

	asMap := raw.ToMap()
	creds := make(map[string]string, len(asMap))
	for key, value := range asMap {
		if s, ok := value.(string); ok {
			creds[key] = s
		} else {
			creds[key] = fmt.Sprintf("%v", value)
		}
	}
	return creds, nil
}
