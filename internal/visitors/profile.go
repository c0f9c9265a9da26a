package visitors

import (
	"errors"
	"fmt"
	"time"

	"log/slog"

	"gorm.io/gorm"
)

// VisitorProfile is the rolling lifetime summary for a persistent visitor id.
// First-touch attribution is written once when the row is created and never
// updated; last-touch fields are overwritten on every call.
type VisitorProfile struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SiteID    uint   `gorm:"uniqueIndex:idx_profile_unique;not null"`
	VisitorID string `gorm:"uniqueIndex:idx_profile_unique;size:64;not null"`

	FirstSeenAt time.Time `gorm:"not null"`
	LastSeenAt  time.Time `gorm:"not null"`

	TotalSessions      int     `gorm:"not null;default:0"`
	TotalPageviews     int     `gorm:"not null;default:0"`
	TotalEvents        int     `gorm:"not null;default:0"`
	TotalRevenue       float64 `gorm:"not null;default:0"`
	TotalEngagedTimeMs int64   `gorm:"not null;default:0"`

	// First-touch attribution (immutable after insert)
	FirstReferrer    string
	FirstUTMSource   string
	FirstUTMMedium   string
	FirstUTMCampaign string
	FirstEntryPath   string

	// Last-touch attribution (overwritten on every touch)
	LastReferrer    string
	LastUTMSource   string
	LastUTMMedium   string
	LastUTMCampaign string
	LastEntryPath   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProfileTouch describes one event's contribution to a visitor profile.
type ProfileTouch struct {
	SiteID        uint
	VisitorID     string
	Timestamp     time.Time
	IsNewSession  bool
	IsPageview    bool
	Revenue       float64
	EngagedTimeMs int64
	Referrer      string
	UTMSource     string
	UTMMedium     string
	UTMCampaign   string
	Path          string
}

// UpsertProfile applies one touch to the visitor's lifetime profile.
//
// Counter updates are server-side increments (col = col + ?) so concurrent
// event handlers for the same visitor never lose updates to a read-modify-write
// race. The first-touch columns are absent from the conflict update set, which
// is what makes them immutable.
func UpsertProfile(tx *gorm.DB, touch *ProfileTouch) error {
	if touch.VisitorID == "" {
		return errors.New("visitor id is required")
	}

	sessionInc := 0
	if touch.IsNewSession {
		sessionInc = 1
	}
	pageviewInc := 0
	if touch.IsPageview {
		pageviewInc = 1
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO visitor_profiles (
			site_id, visitor_id, first_seen_at, last_seen_at,
			total_sessions, total_pageviews, total_events, total_revenue, total_engaged_time_ms,
			first_referrer, first_utm_source, first_utm_medium, first_utm_campaign, first_entry_path,
			last_referrer, last_utm_source, last_utm_medium, last_utm_campaign, last_entry_path,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (site_id, visitor_id) DO UPDATE SET
			last_seen_at = ?,
			total_sessions = visitor_profiles.total_sessions + ?,
			total_pageviews = visitor_profiles.total_pageviews + ?,
			total_events = visitor_profiles.total_events + 1,
			total_revenue = visitor_profiles.total_revenue + ?,
			total_engaged_time_ms = visitor_profiles.total_engaged_time_ms + ?,
			last_referrer = ?,
			last_utm_source = ?,
			last_utm_medium = ?,
			last_utm_campaign = ?,
			last_entry_path = ?,
			updated_at = ?
	`
	err := tx.Exec(query,
		touch.SiteID, touch.VisitorID, touch.Timestamp, touch.Timestamp,
		pageviewInc, touch.Revenue, touch.EngagedTimeMs,
		touch.Referrer, touch.UTMSource, touch.UTMMedium, touch.UTMCampaign, touch.Path,
		touch.Referrer, touch.UTMSource, touch.UTMMedium, touch.UTMCampaign, touch.Path,
		now, now,
		touch.Timestamp,
		sessionInc, pageviewInc, touch.Revenue, touch.EngagedTimeMs,
		touch.Referrer, touch.UTMSource, touch.UTMMedium, touch.UTMCampaign, touch.Path,
		now,
	).Error
	if err != nil {
		return fmt.Errorf("failed to upsert visitor profile: %w", err)
	}
	return nil
}

// GetProfile fetches the lifetime profile for a persistent visitor id.
func GetProfile(db *gorm.DB, siteID uint, visitorID string) (*VisitorProfile, error) {
	var profile VisitorProfile
	err := db.Where("site_id = ? AND visitor_id = ?", siteID, visitorID).First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// LogUpsertFailure records an async profile update failure. Profile updates
// run off the request path and must never surface errors to the client.
func LogUpsertFailure(logger *slog.Logger, touch *ProfileTouch, err error) {
	logger.Error("Failed to update visitor profile",
		slog.Uint64("site_id", uint64(touch.SiteID)),
		slog.String("visitor_id", touch.VisitorID),
		slog.Any("error", err))
}
