// Package reports computes the read-side report shapes. All aggregation
// happens in Go over fully drained row batches: the fetch layer pages with a
// cursor until a short page comes back, so no aggregate is silently
// truncated at a page boundary.
package reports

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"sitepulse/internal/campaigns"
	"sitepulse/internal/events"
	"sitepulse/internal/sessions"
	"sitepulse/internal/timeframe"
)

const fetchPageSize = 1000

// Filters are the dimension filters applied uniformly to every report that
// reads event rows. Empty values mean no filtering on that dimension.
type Filters struct {
	Page        string
	Referrer    string
	Country     string
	Device      string
	Browser     string
	OS          string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	UTMTerm     string
	UTMContent  string
}

// Query identifies the rows a report runs over. Interval only affects the
// timeseries report; empty means daily buckets.
type Query struct {
	SiteID    uint
	Timeframe *timeframe.Timeframe
	Filters   Filters
	Interval  timeframe.Interval
}

func applyEventFilters(db *gorm.DB, filters Filters) *gorm.DB {
	if filters.Page != "" {
		db = db.Where("pathname = ?", filters.Page)
	}
	if filters.Referrer != "" {
		db = db.Where("referrer_hostname = ?", filters.Referrer)
	}
	if filters.Country != "" {
		db = db.Where("country = ?", filters.Country)
	}
	if filters.Device != "" {
		db = db.Where("device = ?", filters.Device)
	}
	if filters.Browser != "" {
		db = db.Where("browser = ?", filters.Browser)
	}
	if filters.OS != "" {
		db = db.Where("os = ?", filters.OS)
	}
	if filters.UTMSource != "" {
		db = db.Where("utm_source = ?", filters.UTMSource)
	}
	if filters.UTMMedium != "" {
		db = db.Where("utm_medium = ?", filters.UTMMedium)
	}
	if filters.UTMCampaign != "" {
		db = db.Where("utm_campaign = ?", filters.UTMCampaign)
	}
	if filters.UTMTerm != "" {
		db = db.Where("utm_term = ?", filters.UTMTerm)
	}
	if filters.UTMContent != "" {
		db = db.Where("utm_content = ?", filters.UTMContent)
	}
	return db
}

// fetchEvents drains all event rows matching the query, in id order.
func fetchEvents(db *gorm.DB, query *Query, eventTypes ...events.EventType) ([]events.Event, error) {
	var all []events.Event
	var cursor uint

	for {
		scope := db.Where("site_id = ? AND timestamp >= ? AND timestamp < ?",
			query.SiteID, query.Timeframe.From, query.Timeframe.To)
		if len(eventTypes) > 0 {
			scope = scope.Where("event_type IN ?", eventTypes)
		}
		scope = applyEventFilters(scope, query.Filters)

		var page []events.Event
		err := scope.Where("id > ?", cursor).
			Order("id ASC").
			Limit(fetchPageSize).
			Find(&page).Error
		if err != nil {
			return nil, fmt.Errorf("failed to fetch events page: %w", err)
		}

		all = append(all, page...)
		if len(page) < fetchPageSize {
			return all, nil
		}
		cursor = page[len(page)-1].ID
	}
}

// fetchSessions drains the session rows started in the window. Session rows
// carry no report dimensions; dimension filtering restricts to sessions that
// have at least one matching event when any filter is set.
func fetchSessions(db *gorm.DB, query *Query) ([]sessions.Session, error) {
	var all []sessions.Session
	var cursor uint

	filtered := query.Filters != (Filters{})
	for {
		scope := db.Where("site_id = ? AND started_at >= ? AND started_at < ?",
			query.SiteID, query.Timeframe.From, query.Timeframe.To)
		if filtered {
			sub := applyEventFilters(
				db.Session(&gorm.Session{NewDB: true}).
					Model(&events.Event{}).
					Select("session_id").
					Where("site_id = ? AND timestamp >= ? AND timestamp < ?",
						query.SiteID, query.Timeframe.From, query.Timeframe.To),
				query.Filters)
			scope = scope.Where("session_id IN (?)", sub)
		}

		var page []sessions.Session
		err := scope.Where("id > ?", cursor).
			Order("id ASC").
			Limit(fetchPageSize).
			Find(&page).Error
		if err != nil {
			return nil, fmt.Errorf("failed to fetch sessions page: %w", err)
		}

		all = append(all, page...)
		if len(page) < fetchPageSize {
			return all, nil
		}
		cursor = page[len(page)-1].ID
	}
}

// fetchCampaignData drains campaign rows for the site and window.
func fetchCampaignData(db *gorm.DB, siteID uint, from, to time.Time) ([]campaigns.CampaignData, error) {
	var all []campaigns.CampaignData
	var cursor uint

	for {
		var page []campaigns.CampaignData
		err := db.Where("site_id = ? AND date >= ? AND date < ? AND id > ?",
			siteID, from, to, cursor).
			Order("id ASC").
			Limit(fetchPageSize).
			Find(&page).Error
		if err != nil {
			return nil, fmt.Errorf("failed to fetch campaign data page: %w", err)
		}

		all = append(all, page...)
		if len(page) < fetchPageSize {
			return all, nil
		}
		cursor = page[len(page)-1].ID
	}
}
