package events

import (
	"time"

	"sitepulse/internal/models"
)

// EventType identifies the kind of client action observed.
type EventType string

const (
	EventTypePageview       EventType = "pageview"
	EventTypeCustom         EventType = "custom"
	EventTypeFormSubmit     EventType = "form_submit"
	EventTypeFormAbandon    EventType = "form_abandon"
	EventTypeOutboundClick  EventType = "outbound_click"
	EventTypeFileDownload   EventType = "file_download"
	EventTypeEcommerce      EventType = "ecommerce"
	EventTypeError          EventType = "error"
	EventTypeRageClick      EventType = "rage_click"
	EventTypeDeadClick      EventType = "dead_click"
	EventTypeCopy           EventType = "copy"
	EventTypePrint          EventType = "print"
	EventTypeElementVisible EventType = "element_visible"

	// EventTypePageleave is a pseudo-event: it never creates a row, it
	// enriches the matching pageview row with engagement data.
	EventTypePageleave EventType = "pageleave"
)

// Constants for unknown or default values
const (
	DirectOrUnknownReferrer = "__direct_or_unknown__"
	EmptyUTMAttr            = "__empty__"
)

var validEventTypes = map[EventType]bool{
	EventTypePageview:       true,
	EventTypeCustom:         true,
	EventTypeFormSubmit:     true,
	EventTypeFormAbandon:    true,
	EventTypeOutboundClick:  true,
	EventTypeFileDownload:   true,
	EventTypeEcommerce:      true,
	EventTypeError:          true,
	EventTypeRageClick:      true,
	EventTypeDeadClick:      true,
	EventTypeCopy:           true,
	EventTypePrint:          true,
	EventTypeElementVisible: true,
	EventTypePageleave:      true,
}

// IsValidEventType reports whether t is a known event type.
func IsValidEventType(t EventType) bool {
	return validEventTypes[t]
}

// IsInteraction reports whether the event type counts as an engagement
// signal for bounce evaluation. Pageviews are the baseline, and pageleave is
// a delivery mechanism, not behavior.
func (t EventType) IsInteraction() bool {
	return t != EventTypePageview && t != EventTypePageleave
}

// Event is one observed client action. The entry/exit/bounce booleans are
// session-relative snapshots taken at insert time: is_exit stays true on the
// last-inserted event and is never retroactively cleared, and is_bounce is
// not corrected on earlier rows when the session un-bounces. Report surfaces
// must read entry/exit/bounce truth from the sessions table.
type Event struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	SiteID      uint      `gorm:"index:idx_site_timestamp;not null"`
	VisitorHash string    `gorm:"index;size:64;not null"`
	VisitorID   string    `gorm:"index;size:64"` // persistent id, opt-in, may be empty
	SessionID   string    `gorm:"index;size:64;not null"`
	EventType   EventType `gorm:"index;not null"`
	EventName   string    `gorm:"index"` // custom event name, empty otherwise

	Hostname string `gorm:"index;not null"`
	Pathname string `gorm:"index;not null"`
	RawURL   string

	ReferrerHostname string `gorm:"index"`
	UTMSource        string
	UTMMedium        string
	UTMCampaign      string
	UTMTerm          string
	UTMContent       string

	// Engagement and performance, merged in by the pageleave pseudo-event
	ScrollDepth   int   `gorm:"not null;default:0"`
	EngagedTimeMs int64 `gorm:"not null;default:0"`
	TTFBMs        float64
	FCPMs         float64
	LCPMs         float64
	CLS           float64
	INPMs         float64
	FIDMs         float64

	IsEntry  bool `gorm:"not null;default:false"`
	IsExit   bool `gorm:"not null;default:true"`
	IsBounce bool `gorm:"not null;default:false"`

	Revenue  float64 `gorm:"not null;default:0"`
	Currency string
	OrderID  string `gorm:"index"`

	Country string
	Browser string `gorm:"index"`
	OS      string
	Device  string

	EventData   models.JSON
	CustomProps models.JSON

	Timestamp time.Time `gorm:"index:idx_site_timestamp;not null"`
	CreatedAt time.Time
}
