package events

import (
	"fmt"
	"net/url"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"sitepulse/internal/bots"
	"sitepulse/internal/config"
	"sitepulse/internal/goals"
	"sitepulse/internal/models"
	"sitepulse/internal/pkg/async"
	"sitepulse/internal/pkg/useragent"
	"sitepulse/internal/sessions"
	"sitepulse/internal/sites"
	"sitepulse/internal/visitors"
)

// CollectEventInput defines the input required to collect an event.
type CollectEventInput struct {
	IPAddress string
	UserAgent string
	Screen    string
	Locale    string

	RawURL      string
	ReferrerURL string
	EventType   EventType
	EventName   string
	SessionID   string
	VisitorID   string
	Timestamp   time.Time

	ScrollDepth   int
	EngagedTimeMs int64
	TTFBMs        float64
	FCPMs         float64
	LCPMs         float64
	CLS           float64
	INPMs         float64
	FIDMs         float64

	Revenue  float64
	Currency string
	OrderID  string

	EventData   map[string]interface{}
	CustomProps map[string]interface{}
}

// CollectStatus tells the handler how the event was handled.
type CollectStatus int

const (
	// CollectAccepted means an event row was written.
	CollectAccepted CollectStatus = iota
	// CollectSuppressed means the request was valid but intentionally
	// produced no new row (bot traffic, pageleave merge, unmatched
	// pageleave). The client still receives 202.
	CollectSuppressed
)

// ValidationError marks client-side payload problems; the handler maps it to 400.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event payload: %s", e.Reason)
}

type urlData struct {
	hostname string
	pathname string
	rawURL   string
}

// CollectEvent validates, enriches, and persists one incoming event. The
// session touch and event insert are synchronous; goal evaluation and the
// visitor profile update are dispatched to the sink and never block or fail
// the response.
func CollectEvent(dbManager cartridge.DBManager, logger *slog.Logger, sink *async.Sink, input *CollectEventInput) (CollectStatus, error) {
	if !IsValidEventType(input.EventType) {
		return CollectSuppressed, &ValidationError{Reason: fmt.Sprintf("unknown event type %q", input.EventType)}
	}
	if input.SessionID == "" {
		return CollectSuppressed, &ValidationError{Reason: "missing session id"}
	}
	if input.Timestamp.IsZero() {
		input.Timestamp = time.Now().UTC()
	}

	parsed, err := parseInputURL(input.RawURL)
	if err != nil {
		return CollectSuppressed, &ValidationError{Reason: err.Error()}
	}

	db := dbManager.GetConnection()
	siteID, err := sites.GetSiteOrNotFound(db, parsed.hostname)
	if err != nil {
		return CollectSuppressed, err
	}

	if bots.IsBot(input.UserAgent) {
		logger.Debug("Suppressing bot event",
			slog.String("user_agent", input.UserAgent),
			slog.String("url", input.RawURL))
		return CollectSuppressed, nil
	}

	cfg := config.GetConfig()
	visitorHash := visitors.BuildVisitorHash(
		parsed.hostname, input.IPAddress, input.UserAgent, input.Screen, input.Locale, cfg.PrivateKey)

	if input.EventType == EventTypePageleave {
		return mergePageleave(dbManager, logger, sink, input, siteID, parsed)
	}

	referrerHostname := resolveReferrer(input.ReferrerURL, parsed.hostname, logger)
	utm := parseUTM(parsed.rawURL)
	country := GetCountryFromIP(input.IPAddress)
	agent := useragent.Parse(input.UserAgent)

	event := &Event{
		SiteID:           siteID,
		VisitorHash:      visitorHash,
		VisitorID:        input.VisitorID,
		SessionID:        input.SessionID,
		EventType:        input.EventType,
		EventName:        input.EventName,
		Hostname:         parsed.hostname,
		Pathname:         parsed.pathname,
		RawURL:           parsed.rawURL,
		ReferrerHostname: referrerHostname,
		UTMSource:        utm.source,
		UTMMedium:        utm.medium,
		UTMCampaign:      utm.campaign,
		UTMTerm:          utm.term,
		UTMContent:       utm.content,
		ScrollDepth:      input.ScrollDepth,
		EngagedTimeMs:    input.EngagedTimeMs,
		TTFBMs:           input.TTFBMs,
		FCPMs:            input.FCPMs,
		LCPMs:            input.LCPMs,
		CLS:              input.CLS,
		INPMs:            input.INPMs,
		FIDMs:            input.FIDMs,
		Revenue:          input.Revenue,
		Currency:         input.Currency,
		OrderID:          input.OrderID,
		Country:          country,
		Browser:          agent.Browser,
		OS:               agent.OS,
		Device:           agent.Device,
		EventData:        models.FromMap(input.EventData),
		CustomProps:      models.FromMap(input.CustomProps),
		Timestamp:        input.Timestamp,
		CreatedAt:        time.Now().UTC(),
	}

	var outcome *sessions.Outcome
	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		outcome, err = sessions.Touch(tx, &sessions.TouchInput{
			SiteID:                 siteID,
			SessionID:              input.SessionID,
			VisitorHash:            visitorHash,
			Path:                   parsed.pathname,
			IsPageview:             input.EventType == EventTypePageview,
			IsInteraction:          input.EventType.IsInteraction(),
			EngagedTimeMs:          input.EngagedTimeMs,
			Timestamp:              input.Timestamp,
			IdleTimeout:            time.Duration(cfg.SessionTimeoutSeconds) * time.Second,
			EngagedTimeThresholdMs: int64(cfg.EngagedTimeThresholdMs),
		})
		if err != nil {
			return err
		}

		// Snapshot flags; is_exit stays provisionally true on every insert
		// and is never cleared when a later event arrives.
		event.IsEntry = outcome.IsEntry
		event.IsBounce = outcome.IsBounce
		event.IsExit = true

		return tx.Create(event).Error
	})
	if err != nil {
		return CollectSuppressed, fmt.Errorf("failed to store event: %w", err)
	}

	dispatchSideEffects(dbManager, logger, sink, event, outcome.IsNewSession)
	return CollectAccepted, nil
}

// dispatchSideEffects queues the visitor profile update and goal evaluation.
// Both are fire-and-forget: errors are logged by the sink, never returned.
func dispatchSideEffects(dbManager cartridge.DBManager, logger *slog.Logger, sink *async.Sink, event *Event, isNewSession bool) {
	if event.VisitorID != "" {
		touch := &visitors.ProfileTouch{
			SiteID:        event.SiteID,
			VisitorID:     event.VisitorID,
			Timestamp:     event.Timestamp,
			IsNewSession:  isNewSession,
			IsPageview:    event.EventType == EventTypePageview,
			Revenue:       event.Revenue,
			EngagedTimeMs: event.EngagedTimeMs,
			Referrer:      event.ReferrerHostname,
			UTMSource:     event.UTMSource,
			UTMMedium:     event.UTMMedium,
			UTMCampaign:   event.UTMCampaign,
			Path:          event.Pathname,
		}
		sink.Go("visitor_profile_upsert", func() error {
			return sqlite.PerformWrite(logger, dbManager.GetConnection(), func(tx *gorm.DB) error {
				return visitors.UpsertProfile(tx, touch)
			})
		})
	}

	facts := goalFacts(event)
	sink.Go("goal_evaluation", func() error {
		return sqlite.PerformWrite(logger, dbManager.GetConnection(), func(tx *gorm.DB) error {
			return goals.Evaluate(tx, logger, facts)
		})
	})
}

func goalFacts(event *Event) *goals.EventFacts {
	return &goals.EventFacts{
		SiteID:        event.SiteID,
		SessionID:     event.SessionID,
		VisitorHash:   event.VisitorHash,
		EventID:       event.ID,
		EventType:     string(event.EventType),
		EventName:     event.EventName,
		Pathname:      event.Pathname,
		EngagedTimeMs: event.EngagedTimeMs,
		Revenue:       event.Revenue,
		Timestamp:     event.Timestamp,
	}
}

// parseInputURL parses a URL string into its components
func parseInputURL(urlStr string) (*urlData, error) {
	if urlStr == "" {
		return nil, fmt.Errorf("empty URL provided")
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	hostname := parsedURL.Hostname()
	if hostname == "" {
		return nil, fmt.Errorf("URL missing hostname")
	}

	pathname := parsedURL.Path
	if pathname == "" {
		pathname = "/"
	}

	return &urlData{
		hostname: hostname,
		pathname: pathname,
		rawURL:   urlStr,
	}, nil
}

// resolveReferrer extracts the referrer hostname, collapsing self-referrals
// into direct traffic.
func resolveReferrer(referrerURL, siteHostname string, logger *slog.Logger) string {
	if referrerURL == "" {
		return DirectOrUnknownReferrer
	}

	data, err := parseInputURL(referrerURL)
	if err != nil {
		logger.Warn("Failed to parse referrer URL",
			slog.String("referrer", referrerURL),
			slog.Any("error", err))
		return DirectOrUnknownReferrer
	}

	base := sites.BaseDomainForHost(siteHostname)
	if sites.IsSelfReferral(data.hostname, base) {
		return DirectOrUnknownReferrer
	}
	return data.hostname
}

type utmParams struct {
	source, medium, campaign, term, content string
}

func parseUTM(rawURL string) utmParams {
	params := utmParams{
		source:   EmptyUTMAttr,
		medium:   EmptyUTMAttr,
		campaign: EmptyUTMAttr,
		term:     EmptyUTMAttr,
		content:  EmptyUTMAttr,
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return params
	}

	params.source = getUTMParam(parsedURL, "utm_source")
	params.medium = getUTMParam(parsedURL, "utm_medium")
	params.campaign = getUTMParam(parsedURL, "utm_campaign")
	params.term = getUTMParam(parsedURL, "utm_term")
	params.content = getUTMParam(parsedURL, "utm_content")
	return params
}

func getUTMParam(parsedURL *url.URL, param string) string {
	if value := parsedURL.Query().Get(param); value != "" {
		return value
	}
	return EmptyUTMAttr
}
