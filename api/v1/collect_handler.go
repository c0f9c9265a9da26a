// Package v1 contains the public and operator-facing HTTP handlers.
package v1

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/events"
	"sitepulse/internal/pkg/async"
	"sitepulse/internal/sites"
)

const (
	msgEventAccepted  = "Event accepted"
	errInvalidRequest = "Invalid request"
	errInvalidOrigin  = "Invalid origin"
)

// eventSink is the process-wide dispatcher for fire-and-forget side effects.
var eventSink *async.Sink

// InitSink installs the async sink used by the collect handler. Must be
// called once at startup before traffic arrives.
func InitSink(sink *async.Sink) {
	eventSink = sink
}

// CollectEventParams is the beacon payload schema.
type CollectEventParams struct {
	URL       string           `json:"url"`
	Referrer  string           `json:"referrer"`
	EventType events.EventType `json:"eventType"`
	EventName string           `json:"eventName"`
	SessionID string           `json:"sessionId"`
	VisitorID string           `json:"visitorId"`
	Timestamp time.Time        `json:"timestamp"`
	Screen    string           `json:"screen"`
	Locale    string           `json:"locale"`
	UserAgent string           `json:"userAgent"`

	ScrollDepth   int     `json:"scrollDepth"`
	EngagedTimeMs int64   `json:"engagedTimeMs"`
	TTFBMs        float64 `json:"ttfbMs"`
	FCPMs         float64 `json:"fcpMs"`
	LCPMs         float64 `json:"lcpMs"`
	CLS           float64 `json:"cls"`
	INPMs         float64 `json:"inpMs"`
	FIDMs         float64 `json:"fidMs"`

	Revenue  float64 `json:"revenue"`
	Currency string  `json:"currency"`
	OrderID  string  `json:"orderId"`

	EventData   map[string]interface{} `json:"eventData"`
	CustomProps map[string]interface{} `json:"customProps"`
}

// CollectEventHandler ingests one event. Responses: 202 accepted or
// intentionally suppressed, 400 validation or unknown site, 403 origin
// mismatch, 500 unexpected.
func CollectEventHandler(ctx *cartridge.Context) error {
	params, err := parseCollectRequest(ctx.Ctx, ctx.DBManager, ctx.Logger)
	if err != nil {
		return handleCollectError(ctx, err)
	}

	userAgent := params.UserAgent
	if userAgent == "" {
		userAgent = ctx.Get("User-Agent")
	}

	input := &events.CollectEventInput{
		IPAddress:     getClientIP(ctx.Ctx),
		UserAgent:     userAgent,
		Screen:        params.Screen,
		Locale:        params.Locale,
		RawURL:        params.URL,
		ReferrerURL:   params.Referrer,
		EventType:     params.EventType,
		EventName:     params.EventName,
		SessionID:     params.SessionID,
		VisitorID:     params.VisitorID,
		Timestamp:     params.Timestamp,
		ScrollDepth:   params.ScrollDepth,
		EngagedTimeMs: params.EngagedTimeMs,
		TTFBMs:        params.TTFBMs,
		FCPMs:         params.FCPMs,
		LCPMs:         params.LCPMs,
		CLS:           params.CLS,
		INPMs:         params.INPMs,
		FIDMs:         params.FIDMs,
		Revenue:       params.Revenue,
		Currency:      params.Currency,
		OrderID:       params.OrderID,
		EventData:     params.EventData,
		CustomProps:   params.CustomProps,
	}

	if _, err := events.CollectEvent(ctx.DBManager, ctx.Logger, eventSink, input); err != nil {
		return handleCollectError(ctx, err)
	}

	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"message": msgEventAccepted,
		"status":  http.StatusAccepted,
	})
}

func parseCollectRequest(c *fiber.Ctx, dbManager cartridge.DBManager, logger *slog.Logger) (*CollectEventParams, error) {
	var params CollectEventParams
	if err := c.BodyParser(&params); err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, errInvalidRequest)
	}
	if err := validateOrigin(c, dbManager, logger); err != nil {
		return nil, err
	}
	return &params, nil
}

// validateOrigin checks the browser-set Origin header (Referer as fallback)
// against the registered site domains. Requests with neither header are
// rejected: every real beacon request carries at least one.
func validateOrigin(c *fiber.Ctx, dbManager cartridge.DBManager, logger *slog.Logger) error {
	origin := c.Get("Origin")
	if origin == "" {
		origin = c.Get("Referer")
	}
	if origin == "" {
		logger.Debug("No Origin or Referer header present")
		return fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		logger.Debug("Unparseable Origin header", slog.String("origin", origin))
		return fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}

	if _, err := sites.GetSiteOrNotFound(dbManager.GetConnection(), parsed.Hostname()); err != nil {
		logger.Debug("Origin does not match any registered site",
			slog.String("origin", origin))
		return fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}
	return nil
}

func handleCollectError(ctx *cartridge.Context, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return ctx.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
	}

	var validationErr *events.ValidationError
	if errors.As(err, &validationErr) {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": validationErr.Reason,
			"code":  "INVALID_PAYLOAD",
		})
	}

	var siteNotFoundErr *sites.SiteNotFoundError
	if errors.As(err, &siteNotFoundErr) {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Site not found - please register your domain first",
			"code":  "SITE_NOT_FOUND",
		})
	}

	if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy") {
		return ctx.Status(599).JSON(fiber.Map{})
	}

	ctx.Logger.Error("Failed to collect event", slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to collect event",
		"code":  "COLLECTION_ERROR",
	})
}
