package v1

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"sitepulse/internal/reports"
	"sitepulse/internal/sites"
	"sitepulse/internal/timeframe"
)

// resolveReportQuery builds the report query from the request: site id path
// param, explicit start/end or a named period token, and dimension filters.
func resolveReportQuery(ctx *cartridge.Context) (*reports.Query, *gorm.DB, error) {
	siteID, err := ctx.ParamsInt("id")
	if err != nil || siteID <= 0 {
		return nil, nil, fiber.NewError(http.StatusBadRequest, "invalid site id")
	}

	db := ctx.DBManager.GetConnection()
	site, err := sites.GetSiteByID(db, uint(siteID))
	if err != nil {
		var notFound *sites.SiteNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil, fiber.NewError(http.StatusNotFound, "site not found")
		}
		return nil, nil, err
	}

	tz, err := time.LoadLocation(site.Timezone)
	if err != nil {
		tz = time.UTC
	}

	var tf *timeframe.Timeframe
	startParam := ctx.Query("start")
	endParam := ctx.Query("end")
	if startParam != "" && endParam != "" {
		start, err := time.ParseInLocation("2006-01-02", startParam, tz)
		if err != nil {
			return nil, nil, fiber.NewError(http.StatusBadRequest, "invalid start date")
		}
		end, err := time.ParseInLocation("2006-01-02", endParam, tz)
		if err != nil {
			return nil, nil, fiber.NewError(http.StatusBadRequest, "invalid end date")
		}
		tf, err = timeframe.NewCustom(start, end.AddDate(0, 0, 1), tz)
		if err != nil {
			return nil, nil, fiber.NewError(http.StatusBadRequest, err.Error())
		}
	} else {
		label := timeframe.RangeLabel(ctx.Query("period", string(timeframe.RangeLabelLast30Days)))
		tf, err = timeframe.Resolve(label, time.Now().UTC(), tz)
		if err != nil {
			return nil, nil, fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}

	query := &reports.Query{
		SiteID:    uint(siteID),
		Timeframe: tf,
		Filters: reports.Filters{
			Page:        ctx.Query("page"),
			Referrer:    ctx.Query("referrer"),
			Country:     ctx.Query("country"),
			Device:      ctx.Query("device"),
			Browser:     ctx.Query("browser"),
			OS:          ctx.Query("os"),
			UTMSource:   ctx.Query("utm_source"),
			UTMMedium:   ctx.Query("utm_medium"),
			UTMCampaign: ctx.Query("utm_campaign"),
			UTMTerm:     ctx.Query("utm_term"),
			UTMContent:  ctx.Query("utm_content"),
		},
	}
	return query, db, nil
}

func handleReportError(ctx *cartridge.Context, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return ctx.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
	}
	ctx.Logger.Error("Report computation failed", slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to compute report"})
}

// GetSummaryHandler serves the headline metrics card.
func GetSummaryHandler(ctx *cartridge.Context) error {
	query, db, err := resolveReportQuery(ctx)
	if err != nil {
		return handleReportError(ctx, err)
	}
	summary, err := reports.GetSummary(db, query)
	if err != nil {
		return handleReportError(ctx, err)
	}
	return ctx.Status(http.StatusOK).JSON(summary)
}

// GetTimeseriesHandler serves bucketed visitors/pageviews. The interval
// query param selects hour, day or week buckets; default is day.
func GetTimeseriesHandler(ctx *cartridge.Context) error {
	query, db, err := resolveReportQuery(ctx)
	if err != nil {
		return handleReportError(ctx, err)
	}
	interval, err := timeframe.ParseInterval(ctx.Query("interval"))
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	query.Interval = interval
	points, err := reports.GetTimeseries(db, query)
	if err != nil {
		return handleReportError(ctx, err)
	}
	return ctx.Status(http.StatusOK).JSON(points)
}

// GetBreakdownHandler serves a top-N breakdown over one dimension.
func GetBreakdownHandler(ctx *cartridge.Context) error {
	query, db, err := resolveReportQuery(ctx)
	if err != nil {
		return handleReportError(ctx, err)
	}

	dimension := reports.Dimension(ctx.Query("dimension", string(reports.DimensionPage)))
	limit, _ := strconv.Atoi(ctx.Query("limit", "10"))
	if limit <= 0 {
		limit = 10
	}

	entries, err := reports.GetTopN(db, query, dimension, limit)
	if err != nil {
		return handleReportError(ctx, err)
	}
	return ctx.Status(http.StatusOK).JSON(entries)
}

// GetWebVitalsHandler serves site-wide and per-page vitals percentiles.
func GetWebVitalsHandler(ctx *cartridge.Context) error {
	query, db, err := resolveReportQuery(ctx)
	if err != nil {
		return handleReportError(ctx, err)
	}
	overall, pages, err := reports.GetWebVitals(db, query)
	if err != nil {
		return handleReportError(ctx, err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"overall": overall,
		"pages":   pages,
	})
}

// GetCampaignStatsHandler serves aggregated ad campaign performance.
func GetCampaignStatsHandler(ctx *cartridge.Context) error {
	query, db, err := resolveReportQuery(ctx)
	if err != nil {
		return handleReportError(ctx, err)
	}
	stats, err := reports.GetCampaignStats(db, query.SiteID, query.Timeframe.From, query.Timeframe.To)
	if err != nil {
		return handleReportError(ctx, err)
	}
	return ctx.Status(http.StatusOK).JSON(stats)
}

// GetEcommerceHandler serves order-deduplicated revenue stats.
func GetEcommerceHandler(ctx *cartridge.Context) error {
	query, db, err := resolveReportQuery(ctx)
	if err != nil {
		return handleReportError(ctx, err)
	}
	stats, err := reports.GetEcommerceStats(db, query)
	if err != nil {
		return handleReportError(ctx, err)
	}
	return ctx.Status(http.StatusOK).JSON(stats)
}

// GetFunnelHandler serves ordered step conversion. Steps come as a
// comma-separated list of paths.
func GetFunnelHandler(ctx *cartridge.Context) error {
	query, db, err := resolveReportQuery(ctx)
	if err != nil {
		return handleReportError(ctx, err)
	}

	raw := ctx.Query("steps")
	if raw == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "steps parameter is required"})
	}
	steps := strings.Split(raw, ",")

	result, err := reports.GetFunnel(db, query, steps)
	if err != nil {
		return handleReportError(ctx, err)
	}
	return ctx.Status(http.StatusOK).JSON(result)
}

// GetRetentionHandler serves weekly retention cohorts.
func GetRetentionHandler(ctx *cartridge.Context) error {
	query, db, err := resolveReportQuery(ctx)
	if err != nil {
		return handleReportError(ctx, err)
	}
	cohorts, err := reports.GetRetention(db, query)
	if err != nil {
		return handleReportError(ctx, err)
	}
	return ctx.Status(http.StatusOK).JSON(cohorts)
}

// GetGoalStatsHandler serves per-goal conversion counts and rates.
func GetGoalStatsHandler(ctx *cartridge.Context) error {
	query, db, err := resolveReportQuery(ctx)
	if err != nil {
		return handleReportError(ctx, err)
	}
	stats, err := reports.GetGoalStats(db, query)
	if err != nil {
		return handleReportError(ctx, err)
	}
	return ctx.Status(http.StatusOK).JSON(stats)
}
