package v1

import (
	"errors"
	"net/http"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"sitepulse/internal/sites"
)

// SiteParams is the site registration payload.
type SiteParams struct {
	Domain   string `json:"domain"`
	Timezone string `json:"timezone"`
	Currency string `json:"currency"`
}

// CreateSiteHandler registers a domain for tracking.
func CreateSiteHandler(ctx *cartridge.Context) error {
	var params SiteParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	site := &sites.Site{
		Domain:   params.Domain,
		Timezone: params.Timezone,
		Currency: params.Currency,
	}
	if site.Timezone == "" {
		site.Timezone = "UTC"
	}
	if site.Currency == "" {
		site.Currency = "USD"
	}

	err := sqlite.PerformWrite(ctx.Logger, ctx.DBManager.GetConnection(), func(tx *gorm.DB) error {
		return sites.CreateSite(tx, site)
	})
	if err != nil {
		ctx.Logger.Error("Failed to create site", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Failed to create site"})
	}
	return ctx.Status(http.StatusCreated).JSON(site)
}

// ListSitesHandler lists registered sites.
func ListSitesHandler(ctx *cartridge.Context) error {
	var all []sites.Site
	if err := ctx.DBManager.GetConnection().Order("id ASC").Find(&all).Error; err != nil {
		ctx.Logger.Error("Failed to list sites", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list sites"})
	}
	return ctx.Status(http.StatusOK).JSON(all)
}

// GetSiteHandler fetches one site.
func GetSiteHandler(ctx *cartridge.Context) error {
	siteID, err := ctx.ParamsInt("id")
	if err != nil || siteID <= 0 {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid site id"})
	}

	site, err := sites.GetSiteByID(ctx.DBManager.GetConnection(), uint(siteID))
	if err != nil {
		var notFound *sites.SiteNotFoundError
		if errors.As(err, &notFound) {
			return ctx.Status(http.StatusNotFound).JSON(fiber.Map{"error": "Site not found"})
		}
		ctx.Logger.Error("Site lookup failed", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
	}
	return ctx.Status(http.StatusOK).JSON(site)
}
