package v1

import (
	"net/http"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"sitepulse/internal/campaigns"
)

// IntegrationParams is the integration create/update payload. Either a
// credential set UUID or inline credentials must be provided.
type IntegrationParams struct {
	Provider          string            `json:"provider"`
	CredentialSetUUID string            `json:"credentialSetUuid"`
	Credentials       map[string]string `json:"credentials"`
	SyncFrequency     string            `json:"syncFrequency"`
	CampaignFilter    string            `json:"campaignFilter"`
	Enabled           *bool             `json:"enabled"`
}

var validFrequencies = map[campaigns.SyncFrequency]bool{
	campaigns.SyncFrequencyHourly: true,
	campaigns.SyncFrequencyDaily:  true,
	campaigns.SyncFrequencyWeekly: true,
	campaigns.SyncFrequencyManual: true,
}

// CreateIntegrationHandler attaches a provider integration to a site.
func CreateIntegrationHandler(ctx *cartridge.Context) error {
	siteID, err := ctx.ParamsInt("id")
	if err != nil || siteID <= 0 {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid site id"})
	}

	var params IntegrationParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}
	if !validProviders[params.Provider] {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "unknown provider"})
	}

	frequency := campaigns.SyncFrequency(params.SyncFrequency)
	if frequency == "" {
		frequency = campaigns.SyncFrequencyDaily
	}
	if !validFrequencies[frequency] {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "unknown sync frequency"})
	}

	db := ctx.DBManager.GetConnection()
	integration := &campaigns.Integration{
		SiteID:         uint(siteID),
		Provider:       params.Provider,
		SyncFrequency:  frequency,
		CampaignFilter: params.CampaignFilter,
		Enabled:        true,
	}

	if params.CredentialSetUUID != "" {
		set, err := campaigns.GetCredentialSetByUUID(db, params.CredentialSetUUID)
		if err != nil {
			return handleCredentialSetError(ctx, err)
		}
		if set.Provider != params.Provider {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "credential set provider does not match integration provider",
			})
		}
		integration.CredentialSetID = &set.ID
	} else if len(params.Credentials) > 0 {
		integration.Credentials = credentialsToJSON(params.Credentials)
	} else {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "either credentialSetUuid or credentials is required",
		})
	}

	err = sqlite.PerformWrite(ctx.Logger, db, func(tx *gorm.DB) error {
		return tx.Create(integration).Error
	})
	if err != nil {
		ctx.Logger.Error("Failed to create integration", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create integration"})
	}
	return ctx.Status(http.StatusCreated).JSON(integration)
}

// ListIntegrationsHandler lists a site's integrations with their sync state.
func ListIntegrationsHandler(ctx *cartridge.Context) error {
	siteID, err := ctx.ParamsInt("id")
	if err != nil || siteID <= 0 {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid site id"})
	}

	var integrations []campaigns.Integration
	err = ctx.DBManager.GetConnection().
		Where("site_id = ?", siteID).
		Order("id ASC").
		Find(&integrations).Error
	if err != nil {
		ctx.Logger.Error("Failed to list integrations", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list integrations"})
	}
	return ctx.Status(http.StatusOK).JSON(integrations)
}

// UpdateIntegrationHandler changes frequency, filter, or enabled state.
func UpdateIntegrationHandler(ctx *cartridge.Context) error {
	siteID, err := ctx.ParamsInt("id")
	if err != nil || siteID <= 0 {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid site id"})
	}
	integrationID, err := ctx.ParamsInt("integrationId")
	if err != nil || integrationID <= 0 {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid integration id"})
	}

	var params IntegrationParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	updates := map[string]interface{}{}
	if params.SyncFrequency != "" {
		frequency := campaigns.SyncFrequency(params.SyncFrequency)
		if !validFrequencies[frequency] {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "unknown sync frequency"})
		}
		updates["sync_frequency"] = frequency
	}
	if params.CampaignFilter != "" {
		updates["campaign_filter"] = params.CampaignFilter
	}
	if params.Enabled != nil {
		updates["enabled"] = *params.Enabled
	}
	if len(updates) == 0 {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "nothing to update"})
	}

	db := ctx.DBManager.GetConnection()
	var rowsAffected int64
	err = sqlite.PerformWrite(ctx.Logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&campaigns.Integration{}).
			Where("id = ? AND site_id = ?", integrationID, siteID).
			Updates(updates)
		rowsAffected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		ctx.Logger.Error("Failed to update integration", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update integration"})
	}
	if rowsAffected == 0 {
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{"error": "Integration not found"})
	}
	return ctx.SendStatus(http.StatusNoContent)
}

// DeleteIntegrationHandler removes an integration and its synced rows.
func DeleteIntegrationHandler(ctx *cartridge.Context) error {
	siteID, err := ctx.ParamsInt("id")
	if err != nil || siteID <= 0 {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid site id"})
	}
	integrationID, err := ctx.ParamsInt("integrationId")
	if err != nil || integrationID <= 0 {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid integration id"})
	}

	db := ctx.DBManager.GetConnection()
	var rowsAffected int64
	err = sqlite.PerformWrite(ctx.Logger, db, func(tx *gorm.DB) error {
		err := tx.Where("integration_id = ?", integrationID).
			Delete(&campaigns.CampaignData{}).Error
		if err != nil {
			return err
		}
		result := tx.Where("id = ? AND site_id = ?", integrationID, siteID).
			Delete(&campaigns.Integration{})
		rowsAffected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		ctx.Logger.Error("Failed to delete integration", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete integration"})
	}
	if rowsAffected == 0 {
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{"error": "Integration not found"})
	}
	return ctx.SendStatus(http.StatusNoContent)
}
