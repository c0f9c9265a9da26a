package v1

import (
	"errors"
	"net/http"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"sitepulse/internal/campaigns"
	"sitepulse/internal/campaigns/providers"
	"sitepulse/internal/models"
)

// CredentialSetParams is the create/update payload.
type CredentialSetParams struct {
	Name        string            `json:"name"`
	Provider    string            `json:"provider"`
	Credentials map[string]string `json:"credentials"`
}

// credentialSetView is the response shape. Credential values never leave the
// server; only the key names are echoed back.
type credentialSetView struct {
	UUID           string    `json:"uuid"`
	Name           string    `json:"name"`
	Provider       string    `json:"provider"`
	CredentialKeys []string  `json:"credential_keys"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func viewCredentialSet(set *campaigns.CredentialSet) credentialSetView {
	asMap := set.Credentials.ToMap()
	keys := make([]string, 0, len(asMap))
	for key := range asMap {
		keys = append(keys, key)
	}
	return credentialSetView{
		UUID:           set.UUID,
		Name:           set.Name,
		Provider:       set.Provider,
		CredentialKeys: keys,
		CreatedAt:      set.CreatedAt,
		UpdatedAt:      set.UpdatedAt,
	}
}

var validProviders = map[string]bool{
	providers.ProviderGoogleAds: true,
	providers.ProviderMeta:      true,
	providers.ProviderMailchimp: true,
}

func validateCredentialSetParams(params *CredentialSetParams) (string, bool) {
	if params.Name == "" {
		return "name is required", false
	}
	if !validProviders[params.Provider] {
		return "unknown provider", false
	}
	if len(params.Credentials) == 0 {
		return "credentials are required", false
	}
	return "", true
}

func credentialsToJSON(creds map[string]string) models.JSON {
	asMap := make(map[string]interface{}, len(creds))
	for key, value := range creds {
		asMap[key] = value
	}
	return models.FromMap(asMap)
}

// CreateCredentialSetHandler creates a reusable credential bundle.
func CreateCredentialSetHandler(ctx *cartridge.Context) error {
	var params CredentialSetParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}
	if reason, ok := validateCredentialSetParams(&params); !ok {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": reason})
	}

	set := &campaigns.CredentialSet{
		Name:        params.Name,
		Provider:    params.Provider,
		Credentials: credentialsToJSON(params.Credentials),
	}
	err := sqlite.PerformWrite(ctx.Logger, ctx.DBManager.GetConnection(), func(tx *gorm.DB) error {
		return tx.Create(set).Error
	})
	if err != nil {
		ctx.Logger.Error("Failed to create credential set", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create credential set"})
	}

	return ctx.Status(http.StatusCreated).JSON(viewCredentialSet(set))
}

// ListCredentialSetsHandler lists all credential bundles.
func ListCredentialSetsHandler(ctx *cartridge.Context) error {
	var sets []campaigns.CredentialSet
	err := ctx.DBManager.GetConnection().Order("id ASC").Find(&sets).Error
	if err != nil {
		ctx.Logger.Error("Failed to list credential sets", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list credential sets"})
	}

	views := make([]credentialSetView, 0, len(sets))
	for i := range sets {
		views = append(views, viewCredentialSet(&sets[i]))
	}
	return ctx.Status(http.StatusOK).JSON(views)
}

// GetCredentialSetHandler fetches one bundle by its public id.
func GetCredentialSetHandler(ctx *cartridge.Context) error {
	set, err := campaigns.GetCredentialSetByUUID(ctx.DBManager.GetConnection(), ctx.Params("uuid"))
	if err != nil {
		return handleCredentialSetError(ctx, err)
	}
	return ctx.Status(http.StatusOK).JSON(viewCredentialSet(set))
}

// UpdateCredentialSetHandler replaces a bundle's name and credentials.
func UpdateCredentialSetHandler(ctx *cartridge.Context) error {
	var params CredentialSetParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	db := ctx.DBManager.GetConnection()
	set, err := campaigns.GetCredentialSetByUUID(db, ctx.Params("uuid"))
	if err != nil {
		return handleCredentialSetError(ctx, err)
	}

	if params.Name != "" {
		set.Name = params.Name
	}
	if len(params.Credentials) > 0 {
		set.Credentials = credentialsToJSON(params.Credentials)
	}

	err = sqlite.PerformWrite(ctx.Logger, db, func(tx *gorm.DB) error {
		return tx.Save(set).Error
	})
	if err != nil {
		ctx.Logger.Error("Failed to update credential set", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update credential set"})
	}
	return ctx.Status(http.StatusOK).JSON(viewCredentialSet(set))
}

// DeleteCredentialSetHandler removes a bundle. Integrations pointing at it
// are detached, not deleted; they fail their next sync until re-credentialed.
func DeleteCredentialSetHandler(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()
	set, err := campaigns.GetCredentialSetByUUID(db, ctx.Params("uuid"))
	if err != nil {
		return handleCredentialSetError(ctx, err)
	}

	err = sqlite.PerformWrite(ctx.Logger, db, func(tx *gorm.DB) error {
		err := tx.Model(&campaigns.Integration{}).
			Where("credential_set_id = ?", set.ID).
			Update("credential_set_id", nil).Error
		if err != nil {
			return err
		}
		return tx.Delete(set).Error
	})
	if err != nil {
		ctx.Logger.Error("Failed to delete credential set", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete credential set"})
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func handleCredentialSetError(ctx *cartridge.Context, err error) error {
	var notFound *campaigns.CredentialSetNotFoundError
	if errors.As(err, &notFound) {
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{"error": "Credential set not found"})
	}
	ctx.Logger.Error("Credential set lookup failed", slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Internal error"})
}
