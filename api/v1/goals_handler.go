package v1

import (
	"errors"
	"net/http"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"sitepulse/internal/goals"
)

// GoalParams is the goal definition payload.
type GoalParams struct {
	Name                 string  `json:"name"`
	GoalType             string  `json:"goalType"`
	Target               string  `json:"target"`
	RevenuePerConversion float64 `json:"revenuePerConversion"`
}

// CreateGoalHandler defines a conversion goal for a site.
func CreateGoalHandler(ctx *cartridge.Context) error {
	siteID, err := ctx.ParamsInt("id")
	if err != nil || siteID <= 0 {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid site id"})
	}

	var params GoalParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}

	goal := &goals.Goal{
		SiteID:               uint(siteID),
		Name:                 params.Name,
		GoalType:             goals.GoalType(params.GoalType),
		Target:               params.Target,
		RevenuePerConversion: params.RevenuePerConversion,
		Active:               true,
	}
	err = sqlite.PerformWrite(ctx.Logger, ctx.DBManager.GetConnection(), func(tx *gorm.DB) error {
		return goals.CreateGoal(tx, goal)
	})
	if err != nil {
		ctx.Logger.Debug("Failed to create goal", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.Status(http.StatusCreated).JSON(goal)
}

// ListGoalsHandler lists a site's goals.
func ListGoalsHandler(ctx *cartridge.Context) error {
	siteID, err := ctx.ParamsInt("id")
	if err != nil || siteID <= 0 {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid site id"})
	}

	result, err := goals.GetGoalsBySite(ctx.DBManager.GetConnection(), uint(siteID))
	if err != nil {
		ctx.Logger.Error("Failed to list goals", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list goals"})
	}
	return ctx.Status(http.StatusOK).JSON(result)
}

// DeleteGoalHandler removes a goal, keeping historical conversions.
func DeleteGoalHandler(ctx *cartridge.Context) error {
	siteID, err := ctx.ParamsInt("id")
	if err != nil || siteID <= 0 {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid site id"})
	}
	goalID, err := ctx.ParamsInt("goalId")
	if err != nil || goalID <= 0 {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid goal id"})
	}

	err = sqlite.PerformWrite(ctx.Logger, ctx.DBManager.GetConnection(), func(tx *gorm.DB) error {
		return goals.DeleteGoal(tx, uint(siteID), uint(goalID))
	})
	if err != nil {
		var notFound *goals.GoalNotFoundError
		if errors.As(err, &notFound) {
			return ctx.Status(http.StatusNotFound).JSON(fiber.Map{"error": "Goal not found"})
		}
		ctx.Logger.Error("Failed to delete goal", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete goal"})
	}
	return ctx.SendStatus(http.StatusNoContent)
}
