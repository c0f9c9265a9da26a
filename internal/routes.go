package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "sitepulse/api/v1"
	"sitepulse/internal/config"
)

// collectCORSConfig echoes the request's Origin instead of using a wildcard:
// the beacon sends with credentials mode, and browsers reject wildcard CORS
// responses for credentialed requests. Site validation happens in the
// handler against the registered domains.
var collectCORSConfig = &cors.Config{
	AllowOriginsFunc: func(origin string) bool { return origin != "" },
	AllowCredentials: true,
	AllowMethods:     "POST,GET,OPTIONS",
	AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()

	// Rate limiting only applies in production; in development and test it
	// would interfere with local iteration and the test suite.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Per-IP limiter for the public ingestion API
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(cfg.RateLimitPerMinute),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Public ingestion config: CORS first so 403 responses still carry CORS
	// headers, then rate limiting.
	collectConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       collectCORSConfig,
	}

	// Operator API config: no CORS, no public rate limit.
	operatorConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
	}

	// === HEALTH ===
	srv.Get("/_health", func(ctx *cartridge.Context) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
	srv.Head("/_health", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusOK)
	})

	// === PUBLIC INGESTION ===
	srv.Post("/api/v1/collect", v1.CollectEventHandler, collectConfig)
	srv.Options("/api/v1/collect", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, collectConfig)

	// === CAMPAIGN SYNC TRIGGER (cron, bearer secret) ===
	srv.Post("/api/v1/sync", v1.TriggerSyncHandler, operatorConfig)

	// === CREDENTIAL SETS ===
	srv.Post("/api/v1/credential-sets", v1.CreateCredentialSetHandler, operatorConfig)
	srv.Get("/api/v1/credential-sets", v1.ListCredentialSetsHandler, operatorConfig)
	srv.Get("/api/v1/credential-sets/:uuid", v1.GetCredentialSetHandler, operatorConfig)
	srv.Put("/api/v1/credential-sets/:uuid", v1.UpdateCredentialSetHandler, operatorConfig)
	srv.Delete("/api/v1/credential-sets/:uuid", v1.DeleteCredentialSetHandler, operatorConfig)

	// === SITES ===
	srv.Post("/api/v1/sites", v1.CreateSiteHandler, operatorConfig)
	srv.Get("/api/v1/sites", v1.ListSitesHandler, operatorConfig)
	srv.Get("/api/v1/sites/:id", v1.GetSiteHandler, operatorConfig)

	// === GOALS ===
	srv.Post("/api/v1/sites/:id/goals", v1.CreateGoalHandler, operatorConfig)
	srv.Get("/api/v1/sites/:id/goals", v1.ListGoalsHandler, operatorConfig)
	srv.Delete("/api/v1/sites/:id/goals/:goalId", v1.DeleteGoalHandler, operatorConfig)

	// === INTEGRATIONS ===
	srv.Post("/api/v1/sites/:id/integrations", v1.CreateIntegrationHandler, operatorConfig)
	srv.Get("/api/v1/sites/:id/integrations", v1.ListIntegrationsHandler, operatorConfig)
	srv.Put("/api/v1/sites/:id/integrations/:integrationId", v1.UpdateIntegrationHandler, operatorConfig)
	srv.Delete("/api/v1/sites/:id/integrations/:integrationId", v1.DeleteIntegrationHandler, operatorConfig)

	// === REPORTS ===
	srv.Get("/api/v1/sites/:id/reports/summary", v1.GetSummaryHandler, operatorConfig)
	srv.Get("/api/v1/sites/:id/reports/timeseries", v1.GetTimeseriesHandler, operatorConfig)
	srv.Get("/api/v1/sites/:id/reports/breakdown", v1.GetBreakdownHandler, operatorConfig)
	srv.Get("/api/v1/sites/:id/reports/vitals", v1.GetWebVitalsHandler, operatorConfig)
	srv.Get("/api/v1/sites/:id/reports/campaigns", v1.GetCampaignStatsHandler, operatorConfig)
	srv.Get("/api/v1/sites/:id/reports/ecommerce", v1.GetEcommerceHandler, operatorConfig)
	srv.Get("/api/v1/sites/:id/reports/funnel", v1.GetFunnelHandler, operatorConfig)
	srv.Get("/api/v1/sites/:id/reports/retention", v1.GetRetentionHandler, operatorConfig)
	srv.Get("/api/v1/sites/:id/reports/goals", v1.GetGoalStatsHandler, operatorConfig)
}
