package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/stablofi/stablo/app/controllers"
	"github.com/stablofi/stablo/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", limiter.New())

	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware())

	v1.Get("/account", controllers.HandleGetAccount)
	v1.Post("/account/api-key", controllers.HandleRotateAPIKey)

	v1.Post("/transfers", controllers.HandleCreateTransfer)
	v1.Get("/transfers", controllers.HandleListTransfers)
	v1.Get("/transfers/:reference", controllers.HandleGetTransfer)

	v1.Post("/payouts", controllers.HandleCreatePayout)
	v1.Get("/payouts", controllers.HandleListPayouts)
	v1.Get("/payouts/:reference", controllers.HandleGetPayout)
	v1.Post("/payouts/:reference/cancel", controllers.HandleCancelPayout)

	v1.Post("/bank-accounts", controllers.HandleCreateBankAccount)
	v1.Get("/bank-accounts", controllers.HandleListBankAccounts)
	v1.Delete("/bank-accounts/:id", controllers.HandleDeleteBankAccount)

	v1.Post("/webhooks", controllers.HandleCreateWebhook)
	v1.Get("/webhooks", controllers.HandleListWebhooks)
	v1.Patch("/webhooks/:id", controllers.HandleUpdateWebhook)
	v1.Delete("/webhooks/:id", controllers.HandleDeleteWebhook)
	v1.Get("/webhooks/:id/attempts", controllers.HandleListWebhookAttempts)

	v1.Get("/audit/:reference", controllers.HandleGetAuditTrail)
	v1.Get("/rates/current", controllers.HandleGetRate)

	admin := v1.Group("/admin", middleware.RequireAdmin)
	admin.Get("/settings", controllers.HandleGetSettings)
	admin.Put("/settings", controllers.HandleUpdateSettings)
	admin.Get("/reconcile/stats", controllers.HandleGetReconcileStats)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
