package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/internal/pkg/database"
	metrics "github.com/stablofi/stablo/internal/pkg/metrics/counter"
)

// HandleGetSettings returns the runtime-tunable engine settings.
func HandleGetSettings(c *fiber.Ctx) error {
	settings := models.GetAppSettings()
	if settings == nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Settings not loaded")
	}
	return c.JSON(settingsJSON(settings))
}

// HandleUpdateSettings replaces the runtime settings. Reconcile intervals
// picked up here apply from the next manager restart; fee and toggle
// values take effect immediately.
func HandleUpdateSettings(c *fiber.Ctx) error {
	current := models.GetAppSettings()
	if current == nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Settings not loaded")
	}

	updated := &models.AppSettings{
		SiteTitle:                current.GetSiteTitle(),
		ConversionFeePercent:     current.GetConversionFeePercent(),
		PayoutFlatFee:            current.GetPayoutFlatFee(),
		PayoutsEnabled:           current.IsPayoutsEnabled(),
		TransferIntervalSeconds:  current.GetTransferIntervalSeconds(),
		PayoutIntervalSeconds:    current.GetPayoutIntervalSeconds(),
		MaxOperationAgeHours:     current.GetMaxOperationAgeHours(),
		ReconcileBatchSize:       current.GetReconcileBatchSize(),
		WebhookTimeoutSeconds:    current.GetWebhookTimeoutSeconds(),
		AuditRetentionMaxEntries: current.GetAuditRetentionMaxEntries(),
	}
	if err := c.BodyParser(updated); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	db := database.GetDB()
	if db == nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Database unavailable")
	}
	if err := models.SaveSettings(db, updated); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	return c.JSON(settingsJSON(updated))
}

// HandleGetReconcileStats returns the reconcile loop counters.
func HandleGetReconcileStats(c *fiber.Ctx) error {
	stats, err := metrics.GetStats()
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load stats")
	}
	return c.JSON(stats)
}

func settingsJSON(s *models.AppSettings) fiber.Map {
	return fiber.Map{
		"site_title":                  s.GetSiteTitle(),
		"conversion_fee_percent":      s.GetConversionFeePercent(),
		"payout_flat_fee":             s.GetPayoutFlatFee(),
		"payouts_enabled":             s.IsPayoutsEnabled(),
		"transfer_interval_seconds":   s.GetTransferIntervalSeconds(),
		"payout_interval_seconds":     s.GetPayoutIntervalSeconds(),
		"max_operation_age_hours":     s.GetMaxOperationAgeHours(),
		"reconcile_batch_size":        s.GetReconcileBatchSize(),
		"webhook_timeout_seconds":     s.GetWebhookTimeoutSeconds(),
		"audit_retention_max_entries": s.GetAuditRetentionMaxEntries(),
	}
}
