package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/internal/pkg/transfer"
	"github.com/stablofi/stablo/internal/pkg/usercontext"
)

// HandleGetAuditTrail returns the full lifecycle trail of one operation,
// oldest entry first. Non-admins only see operations they own.
func HandleGetAuditTrail(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	reference := c.Params("reference")
	if !userCtx.IsAdmin {
		if !ownsOperation(userCtx.UserID, reference) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Operation not found")
		}
	}

	entries, err := auditRecorder.Trail(reference)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load audit trail")
	}
	if len(entries) == 0 {
		return errorJSON(c, fiber.StatusNotFound, "not_found", "Operation not found")
	}

	items := make([]fiber.Map, 0, len(entries))
	for i := range entries {
		items = append(items, auditEntryJSON(&entries[i]))
	}
	return c.JSON(fiber.Map{
		"operation_ref": reference,
		"entries":       items,
	})
}

// ownsOperation checks the reference against both operation tables.
func ownsOperation(userID uint, reference string) bool {
	if _, err := transferService.Get(userID, reference); err == nil {
		return true
	} else if !errors.Is(err, transfer.ErrTransferNotFound) {
		return false
	}
	_, err := payoutService.Get(userID, reference)
	return err == nil
}

func auditEntryJSON(e *models.AuditEntry) fiber.Map {
	item := fiber.Map{
		"event_type":     e.EventType,
		"previous_value": e.PreviousValue,
		"new_value":      e.NewValue,
		"actor":          e.Actor,
		"created_at":     e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.Metadata != nil {
		item["metadata"] = e.Metadata
	}
	return item
}
