package controllers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/app/repository"
	"github.com/stablofi/stablo/internal/pkg/usercontext"
)

type createWebhookRequest struct {
	TargetURL string   `json:"target_url"`
	Events    []string `json:"events"`
}

type updateWebhookRequest struct {
	TargetURL *string   `json:"target_url"`
	Events    *[]string `json:"events"`
	IsActive  *bool     `json:"is_active"`
}

// HandleCreateWebhook registers a delivery target. The signing secret is
// generated server-side and returned exactly once in this response.
func HandleCreateWebhook(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req createWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if len(req.Events) == 0 {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "At least one event is required")
	}
	for _, e := range req.Events {
		if !models.IsKnownWebhookEvent(e) {
			return errorJSON(c, fiber.StatusBadRequest, "unknown_event", "Unknown event: "+e)
		}
	}

	secret, err := generateWebhookSecret()
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to generate secret")
	}

	sub := &models.WebhookSubscription{
		UserID:    userCtx.UserID,
		TargetURL: req.TargetURL,
		Secret:    secret,
		IsActive:  true,
	}
	if err := sub.SetEvents(req.Events); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid events")
	}
	if err := sub.Validate(); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	repo := repository.GetGlobalFactory().GetWebhookRepository()
	if err := repo.CreateSubscription(sub); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create subscription")
	}

	resp := webhookJSON(sub)
	resp["secret"] = secret
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// HandleListWebhooks returns all of the user's subscriptions.
func HandleListWebhooks(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	repo := repository.GetGlobalFactory().GetWebhookRepository()
	subs, err := repo.ListSubscriptionsByUser(userCtx.UserID)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to list subscriptions")
	}

	items := make([]fiber.Map, 0, len(subs))
	for i := range subs {
		items = append(items, webhookJSON(&subs[i]))
	}
	return c.JSON(fiber.Map{"webhooks": items})
}

// HandleUpdateWebhook changes target URL, events or the active flag.
func HandleUpdateWebhook(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid subscription id")
	}

	var req updateWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	repo := repository.GetGlobalFactory().GetWebhookRepository()
	sub, err := repo.GetSubscription(userCtx.UserID, uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Subscription not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscription")
	}

	if req.TargetURL != nil {
		sub.TargetURL = *req.TargetURL
	}
	if req.Events != nil {
		if len(*req.Events) == 0 {
			return errorJSON(c, fiber.StatusBadRequest, "bad_request", "At least one event is required")
		}
		for _, e := range *req.Events {
			if !models.IsKnownWebhookEvent(e) {
				return errorJSON(c, fiber.StatusBadRequest, "unknown_event", "Unknown event: "+e)
			}
		}
		if err := sub.SetEvents(*req.Events); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid events")
		}
	}
	if req.IsActive != nil {
		sub.IsActive = *req.IsActive
	}
	if err := sub.Validate(); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	if err := repo.UpdateSubscription(sub); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to update subscription")
	}
	return c.JSON(webhookJSON(sub))
}

// HandleDeleteWebhook deactivates a subscription. Attempt history stays.
func HandleDeleteWebhook(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid subscription id")
	}

	repo := repository.GetGlobalFactory().GetWebhookRepository()
	if err := repo.DeactivateSubscription(userCtx.UserID, uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Subscription not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to deactivate subscription")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleListWebhookAttempts returns the recent delivery attempts for one
// of the user's subscriptions.
func HandleListWebhookAttempts(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid subscription id")
	}

	repo := repository.GetGlobalFactory().GetWebhookRepository()
	if _, err := repo.GetSubscription(userCtx.UserID, uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Subscription not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscription")
	}

	_, limit := parsePagination(c)
	attempts, err := repo.ListAttempts(uint(id), limit)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to list attempts")
	}

	items := make([]fiber.Map, 0, len(attempts))
	for _, a := range attempts {
		item := fiber.Map{
			"attempt_number": a.AttemptNumber,
			"event":          a.Event,
			"operation_ref":  a.OperationRef,
			"success":        a.Success,
			"created_at":     a.CreatedAt.UTC().Format(time.RFC3339),
		}
		if a.StatusCode != 0 {
			item["status_code"] = a.StatusCode
		}
		if a.ErrorMessage != "" {
			item["error"] = a.ErrorMessage
		}
		items = append(items, item)
	}
	return c.JSON(fiber.Map{"attempts": items})
}

func webhookJSON(s *models.WebhookSubscription) fiber.Map {
	return fiber.Map{
		"id":         s.ID,
		"target_url": s.TargetURL,
		"events":     s.Events(),
		"is_active":  s.IsActive,
		"created_at": s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func generateWebhookSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
