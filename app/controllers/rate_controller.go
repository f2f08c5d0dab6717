package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stablofi/stablo/internal/pkg/usercontext"
)

// HandleGetRate returns the current USDC/USD exchange rate.
func HandleGetRate(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	rate, err := rateProvider.GetCurrentRate(c.UserContext())
	if err != nil {
		return errorJSON(c, fiber.StatusBadGateway, "rate_unavailable", "Exchange rate unavailable, try again later")
	}

	return c.JSON(fiber.Map{
		"pair":         "USDC/USD",
		"rate":         rate.Rate,
		"retrieved_at": time.Now().UTC().Format(time.RFC3339),
	})
}
