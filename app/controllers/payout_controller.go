package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/internal/pkg/payout"
	"github.com/stablofi/stablo/internal/pkg/statemachine"
	"github.com/stablofi/stablo/internal/pkg/usercontext"
)

type createPayoutRequest struct {
	BankAccountID uint    `json:"bank_account_id"`
	UsdcAmount    float64 `json:"usdc_amount"`
}

// HandleCreatePayout initiates a fiat payout for the authenticated user.
func HandleCreatePayout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req createPayoutRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	op, err := payoutService.Initiate(c.UserContext(), userCtx.UserID, req.BankAccountID, req.UsdcAmount)
	if err != nil {
		switch {
		case errors.Is(err, payout.ErrInvalidAmount):
			return errorJSON(c, fiber.StatusBadRequest, "invalid_amount", "Amount must be positive")
		case errors.Is(err, payout.ErrBankAccountNotFound):
			return errorJSON(c, fiber.StatusNotFound, "bank_account_not_found", "Bank account not found")
		case errors.Is(err, payout.ErrPayoutsDisabled):
			return errorJSON(c, fiber.StatusServiceUnavailable, "payouts_disabled", "Payouts are currently disabled")
		case errors.Is(err, payout.ErrRateUnavailable):
			return errorJSON(c, fiber.StatusBadGateway, "rate_unavailable", "Exchange rate unavailable, try again later")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to initiate payout")
	}

	return c.Status(fiber.StatusCreated).JSON(payoutJSON(op))
}

// HandleGetPayout returns one payout by its reference.
func HandleGetPayout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	op, err := payoutService.Get(userCtx.UserID, c.Params("reference"))
	if err != nil {
		if errors.Is(err, payout.ErrPayoutNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Payout not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load payout")
	}

	return c.JSON(payoutJSON(op))
}

// HandleListPayouts returns a page of the user's payouts.
func HandleListPayouts(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	offset, limit := parsePagination(c)
	ops, err := payoutService.List(userCtx.UserID, offset, limit)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to list payouts")
	}

	items := make([]fiber.Map, 0, len(ops))
	for i := range ops {
		items = append(items, payoutJSON(&ops[i]))
	}
	return c.JSON(fiber.Map{
		"payouts": items,
		"offset":  offset,
		"limit":   limit,
	})
}

// HandleCancelPayout cancels a still-pending payout.
func HandleCancelPayout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	op, err := payoutService.Cancel(c.UserContext(), userCtx.UserID, c.Params("reference"))
	if err != nil {
		var terr *statemachine.TransitionError
		switch {
		case errors.Is(err, payout.ErrPayoutNotFound):
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Payout not found")
		case errors.As(err, &terr), errors.Is(err, statemachine.ErrInvalidTransition):
			return errorJSON(c, fiber.StatusConflict, "invalid_transition", "Payout can no longer be cancelled")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to cancel payout")
	}

	return c.JSON(payoutJSON(op))
}

func payoutJSON(op *models.PayoutOperation) fiber.Map {
	m := fiber.Map{
		"reference":       op.Reference,
		"bank_account_id": op.BankAccountID,
		"usdc_amount":     op.UsdcAmount,
		"fiat_amount":     op.FiatAmount,
		"exchange_rate":   op.ExchangeRate,
		"fees": fiber.Map{
			"conversion_fee_percent": op.FeePercent,
			"conversion_fee":         op.ConversionFee,
			"flat_fee":               op.FlatFee,
			"total":                  op.TotalFees,
		},
		"net_amount":   op.NetAmount,
		"status":       op.Status,
		"initiated_at": op.InitiatedAt.UTC().Format(time.RFC3339),
		"completed_at": formatTimePtr(op.CompletedAt),
	}
	if op.GatewayRef != nil {
		m["gateway_ref"] = *op.GatewayRef
	}
	if op.FailureReason != "" {
		m["failure_reason"] = op.FailureReason
	}
	return m
}
