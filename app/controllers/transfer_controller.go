package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/internal/pkg/transfer"
	"github.com/stablofi/stablo/internal/pkg/usercontext"
)

type createTransferRequest struct {
	ToAddress string `json:"to_address"`
	Amount    string `json:"amount"`
}

// HandleCreateTransfer submits a new on-chain transfer for the
// authenticated user.
func HandleCreateTransfer(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req createTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	op, err := transferService.Submit(c.UserContext(), userCtx.UserID, req.ToAddress, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, transfer.ErrInvalidAddress):
			return errorJSON(c, fiber.StatusBadRequest, "invalid_address", "Destination address is not a valid hex address")
		case errors.Is(err, transfer.ErrInvalidAmount):
			return errorJSON(c, fiber.StatusBadRequest, "invalid_amount", "Amount must be a positive decimal")
		case errors.Is(err, transfer.ErrNoWalletAddress):
			return errorJSON(c, fiber.StatusConflict, "no_wallet", "User has no wallet address")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to submit transfer")
	}

	return c.Status(fiber.StatusCreated).JSON(transferJSON(op))
}

// HandleGetTransfer returns one transfer by its reference.
func HandleGetTransfer(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	op, err := transferService.Get(userCtx.UserID, c.Params("reference"))
	if err != nil {
		if errors.Is(err, transfer.ErrTransferNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Transfer not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load transfer")
	}

	return c.JSON(transferJSON(op))
}

// HandleListTransfers returns a page of the user's transfers.
func HandleListTransfers(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	offset, limit := parsePagination(c)
	ops, err := transferService.List(userCtx.UserID, offset, limit)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to list transfers")
	}

	items := make([]fiber.Map, 0, len(ops))
	for i := range ops {
		items = append(items, transferJSON(&ops[i]))
	}
	return c.JSON(fiber.Map{
		"transfers": items,
		"offset":    offset,
		"limit":     limit,
	})
}

func transferJSON(op *models.TransferOperation) fiber.Map {
	m := fiber.Map{
		"reference":    op.Reference,
		"from_address": op.FromAddress,
		"to_address":   op.ToAddress,
		"amount":       op.Amount,
		"token":        op.TokenSymbol,
		"status":       op.Status,
		"created_at":   op.CreatedAt.UTC().Format(time.RFC3339),
		"confirmed_at": formatTimePtr(op.ConfirmedAt),
	}
	if op.ExternalRef != nil {
		m["external_ref"] = *op.ExternalRef
	}
	if op.TxHash != "" {
		m["tx_hash"] = op.TxHash
	}
	if op.BlockNumber != nil {
		m["block_number"] = *op.BlockNumber
	}
	if op.FailureReason != "" {
		m["failure_reason"] = op.FailureReason
	}
	return m
}
