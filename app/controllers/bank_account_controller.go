package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/app/repository"
	"github.com/stablofi/stablo/internal/pkg/usercontext"
)

type createBankAccountRequest struct {
	BankName     string `json:"bank_name"`
	AccountLast4 string `json:"account_last4"`
	DetailsEnc   string `json:"details_enc"`
	Currency     string `json:"currency"`
}

// HandleCreateBankAccount registers a payout destination. The full bank
// details arrive pre-encrypted; only masked digits are stored readable.
func HandleCreateBankAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req createBankAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if req.DetailsEnc == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Missing encrypted account details")
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	account := &models.BankAccount{
		UserID:       userCtx.UserID,
		BankName:     req.BankName,
		AccountLast4: req.AccountLast4,
		DetailsEnc:   req.DetailsEnc,
		Currency:     req.Currency,
		IsActive:     true,
	}
	if err := account.Validate(); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}

	repo := repository.GetGlobalFactory().GetBankAccountRepository()
	if err := repo.Create(account); err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create bank account")
	}

	return c.Status(fiber.StatusCreated).JSON(bankAccountJSON(account))
}

// HandleListBankAccounts returns the user's active payout destinations.
func HandleListBankAccounts(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	repo := repository.GetGlobalFactory().GetBankAccountRepository()
	accounts, err := repo.ListByUser(userCtx.UserID)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to list bank accounts")
	}

	items := make([]fiber.Map, 0, len(accounts))
	for i := range accounts {
		items = append(items, bankAccountJSON(&accounts[i]))
	}
	return c.JSON(fiber.Map{"bank_accounts": items})
}

// HandleDeleteBankAccount deactivates a payout destination.
func HandleDeleteBankAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid bank account id")
	}

	repo := repository.GetGlobalFactory().GetBankAccountRepository()
	if err := repo.Deactivate(userCtx.UserID, uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Bank account not found")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to deactivate bank account")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func bankAccountJSON(a *models.BankAccount) fiber.Map {
	return fiber.Map{
		"id":            a.ID,
		"bank_name":     a.BankName,
		"account_last4": a.AccountLast4,
		"currency":      a.Currency,
		"is_active":     a.IsActive,
	}
}
