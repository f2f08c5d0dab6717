package repository

import (
	"github.com/stablofi/stablo/app/models"
	"gorm.io/gorm"
)

// bankAccountRepository implements the BankAccountRepository interface
type bankAccountRepository struct {
	db *gorm.DB
}

// NewBankAccountRepository creates a new bank account repository instance
func NewBankAccountRepository(db *gorm.DB) BankAccountRepository {
	return &bankAccountRepository{db: db}
}

// Create creates a new bank account
func (r *bankAccountRepository) Create(account *models.BankAccount) error {
	return r.db.Create(account).Error
}

// GetForUser loads an active account and verifies ownership
func (r *bankAccountRepository) GetForUser(userID, accountID uint) (*models.BankAccount, error) {
	return models.FindBankAccountForUser(r.db, userID, accountID)
}

// ListByUser returns all active accounts for a user
func (r *bankAccountRepository) ListByUser(userID uint) ([]models.BankAccount, error) {
	var accounts []models.BankAccount
	err := r.db.Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		Find(&accounts).Error
	return accounts, err
}

// Deactivate soft-disables an account after verifying ownership
func (r *bankAccountRepository) Deactivate(userID, accountID uint) error {
	result := r.db.Model(&models.BankAccount{}).
		Where("id = ? AND user_id = ?", accountID, userID).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
