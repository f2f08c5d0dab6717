package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// BankAccount holds a user's payout destination. The full account details
// are stored encrypted by the secrets layer; only masked digits are kept
// in plaintext for display.
type BankAccount struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	UserID         uint           `gorm:"index;not null" json:"user_id"`
	User           User           `gorm:"foreignKey:UserID" json:"-"`
	BankName       string         `gorm:"type:varchar(120);not null" json:"bank_name" validate:"required,min=2,max=120"`
	AccountLast4   string         `gorm:"type:varchar(4);not null" json:"account_last4" validate:"required,len=4,numeric"`
	DetailsEnc     string         `gorm:"type:text;not null" json:"-"`
	Currency       string         `gorm:"type:varchar(3);default:'USD'" json:"currency" validate:"oneof=USD EUR GBP"`
	IsActive       bool           `gorm:"default:true;index" json:"is_active"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (b *BankAccount) Validate() error {
	v := validator.New()
	return v.Struct(b)
}

// FindBankAccountForUser loads an active account and verifies ownership.
func FindBankAccountForUser(db *gorm.DB, userID, accountID uint) (*BankAccount, error) {
	var account BankAccount
	err := db.Where("id = ? AND user_id = ? AND is_active = ?", accountID, userID, true).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}
