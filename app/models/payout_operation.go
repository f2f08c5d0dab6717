package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stablofi/stablo/internal/pkg/statemachine"
)

// PayoutOperation tracks a cash-out from stablecoin balance to a bank
// account. Exchange rate and fee figures are snapshotted at initiation
// and never recomputed; the stored values are the audit record.
type PayoutOperation struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Reference     string     `gorm:"type:char(36) CHARACTER SET utf8 COLLATE utf8_bin;uniqueIndex;not null" json:"reference"`
	UserID        uint       `gorm:"index;not null" json:"user_id"`
	User          User       `gorm:"foreignKey:UserID" json:"-"`
	BankAccountID uint       `gorm:"index;not null" json:"bank_account_id"`
	UsdcAmount    float64    `gorm:"type:decimal(18,6);not null" json:"usdc_amount"`
	FiatAmount    float64    `gorm:"type:decimal(18,2);not null" json:"fiat_amount"`
	ExchangeRate  float64    `gorm:"type:decimal(18,8);not null" json:"exchange_rate"`
	FeePercent    float64    `gorm:"type:decimal(8,4);not null" json:"fee_percent"`
	ConversionFee float64    `gorm:"type:decimal(18,2);not null" json:"conversion_fee"`
	FlatFee       float64    `gorm:"type:decimal(18,2);not null" json:"flat_fee"`
	TotalFees     float64    `gorm:"type:decimal(18,2);not null" json:"total_fees"`
	NetAmount     float64    `gorm:"type:decimal(18,2);not null" json:"net_amount"`
	GatewayRef    *string    `gorm:"type:varchar(128);index" json:"gateway_ref,omitempty"`
	Status        string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	FailureReason string     `gorm:"type:text" json:"failure_reason,omitempty"`
	InitiatedAt   time.Time  `gorm:"autoCreateTime;index" json:"initiated_at"`
	CompletedAt   *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the operation reference.
func (p *PayoutOperation) BeforeCreate(tx *gorm.DB) error {
	if p.Reference == "" {
		p.Reference = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = statemachine.PayoutStatusPending
	}
	return nil
}

// Kind returns the state-machine kind for this operation.
func (p *PayoutOperation) Kind() statemachine.OperationKind {
	return statemachine.KindPayout
}

// IsTerminal reports whether the payout has reached a final status.
func (p *PayoutOperation) IsTerminal() bool {
	return statemachine.IsTerminal(statemachine.KindPayout, p.Status)
}

// SetGatewayRef assigns the fiat gateway reference, write-once.
func (p *PayoutOperation) SetGatewayRef(ref string) error {
	if p.GatewayRef != nil && *p.GatewayRef != "" {
		if *p.GatewayRef == ref {
			return nil
		}
		return ErrExternalRefAlreadySet
	}
	p.GatewayRef = &ref
	return nil
}

// ApplyStatus validates and applies a status change in memory.
// CompletedAt is stamped exactly once, on the first entry into completed.
func (p *PayoutOperation) ApplyStatus(next, reason string) error {
	if err := statemachine.Validate(statemachine.KindPayout, p.Status, next, reason); err != nil {
		return err
	}
	if statemachine.IsNoop(p.Status, next) {
		return nil
	}
	p.Status = next
	if next == statemachine.PayoutStatusFailed {
		p.FailureReason = reason
	}
	if next == statemachine.PayoutStatusCompleted && p.CompletedAt == nil {
		now := time.Now()
		p.CompletedAt = &now
	}
	return nil
}
