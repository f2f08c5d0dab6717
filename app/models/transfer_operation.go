package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stablofi/stablo/internal/pkg/statemachine"
)

var ErrExternalRefAlreadySet = errors.New("external reference is already set")

// TransferOperation tracks an on-chain stablecoin transfer through its
// lifecycle. The external authority for its real-world status is the
// bundler; the reconcile loop brings the stored status into agreement.
type TransferOperation struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Reference     string     `gorm:"type:char(36) CHARACTER SET utf8 COLLATE utf8_bin;uniqueIndex;not null" json:"reference"`
	UserID        uint       `gorm:"index" json:"user_id"`
	User          User       `gorm:"foreignKey:UserID" json:"-"`
	FromAddress   string     `gorm:"type:varchar(64);not null" json:"from_address"`
	ToAddress     string     `gorm:"type:varchar(64);not null" json:"to_address"`
	Amount        string     `gorm:"type:decimal(30,6);not null" json:"amount"`
	TokenSymbol   string     `gorm:"type:varchar(16);not null;default:'USDC'" json:"token_symbol"`
	ExternalRef   *string    `gorm:"type:varchar(128);index" json:"external_ref,omitempty"`
	Status        string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	TxHash        string     `gorm:"type:varchar(80)" json:"tx_hash,omitempty"`
	BlockNumber   *uint64    `gorm:"type:bigint unsigned" json:"block_number,omitempty"`
	FailureReason string     `gorm:"type:text" json:"failure_reason,omitempty"`
	ConfirmedAt   *time.Time `gorm:"type:timestamp;default:null" json:"confirmed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the operation reference.
func (t *TransferOperation) BeforeCreate(tx *gorm.DB) error {
	if t.Reference == "" {
		t.Reference = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = statemachine.TransferStatusPending
	}
	return nil
}

// Kind returns the state-machine kind for this operation.
func (t *TransferOperation) Kind() statemachine.OperationKind {
	return statemachine.KindTransfer
}

// IsTerminal reports whether the transfer has reached a final status.
func (t *TransferOperation) IsTerminal() bool {
	return statemachine.IsTerminal(statemachine.KindTransfer, t.Status)
}

// SetExternalRef assigns the bundler reference. It may be set at most
// once and is never cleared.
func (t *TransferOperation) SetExternalRef(ref string) error {
	if t.ExternalRef != nil && *t.ExternalRef != "" {
		if *t.ExternalRef == ref {
			return nil
		}
		return ErrExternalRefAlreadySet
	}
	t.ExternalRef = &ref
	return nil
}

// ApplyStatus validates and applies a status change in memory.
// ConfirmedAt is stamped exactly once, on the first entry into confirmed.
func (t *TransferOperation) ApplyStatus(next, reason string) error {
	if err := statemachine.Validate(statemachine.KindTransfer, t.Status, next, reason); err != nil {
		return err
	}
	if statemachine.IsNoop(t.Status, next) {
		return nil
	}
	t.Status = next
	if next == statemachine.TransferStatusFailed {
		t.FailureReason = reason
	}
	if next == statemachine.TransferStatusConfirmed && t.ConfirmedAt == nil {
		now := time.Now()
		t.ConfirmedAt = &now
	}
	return nil
}
