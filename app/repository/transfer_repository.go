package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/internal/pkg/statemachine"
)

// ErrStaleStatus is returned when a guarded status UPDATE misses because
// another writer changed the row between read and write.
var ErrStaleStatus = errors.New("stored status changed since read")

// transferRepository implements the TransferRepository interface
type transferRepository struct {
	db *gorm.DB
}

// NewTransferRepository creates a new transfer repository instance
func NewTransferRepository(db *gorm.DB) TransferRepository {
	return &transferRepository{db: db}
}

// Create creates a new transfer operation
func (r *transferRepository) Create(op *models.TransferOperation) error {
	return r.db.Create(op).Error
}

// GetByID retrieves a transfer operation by primary key
func (r *transferRepository) GetByID(id uint) (*models.TransferOperation, error) {
	var op models.TransferOperation
	if err := r.db.First(&op, id).Error; err != nil {
		return nil, err
	}
	return &op, nil
}

// GetByReference retrieves a transfer operation by its public reference
func (r *transferRepository) GetByReference(ref string) (*models.TransferOperation, error) {
	var op models.TransferOperation
	if err := r.db.Where("reference = ?", ref).First(&op).Error; err != nil {
		return nil, err
	}
	return &op, nil
}

// ListByUser returns a page of a user's transfers, newest first
func (r *transferRepository) ListByUser(userID uint, offset, limit int) ([]models.TransferOperation, error) {
	var ops []models.TransferOperation
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&ops).Error
	return ops, err
}

// ListInFlight returns a page of non-terminal transfers, oldest first,
// so records nearest the age ceiling are reconciled first.
func (r *transferRepository) ListInFlight(limit int) ([]models.TransferOperation, error) {
	var ops []models.TransferOperation
	err := r.db.Where("status = ?", statemachine.TransferStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&ops).Error
	return ops, err
}

// SetExternalRef assigns the bundler reference, write-once at the row level.
func (r *transferRepository) SetExternalRef(id uint, ref string) error {
	result := r.db.Model(&models.TransferOperation{}).
		Where("id = ? AND external_ref IS NULL", id).
		Update("external_ref", ref)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrExternalRefAlreadySet
	}
	return nil
}

// TransitionStatus writes the already-applied in-memory transition, guarded
// by the status the caller read.
func (r *transferRepository) TransitionStatus(op *models.TransferOperation, current string) error {
	updates := map[string]interface{}{
		"status":     op.Status,
		"updated_at": time.Now(),
	}
	if op.FailureReason != "" {
		updates["failure_reason"] = op.FailureReason
	}
	if op.ConfirmedAt != nil {
		updates["confirmed_at"] = op.ConfirmedAt
	}
	if op.TxHash != "" {
		updates["tx_hash"] = op.TxHash
	}
	if op.BlockNumber != nil {
		updates["block_number"] = op.BlockNumber
	}
	result := r.db.Model(&models.TransferOperation{}).
		Where("id = ? AND status = ?", op.ID, current).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// SaveBatch persists cycle-end touch-ups for operations that did not
// reach a terminal status this cycle.
func (r *transferRepository) SaveBatch(ops []*models.TransferOperation) error {
	if len(ops) == 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			if err := tx.Save(op).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
