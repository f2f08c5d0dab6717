package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/internal/pkg/statemachine"
)

// payoutRepository implements the PayoutRepository interface
type payoutRepository struct {
	db *gorm.DB
}

// NewPayoutRepository creates a new payout repository instance
func NewPayoutRepository(db *gorm.DB) PayoutRepository {
	return &payoutRepository{db: db}
}

// Create creates a new payout operation
func (r *payoutRepository) Create(op *models.PayoutOperation) error {
	return r.db.Create(op).Error
}

// GetByID retrieves a payout operation by primary key
func (r *payoutRepository) GetByID(id uint) (*models.PayoutOperation, error) {
	var op models.PayoutOperation
	if err := r.db.First(&op, id).Error; err != nil {
		return nil, err
	}
	return &op, nil
}

// GetByReference retrieves a payout operation by its public reference
func (r *payoutRepository) GetByReference(ref string) (*models.PayoutOperation, error) {
	var op models.PayoutOperation
	if err := r.db.Where("reference = ?", ref).First(&op).Error; err != nil {
		return nil, err
	}
	return &op, nil
}

// ListByUser returns a page of a user's payouts, newest first
func (r *payoutRepository) ListByUser(userID uint, offset, limit int) ([]models.PayoutOperation, error) {
	var ops []models.PayoutOperation
	err := r.db.Where("user_id = ?", userID).
		Order("initiated_at DESC").
		Offset(offset).Limit(limit).
		Find(&ops).Error
	return ops, err
}

// ListInFlight returns a page of non-terminal payouts, oldest first.
func (r *payoutRepository) ListInFlight(limit int) ([]models.PayoutOperation, error) {
	var ops []models.PayoutOperation
	err := r.db.Where("status IN ?", []string{
		statemachine.PayoutStatusPending,
		statemachine.PayoutStatusProcessing,
	}).
		Order("initiated_at ASC").
		Limit(limit).
		Find(&ops).Error
	return ops, err
}

// SetGatewayRef assigns the fiat gateway reference, write-once at the row level.
func (r *payoutRepository) SetGatewayRef(id uint, ref string) error {
	result := r.db.Model(&models.PayoutOperation{}).
		Where("id = ? AND gateway_ref IS NULL", id).
		Update("gateway_ref", ref)
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
func (r *payoutRepository) TransitionStatus(op *models.PayoutOperation, current string) error {
	updates := map[string]interface{}{
		"status":     op.Status,
		"updated_at": time.Now(),
	}
	if op.FailureReason != "" {
		updates["failure_reason"] = op.FailureReason
	}
	if op.CompletedAt != nil {
		updates["completed_at"] = op.CompletedAt
	}
	result := r.db.Model(&models.PayoutOperation{}).
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

// SaveBatch persists cycle-end touch-ups for non-terminal operations.
func (r *payoutRepository) SaveBatch(ops []*models.PayoutOperation) error {
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
