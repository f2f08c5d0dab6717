package repository

import (
	"github.com/stablofi/stablo/app/models"
	"gorm.io/gorm"
)

// auditRepository implements the AuditRepository interface
type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository instance
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

// Create appends one audit entry. Entries are never updated or deleted
// individually; only the retention trim removes whole oldest batches.
func (r *auditRepository) Create(entry *models.AuditEntry) error {
	return r.db.Create(entry).Error
}

// TrailByOperationRef returns the full trail for one operation in creation
// order (created_at, ties broken by insertion id).
func (r *auditRepository) TrailByOperationRef(ref string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := r.db.Where("operation_ref = ?", ref).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// Count returns the total number of audit entries
func (r *auditRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.AuditEntry{}).Count(&count).Error
	return count, err
}

// OldestBatch returns the oldest entries for retention trimming
func (r *auditRepository) OldestBatch(limit int) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := r.db.Order("id ASC").Limit(limit).Find(&entries).Error
	return entries, err
}

// DeleteByIDs removes trimmed entries after they were archived
func (r *auditRepository) DeleteByIDs(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Delete(&models.AuditEntry{}, ids).Error
}
