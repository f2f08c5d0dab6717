package audit

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/app/repository"
)

// Archiver receives trimmed batches before they leave the hot table.
type Archiver interface {
	ArchiveBatch(ctx context.Context, entries []models.AuditEntry) error
}

// Recorder is the single writer of audit entries. Every component that
// needs an audit record calls into it; nothing else appends.
type Recorder struct {
	repo       repository.AuditRepository
	archiver   Archiver // nil disables archiving; trim is skipped entirely then
	maxEntries int      // 0 disables retention trimming
	trimMu     sync.Mutex
}

// NewRecorder creates a recorder with optional retention trimming.
func NewRecorder(repo repository.AuditRepository, archiver Archiver, maxEntries int) *Recorder {
	return &Recorder{
		repo:       repo,
		archiver:   archiver,
		maxEntries: maxEntries,
	}
}

// Record appends one entry. Append never fails because of retention;
// trimming runs afterwards and only logs its own errors.
func (r *Recorder) Record(entry *models.AuditEntry) error {
	if entry.Actor == "" {
		entry.Actor = models.AuditActorSystem
	}
	if err := r.repo.Create(entry); err != nil {
		return err
	}
	r.maybeTrim()
	return nil
}

// RecordStatusChange appends a status.changed entry.
func (r *Recorder) RecordStatusChange(operationRef, previous, next, actor string, metadata map[string]interface{}) error {
	entry := &models.AuditEntry{
		OperationRef:  operationRef,
		EventType:     models.AuditEventStatusChanged,
		PreviousValue: previous,
		NewValue:      next,
		Actor:         actor,
	}
	attachMetadata(entry, metadata)
	return r.Record(entry)
}

// RecordEvent appends an entry of the given type.
func (r *Recorder) RecordEvent(operationRef, eventType, previous, next, actor string, metadata map[string]interface{}) error {
	entry := &models.AuditEntry{
		OperationRef:  operationRef,
		EventType:     eventType,
		PreviousValue: previous,
		NewValue:      next,
		Actor:         actor,
	}
	attachMetadata(entry, metadata)
	return r.Record(entry)
}

// Trail returns all entries for one operation in creation order. The
// result is a snapshot taken in a single query, so a concurrent trim
// cannot remove rows from under the caller.
func (r *Recorder) Trail(operationRef string) ([]models.AuditEntry, error) {
	return r.repo.TrailByOperationRef(operationRef)
}

// maybeTrim enforces the bounded-retention policy: once the table grows
// past maxEntries, the oldest rows are archived and dropped, oldest
// first, never out of order.
func (r *Recorder) maybeTrim() {
	if r.maxEntries <= 0 || r.archiver == nil {
		return
	}

	r.trimMu.Lock()
	defer r.trimMu.Unlock()

	count, err := r.repo.Count()
	if err != nil {
		log.Errorf("[Audit] Retention count failed: %v", err)
		return
	}
	excess := count - int64(r.maxEntries)
	if excess <= 0 {
		return
	}

	batch, err := r.repo.OldestBatch(int(excess))
	if err != nil {
		log.Errorf("[Audit] Retention batch fetch failed: %v", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	if err := r.archiver.ArchiveBatch(context.Background(), batch); err != nil {
		// Without a successful archive the rows stay. Retried on the
		// next append.
		log.Errorf("[Audit] Archive of %d entries failed, keeping rows: %v", len(batch), err)
		return
	}

	ids := make([]uint, len(batch))
	for i, e := range batch {
		ids[i] = e.ID
	}
	if err := r.repo.DeleteByIDs(ids); err != nil {
		log.Errorf("[Audit] Retention delete failed: %v", err)
		return
	}
	log.Infof("[Audit] Trimmed %d audit entries after archiving", len(batch))
}

func attachMetadata(entry *models.AuditEntry, metadata map[string]interface{}) {
	if len(metadata) == 0 {
		return
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		log.Warnf("[Audit] Failed to marshal metadata for %s: %v", entry.OperationRef, err)
		return
	}
	j := models.JSON(data)
	entry.Metadata = &j
}
