package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablofi/stablo/app/models"
)

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []models.AuditEntry
	nextID  uint
}

func (f *fakeAuditRepo) Create(entry *models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	entry.ID = f.nextID
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAuditRepo) TrailByOperationRef(ref string) ([]models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range f.entries {
		if e.OperationRef == ref {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAuditRepo) Count() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.entries)), nil
}

func (f *fakeAuditRepo) OldestBatch(limit int) ([]models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.entries) {
		limit = len(f.entries)
	}
	out := make([]models.AuditEntry, limit)
	copy(out, f.entries[:limit])
	return out, nil
}

func (f *fakeAuditRepo) DeleteByIDs(ids []uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	drop := make(map[uint]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := f.entries[:0]
	for _, e := range f.entries {
		if !drop[e.ID] {
			kept = append(kept, e)
		}
	}
	f.entries = kept
	return nil
}

type fakeArchiver struct {
	mu       sync.Mutex
	batches  [][]models.AuditEntry
	failWith error
}

func (f *fakeArchiver) ArchiveBatch(ctx context.Context, entries []models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	batch := make([]models.AuditEntry, len(entries))
	copy(batch, entries)
	f.batches = append(f.batches, batch)
	return nil
}

func TestRecorderAppendsInOrder(t *testing.T) {
	repo := &fakeAuditRepo{}
	r := NewRecorder(repo, nil, 0)

	require.NoError(t, r.RecordEvent("op-1", models.AuditEventOperationCreated, "", "pending", "user:1", nil))
	require.NoError(t, r.RecordStatusChange("op-1", "pending", "confirmed", models.AuditActorSystem, nil))
	require.NoError(t, r.RecordStatusChange("op-2", "pending", "failed", models.AuditActorSystem, nil))

	trail, err := r.Trail("op-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, models.AuditEventOperationCreated, trail[0].EventType)
	assert.Equal(t, models.AuditEventStatusChanged, trail[1].EventType)
	assert.Equal(t, "pending", trail[1].PreviousValue)
	assert.Equal(t, "confirmed", trail[1].NewValue)
}

func TestRecorderDefaultsActorToSystem(t *testing.T) {
	repo := &fakeAuditRepo{}
	r := NewRecorder(repo, nil, 0)

	require.NoError(t, r.Record(&models.AuditEntry{
		OperationRef: "op-1",
		EventType:    models.AuditEventStatusChanged,
	}))

	trail, _ := r.Trail("op-1")
	require.Len(t, trail, 1)
	assert.Equal(t, models.AuditActorSystem, trail[0].Actor)
}

func TestRecorderTrimsOldestAfterArchive(t *testing.T) {
	repo := &fakeAuditRepo{}
	archiver := &fakeArchiver{}
	r := NewRecorder(repo, archiver, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.RecordStatusChange("op-1", "pending", "confirmed", models.AuditActorSystem, nil))
	}

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Everything trimmed went through the archiver first, oldest rows first.
	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	var archived []uint
	for _, batch := range archiver.batches {
		for _, e := range batch {
			archived = append(archived, e.ID)
		}
	}
	assert.Equal(t, []uint{1, 2}, archived)
}

func TestRecorderKeepsRowsWhenArchiveFails(t *testing.T) {
	repo := &fakeAuditRepo{}
	archiver := &fakeArchiver{failWith: errors.New("bucket unavailable")}
	r := NewRecorder(repo, archiver, 2)

	for i := 0; i < 4; i++ {
		require.NoError(t, r.RecordStatusChange("op-1", "pending", "confirmed", models.AuditActorSystem, nil))
	}

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestRecorderWithoutArchiverNeverTrims(t *testing.T) {
	repo := &fakeAuditRepo{}
	r := NewRecorder(repo, nil, 1)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.RecordStatusChange("op-1", "pending", "confirmed", models.AuditActorSystem, nil))
	}

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
