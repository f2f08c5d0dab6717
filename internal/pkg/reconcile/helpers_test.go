package reconcile

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/app/repository"
	"github.com/stablofi/stablo/internal/pkg/audit"
	"github.com/stablofi/stablo/internal/pkg/chain"
	"github.com/stablofi/stablo/internal/pkg/gateway"
	"github.com/stablofi/stablo/internal/pkg/statemachine"
	"github.com/stablofi/stablo/internal/pkg/webhook"
)

type notifyCall struct {
	UserID uint
	Event  string
	Snap   webhook.OperationSnapshot
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (f *fakeNotifier) Notify(ctx context.Context, userID uint, event string, snap webhook.OperationSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{UserID: userID, Event: event, Snap: snap})
}

func (f *fakeNotifier) callsFor(ref string) []notifyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notifyCall
	for _, c := range f.calls {
		if c.Snap.Reference == ref {
			out = append(out, c)
		}
	}
	return out
}

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

func (f *fakeAuditRepo) OldestBatch(limit int) ([]models.AuditEntry, error) { return nil, nil }

func (f *fakeAuditRepo) DeleteByIDs(ids []uint) error { return nil }

type fakeTransferRepo struct {
	mu  sync.Mutex
	ops map[uint]*models.TransferOperation
}

func newFakeTransferRepo() *fakeTransferRepo {
	return &fakeTransferRepo{ops: make(map[uint]*models.TransferOperation)}
}

func (f *fakeTransferRepo) add(op *models.TransferOperation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *op
	f.ops[op.ID] = &clone
}

func (f *fakeTransferRepo) get(id uint) models.TransferOperation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.ops[id]
}

func (f *fakeTransferRepo) Create(op *models.TransferOperation) error {
	f.add(op)
	return nil
}

func (f *fakeTransferRepo) GetByID(id uint) (*models.TransferOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.ops[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *op
	return &clone, nil
}

func (f *fakeTransferRepo) GetByReference(ref string) (*models.TransferOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range f.ops {
		if op.Reference == ref {
			clone := *op
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeTransferRepo) ListByUser(userID uint, offset, limit int) ([]models.TransferOperation, error) {
	return nil, nil
}

func (f *fakeTransferRepo) ListInFlight(limit int) ([]models.TransferOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TransferOperation
	for _, op := range f.ops {
		if op.Status == statemachine.TransferStatusPending {
			out = append(out, *op)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeTransferRepo) SetExternalRef(id uint, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op, ok := f.ops[id]; ok && op.ExternalRef == nil {
		op.ExternalRef = &ref
	}
	return nil
}

func (f *fakeTransferRepo) TransitionStatus(op *models.TransferOperation, current string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.ops[op.ID]
	if !ok || stored.Status != current {
		return repository.ErrStaleStatus
	}
	clone := *op
	f.ops[op.ID] = &clone
	return nil
}

func (f *fakeTransferRepo) SaveBatch(ops []*models.TransferOperation) error {
	for _, op := range ops {
		f.add(op)
	}
	return nil
}

type fakePayoutRepo struct {
	mu  sync.Mutex
	ops map[uint]*models.PayoutOperation
}

func newFakePayoutRepo() *fakePayoutRepo {
	return &fakePayoutRepo{ops: make(map[uint]*models.PayoutOperation)}
}

func (f *fakePayoutRepo) add(op *models.PayoutOperation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *op
	f.ops[op.ID] = &clone
}

func (f *fakePayoutRepo) get(id uint) models.PayoutOperation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.ops[id]
}

func (f *fakePayoutRepo) Create(op *models.PayoutOperation) error {
	f.add(op)
	return nil
}

func (f *fakePayoutRepo) GetByID(id uint) (*models.PayoutOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.ops[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *op
	return &clone, nil
}

func (f *fakePayoutRepo) GetByReference(ref string) (*models.PayoutOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range f.ops {
		if op.Reference == ref {
			clone := *op
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakePayoutRepo) ListByUser(userID uint, offset, limit int) ([]models.PayoutOperation, error) {
	return nil, nil
}

func (f *fakePayoutRepo) ListInFlight(limit int) ([]models.PayoutOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PayoutOperation
	for _, op := range f.ops {
		if op.Status == statemachine.PayoutStatusPending || op.Status == statemachine.PayoutStatusProcessing {
			out = append(out, *op)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakePayoutRepo) SetGatewayRef(id uint, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op, ok := f.ops[id]; ok && op.GatewayRef == nil {
		op.GatewayRef = &ref
	}
	return nil
}

func (f *fakePayoutRepo) TransitionStatus(op *models.PayoutOperation, current string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.ops[op.ID]
	if !ok || stored.Status != current {
		return repository.ErrStaleStatus
	}
	clone := *op
	f.ops[op.ID] = &clone
	return nil
}

func (f *fakePayoutRepo) SaveBatch(ops []*models.PayoutOperation) error {
	for _, op := range ops {
		f.add(op)
	}
	return nil
}

type fakeChainProvider struct {
	statuses map[string]*chain.OperationStatus
	errs     map[string]error
}

func (f *fakeChainProvider) GetOperationStatus(ctx context.Context, externalRef string) (*chain.OperationStatus, error) {
	if err, ok := f.errs[externalRef]; ok {
		return nil, err
	}
	if s, ok := f.statuses[externalRef]; ok {
		return s, nil
	}
	return nil, chain.ErrOperationNotFound
}

type fakeGatewayProvider struct {
	statuses map[string]*gateway.PayoutStatus
	errs     map[string]error
}

func (f *fakeGatewayProvider) GetPayoutStatus(ctx context.Context, gatewayRef string) (*gateway.PayoutStatus, error) {
	if err, ok := f.errs[gatewayRef]; ok {
		return nil, err
	}
	if s, ok := f.statuses[gatewayRef]; ok {
		return s, nil
	}
	return nil, gateway.ErrPayoutNotFound
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxOperationAge = time.Hour
	cfg.AdapterTimeout = time.Second
	return cfg
}

func newTestRecorder() (*audit.Recorder, *fakeAuditRepo) {
	repo := &fakeAuditRepo{}
	return audit.NewRecorder(repo, nil, 0), repo
}

func strPtr(s string) *string { return &s }
