package payout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/app/repository"
	"github.com/stablofi/stablo/internal/pkg/audit"
	"github.com/stablofi/stablo/internal/pkg/exchange"
	"github.com/stablofi/stablo/internal/pkg/gateway"
	"github.com/stablofi/stablo/internal/pkg/statemachine"
	"github.com/stablofi/stablo/internal/pkg/webhook"
)

type fakeRateProvider struct {
	rate float64
	err  error
}

func (f *fakeRateProvider) GetCurrentRate(ctx context.Context) (*exchange.Rate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &exchange.Rate{Rate: f.rate, ValidForSeconds: 30}, nil
}

type fakeGateway struct {
	mu      sync.Mutex
	err     error
	submits int
}

func (f *fakeGateway) SubmitPayout(ctx context.Context, bankAccountEnc string, netAmount float64, currency, reference string) (*gateway.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.SubmitResult{GatewayRef: "gw-" + reference}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(ctx context.Context, userID uint, event string, snap webhook.OperationSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

type fakeBankAccountRepo struct {
	accounts map[uint]*models.BankAccount
}

func (f *fakeBankAccountRepo) Create(account *models.BankAccount) error { return nil }

func (f *fakeBankAccountRepo) GetForUser(userID, accountID uint) (*models.BankAccount, error) {
	account, ok := f.accounts[accountID]
	if !ok || account.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return account, nil
}

func (f *fakeBankAccountRepo) ListByUser(userID uint) ([]models.BankAccount, error) { return nil, nil }

func (f *fakeBankAccountRepo) Deactivate(userID, accountID uint) error { return nil }

type fakePayoutRepo struct {
	mu     sync.Mutex
	ops    map[uint]*models.PayoutOperation
	nextID uint

	// staleTo, when set, makes the next TransitionStatus lose the
	// guarded write, flipping the stored record to this status first.
	staleTo string
}

func newFakePayoutRepo() *fakePayoutRepo {
	return &fakePayoutRepo{ops: make(map[uint]*models.PayoutOperation), nextID: 1}
}

func (f *fakePayoutRepo) Create(op *models.PayoutOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := op.BeforeCreate(nil); err != nil {
		return err
	}
	op.ID = f.nextID
	f.nextID++
	clone := *op
	f.ops[op.ID] = &clone
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
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PayoutOperation
	for _, op := range f.ops {
		if op.UserID == userID {
			out = append(out, *op)
		}
	}
	return out, nil
}

func (f *fakePayoutRepo) ListInFlight(limit int) ([]models.PayoutOperation, error) { return nil, nil }

func (f *fakePayoutRepo) SetGatewayRef(id uint, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.ops[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if op.GatewayRef == nil {
		op.GatewayRef = &ref
	}
	return nil
}

func (f *fakePayoutRepo) TransitionStatus(op *models.PayoutOperation, current string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.ops[op.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if f.staleTo != "" {
		stored.Status = f.staleTo
		f.staleTo = ""
		return repository.ErrStaleStatus
	}
	if stored.Status != current {
		return repository.ErrStaleStatus
	}
	clone := *op
	f.ops[op.ID] = &clone
	return nil
}

func (f *fakePayoutRepo) SaveBatch(ops []*models.PayoutOperation) error { return nil }

// forceStatus rewrites the stored record, bypassing transition checks.
// Used to simulate the reconcile loop winning a race.
func (f *fakePayoutRepo) forceStatus(id uint, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops[id].Status = status
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (f *fakeAuditRepo) Create(entry *models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = uint(len(f.entries) + 1)
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

func (f *fakeAuditRepo) Count() (int64, error) { return int64(len(f.entries)), nil }

func (f *fakeAuditRepo) OldestBatch(limit int) ([]models.AuditEntry, error) { return nil, nil }

func (f *fakeAuditRepo) DeleteByIDs(ids []uint) error { return nil }

type serviceFixture struct {
	service  *Service
	payouts  *fakePayoutRepo
	accounts *fakeBankAccountRepo
	gw       *fakeGateway
	notifier *fakeNotifier
	auditLog *fakeAuditRepo
}

func newServiceFixture(rate float64) *serviceFixture {
	payouts := newFakePayoutRepo()
	accounts := &fakeBankAccountRepo{accounts: map[uint]*models.BankAccount{
		10: {ID: 10, UserID: 1, DetailsEnc: "enc-blob", Currency: "USD", IsActive: true},
	}}
	gw := &fakeGateway{}
	notifier := &fakeNotifier{}
	auditLog := &fakeAuditRepo{}

	repos := &repository.Repositories{
		BankAccount: accounts,
		Payout:      payouts,
		Audit:       auditLog,
	}
	svc := NewService(repos, &fakeRateProvider{rate: rate}, gw, audit.NewRecorder(auditLog, nil, 0), notifier)
	return &serviceFixture{service: svc, payouts: payouts, accounts: accounts, gw: gw, notifier: notifier, auditLog: auditLog}
}

func TestInitiateRejectsNonPositiveAmount(t *testing.T) {
	fx := newServiceFixture(0.9998)

	_, err := fx.service.Initiate(context.Background(), 1, 10, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = fx.service.Initiate(context.Background(), 1, 10, -5)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestInitiateRejectsForeignBankAccount(t *testing.T) {
	fx := newServiceFixture(0.9998)

	// account 10 belongs to user 1
	_, err := fx.service.Initiate(context.Background(), 2, 10, 100)
	assert.ErrorIs(t, err, ErrBankAccountNotFound)

	_, err = fx.service.Initiate(context.Background(), 1, 99, 100)
	assert.ErrorIs(t, err, ErrBankAccountNotFound)
}

func TestInitiateFailsWhenRateUnavailable(t *testing.T) {
	fx := newServiceFixture(0.9998)
	fx.service.rates = &fakeRateProvider{err: errors.New("upstream 503")}

	_, err := fx.service.Initiate(context.Background(), 1, 10, 100)
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestInitiateSnapshotsFees(t *testing.T) {
	fx := newServiceFixture(0.9998)

	op, err := fx.service.Initiate(context.Background(), 1, 10, 100)
	require.NoError(t, err)

	assert.Equal(t, 100.0, op.UsdcAmount)
	assert.Equal(t, 99.98, op.FiatAmount)
	assert.Equal(t, 0.9998, op.ExchangeRate)
	assert.Equal(t, 1.5, op.FeePercent)
	assert.Equal(t, 1.50, op.ConversionFee)
	assert.Equal(t, 1.00, op.FlatFee)
	assert.Equal(t, 2.50, op.TotalFees)
	assert.Equal(t, 97.48, op.NetAmount)
	assert.Equal(t, statemachine.PayoutStatusPending, op.Status)
	assert.NotEmpty(t, op.Reference)

	require.NotNil(t, op.GatewayRef)
	assert.Equal(t, "gw-"+op.Reference, *op.GatewayRef)

	trail, _ := fx.auditLog.TrailByOperationRef(op.Reference)
	require.Len(t, trail, 2)
	assert.Equal(t, models.AuditEventOperationCreated, trail[0].EventType)
	assert.Equal(t, "user:1", trail[0].Actor)
	assert.Equal(t, models.AuditEventExternalRefSet, trail[1].EventType)
}

func TestInitiateSurvivesGatewayOutage(t *testing.T) {
	fx := newServiceFixture(0.9998)
	fx.gw.err = errors.New("gateway down")

	op, err := fx.service.Initiate(context.Background(), 1, 10, 100)
	require.NoError(t, err)

	assert.Equal(t, statemachine.PayoutStatusPending, op.Status)
	assert.Nil(t, op.GatewayRef)

	stored, err := fx.payouts.GetByReference(op.Reference)
	require.NoError(t, err)
	assert.Nil(t, stored.GatewayRef)
}

func TestGetEnforcesOwnership(t *testing.T) {
	fx := newServiceFixture(0.9998)

	op, err := fx.service.Initiate(context.Background(), 1, 10, 100)
	require.NoError(t, err)

	_, err = fx.service.Get(2, op.Reference)
	assert.ErrorIs(t, err, ErrPayoutNotFound)

	got, err := fx.service.Get(1, op.Reference)
	require.NoError(t, err)
	assert.Equal(t, op.Reference, got.Reference)
}

func TestCancelPendingPayout(t *testing.T) {
	fx := newServiceFixture(0.9998)

	op, err := fx.service.Initiate(context.Background(), 1, 10, 100)
	require.NoError(t, err)

	cancelled, err := fx.service.Cancel(context.Background(), 1, op.Reference)
	require.NoError(t, err)
	assert.Equal(t, statemachine.PayoutStatusCancelled, cancelled.Status)

	stored, _ := fx.payouts.GetByReference(op.Reference)
	assert.Equal(t, statemachine.PayoutStatusCancelled, stored.Status)

	assert.Contains(t, fx.notifier.events, models.EventPayoutCancelled)
}

func TestCancelRejectsProcessingPayout(t *testing.T) {
	fx := newServiceFixture(0.9998)

	op, err := fx.service.Initiate(context.Background(), 1, 10, 100)
	require.NoError(t, err)
	fx.payouts.forceStatus(op.ID, statemachine.PayoutStatusProcessing)

	_, err = fx.service.Cancel(context.Background(), 1, op.Reference)
	var terr *statemachine.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)
}

func TestCancelLosingRaceReportsInvalidTransition(t *testing.T) {
	fx := newServiceFixture(0.9998)

	op, err := fx.service.Initiate(context.Background(), 1, 10, 100)
	require.NoError(t, err)

	// The reconcile loop moves the record to processing between the
	// service's read and its guarded write.
	fx.payouts.staleTo = statemachine.PayoutStatusProcessing

	_, err = fx.service.Cancel(context.Background(), 1, op.Reference)
	require.Error(t, err)
	assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)

	stored, _ := fx.payouts.GetByReference(op.Reference)
	assert.Equal(t, statemachine.PayoutStatusProcessing, stored.Status)
}
