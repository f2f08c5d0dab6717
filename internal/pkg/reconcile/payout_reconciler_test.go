package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/internal/pkg/gateway"
	"github.com/stablofi/stablo/internal/pkg/statemachine"
)

func inFlightPayout(id uint, ref, gatewayRef, status string, age time.Duration) *models.PayoutOperation {
	op := &models.PayoutOperation{
		ID:            id,
		Reference:     ref,
		UserID:        1,
		BankAccountID: 1,
		UsdcAmount:    100,
		FiatAmount:    99.98,
		ExchangeRate:  0.9998,
		FeePercent:    1.5,
		ConversionFee: 1.50,
		FlatFee:       1.00,
		TotalFees:     2.50,
		NetAmount:     97.48,
		Status:        status,
		InitiatedAt:   time.Now().Add(-age),
	}
	if gatewayRef != "" {
		op.GatewayRef = strPtr(gatewayRef)
	}
	return op
}

func TestPayoutReconcilerMovesPendingToProcessing(t *testing.T) {
	repo := newFakePayoutRepo()
	repo.add(inFlightPayout(1, "ref-1", "gw-1", statemachine.PayoutStatusPending, time.Minute))

	provider := &fakeGatewayProvider{statuses: map[string]*gateway.PayoutStatus{
		"gw-1": {Status: gateway.ExternalStatusProcessing},
	}}
	recorder, _ := newTestRecorder()
	notifier := &fakeNotifier{}

	r := NewPayoutReconciler(repo, provider, recorder, notifier, testConfig())
	require.NoError(t, r.RunCycle(context.Background()))

	stored := repo.get(1)
	assert.Equal(t, statemachine.PayoutStatusProcessing, stored.Status)
	// processing is not terminal, no webhook fires
	assert.Empty(t, notifier.callsFor("ref-1"))
}

func TestPayoutReconcilerCompletes(t *testing.T) {
	repo := newFakePayoutRepo()
	repo.add(inFlightPayout(1, "ref-1", "gw-1", statemachine.PayoutStatusProcessing, time.Minute))

	provider := &fakeGatewayProvider{statuses: map[string]*gateway.PayoutStatus{
		"gw-1": {Status: gateway.ExternalStatusCompleted},
	}}
	recorder, auditRepo := newTestRecorder()
	notifier := &fakeNotifier{}

	r := NewPayoutReconciler(repo, provider, recorder, notifier, testConfig())
	require.NoError(t, r.RunCycle(context.Background()))

	stored := repo.get(1)
	assert.Equal(t, statemachine.PayoutStatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	calls := notifier.callsFor("ref-1")
	require.Len(t, calls, 1)
	assert.Equal(t, models.EventPayoutCompleted, calls[0].Event)
	assert.Equal(t, 97.48, calls[0].Snap.Fields["net_amount"])

	trail, _ := auditRepo.TrailByOperationRef("ref-1")
	require.Len(t, trail, 1)
	assert.Equal(t, statemachine.PayoutStatusProcessing, trail[0].PreviousValue)
	assert.Equal(t, statemachine.PayoutStatusCompleted, trail[0].NewValue)
}

func TestPayoutReconcilerFailsWithGatewayReason(t *testing.T) {
	repo := newFakePayoutRepo()
	repo.add(inFlightPayout(1, "ref-1", "gw-1", statemachine.PayoutStatusProcessing, time.Minute))

	provider := &fakeGatewayProvider{statuses: map[string]*gateway.PayoutStatus{
		"gw-1": {Status: gateway.ExternalStatusFailed, FailureReason: "account closed"},
	}}
	recorder, _ := newTestRecorder()
	notifier := &fakeNotifier{}

	r := NewPayoutReconciler(repo, provider, recorder, notifier, testConfig())
	require.NoError(t, r.RunCycle(context.Background()))

	stored := repo.get(1)
	assert.Equal(t, statemachine.PayoutStatusFailed, stored.Status)
	assert.Equal(t, "account closed", stored.FailureReason)

	calls := notifier.callsFor("ref-1")
	require.Len(t, calls, 1)
	assert.Equal(t, models.EventPayoutFailed, calls[0].Event)
}

func TestPayoutReconcilerPendingExternalStatusIsNoop(t *testing.T) {
	repo := newFakePayoutRepo()
	repo.add(inFlightPayout(1, "ref-1", "gw-1", statemachine.PayoutStatusPending, time.Minute))

	provider := &fakeGatewayProvider{statuses: map[string]*gateway.PayoutStatus{
		"gw-1": {Status: gateway.ExternalStatusPending},
	}}
	recorder, _ := newTestRecorder()
	notifier := &fakeNotifier{}

	r := NewPayoutReconciler(repo, provider, recorder, notifier, testConfig())
	require.NoError(t, r.RunCycle(context.Background()))

	assert.Equal(t, statemachine.PayoutStatusPending, repo.get(1).Status)
	assert.Empty(t, notifier.callsFor("ref-1"))
}

func TestPayoutReconcilerLeavesNotFoundUntouched(t *testing.T) {
	repo := newFakePayoutRepo()
	repo.add(inFlightPayout(1, "ref-1", "gw-unknown", statemachine.PayoutStatusPending, time.Minute))

	provider := &fakeGatewayProvider{}
	recorder, _ := newTestRecorder()
	notifier := &fakeNotifier{}

	r := NewPayoutReconciler(repo, provider, recorder, notifier, testConfig())
	require.NoError(t, r.RunCycle(context.Background()))

	assert.Equal(t, statemachine.PayoutStatusPending, repo.get(1).Status)
	assert.Empty(t, notifier.callsFor("ref-1"))
}

func TestPayoutReconcilerSkipsTransientErrors(t *testing.T) {
	repo := newFakePayoutRepo()
	repo.add(inFlightPayout(1, "ref-1", "gw-1", statemachine.PayoutStatusPending, time.Minute))

	provider := &fakeGatewayProvider{errs: map[string]error{
		"gw-1": errors.New("gateway 503"),
	}}
	recorder, _ := newTestRecorder()
	notifier := &fakeNotifier{}

	r := NewPayoutReconciler(repo, provider, recorder, notifier, testConfig())
	require.NoError(t, r.RunCycle(context.Background()))

	assert.Equal(t, statemachine.PayoutStatusPending, repo.get(1).Status)
	assert.Empty(t, notifier.callsFor("ref-1"))
}

func TestPayoutReconcilerForcesFailureAtAgeCeiling(t *testing.T) {
	repo := newFakePayoutRepo()
	repo.add(inFlightPayout(1, "ref-old", "gw-1", statemachine.PayoutStatusProcessing, 2*time.Hour))

	provider := &fakeGatewayProvider{statuses: map[string]*gateway.PayoutStatus{
		"gw-1": {Status: gateway.ExternalStatusCompleted},
	}}
	recorder, auditRepo := newTestRecorder()
	notifier := &fakeNotifier{}

	r := NewPayoutReconciler(repo, provider, recorder, notifier, testConfig())
	require.NoError(t, r.RunCycle(context.Background()))

	stored := repo.get(1)
	assert.Equal(t, statemachine.PayoutStatusFailed, stored.Status)
	assert.Equal(t, ForcedFailureReason, stored.FailureReason)

	calls := notifier.callsFor("ref-old")
	require.Len(t, calls, 1)
	assert.Equal(t, models.EventPayoutFailed, calls[0].Event)

	trail, _ := auditRepo.TrailByOperationRef("ref-old")
	require.Len(t, trail, 2)
	assert.Equal(t, models.AuditEventForcedFailure, trail[0].EventType)
}

func TestPayoutReconcilerWithoutGatewayRefWaitsForAgeCeiling(t *testing.T) {
	repo := newFakePayoutRepo()
	repo.add(inFlightPayout(1, "ref-1", "", statemachine.PayoutStatusPending, time.Minute))

	provider := &fakeGatewayProvider{}
	recorder, _ := newTestRecorder()
	notifier := &fakeNotifier{}

	r := NewPayoutReconciler(repo, provider, recorder, notifier, testConfig())
	require.NoError(t, r.RunCycle(context.Background()))

	assert.Equal(t, statemachine.PayoutStatusPending, repo.get(1).Status)
}
