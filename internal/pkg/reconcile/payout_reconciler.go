package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/app/repository"
	"github.com/stablofi/stablo/internal/pkg/audit"
	"github.com/stablofi/stablo/internal/pkg/gateway"
	metrics "github.com/stablofi/stablo/internal/pkg/metrics/counter"
	"github.com/stablofi/stablo/internal/pkg/statemachine"
	"github.com/stablofi/stablo/internal/pkg/webhook"
)

// PayoutReconciler brings stored payout statuses into agreement with the
// fiat gateway, the external authority for payout execution.
type PayoutReconciler struct {
	repo     repository.PayoutRepository
	provider gateway.StatusProvider
	recorder *audit.Recorder
	notifier Notifier
	cfg      Config
}

// NewPayoutReconciler wires the payout loop dependencies.
func NewPayoutReconciler(repo repository.PayoutRepository, provider gateway.StatusProvider, recorder *audit.Recorder, notifier Notifier, cfg Config) *PayoutReconciler {
	return &PayoutReconciler{
		repo:     repo,
		provider: provider,
		recorder: recorder,
		notifier: notifier,
		cfg:      cfg,
	}
}

func (r *PayoutReconciler) Name() string { return "payout" }

func (r *PayoutReconciler) Interval() time.Duration { return r.cfg.PayoutInterval }

// RunCycle processes one page of in-flight payouts, oldest first.
func (r *PayoutReconciler) RunCycle(ctx context.Context) error {
	ops, err := r.repo.ListInFlight(r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list in-flight payouts: %w", err)
	}

	for i := range ops {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		r.reconcileOne(ctx, &ops[i])
	}

	_ = metrics.AddCycle(r.Name())
	return nil
}

func (r *PayoutReconciler) reconcileOne(ctx context.Context, op *models.PayoutOperation) {
	if time.Since(op.InitiatedAt) > r.cfg.MaxOperationAge {
		r.forceFail(ctx, op)
		return
	}

	if op.GatewayRef == nil || *op.GatewayRef == "" {
		// Not yet handed to the gateway; the age ceiling covers strays.
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.AdapterTimeout)
	status, err := r.provider.GetPayoutStatus(callCtx, *op.GatewayRef)
	cancel()
	if err != nil {
		if errors.Is(err, gateway.ErrPayoutNotFound) {
			log.Debugf("[Reconcile] Payout %s not found on gateway yet", op.Reference)
			return
		}
		_ = metrics.AddTransientError(r.Name())
		log.Warnf("[Reconcile] Payout %s status lookup failed: %v", op.Reference, err)
		return
	}

	next, reason := mapPayoutStatus(status)
	if next == "" || statemachine.IsNoop(op.Status, next) {
		return
	}

	r.applyTransition(ctx, op, next, reason)
}

// forceFail applies the age-ceiling failure and persists immediately so
// the record is not re-evaluated next cycle.
func (r *PayoutReconciler) forceFail(ctx context.Context, op *models.PayoutOperation) {
	current := op.Status
	if err := op.ApplyStatus(statemachine.PayoutStatusFailed, ForcedFailureReason); err != nil {
		log.Errorf("[Reconcile] Forced failure rejected for payout %s: %v", op.Reference, err)
		return
	}
	if err := r.repo.TransitionStatus(op, current); err != nil {
		log.Errorf("[Reconcile] Forced failure write failed for payout %s: %v", op.Reference, err)
		return
	}
	_ = metrics.AddForcedFailure(r.Name())
	if err := r.recorder.RecordEvent(op.Reference, models.AuditEventForcedFailure, current, op.Status, models.AuditActorSystem, map[string]interface{}{
		"reason": ForcedFailureReason,
	}); err != nil {
		log.Errorf("[Reconcile] Audit record failed for payout %s: %v", op.Reference, err)
	}
	r.afterTransition(ctx, op, current)
}

func (r *PayoutReconciler) applyTransition(ctx context.Context, op *models.PayoutOperation, next, reason string) {
	current := op.Status
	if err := op.ApplyStatus(next, reason); err != nil {
		log.Errorf("[Reconcile] Invalid transition for payout %s: %v", op.Reference, err)
		return
	}
	if err := r.repo.TransitionStatus(op, current); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			log.Warnf("[Reconcile] Payout %s changed concurrently, skipping", op.Reference)
			return
		}
		log.Errorf("[Reconcile] Payout %s status write failed: %v", op.Reference, err)
		return
	}
	_ = metrics.AddTransition(r.Name())
	r.afterTransition(ctx, op, current)
}

func (r *PayoutReconciler) afterTransition(ctx context.Context, op *models.PayoutOperation, previous string) {
	if err := r.recorder.RecordStatusChange(op.Reference, previous, op.Status, models.AuditActorSystem, nil); err != nil {
		log.Errorf("[Reconcile] Audit record failed for payout %s: %v", op.Reference, err)
	}

	if !op.IsTerminal() {
		return
	}

	var event string
	switch op.Status {
	case statemachine.PayoutStatusCompleted:
		event = models.EventPayoutCompleted
	case statemachine.PayoutStatusFailed:
		event = models.EventPayoutFailed
	case statemachine.PayoutStatusCancelled:
		event = models.EventPayoutCancelled
	default:
		return
	}
	r.notifier.Notify(ctx, op.UserID, event, PayoutSnapshot(op))
}

// mapPayoutStatus translates the gateway vocabulary onto the internal
// state machine. An empty next status means "nothing to apply".
func mapPayoutStatus(status *gateway.PayoutStatus) (next, reason string) {
	switch status.Status {
	case gateway.ExternalStatusPending:
		return "", ""
	case gateway.ExternalStatusProcessing:
		return statemachine.PayoutStatusProcessing, ""
	case gateway.ExternalStatusCompleted:
		return statemachine.PayoutStatusCompleted, ""
	case gateway.ExternalStatusFailed:
		reason = status.FailureReason
		if reason == "" {
			reason = "payout failed at gateway"
		}
		return statemachine.PayoutStatusFailed, reason
	default:
		return "", ""
	}
}

// PayoutSnapshot builds the public webhook view of a payout.
func PayoutSnapshot(op *models.PayoutOperation) webhook.OperationSnapshot {
	fields := map[string]interface{}{
		"usdc_amount":   op.UsdcAmount,
		"fiat_amount":   op.FiatAmount,
		"exchange_rate": op.ExchangeRate,
		"total_fees":    op.TotalFees,
		"net_amount":    op.NetAmount,
		"initiated_at":  op.InitiatedAt.UTC().Format(time.RFC3339),
	}
	if op.FailureReason != "" {
		fields["failure_reason"] = op.FailureReason
	}
	if op.CompletedAt != nil {
		fields["completed_at"] = op.CompletedAt.UTC().Format(time.RFC3339)
	}
	return webhook.OperationSnapshot{
		Reference: op.Reference,
		Kind:      string(statemachine.KindPayout),
		Status:    op.Status,
		Fields:    fields,
	}
}
