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
	"github.com/stablofi/stablo/internal/pkg/chain"
	metrics "github.com/stablofi/stablo/internal/pkg/metrics/counter"
	"github.com/stablofi/stablo/internal/pkg/statemachine"
	"github.com/stablofi/stablo/internal/pkg/webhook"
)

// TransferReconciler brings stored transfer statuses into agreement with
// the bundler, the external authority for on-chain execution.
type TransferReconciler struct {
	repo     repository.TransferRepository
	provider chain.StatusProvider
	recorder *audit.Recorder
	notifier Notifier
	cfg      Config
}

// NewTransferReconciler wires the transfer loop dependencies.
func NewTransferReconciler(repo repository.TransferRepository, provider chain.StatusProvider, recorder *audit.Recorder, notifier Notifier, cfg Config) *TransferReconciler {
	return &TransferReconciler{
		repo:     repo,
		provider: provider,
		recorder: recorder,
		notifier: notifier,
		cfg:      cfg,
	}
}

func (r *TransferReconciler) Name() string { return "transfer" }

func (r *TransferReconciler) Interval() time.Duration { return r.cfg.TransferInterval }

// RunCycle processes one page of in-flight transfers, oldest first.
// Per-record failures are counted and skipped; only an error before the
// batch starts aborts the cycle.
func (r *TransferReconciler) RunCycle(ctx context.Context) error {
	ops, err := r.repo.ListInFlight(r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list in-flight transfers: %w", err)
	}

	// Non-status enrichment (tx hash, block number) is collected here
	// and written once at cycle end to bound write amplification.
	var dirty []*models.TransferOperation

	for i := range ops {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		op := &ops[i]
		if r.reconcileOne(ctx, op) {
			dirty = append(dirty, op)
		}
	}

	if err := r.repo.SaveBatch(dirty); err != nil {
		log.Errorf("[Reconcile] Transfer batch save failed: %v", err)
	}
	_ = metrics.AddCycle(r.Name())
	return nil
}

// reconcileOne handles a single transfer and reports whether the record
// picked up non-status changes that still need the cycle-end batch write.
func (r *TransferReconciler) reconcileOne(ctx context.Context, op *models.TransferOperation) bool {
	// The age ceiling is the one case where the scheduler, not an
	// external confirmation, decides the outcome.
	if time.Since(op.CreatedAt) > r.cfg.MaxOperationAge {
		r.forceFail(ctx, op)
		return false
	}

	if op.ExternalRef == nil || *op.ExternalRef == "" {
		// Never submitted; nothing to ask the bundler about. The age
		// ceiling eventually cleans these up.
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.AdapterTimeout)
	status, err := r.provider.GetOperationStatus(callCtx, *op.ExternalRef)
	cancel()
	if err != nil {
		if errors.Is(err, chain.ErrOperationNotFound) {
			// The bundler may not have indexed the operation yet; leave
			// the status untouched and rely on the age ceiling.
			log.Debugf("[Reconcile] Transfer %s not found on bundler yet", op.Reference)
			return false
		}
		_ = metrics.AddTransientError(r.Name())
		log.Warnf("[Reconcile] Transfer %s status lookup failed: %v", op.Reference, err)
		return false
	}

	next, reason := mapTransferStatus(status)

	// Enrichment arrives with SUBMITTED responses before any transition.
	changed := false
	if status.TransactionHash != "" && op.TxHash == "" {
		op.TxHash = status.TransactionHash
		changed = true
	}
	if status.BlockNumber != nil && op.BlockNumber == nil {
		op.BlockNumber = status.BlockNumber
		changed = true
	}

	if next == "" || statemachine.IsNoop(op.Status, next) {
		return changed
	}

	r.applyTransition(ctx, op, next, reason)
	return false
}

// forceFail applies the age-ceiling failure. It persists immediately so
// the record is not re-evaluated next cycle.
func (r *TransferReconciler) forceFail(ctx context.Context, op *models.TransferOperation) {
	current := op.Status
	if err := op.ApplyStatus(statemachine.TransferStatusFailed, ForcedFailureReason); err != nil {
		log.Errorf("[Reconcile] Forced failure rejected for transfer %s: %v", op.Reference, err)
		return
	}
	if err := r.repo.TransitionStatus(op, current); err != nil {
		log.Errorf("[Reconcile] Forced failure write failed for transfer %s: %v", op.Reference, err)
		return
	}
	_ = metrics.AddForcedFailure(r.Name())
	if err := r.recorder.RecordEvent(op.Reference, models.AuditEventForcedFailure, current, op.Status, models.AuditActorSystem, map[string]interface{}{
		"reason": ForcedFailureReason,
	}); err != nil {
		log.Errorf("[Reconcile] Audit record failed for transfer %s: %v", op.Reference, err)
	}
	r.afterTransition(ctx, op, current)
}

// applyTransition validates, applies and persists one status change with
// a compare-validate-write guard, then fires the terminal side effects.
func (r *TransferReconciler) applyTransition(ctx context.Context, op *models.TransferOperation, next, reason string) {
	current := op.Status
	if err := op.ApplyStatus(next, reason); err != nil {
		// Illegal move: log and skip, never force-apply.
		log.Errorf("[Reconcile] Invalid transition for transfer %s: %v", op.Reference, err)
		return
	}
	if err := r.repo.TransitionStatus(op, current); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			log.Warnf("[Reconcile] Transfer %s changed concurrently, skipping", op.Reference)
			return
		}
		log.Errorf("[Reconcile] Transfer %s status write failed: %v", op.Reference, err)
		return
	}
	_ = metrics.AddTransition(r.Name())
	r.afterTransition(ctx, op, current)
}

// afterTransition records the audit entry and, for terminal landings,
// hands the event to the webhook dispatcher, fire-and-continue.
func (r *TransferReconciler) afterTransition(ctx context.Context, op *models.TransferOperation, previous string) {
	if err := r.recorder.RecordStatusChange(op.Reference, previous, op.Status, models.AuditActorSystem, map[string]interface{}{
		"tx_hash": op.TxHash,
	}); err != nil {
		log.Errorf("[Reconcile] Audit record failed for transfer %s: %v", op.Reference, err)
	}

	if !op.IsTerminal() {
		return
	}

	event := models.EventTransactionConfirmed
	if op.Status == statemachine.TransferStatusFailed {
		event = models.EventTransactionFailed
	}
	r.notifier.Notify(ctx, op.UserID, event, TransferSnapshot(op))
}

// mapTransferStatus translates the bundler vocabulary onto the internal
// state machine. An empty next status means "nothing to apply".
func mapTransferStatus(status *chain.OperationStatus) (next, reason string) {
	switch status.Status {
	case chain.ExternalStatusSubmitted:
		return "", ""
	case chain.ExternalStatusConfirmed:
		return statemachine.TransferStatusConfirmed, ""
	case chain.ExternalStatusFailed:
		reason = status.FailureReason
		if reason == "" {
			reason = "execution failed on chain"
		}
		return statemachine.TransferStatusFailed, reason
	case chain.ExternalStatusCancelled:
		return statemachine.TransferStatusFailed, "cancelled by bundler"
	default:
		return "", ""
	}
}

// TransferSnapshot builds the public webhook view of a transfer.
func TransferSnapshot(op *models.TransferOperation) webhook.OperationSnapshot {
	fields := map[string]interface{}{
		"from_address": op.FromAddress,
		"to_address":   op.ToAddress,
		"amount":       op.Amount,
		"token_symbol": op.TokenSymbol,
		"created_at":   op.CreatedAt.UTC().Format(time.RFC3339),
	}
	if op.TxHash != "" {
		fields["tx_hash"] = op.TxHash
	}
	if op.FailureReason != "" {
		fields["failure_reason"] = op.FailureReason
	}
	if op.ConfirmedAt != nil {
		fields["confirmed_at"] = op.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	return webhook.OperationSnapshot{
		Reference: op.Reference,
		Kind:      string(statemachine.KindTransfer),
		Status:    op.Status,
		Fields:    fields,
	}
}
