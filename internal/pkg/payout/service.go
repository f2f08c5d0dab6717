package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/app/repository"
	"github.com/stablofi/stablo/internal/pkg/audit"
	"github.com/stablofi/stablo/internal/pkg/exchange"
	"github.com/stablofi/stablo/internal/pkg/fees"
	"github.com/stablofi/stablo/internal/pkg/gateway"
	"github.com/stablofi/stablo/internal/pkg/reconcile"
	"github.com/stablofi/stablo/internal/pkg/statemachine"
)

var (
	// ErrInvalidAmount rejects initiation with a non-positive amount.
	ErrInvalidAmount = errors.New("payout amount must be positive")
	// ErrBankAccountNotFound covers both missing accounts and accounts
	// owned by someone else; callers cannot distinguish the two.
	ErrBankAccountNotFound = errors.New("bank account not found")
	// ErrPayoutsDisabled is returned while payouts are switched off.
	ErrPayoutsDisabled = errors.New("payouts are currently disabled")
	// ErrPayoutNotFound is returned for unknown or foreign references.
	ErrPayoutNotFound = errors.New("payout not found")
	// ErrRateUnavailable is returned when no exchange rate can be obtained.
	ErrRateUnavailable = errors.New("exchange rate unavailable")
)

// Notifier is the webhook surface the service fires terminal events to.
type Notifier = reconcile.Notifier

// Service orchestrates payout initiation and lifecycle commands. It owns
// the fee snapshot: rate and fees are fixed at initiation and the stored
// figures are never recomputed.
type Service struct {
	repos    *repository.Repositories
	rates    exchange.RateProvider
	gw       gateway.Submitter
	recorder *audit.Recorder
	notifier Notifier
}

// NewService wires the payout orchestration dependencies.
func NewService(repos *repository.Repositories, rates exchange.RateProvider, gw gateway.Submitter, recorder *audit.Recorder, notifier Notifier) *Service {
	return &Service{
		repos:    repos,
		rates:    rates,
		gw:       gw,
		recorder: recorder,
		notifier: notifier,
	}
}

// Initiate creates a payout in pending status with a full fee snapshot
// and hands it to the fiat gateway. A failed gateway handoff leaves the
// record pending without a gateway reference; the reconcile loop's age
// ceiling eventually fails it.
func (s *Service) Initiate(ctx context.Context, userID, bankAccountID uint, usdcAmount float64) (*models.PayoutOperation, error) {
	settings := models.GetAppSettings()
	if settings != nil && !settings.IsPayoutsEnabled() {
		return nil, ErrPayoutsDisabled
	}
	if usdcAmount <= 0 {
		return nil, ErrInvalidAmount
	}

	account, err := s.repos.BankAccount.GetForUser(userID, bankAccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBankAccountNotFound
		}
		return nil, fmt.Errorf("load bank account: %w", err)
	}

	rate, err := s.rates.GetCurrentRate(ctx)
	if err != nil {
		log.Errorf("[Payout] Rate lookup failed: %v", err)
		return nil, ErrRateUnavailable
	}

	cfg := fees.Config{
		ConversionFeePercent: 1.5,
		PayoutFlatFee:        1.00,
	}
	if settings != nil {
		cfg.ConversionFeePercent = settings.GetConversionFeePercent()
		cfg.PayoutFlatFee = settings.GetPayoutFlatFee()
	}
	fiat := fees.FiatAmount(usdcAmount, rate.Rate)
	breakdown := fees.Calculate(fiat, cfg)

	op := &models.PayoutOperation{
		UserID:        userID,
		BankAccountID: account.ID,
		UsdcAmount:    usdcAmount,
		FiatAmount:    fiat,
		ExchangeRate:  rate.Rate,
		FeePercent:    breakdown.ConversionFeePercent,
		ConversionFee: breakdown.ConversionFeeAmount,
		FlatFee:       breakdown.PayoutFlatFee,
		TotalFees:     breakdown.TotalFees,
		NetAmount:     breakdown.NetAmount,
		Status:        statemachine.PayoutStatusPending,
	}
	if err := s.repos.Payout.Create(op); err != nil {
		return nil, fmt.Errorf("create payout: %w", err)
	}

	if err := s.recorder.RecordEvent(op.Reference, models.AuditEventOperationCreated, "", op.Status, actorForUser(userID), map[string]interface{}{
		"usdc_amount":   op.UsdcAmount,
		"fiat_amount":   op.FiatAmount,
		"exchange_rate": op.ExchangeRate,
		"total_fees":    op.TotalFees,
		"net_amount":    op.NetAmount,
	}); err != nil {
		log.Errorf("[Payout] Audit record failed for %s: %v", op.Reference, err)
	}

	s.submitToGateway(ctx, op, account)
	return op, nil
}

// submitToGateway hands the payout order to the gateway and stores the
// returned reference, write-once.
func (s *Service) submitToGateway(ctx context.Context, op *models.PayoutOperation, account *models.BankAccount) {
	result, err := s.gw.SubmitPayout(ctx, account.DetailsEnc, op.NetAmount, account.Currency, op.Reference)
	if err != nil {
		log.Errorf("[Payout] Gateway submit failed for %s: %v", op.Reference, err)
		return
	}
	if err := s.repos.Payout.SetGatewayRef(op.ID, result.GatewayRef); err != nil {
		log.Errorf("[Payout] Failed to store gateway ref for %s: %v", op.Reference, err)
		return
	}
	op.GatewayRef = &result.GatewayRef

	if err := s.recorder.RecordEvent(op.Reference, models.AuditEventExternalRefSet, "", result.GatewayRef, models.AuditActorSystem, nil); err != nil {
		log.Errorf("[Payout] Audit record failed for %s: %v", op.Reference, err)
	}
}

// Get loads a payout by reference with an ownership check.
func (s *Service) Get(userID uint, reference string) (*models.PayoutOperation, error) {
	op, err := s.repos.Payout.GetByReference(reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	if op.UserID != userID {
		return nil, ErrPayoutNotFound
	}
	return op, nil
}

// List returns a page of the user's payouts, newest first.
func (s *Service) List(userID uint, offset, limit int) ([]models.PayoutOperation, error) {
	return s.repos.Payout.ListByUser(userID, offset, limit)
}

// Cancel moves a pending payout to cancelled. Anything past pending is
// already with the gateway and can no longer be stopped here; those
// requests fail with an invalid-transition error.
func (s *Service) Cancel(ctx context.Context, userID uint, reference string) (*models.PayoutOperation, error) {
	op, err := s.Get(userID, reference)
	if err != nil {
		return nil, err
	}

	current := op.Status
	if err := op.ApplyStatus(statemachine.PayoutStatusCancelled, ""); err != nil {
		return nil, err
	}
	if err := s.repos.Payout.TransitionStatus(op, current); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			// Re-read and re-validate; the reconcile loop won the race.
			fresh, ferr := s.Get(userID, reference)
			if ferr != nil {
				return nil, ferr
			}
			if verr := statemachine.Validate(statemachine.KindPayout, fresh.Status, statemachine.PayoutStatusCancelled, ""); verr != nil {
				return nil, verr
			}
			return nil, err
		}
		return nil, err
	}

	if aerr := s.recorder.RecordStatusChange(op.Reference, current, op.Status, actorForUser(userID), nil); aerr != nil {
		log.Errorf("[Payout] Audit record failed for %s: %v", op.Reference, aerr)
	}
	s.notifier.Notify(ctx, op.UserID, models.EventPayoutCancelled, reconcile.PayoutSnapshot(op))
	return op, nil
}

// ValidateStatusTransition exposes the payout state machine to callers
// that need a dry-run check without touching storage.
func ValidateStatusTransition(current, next, reason string) error {
	return statemachine.Validate(statemachine.KindPayout, current, next, reason)
}

func actorForUser(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}
