package transfer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/app/repository"
	"github.com/stablofi/stablo/internal/pkg/audit"
	"github.com/stablofi/stablo/internal/pkg/chain"
	"github.com/stablofi/stablo/internal/pkg/statemachine"
)

var (
	// ErrInvalidAmount rejects a non-positive or malformed amount.
	ErrInvalidAmount = errors.New("transfer amount must be a positive decimal")
	// ErrInvalidAddress rejects a destination that is not a hex address.
	ErrInvalidAddress = errors.New("invalid destination address")
	// ErrTransferNotFound is returned for unknown or foreign references.
	ErrTransferNotFound = errors.New("transfer not found")
	// ErrNoWalletAddress is returned when the user has no custodial wallet.
	ErrNoWalletAddress = errors.New("user has no wallet address")
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Service orchestrates on-chain transfer submission and lookups. Status
// progress past pending is owned by the reconcile loop, not by callers.
type Service struct {
	repos    *repository.Repositories
	bundler  chain.Submitter
	recorder *audit.Recorder
}

// NewService wires the transfer orchestration dependencies.
func NewService(repos *repository.Repositories, bundler chain.Submitter, recorder *audit.Recorder) *Service {
	return &Service{
		repos:    repos,
		bundler:  bundler,
		recorder: recorder,
	}
}

// Submit records a pending transfer from the user's custodial wallet and
// hands it to the bundler. A failed handoff leaves the record pending
// without an external reference; the age ceiling eventually fails it.
func (s *Service) Submit(ctx context.Context, userID uint, toAddress, amount string) (*models.TransferOperation, error) {
	if !addressPattern.MatchString(toAddress) {
		return nil, ErrInvalidAddress
	}
	if v, err := strconv.ParseFloat(amount, 64); err != nil || v <= 0 {
		return nil, ErrInvalidAmount
	}

	user, err := s.repos.User.GetByID(userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.WalletAddress == "" {
		return nil, ErrNoWalletAddress
	}

	op := &models.TransferOperation{
		UserID:      userID,
		FromAddress: user.WalletAddress,
		ToAddress:   toAddress,
		Amount:      amount,
		TokenSymbol: "USDC",
		Status:      statemachine.TransferStatusPending,
	}
	if err := s.repos.Transfer.Create(op); err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}

	if err := s.recorder.RecordEvent(op.Reference, models.AuditEventOperationCreated, "", op.Status, fmt.Sprintf("user:%d", userID), map[string]interface{}{
		"from":   op.FromAddress,
		"to":     op.ToAddress,
		"amount": op.Amount,
		"token":  op.TokenSymbol,
	}); err != nil {
		log.Errorf("[Transfer] Audit record failed for %s: %v", op.Reference, err)
	}

	s.submitToBundler(ctx, op)
	return op, nil
}

// submitToBundler submits the transfer for execution and stores the
// bundler's operation reference, write-once.
func (s *Service) submitToBundler(ctx context.Context, op *models.TransferOperation) {
	result, err := s.bundler.SubmitTransfer(ctx, op.FromAddress, op.ToAddress, op.Amount, op.TokenSymbol)
	if err != nil {
		log.Errorf("[Transfer] Bundler submit failed for %s: %v", op.Reference, err)
		return
	}
	if err := s.repos.Transfer.SetExternalRef(op.ID, result.OperationRef); err != nil {
		log.Errorf("[Transfer] Failed to store external ref for %s: %v", op.Reference, err)
		return
	}
	op.ExternalRef = &result.OperationRef

	if err := s.recorder.RecordEvent(op.Reference, models.AuditEventExternalRefSet, "", result.OperationRef, models.AuditActorSystem, nil); err != nil {
		log.Errorf("[Transfer] Audit record failed for %s: %v", op.Reference, err)
	}
}

// Get loads a transfer by reference with an ownership check.
func (s *Service) Get(userID uint, reference string) (*models.TransferOperation, error) {
	op, err := s.repos.Transfer.GetByReference(reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	if op.UserID != userID {
		return nil, ErrTransferNotFound
	}
	return op, nil
}

// List returns a page of the user's transfers, newest first.
func (s *Service) List(userID uint, offset, limit int) ([]models.TransferOperation, error) {
	return s.repos.Transfer.ListByUser(userID, offset, limit)
}

// ValidateStatusTransition exposes the transfer state machine to callers
// that need a dry-run check without touching storage.
func ValidateStatusTransition(current, next, reason string) error {
	return statemachine.Validate(statemachine.KindTransfer, current, next, reason)
}
