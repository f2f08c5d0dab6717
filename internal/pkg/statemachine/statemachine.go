package statemachine

import (
	"errors"
	"fmt"
)

// OperationKind selects which transition table applies.
type OperationKind string

const (
	KindTransfer OperationKind = "transfer"
	KindPayout   OperationKind = "payout"
)

// Transfer statuses
const (
	TransferStatusPending   = "pending"
	TransferStatusConfirmed = "confirmed"
	TransferStatusFailed    = "failed"
)

// Payout statuses
const (
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"
	PayoutStatusCancelled  = "cancelled"
)

var (
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrMissingFailureReason = errors.New("transition to failed requires a reason")
	ErrUnknownKind          = errors.New("unknown operation kind")
)

// TransitionError carries the rejected transition for logging and API responses.
type TransitionError struct {
	Kind    OperationKind
	Current string
	Next    string
	Err     error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s (%v)", e.Kind, e.Current, e.Next, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// transitions maps each kind's current status to the set of legal next statuses.
// Terminal statuses have no entry and therefore allow nothing but themselves.
var transitions = map[OperationKind]map[string][]string{
	KindTransfer: {
		TransferStatusPending: {TransferStatusConfirmed, TransferStatusFailed},
	},
	KindPayout: {
		PayoutStatusPending:    {PayoutStatusProcessing, PayoutStatusFailed, PayoutStatusCancelled},
		PayoutStatusProcessing: {PayoutStatusCompleted, PayoutStatusFailed},
	},
}

// terminal statuses per kind.
var terminal = map[OperationKind]map[string]bool{
	KindTransfer: {
		TransferStatusConfirmed: true,
		TransferStatusFailed:    true,
	},
	KindPayout: {
		PayoutStatusCompleted: true,
		PayoutStatusFailed:    true,
		PayoutStatusCancelled: true,
	},
}

// IsTerminal reports whether status permits no further transitions.
func IsTerminal(kind OperationKind, status string) bool {
	return terminal[kind][status]
}

// FailedStatus returns the failed status name for the given kind.
func FailedStatus(kind OperationKind) string {
	if kind == KindTransfer {
		return TransferStatusFailed
	}
	return PayoutStatusFailed
}

// CanTransition reports whether current -> next is legal for kind.
// A same-status transition is always legal (idempotent replay of an
// external notification).
func CanTransition(kind OperationKind, current, next string) bool {
	if current == next {
		return true
	}
	allowed, ok := transitions[kind]
	if !ok {
		return false
	}
	for _, s := range allowed[current] {
		if s == next {
			return true
		}
	}
	return false
}

// Validate checks a requested transition including the failure-reason
// contract. It returns nil for a legal transition, a *TransitionError
// otherwise. Callers must leave the operation unchanged on error.
func Validate(kind OperationKind, current, next, reason string) error {
	if _, ok := transitions[kind]; !ok {
		return &TransitionError{Kind: kind, Current: current, Next: next, Err: ErrUnknownKind}
	}
	if !CanTransition(kind, current, next) {
		return &TransitionError{Kind: kind, Current: current, Next: next, Err: ErrInvalidTransition}
	}
	if next == FailedStatus(kind) && current != next && reason == "" {
		return &TransitionError{Kind: kind, Current: current, Next: next, Err: ErrMissingFailureReason}
	}
	return nil
}

// IsNoop reports whether applying next to current would change nothing.
func IsNoop(current, next string) bool {
	return current == next
}
