package reconcile

import (
	"context"
	"time"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/internal/pkg/webhook"
)

// ForcedFailureReason marks operations failed by the age ceiling rather
// than an external confirmation.
const ForcedFailureReason = "exceeded maximum age"

// Notifier decouples the reconcile loops from the webhook dispatcher.
type Notifier interface {
	Notify(ctx context.Context, userID uint, event string, snap webhook.OperationSnapshot)
}

// Reconciler is one polling loop body: a single pass over a page of
// in-flight operations of one kind.
type Reconciler interface {
	Name() string
	Interval() time.Duration
	RunCycle(ctx context.Context) error
}

// Config carries the scheduler knobs, resolved from AppSettings at start.
type Config struct {
	TransferInterval time.Duration
	PayoutInterval   time.Duration
	WarmupDelay      time.Duration
	MaxOperationAge  time.Duration
	BatchSize        int
	AdapterTimeout   time.Duration
}

// DefaultConfig returns the fallback knobs used when settings are
// unavailable.
func DefaultConfig() Config {
	return Config{
		TransferInterval: 30 * time.Second,
		PayoutInterval:   60 * time.Second,
		WarmupDelay:      10 * time.Second,
		MaxOperationAge:  24 * time.Hour,
		BatchSize:        100,
		AdapterTimeout:   15 * time.Second,
	}
}

// ConfigFromSettings resolves the scheduler knobs from app settings.
func ConfigFromSettings(settings *models.AppSettings) Config {
	cfg := DefaultConfig()
	if settings == nil {
		return cfg
	}
	if v := settings.GetTransferIntervalSeconds(); v > 0 {
		cfg.TransferInterval = time.Duration(v) * time.Second
	}
	if v := settings.GetPayoutIntervalSeconds(); v > 0 {
		cfg.PayoutInterval = time.Duration(v) * time.Second
	}
	if v := settings.GetMaxOperationAgeHours(); v > 0 {
		cfg.MaxOperationAge = time.Duration(v) * time.Hour
	}
	if v := settings.GetReconcileBatchSize(); v > 0 {
		cfg.BatchSize = v
	}
	return cfg
}
