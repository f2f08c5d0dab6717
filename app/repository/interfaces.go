package repository

import (
	"time"

	"github.com/stablofi/stablo/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	TouchAPIKeyUsage(userID uint, at time.Time) error
	Count() (int64, error)
}

// BankAccountRepository defines the interface for payout destinations
type BankAccountRepository interface {
	Create(account *models.BankAccount) error
	GetForUser(userID, accountID uint) (*models.BankAccount, error)
	ListByUser(userID uint) ([]models.BankAccount, error)
	Deactivate(userID, accountID uint) error
}

// TransferRepository defines the interface for on-chain transfer operations
type TransferRepository interface {
	Create(op *models.TransferOperation) error
	GetByID(id uint) (*models.TransferOperation, error)
	GetByReference(ref string) (*models.TransferOperation, error)
	ListByUser(userID uint, offset, limit int) ([]models.TransferOperation, error)
	ListInFlight(limit int) ([]models.TransferOperation, error)
	SetExternalRef(id uint, ref string) error
	// TransitionStatus performs a compare-validate-write: the UPDATE is
	// guarded by the status the caller read, so two concurrent reconcile
	// passes cannot both apply conflicting transitions to one operation.
	// Returns ErrStaleStatus when the guard misses.
	TransitionStatus(op *models.TransferOperation, current string) error
	SaveBatch(ops []*models.TransferOperation) error
}

// PayoutRepository defines the interface for fiat payout operations
type PayoutRepository interface {
	Create(op *models.PayoutOperation) error
	GetByID(id uint) (*models.PayoutOperation, error)
	GetByReference(ref string) (*models.PayoutOperation, error)
	ListByUser(userID uint, offset, limit int) ([]models.PayoutOperation, error)
	ListInFlight(limit int) ([]models.PayoutOperation, error)
	SetGatewayRef(id uint, ref string) error
	TransitionStatus(op *models.PayoutOperation, current string) error
	SaveBatch(ops []*models.PayoutOperation) error
}

// WebhookRepository defines the interface for subscriptions and delivery attempts
type WebhookRepository interface {
	CreateSubscription(sub *models.WebhookSubscription) error
	GetSubscription(userID, id uint) (*models.WebhookSubscription, error)
	ListSubscriptionsByUser(userID uint) ([]models.WebhookSubscription, error)
	ListActiveForEvent(userID uint, event string) ([]models.WebhookSubscription, error)
	UpdateSubscription(sub *models.WebhookSubscription) error
	DeactivateSubscription(userID, id uint) error
	RecordAttempt(attempt *models.WebhookDeliveryAttempt) error
	ListAttempts(subscriptionID uint, limit int) ([]models.WebhookDeliveryAttempt, error)
}

// AuditRepository defines the interface for the append-only audit log
type AuditRepository interface {
	Create(entry *models.AuditEntry) error
	TrailByOperationRef(ref string) ([]models.AuditEntry, error)
	Count() (int64, error)
	OldestBatch(limit int) ([]models.AuditEntry, error)
	DeleteByIDs(ids []uint) error
}

// SettingRepository defines the interface for setting-related database operations
type SettingRepository interface {
	Get() (*models.AppSettings, error)
	Save(settings *models.AppSettings) error
	GetValue(key string) (string, error)
	SetValue(key, value string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User        UserRepository
	BankAccount BankAccountRepository
	Transfer    TransferRepository
	Payout      PayoutRepository
	Webhook     WebhookRepository
	Audit       AuditRepository
	Setting     SettingRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:        NewUserRepository(db),
		BankAccount: NewBankAccountRepository(db),
		Transfer:    NewTransferRepository(db),
		Payout:      NewPayoutRepository(db),
		Webhook:     NewWebhookRepository(db),
		Audit:       NewAuditRepository(db),
		Setting:     NewSettingRepository(db),
	}
}
