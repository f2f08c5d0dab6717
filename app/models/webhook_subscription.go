package models

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Webhook event names dispatched by the notification engine.
const (
	EventTransactionConfirmed = "transaction.confirmed"
	EventTransactionFailed    = "transaction.failed"
	EventPayoutCompleted      = "payout.completed"
	EventPayoutFailed         = "payout.failed"
	EventPayoutCancelled      = "payout.cancelled"
)

// KnownWebhookEvents lists every event name a subscription may register for.
var KnownWebhookEvents = []string{
	EventTransactionConfirmed,
	EventTransactionFailed,
	EventPayoutCompleted,
	EventPayoutFailed,
	EventPayoutCancelled,
}

// WebhookSubscription is a user-registered delivery target. Subscriptions
// are soft-deactivated, never hard-deleted, so delivery attempt rows keep
// a valid subscription reference.
type WebhookSubscription struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"index;not null" json:"user_id"`
	User       User      `gorm:"foreignKey:UserID" json:"-"`
	TargetURL  string    `gorm:"type:varchar(500);not null" json:"target_url" validate:"required,url,max=500"`
	Secret     string    `gorm:"type:varchar(128);not null" json:"-"`
	EventsJSON string    `gorm:"column:events;type:text;not null" json:"-"`
	IsActive   bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *WebhookSubscription) Validate() error {
	v := validator.New()
	return v.Struct(s)
}

// Events decodes the subscribed event names.
func (s *WebhookSubscription) Events() []string {
	var events []string
	if err := json.Unmarshal([]byte(s.EventsJSON), &events); err != nil {
		return nil
	}
	return events
}

// SetEvents encodes the subscribed event names.
func (s *WebhookSubscription) SetEvents(events []string) error {
	data, err := json.Marshal(events)
	if err != nil {
		return err
	}
	s.EventsJSON = string(data)
	return nil
}

// SubscribesTo reports whether the subscription wants the given event.
func (s *WebhookSubscription) SubscribesTo(event string) bool {
	for _, e := range s.Events() {
		if e == event {
			return true
		}
	}
	return false
}

// IsKnownWebhookEvent reports whether name is a dispatchable event.
func IsKnownWebhookEvent(name string) bool {
	for _, e := range KnownWebhookEvents {
		if e == name {
			return true
		}
	}
	return false
}

// Deactivate soft-disables the subscription.
func (s *WebhookSubscription) Deactivate(db *gorm.DB) error {
	s.IsActive = false
	return db.Model(s).Update("is_active", false).Error
}
