package models

import "time"

// WebhookDeliveryAttempt records one delivery try for one subscription.
// Rows are append-only: created once per attempt, never mutated.
type WebhookDeliveryAttempt struct {
	ID             uint                `gorm:"primaryKey" json:"id"`
	SubscriptionID uint                `gorm:"index;not null" json:"subscription_id"`
	Subscription   WebhookSubscription `gorm:"foreignKey:SubscriptionID" json:"-"`
	Event          string              `gorm:"type:varchar(50);not null;index" json:"event"`
	OperationRef   string              `gorm:"type:char(36);not null;index" json:"operation_ref"`
	AttemptNumber  int                 `gorm:"not null" json:"attempt_number"`
	Success        bool                `gorm:"default:false;index" json:"success"`
	StatusCode     int                 `gorm:"default:0" json:"status_code"`
	ErrorMessage   string              `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt      time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
}
