package models

import "time"

// Audit actor for changes applied by background processes.
const AuditActorSystem = "system"

// Audit event types recorded across the operation lifecycle.
const (
	AuditEventOperationCreated = "operation.created"
	AuditEventStatusChanged    = "status.changed"
	AuditEventExternalRefSet   = "external_ref.set"
	AuditEventForcedFailure    = "forced.failure"
	AuditEventWebhookDispatch  = "webhook.dispatched"
)

// AuditEntry is an append-only lifecycle record per operation. Entries are
// never mutated or deleted out of order; a bounded-retention policy may
// archive and trim the oldest rows once capacity is exceeded.
type AuditEntry struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	OperationRef  string    `gorm:"type:char(36);not null;index" json:"operation_ref"`
	EventType     string    `gorm:"type:varchar(50);not null;index" json:"event_type"`
	PreviousValue string    `gorm:"type:varchar(255)" json:"previous_value"`
	NewValue      string    `gorm:"type:varchar(255)" json:"new_value"`
	Actor         string    `gorm:"type:varchar(64);not null;default:'system'" json:"actor"`
	Metadata      *JSON     `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
