package domain

import "time"

// WebhookEvent dedups the payment-processor callback stream. One row
// per processor event ID; a second delivery hits the unique index and
// is acknowledged without side effects.
type WebhookEvent struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	EventID     string    `gorm:"type:text;not null;uniqueIndex:ux_webhook_events_event_id"`
	EventType   string    `gorm:"type:text;not null"`
	ProcessedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (WebhookEvent) TableName() string { return "webhook_events" }
