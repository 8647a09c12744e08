package domain

import (
	"time"

	"gorm.io/datatypes"
)

// UsageEvent is one immutable raw usage sample. Rows are never updated;
// repricing reads the payload back out of the stored row.
type UsageEvent struct {
	ID             string            `gorm:"primaryKey" json:"id"`
	AppID          string            `gorm:"index;uniqueIndex:ux_usage_events_idem" json:"appId"`
	TeamID         string            `gorm:"index" json:"teamId"`
	BillToID       string            `gorm:"index" json:"billToId"`
	UserID         *string           `json:"userId,omitempty"`
	EventType      string            `gorm:"index" json:"eventType"`
	Timestamp      time.Time         `gorm:"index" json:"timestamp"`
	IdempotencyKey string            `gorm:"uniqueIndex:ux_usage_events_idem" json:"idempotencyKey"`
	Payload        datatypes.JSONMap `json:"payload"`
	Source         string            `json:"source"`
	CreatedAt      time.Time         `json:"createdAt"`
}

func (UsageEvent) TableName() string {
	return "usage_events"
}
