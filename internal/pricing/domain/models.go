package domain

import (
	"time"

	"gorm.io/datatypes"
)

// PriceBookKind splits pricing into cost-of-goods and customer-facing
// projections of the same event.
type PriceBookKind string

const (
	PriceBookKindCOGS     PriceBookKind = "COGS"
	PriceBookKindCustomer PriceBookKind = "CUSTOMER"
)

// PriceBook is a time-boxed, versioned rule collection in one currency.
type PriceBook struct {
	ID            string        `gorm:"type:uuid;primaryKey" json:"id"`
	AppID         string        `gorm:"type:uuid;not null;index" json:"appId"`
	Kind          PriceBookKind `gorm:"type:text;not null" json:"kind"`
	Version       int           `gorm:"not null;default:1" json:"version"`
	Currency      string        `gorm:"type:text;not null;default:USD" json:"currency"`
	EffectiveFrom time.Time     `gorm:"not null;index" json:"effectiveFrom"`
	EffectiveTo   *time.Time    `json:"effectiveTo,omitempty"`
	Rules         []PriceRule   `gorm:"foreignKey:PriceBookID" json:"rules,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// TableName sets the database table name.
func (PriceBook) TableName() string { return "price_books" }

// PriceRule matches events by equality (with * wildcards) and prices
// them with a flat, per-unit, or tiered rule.
type PriceRule struct {
	ID          string            `gorm:"type:uuid;primaryKey" json:"id"`
	PriceBookID string            `gorm:"type:uuid;not null;index" json:"priceBookId"`
	Priority    int               `gorm:"not null;default:0" json:"priority"`
	Match       datatypes.JSONMap `json:"match"`
	Rule        datatypes.JSON    `gorm:"type:jsonb" json:"rule"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// TableName sets the database table name.
func (PriceRule) TableName() string { return "price_rules" }

// BillableLineItem is the priced projection of one usage event against
// one rule. EventType and Kind are denormalized for rollup queries.
type BillableLineItem struct {
	ID              string            `gorm:"type:uuid;primaryKey" json:"id"`
	AppID           string            `gorm:"type:uuid;not null;index" json:"appId"`
	TeamID          string            `gorm:"type:uuid;not null;index" json:"teamId"`
	BillToID        string            `gorm:"type:uuid;not null;index" json:"billToId"`
	UsageEventID    string            `gorm:"type:uuid;not null;index" json:"usageEventId"`
	EventType       string            `gorm:"type:text;not null;index" json:"eventType"`
	Kind            PriceBookKind     `gorm:"type:text;not null;index" json:"kind"`
	PriceBookID     *string           `gorm:"type:uuid" json:"priceBookId,omitempty"`
	PriceRuleID     *string           `gorm:"type:uuid" json:"priceRuleId,omitempty"`
	RateCardID      *string           `gorm:"type:uuid" json:"rateCardId,omitempty"`
	AmountMinor     int64             `gorm:"not null" json:"amountMinor"`
	Currency        string            `gorm:"type:text;not null" json:"currency"`
	InputsSnapshot  datatypes.JSONMap `json:"inputsSnapshot"`
	WalletDebitedAt *time.Time        `gorm:"index" json:"walletDebitedAt,omitempty"`
	Timestamp       time.Time         `gorm:"not null;index" json:"timestamp"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// TableName sets the database table name.
func (BillableLineItem) TableName() string { return "billable_line_items" }
