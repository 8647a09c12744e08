package domain

import "time"

// ProductMapKind classifies the external product attached to a plan.
type ProductMapKind string

const (
	ProductMapKindBase    ProductMapKind = "BASE"
	ProductMapKindSeat    ProductMapKind = "SEAT"
	ProductMapKindAddon   ProductMapKind = "ADDON"
	ProductMapKindOverage ProductMapKind = "OVERAGE"
	ProductMapKindTopup   ProductMapKind = "TOPUP"
)

// Plan is a per-app subscription tier.
type Plan struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	AppID     string `gorm:"type:uuid;not null;uniqueIndex:ux_plans_app_code,priority:1"`
	Code      string `gorm:"type:text;not null;uniqueIndex:ux_plans_app_code,priority:2"`
	Name      string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ProductMaps []StripeProductMap `gorm:"foreignKey:PlanID"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// StripeProductMap links a plan to external product and price IDs.
type StripeProductMap struct {
	ID              string         `gorm:"type:uuid;primaryKey"`
	PlanID          string         `gorm:"type:uuid;not null;index"`
	Kind            ProductMapKind `gorm:"type:text;not null"`
	StripeProductID string         `gorm:"type:text;not null"`
	StripePriceID   string         `gorm:"type:text;not null"`
	CreatedAt       time.Time
}

// TableName sets the database table name.
func (StripeProductMap) TableName() string { return "stripe_product_maps" }

// Addon is an optional purchasable extra.
type Addon struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	AppID     string `gorm:"type:uuid;not null;uniqueIndex:ux_addons_app_code,priority:1"`
	Code      string `gorm:"type:text;not null;uniqueIndex:ux_addons_app_code,priority:2"`
	Name      string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// TableName sets the database table name.
func (Addon) TableName() string { return "addons" }

// TeamAddon attaches an addon to a team.
type TeamAddon struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TeamID    string `gorm:"type:uuid;not null;uniqueIndex:ux_team_addons,priority:1"`
	AddonID   string `gorm:"type:uuid;not null;uniqueIndex:ux_team_addons,priority:2"`
	Quantity  int    `gorm:"not null;default:1"`
	CreatedAt time.Time
}

// TableName sets the database table name.
func (TeamAddon) TableName() string { return "team_addons" }
