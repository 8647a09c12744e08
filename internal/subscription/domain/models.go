package domain

import "time"

// SubscriptionStatus mirrors the payment processor's subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue    SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled   SubscriptionStatus = "CANCELED"
	SubscriptionStatusIncomplete SubscriptionStatus = "INCOMPLETE"
	SubscriptionStatusTrialing   SubscriptionStatus = "TRIALING"
	SubscriptionStatusUnpaid     SubscriptionStatus = "UNPAID"
)

// StatusFromStripe maps Stripe's status strings to ours.
func StatusFromStripe(status string) SubscriptionStatus {
	switch status {
	case "active":
		return SubscriptionStatusActive
	case "past_due":
		return SubscriptionStatusPastDue
	case "canceled":
		return SubscriptionStatusCanceled
	case "incomplete":
		return SubscriptionStatusIncomplete
	case "trialing":
		return SubscriptionStatusTrialing
	case "unpaid":
		return SubscriptionStatusUnpaid
	default:
		return SubscriptionStatusActive
	}
}

// TeamSubscription links a team to a plan through the payment processor.
type TeamSubscription struct {
	ID                   string             `gorm:"type:uuid;primaryKey"`
	TeamID               string             `gorm:"type:uuid;not null;index"`
	PlanID               string             `gorm:"type:uuid;not null;index"`
	StripeSubscriptionID string             `gorm:"type:text;not null;uniqueIndex:ux_team_subscriptions_stripe"`
	Status               SubscriptionStatus `gorm:"type:text;not null"`
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	SeatsQuantity        int `gorm:"not null;default:1"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TableName sets the database table name.
func (TeamSubscription) TableName() string { return "team_subscriptions" }
