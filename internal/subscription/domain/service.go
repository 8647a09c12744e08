package domain

import (
	"context"
	"errors"
	"time"
)

var ErrSubscriptionNotFound = errors.New("subscription_not_found")

// UpsertInput mirrors processor state onto the local subscription row.
type UpsertInput struct {
	TeamID               string
	PlanID               string
	StripeSubscriptionID string
	Status               SubscriptionStatus
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	SeatsQuantity        int
}

// Service maintains team subscriptions from checkout and webhook state.
type Service interface {
	Upsert(ctx context.Context, input UpsertInput) (*TeamSubscription, error)
	UpdateByStripeID(ctx context.Context, stripeSubscriptionID string, status SubscriptionStatus, periodStart, periodEnd *time.Time, seats int) (*TeamSubscription, error)
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*TeamSubscription, error)
	// GetActiveForApp finds the team's ACTIVE subscription whose plan
	// belongs to the given app.
	GetActiveForApp(ctx context.Context, teamID, appID string) (*TeamSubscription, error)
}
