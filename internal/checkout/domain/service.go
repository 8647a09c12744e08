package domain

import (
	"context"
	"errors"
)

var (
	ErrExternalCustomerTimeout = errors.New("external_customer_timeout")
	ErrInvalidTopupAmount      = errors.New("invalid_topup_amount")
)

// SubscriptionCheckoutInput starts a hosted subscription checkout.
type SubscriptionCheckoutInput struct {
	AppID      string
	TeamID     string
	PlanCode   string
	SuccessURL string
	CancelURL  string
	Seats      *int
}

// TopupCheckoutInput starts a one-off wallet top-up checkout.
type TopupCheckoutInput struct {
	AppID       string
	TeamID      string
	AmountMinor int64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// CheckoutResult is the hosted session handle returned to the client.
type CheckoutResult struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// Service lazily mirrors teams onto the payment processor and starts
// checkout sessions.
type Service interface {
	// GetOrCreateExternalCustomer returns the processor customer ID for
	// a team, creating it at most once under concurrent callers.
	GetOrCreateExternalCustomer(ctx context.Context, teamID, appID string) (string, error)
	CreateSubscriptionCheckout(ctx context.Context, input SubscriptionCheckoutInput) (*CheckoutResult, error)
	CreateTopupCheckout(ctx context.Context, input TopupCheckoutInput) (*CheckoutResult, error)
}
