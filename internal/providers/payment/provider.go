// Package payment abstracts the external payment processor behind a
// narrow interface so checkout, wallet, and webhook code can be
// exercised against fakes.
package payment

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v82"
)

var ErrSignatureInvalid = errors.New("invalid_webhook_signature")

// CheckoutMode selects the processor-side session mode.
type CheckoutMode string

const (
	CheckoutModeSubscription CheckoutMode = "subscription"
	CheckoutModePayment      CheckoutMode = "payment"
)

// CustomerInput creates the processor-side mirror of a team.
type CustomerInput struct {
	Name     string
	Metadata map[string]string
}

// LineItem is one checkout line. Either PriceID references a processor
// price, or Name/AmountMinor/Currency price it dynamically.
type LineItem struct {
	PriceID     string
	Quantity    int64
	Name        string
	AmountMinor int64
	Currency    string
}

// CheckoutInput creates a hosted checkout session.
type CheckoutInput struct {
	Mode                  CheckoutMode
	CustomerID            string
	LineItems             []LineItem
	SuccessURL            string
	CancelURL             string
	Metadata              map[string]string
	PaymentIntentMetadata map[string]string
}

// CheckoutSession is the created session handle.
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentIntentInput charges a customer without an interactive session.
type PaymentIntentInput struct {
	CustomerID  string
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
}

// PaymentIntent is the created intent handle.
type PaymentIntent struct {
	ID     string
	Status string
}

// Provider is the payment-processor contract.
type Provider interface {
	CreateCustomer(ctx context.Context, input CustomerInput) (string, error)
	CreateCheckoutSession(ctx context.Context, input CheckoutInput) (*CheckoutSession, error)
	CreatePaymentIntent(ctx context.Context, input PaymentIntentInput) (*PaymentIntent, error)
	// GetSubscription fetches the full processor-side subscription,
	// needed because webhook payloads carry only the subscription ID.
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	// VerifyWebhookSignature checks the signature over the raw body and
	// returns the decoded event.
	VerifyWebhookSignature(payload []byte, sigHeader string) (*stripe.Event, error)
}
