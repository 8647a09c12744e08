package payment

import (
	"context"

	"github.com/smallbiznis/meterbill/internal/config"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

// StripeProvider implements Provider against the Stripe API.
type StripeProvider struct {
	client        *stripe.Client
	webhookSecret string
	log           *zap.Logger
}

func NewStripeProvider(p Params) Provider {
	return &StripeProvider{
		client:        stripe.NewClient(p.Config.StripeSecretKey, nil),
		webhookSecret: p.Config.StripeWebhookSecret,
		log:           p.Log.Named("payment.stripe"),
	}
}

func (s *StripeProvider) CreateCustomer(ctx context.Context, input CustomerInput) (string, error) {
	params := &stripe.CustomerCreateParams{
		Name:     stripe.String(input.Name),
		Metadata: input.Metadata,
	}
	customer, err := s.client.V1Customers.Create(ctx, params)
	if err != nil {
		s.log.Error("failed to create stripe customer", zap.Error(err))
		return "", err
	}
	return customer.ID, nil
}

func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, input CheckoutInput) (*CheckoutSession, error) {
	lineItems := make([]*stripe.CheckoutSessionCreateLineItemParams, 0, len(input.LineItems))
	for _, item := range input.LineItems {
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		if item.PriceID != "" {
			lineItems = append(lineItems, &stripe.CheckoutSessionCreateLineItemParams{
				Price:    stripe.String(item.PriceID),
				Quantity: stripe.Int64(quantity),
			})
			continue
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionCreateLineItemParams{
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency: stripe.String(item.Currency),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
				UnitAmount: stripe.Int64(item.AmountMinor),
			},
			Quantity: stripe.Int64(quantity),
		})
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(input.Mode)),
		Customer:   stripe.String(input.CustomerID),
		LineItems:  lineItems,
		SuccessURL: stripe.String(input.SuccessURL),
		CancelURL:  stripe.String(input.CancelURL),
		Metadata:   input.Metadata,
	}
	if len(input.PaymentIntentMetadata) > 0 {
		params.PaymentIntentData = &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: input.PaymentIntentMetadata,
		}
	}

	session, err := s.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		s.log.Error("failed to create stripe checkout session",
			zap.String("mode", string(input.Mode)),
			zap.Error(err),
		)
		return nil, err
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (s *StripeProvider) CreatePaymentIntent(ctx context.Context, input PaymentIntentInput) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:     stripe.Int64(input.AmountMinor),
		Currency:   stripe.String(input.Currency),
		Customer:   stripe.String(input.CustomerID),
		OffSession: stripe.Bool(true),
		Confirm:    stripe.Bool(true),
		Metadata:   input.Metadata,
	}
	intent, err := s.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		s.log.Error("failed to create stripe payment intent", zap.Error(err))
		return nil, err
	}
	return &PaymentIntent{ID: intent.ID, Status: string(intent.Status)}, nil
}

func (s *StripeProvider) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	sub, err := s.client.V1Subscriptions.Retrieve(ctx, id, nil)
	if err != nil {
		s.log.Error("failed to retrieve stripe subscription",
			zap.String("subscription_id", id),
			zap.Error(err),
		)
		return nil, err
	}
	return sub, nil
}

func (s *StripeProvider) VerifyWebhookSignature(payload []byte, sigHeader string) (*stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, ErrSignatureInvalid
	}
	return &event, nil
}
