package service

import (
	"context"
	"errors"
	"strings"
	"time"

	checkoutdomain "github.com/smallbiznis/meterbill/internal/checkout/domain"
	obsmetrics "github.com/smallbiznis/meterbill/internal/observability/metrics"
	plandomain "github.com/smallbiznis/meterbill/internal/plan/domain"
	"github.com/smallbiznis/meterbill/internal/providers/payment"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	pendingPrefix       = "pending:"
	defaultPollInterval = 100 * time.Millisecond
	defaultPollAttempts = 50
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Provider   payment.Provider
	Plans      plandomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	provider   payment.Provider
	plans      plandomain.Service
	obsMetrics *obsmetrics.Metrics

	pollInterval time.Duration
	pollAttempts int
}

func NewService(p Params) checkoutdomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("checkout.service"),
		provider:     p.Provider,
		plans:        p.Plans,
		obsMetrics:   p.ObsMetrics,
		pollInterval: defaultPollInterval,
		pollAttempts: defaultPollAttempts,
	}
}

// GetOrCreateExternalCustomer resolves the processor-side customer for
// a team. A compare-and-swap claim on the NULL column guarantees the
// create API is called at most once; competitors poll until the real
// ID lands, and retry from scratch if the claim is rolled back.
func (s *Service) GetOrCreateExternalCustomer(ctx context.Context, teamID, appID string) (string, error) {
	var team teamdomain.Team
	if err := s.db.WithContext(ctx).First(&team, "id = ?", teamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", teamdomain.ErrTeamNotFound
		}
		return "", err
	}

	if team.ExternalCustomerID != nil {
		if !strings.HasPrefix(*team.ExternalCustomerID, pendingPrefix) {
			return *team.ExternalCustomerID, nil
		}
		return s.pollForCustomer(ctx, teamID, appID)
	}

	claim := s.db.WithContext(ctx).Exec(
		`UPDATE teams SET external_customer_id = 'pending:' || id
		 WHERE id = ? AND external_customer_id IS NULL`,
		teamID,
	)
	if claim.Error != nil {
		return "", claim.Error
	}
	if claim.RowsAffected == 0 {
		// Someone else claimed between our read and update.
		return s.pollForCustomer(ctx, teamID, appID)
	}

	metadata := map[string]string{"teamId": teamID}
	if appID != "" {
		metadata["appId"] = appID
	}
	customerID, err := s.provider.CreateCustomer(ctx, payment.CustomerInput{
		Name:     team.Name,
		Metadata: metadata,
	})
	if err != nil {
		s.rollbackClaim(ctx, teamID)
		return "", err
	}

	err = s.db.WithContext(ctx).Exec(
		`UPDATE teams SET external_customer_id = ? WHERE id = ?`,
		customerID, teamID,
	).Error
	if err != nil {
		return "", err
	}
	return customerID, nil
}

func (s *Service) pollForCustomer(ctx context.Context, teamID, appID string) (string, error) {
	for attempt := 0; attempt < s.pollAttempts; attempt++ {
		var team teamdomain.Team
		if err := s.db.WithContext(ctx).First(&team, "id = ?", teamID).Error; err != nil {
			return "", err
		}
		if team.ExternalCustomerID == nil {
			// The claim was rolled back; start the whole flow over.
			return s.GetOrCreateExternalCustomer(ctx, teamID, appID)
		}
		if !strings.HasPrefix(*team.ExternalCustomerID, pendingPrefix) {
			return *team.ExternalCustomerID, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
	return "", checkoutdomain.ErrExternalCustomerTimeout
}

func (s *Service) rollbackClaim(ctx context.Context, teamID string) {
	err := s.db.WithContext(ctx).Exec(
		`UPDATE teams SET external_customer_id = NULL
		 WHERE id = ? AND external_customer_id = 'pending:' || id`,
		teamID,
	).Error
	if err != nil {
		s.log.Error("failed to roll back external customer claim",
			zap.String("team_id", teamID),
			zap.Error(err),
		)
	}
}

// CreateSubscriptionCheckout starts a hosted subscription session over
// the plan's BASE and SEAT prices.
func (s *Service) CreateSubscriptionCheckout(ctx context.Context, input checkoutdomain.SubscriptionCheckoutInput) (*checkoutdomain.CheckoutResult, error) {
	plan, err := s.plans.GetPlanByCode(ctx, input.AppID, input.PlanCode)
	if err != nil {
		return nil, err
	}

	customerID, err := s.GetOrCreateExternalCustomer(ctx, input.TeamID, input.AppID)
	if err != nil {
		return nil, err
	}

	seats := int64(1)
	if input.Seats != nil && *input.Seats > 0 {
		seats = int64(*input.Seats)
	}

	var lineItems []payment.LineItem
	for _, mapping := range plan.ProductMaps {
		switch mapping.Kind {
		case plandomain.ProductMapKindBase:
			lineItems = append(lineItems, payment.LineItem{PriceID: mapping.StripePriceID, Quantity: 1})
		case plandomain.ProductMapKindSeat:
			lineItems = append(lineItems, payment.LineItem{PriceID: mapping.StripePriceID, Quantity: seats})
		}
	}

	session, err := s.provider.CreateCheckoutSession(ctx, payment.CheckoutInput{
		Mode:       payment.CheckoutModeSubscription,
		CustomerID: customerID,
		LineItems:  lineItems,
		SuccessURL: input.SuccessURL,
		CancelURL:  input.CancelURL,
		Metadata: map[string]string{
			"teamId": input.TeamID,
			"appId":  input.AppID,
			"planId": plan.ID,
		},
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordCheckoutSession(ctx, string(payment.CheckoutModeSubscription))
	return &checkoutdomain.CheckoutResult{URL: session.URL, SessionID: session.ID}, nil
}

// CreateTopupCheckout starts a one-off payment session whose intent is
// tagged as a wallet top-up for the webhook reconciler.
func (s *Service) CreateTopupCheckout(ctx context.Context, input checkoutdomain.TopupCheckoutInput) (*checkoutdomain.CheckoutResult, error) {
	if input.AmountMinor <= 0 {
		return nil, checkoutdomain.ErrInvalidTopupAmount
	}

	customerID, err := s.GetOrCreateExternalCustomer(ctx, input.TeamID, input.AppID)
	if err != nil {
		return nil, err
	}

	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "usd"
	}

	session, err := s.provider.CreateCheckoutSession(ctx, payment.CheckoutInput{
		Mode:       payment.CheckoutModePayment,
		CustomerID: customerID,
		LineItems: []payment.LineItem{
			{
				Name:        "Wallet top-up",
				AmountMinor: input.AmountMinor,
				Currency:    currency,
				Quantity:    1,
			},
		},
		SuccessURL: input.SuccessURL,
		CancelURL:  input.CancelURL,
		Metadata: map[string]string{
			"teamId": input.TeamID,
			"appId":  input.AppID,
		},
		PaymentIntentMetadata: map[string]string{
			"type":   "wallet_topup",
			"teamId": input.TeamID,
			"appId":  input.AppID,
		},
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordCheckoutSession(ctx, string(payment.CheckoutModePayment))
	return &checkoutdomain.CheckoutResult{URL: session.URL, SessionID: session.ID}, nil
}
