package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	checkoutdomain "github.com/smallbiznis/meterbill/internal/checkout/domain"
	plandomain "github.com/smallbiznis/meterbill/internal/plan/domain"
	planservice "github.com/smallbiznis/meterbill/internal/plan/service"
	"github.com/smallbiznis/meterbill/internal/providers/payment"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	"github.com/stretchr/testify/assert"
	stripe "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeProvider struct {
	mu            sync.Mutex
	customerCalls int
	customerDelay time.Duration
	customerErr   error
	checkouts     []payment.CheckoutInput
	intents       []payment.PaymentIntentInput
}

func (f *fakeProvider) CreateCustomer(_ context.Context, _ payment.CustomerInput) (string, error) {
	if f.customerDelay > 0 {
		time.Sleep(f.customerDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.customerErr != nil {
		return "", f.customerErr
	}
	f.customerCalls++
	return fmt.Sprintf("cus_%d", f.customerCalls), nil
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, input payment.CheckoutInput) (*payment.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, input)
	return &payment.CheckoutSession{ID: "cs_test", URL: "https://checkout.test/cs_test"}, nil
}

func (f *fakeProvider) CreatePaymentIntent(_ context.Context, input payment.PaymentIntentInput) (*payment.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, input)
	return &payment.PaymentIntent{ID: "pi_test", Status: "succeeded"}, nil
}

func (f *fakeProvider) GetSubscription(context.Context, string) (*stripe.Subscription, error) {
	return &stripe.Subscription{}, nil
}

func (f *fakeProvider) VerifyWebhookSignature([]byte, string) (*stripe.Event, error) {
	return nil, payment.ErrSignatureInvalid
}

func newTestService(t *testing.T) (*Service, *fakeProvider) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	err = conn.AutoMigrate(
		&teamdomain.Team{},
		&plandomain.Plan{},
		&plandomain.StripeProductMap{},
	)
	if err != nil {
		t.Fatal(err)
	}

	provider := &fakeProvider{}
	svc := &Service{
		db:           conn,
		log:          zap.NewNop(),
		provider:     provider,
		plans:        planservice.NewService(planservice.Params{DB: conn, Log: zap.NewNop()}),
		pollInterval: 5 * time.Millisecond,
		pollAttempts: 50,
	}
	return svc, provider
}

func seedTeam(t *testing.T, svc *Service) string {
	t.Helper()
	team := teamdomain.Team{
		ID:              "team-1",
		AppID:           "app-1",
		Name:            "acme",
		Kind:            teamdomain.TeamKindStandard,
		BillingMode:     teamdomain.BillingModeSubscription,
		DefaultCurrency: "USD",
	}
	assert.NoError(t, svc.db.Create(&team).Error)
	return team.ID
}

func TestExternalCustomerCreatedOnce(t *testing.T) {
	svc, provider := newTestService(t)
	ctx := context.Background()
	teamID := seedTeam(t, svc)

	id, err := svc.GetOrCreateExternalCustomer(ctx, teamID, "app-1")
	assert.NoError(t, err)
	assert.Equal(t, "cus_1", id)

	// Second call reads the stored ID without another API call.
	id, err = svc.GetOrCreateExternalCustomer(ctx, teamID, "app-1")
	assert.NoError(t, err)
	assert.Equal(t, "cus_1", id)
	assert.Equal(t, 1, provider.customerCalls)
}

func TestExternalCustomerConcurrentCallers(t *testing.T) {
	svc, provider := newTestService(t)
	ctx := context.Background()
	teamID := seedTeam(t, svc)
	provider.customerDelay = 30 * time.Millisecond

	results := make([]string, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.GetOrCreateExternalCustomer(ctx, teamID, "app-1")
		}(i)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, 1, provider.customerCalls)
}

func TestExternalCustomerRollbackOnProviderError(t *testing.T) {
	svc, provider := newTestService(t)
	ctx := context.Background()
	teamID := seedTeam(t, svc)

	provider.customerErr = errors.New("stripe unavailable")
	_, err := svc.GetOrCreateExternalCustomer(ctx, teamID, "app-1")
	assert.Error(t, err)

	// The claim must have been rolled back so a later call can retry.
	var team teamdomain.Team
	assert.NoError(t, svc.db.First(&team, "id = ?", teamID).Error)
	assert.Nil(t, team.ExternalCustomerID)

	provider.customerErr = nil
	id, err := svc.GetOrCreateExternalCustomer(ctx, teamID, "app-1")
	assert.NoError(t, err)
	assert.Equal(t, "cus_1", id)
}

func TestExternalCustomerUnknownTeam(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetOrCreateExternalCustomer(context.Background(), "ghost", "app-1")
	assert.ErrorIs(t, err, teamdomain.ErrTeamNotFound)
}

func TestSubscriptionCheckoutLineItems(t *testing.T) {
	svc, provider := newTestService(t)
	ctx := context.Background()
	teamID := seedTeam(t, svc)

	plan, err := svc.plans.CreatePlan(ctx, plandomain.CreatePlanInput{
		AppID: "app-1",
		Code:  "pro",
		Name:  "Pro",
		ProductMaps: []plandomain.ProductMapInput{
			{Kind: plandomain.ProductMapKindBase, StripeProductID: "prod_base", StripePriceID: "price_base"},
			{Kind: plandomain.ProductMapKindSeat, StripeProductID: "prod_seat", StripePriceID: "price_seat"},
			{Kind: plandomain.ProductMapKindAddon, StripeProductID: "prod_addon", StripePriceID: "price_addon"},
		},
	})
	assert.NoError(t, err)

	seats := 5
	result, err := svc.CreateSubscriptionCheckout(ctx, checkoutdomain.SubscriptionCheckoutInput{
		AppID:      "app-1",
		TeamID:     teamID,
		PlanCode:   "pro",
		SuccessURL: "https://app.test/success",
		CancelURL:  "https://app.test/cancel",
		Seats:      &seats,
	})
	assert.NoError(t, err)
	assert.Equal(t, "cs_test", result.SessionID)
	assert.Equal(t, "https://checkout.test/cs_test", result.URL)

	assert.Len(t, provider.checkouts, 1)
	checkout := provider.checkouts[0]
	assert.Equal(t, payment.CheckoutModeSubscription, checkout.Mode)
	assert.Equal(t, plan.ID, checkout.Metadata["planId"])

	// ADDON mappings are excluded; seats ride the SEAT price.
	assert.Len(t, checkout.LineItems, 2)
	byPrice := map[string]int64{}
	for _, item := range checkout.LineItems {
		byPrice[item.PriceID] = item.Quantity
	}
	assert.Equal(t, int64(1), byPrice["price_base"])
	assert.Equal(t, int64(5), byPrice["price_seat"])
}

func TestSubscriptionCheckoutUnknownPlan(t *testing.T) {
	svc, _ := newTestService(t)
	teamID := seedTeam(t, svc)

	_, err := svc.CreateSubscriptionCheckout(context.Background(), checkoutdomain.SubscriptionCheckoutInput{
		AppID:    "app-1",
		TeamID:   teamID,
		PlanCode: "ghost",
	})
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
}

func TestTopupCheckout(t *testing.T) {
	svc, provider := newTestService(t)
	ctx := context.Background()
	teamID := seedTeam(t, svc)

	_, err := svc.CreateTopupCheckout(ctx, checkoutdomain.TopupCheckoutInput{
		AppID:       "app-1",
		TeamID:      teamID,
		AmountMinor: 5000,
		Currency:    "USD",
	})
	assert.NoError(t, err)

	assert.Len(t, provider.checkouts, 1)
	checkout := provider.checkouts[0]
	assert.Equal(t, payment.CheckoutModePayment, checkout.Mode)
	assert.Equal(t, "wallet_topup", checkout.PaymentIntentMetadata["type"])
	assert.Len(t, checkout.LineItems, 1)
	assert.Equal(t, int64(5000), checkout.LineItems[0].AmountMinor)
	assert.Equal(t, "usd", checkout.LineItems[0].Currency)
}

func TestTopupCheckoutRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateTopupCheckout(context.Background(), checkoutdomain.TopupCheckoutInput{
		AppID:  "app-1",
		TeamID: "team-1",
	})
	assert.ErrorIs(t, err, checkoutdomain.ErrInvalidTopupAmount)
}
