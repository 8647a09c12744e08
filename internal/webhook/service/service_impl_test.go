package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/meterbill/internal/clock"
	ledgerdomain "github.com/smallbiznis/meterbill/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/meterbill/internal/ledger/service"
	plandomain "github.com/smallbiznis/meterbill/internal/plan/domain"
	planservice "github.com/smallbiznis/meterbill/internal/plan/service"
	"github.com/smallbiznis/meterbill/internal/providers/payment"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	subscriptionservice "github.com/smallbiznis/meterbill/internal/subscription/service"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	teamservice "github.com/smallbiznis/meterbill/internal/team/service"
	webhookdomain "github.com/smallbiznis/meterbill/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	stripe "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeProvider struct {
	event *stripe.Event
	sub   *stripe.Subscription
}

func (f *fakeProvider) CreateCustomer(context.Context, payment.CustomerInput) (string, error) {
	return "cus_test", nil
}

func (f *fakeProvider) CreateCheckoutSession(context.Context, payment.CheckoutInput) (*payment.CheckoutSession, error) {
	return &payment.CheckoutSession{ID: "cs_test", URL: "https://checkout.test"}, nil
}

func (f *fakeProvider) CreatePaymentIntent(context.Context, payment.PaymentIntentInput) (*payment.PaymentIntent, error) {
	return &payment.PaymentIntent{ID: "pi_test", Status: "succeeded"}, nil
}

func (f *fakeProvider) GetSubscription(context.Context, string) (*stripe.Subscription, error) {
	return f.sub, nil
}

func (f *fakeProvider) VerifyWebhookSignature(_ []byte, sigHeader string) (*stripe.Event, error) {
	if sigHeader != "valid" {
		return nil, payment.ErrSignatureInvalid
	}
	return f.event, nil
}

type refresherSpy struct {
	teamIDs []string
}

func (r *refresherSpy) RefreshEntitlements(_ context.Context, teamID string) error {
	r.teamIDs = append(r.teamIDs, teamID)
	return nil
}

type fixture struct {
	db       *gorm.DB
	svc      webhookdomain.Service
	provider *fakeProvider
	refresh  *refresherSpy
	ledger   ledgerdomain.Service
	subs     subscriptiondomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	err = conn.AutoMigrate(
		&teamdomain.Team{},
		&teamdomain.BillingEntity{},
		&plandomain.Plan{},
		&plandomain.StripeProductMap{},
		&subscriptiondomain.TeamSubscription{},
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerEntry{},
		&webhookdomain.WebhookEvent{},
	)
	if err != nil {
		t.Fatal(err)
	}

	assert.NoError(t, conn.Create(&teamdomain.Team{
		ID:              "team-1",
		AppID:           "app-1",
		Name:            "team-1",
		Kind:            teamdomain.TeamKindStandard,
		BillingMode:     teamdomain.BillingModeSubscription,
		DefaultCurrency: "USD",
	}).Error)
	assert.NoError(t, conn.Create(&teamdomain.BillingEntity{
		ID:     "bill-1",
		Type:   teamdomain.BillingEntityTypeTeam,
		TeamID: "team-1",
	}).Error)
	assert.NoError(t, conn.Create(&plandomain.Plan{
		ID:    "plan-1",
		AppID: "app-1",
		Code:  "pro",
		Name:  "Pro",
	}).Error)

	provider := &fakeProvider{}
	refresh := &refresherSpy{}
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: conn, Log: zap.NewNop()})
	teams := teamservice.NewService(teamservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
	})
	plans := planservice.NewService(planservice.Params{DB: conn, Log: zap.NewNop()})
	subs := subscriptionservice.NewService(subscriptionservice.Params{DB: conn, Log: zap.NewNop()})

	svc := NewService(Params{
		DB:            conn,
		Log:           zap.NewNop(),
		Provider:      provider,
		Teams:         teams,
		Plans:         plans,
		Subscriptions: subs,
		Ledger:        ledger,
		Refresher:     refresh,
	})
	return &fixture{db: conn, svc: svc, provider: provider, refresh: refresh, ledger: ledger, subs: subs}
}

func makeEvent(t *testing.T, id, eventType string, object any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatal(err)
	}
	return &stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestProcessEventRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ProcessEvent(context.Background(), []byte("{}"), "bogus")
	assert.ErrorIs(t, err, payment.ErrSignatureInvalid)
}

func TestCheckoutSessionCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	periodStart := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	f.provider.sub = &stripe.Subscription{
		ID:     "sub_1",
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
			{Quantity: 1, CurrentPeriodStart: periodStart.Unix(), CurrentPeriodEnd: periodEnd.Unix()},
			{Quantity: 4},
		}},
	}
	f.provider.event = makeEvent(t, "evt_1", "checkout.session.completed", map[string]any{
		"id":           "cs_1",
		"mode":         "subscription",
		"subscription": "sub_1",
		"amount_total": 2900,
		"currency":     "usd",
		"metadata": map[string]string{
			"teamId": "team-1",
			"appId":  "app-1",
			"planId": "plan-1",
		},
	})

	result, err := f.svc.ProcessEvent(ctx, []byte("{}"), "valid")
	assert.NoError(t, err)
	assert.True(t, result.Received)
	assert.False(t, result.Duplicate)

	row, err := f.subs.GetByStripeID(ctx, "sub_1")
	assert.NoError(t, err)
	assert.Equal(t, "team-1", row.TeamID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, row.Status)
	assert.Equal(t, 5, row.SeatsQuantity)
	assert.NotNil(t, row.CurrentPeriodStart)
	assert.Equal(t, periodStart, row.CurrentPeriodStart.UTC())

	var entry ledgerdomain.LedgerEntry
	assert.NoError(t, f.db.First(&entry, "idempotency_key = ?", "checkout:evt_1").Error)
	assert.Equal(t, int64(2900), entry.AmountMinor)
	assert.Equal(t, ledgerdomain.EntryTypeSubscriptionCharge, entry.Type)
	assert.Equal(t, "USD", entry.Currency)

	assert.Equal(t, []string{"team-1"}, f.refresh.teamIDs)
}

func TestCheckoutSessionCompletedDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.provider.sub = &stripe.Subscription{
		ID:     "sub_1",
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
			{Quantity: 2},
		}},
	}
	f.provider.event = makeEvent(t, "evt_dup", "checkout.session.completed", map[string]any{
		"id":           "cs_1",
		"mode":         "subscription",
		"subscription": "sub_1",
		"amount_total": 1000,
		"currency":     "usd",
		"metadata": map[string]string{
			"teamId": "team-1",
			"appId":  "app-1",
			"planId": "plan-1",
		},
	})

	first, err := f.svc.ProcessEvent(ctx, []byte("{}"), "valid")
	assert.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.svc.ProcessEvent(ctx, []byte("{}"), "valid")
	assert.NoError(t, err)
	assert.True(t, second.Received)
	assert.True(t, second.Duplicate)

	var subCount, entryCount int64
	assert.NoError(t, f.db.Model(&subscriptiondomain.TeamSubscription{}).Count(&subCount).Error)
	assert.NoError(t, f.db.Model(&ledgerdomain.LedgerEntry{}).
		Where("idempotency_key = ?", "checkout:evt_dup").
		Count(&entryCount).Error)
	assert.Equal(t, int64(1), subCount)
	assert.Equal(t, int64(1), entryCount)
	assert.Len(t, f.refresh.teamIDs, 1)
}

func TestSubscriptionDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.subs.Upsert(ctx, subscriptiondomain.UpsertInput{
		TeamID:               "team-1",
		PlanID:               "plan-1",
		StripeSubscriptionID: "sub_1",
		Status:               subscriptiondomain.SubscriptionStatusActive,
		SeatsQuantity:        3,
	})
	assert.NoError(t, err)

	f.provider.event = makeEvent(t, "evt_del", "customer.subscription.deleted", map[string]any{
		"id":     "sub_1",
		"status": "canceled",
	})
	_, err = f.svc.ProcessEvent(ctx, []byte("{}"), "valid")
	assert.NoError(t, err)

	row, err := f.subs.GetByStripeID(ctx, "sub_1")
	assert.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, row.Status)
	assert.Equal(t, 3, row.SeatsQuantity)
	assert.Equal(t, []string{"team-1"}, f.refresh.teamIDs)
}

func TestSubscriptionUpdatedUnknownIsIgnored(t *testing.T) {
	f := newFixture(t)

	f.provider.event = makeEvent(t, "evt_upd", "customer.subscription.updated", map[string]any{
		"id":     "sub_ghost",
		"status": "past_due",
	})
	result, err := f.svc.ProcessEvent(context.Background(), []byte("{}"), "valid")
	assert.NoError(t, err)
	assert.True(t, result.Received)
	assert.Empty(t, f.refresh.teamIDs)
}

func TestInvoicePaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.subs.Upsert(ctx, subscriptiondomain.UpsertInput{
		TeamID:               "team-1",
		PlanID:               "plan-1",
		StripeSubscriptionID: "sub_1",
		Status:               subscriptiondomain.SubscriptionStatusActive,
		SeatsQuantity:        1,
	})
	assert.NoError(t, err)

	f.provider.event = makeEvent(t, "evt_inv", "invoice.paid", map[string]any{
		"id":          "in_1",
		"amount_paid": 5000,
		"currency":    "usd",
		"parent": map[string]any{
			"subscription_details": map[string]any{
				"subscription": "sub_1",
			},
		},
	})
	_, err = f.svc.ProcessEvent(ctx, []byte("{}"), "valid")
	assert.NoError(t, err)

	var entry ledgerdomain.LedgerEntry
	assert.NoError(t, f.db.First(&entry, "idempotency_key = ?", "invoice_paid:evt_inv").Error)
	assert.Equal(t, int64(5000), entry.AmountMinor)
	assert.Equal(t, ledgerdomain.ReferenceTypeStripeInvoice, entry.ReferenceType)
}

func TestInvoicePaymentFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.subs.Upsert(ctx, subscriptiondomain.UpsertInput{
		TeamID:               "team-1",
		PlanID:               "plan-1",
		StripeSubscriptionID: "sub_1",
		Status:               subscriptiondomain.SubscriptionStatusActive,
		SeatsQuantity:        1,
	})
	assert.NoError(t, err)

	f.provider.event = makeEvent(t, "evt_fail", "invoice.payment_failed", map[string]any{
		"id":         "in_1",
		"amount_due": 5000,
		"currency":   "usd",
		"parent": map[string]any{
			"subscription_details": map[string]any{
				"subscription": "sub_1",
			},
		},
	})
	_, err = f.svc.ProcessEvent(ctx, []byte("{}"), "valid")
	assert.NoError(t, err)

	var entry ledgerdomain.LedgerEntry
	assert.NoError(t, f.db.First(&entry, "idempotency_key = ?", "invoice_failed:evt_fail").Error)
	assert.Equal(t, int64(0), entry.AmountMinor)
	assert.Equal(t, ledgerdomain.EntryTypeAdjustment, entry.Type)
	assert.Equal(t, []string{"team-1"}, f.refresh.teamIDs)
}

func TestPaymentIntentTopup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.provider.event = makeEvent(t, "evt_pi", "payment_intent.succeeded", map[string]any{
		"id":       "pi_1",
		"amount":   5000,
		"currency": "usd",
		"metadata": map[string]string{
			"type":    "wallet_topup",
			"trigger": "auto_topup",
			"teamId":  "team-1",
			"appId":   "app-1",
		},
	})
	_, err := f.svc.ProcessEvent(ctx, []byte("{}"), "valid")
	assert.NoError(t, err)

	balance, err := f.ledger.GetBalance(ctx, "app-1", "bill-1", ledgerdomain.AccountTypeWallet)
	assert.NoError(t, err)
	assert.Equal(t, int64(5000), balance)

	// Non-topup intents do not touch the ledger.
	f.provider.event = makeEvent(t, "evt_pi2", "payment_intent.succeeded", map[string]any{
		"id":       "pi_2",
		"amount":   777,
		"currency": "usd",
	})
	_, err = f.svc.ProcessEvent(ctx, []byte("{}"), "valid")
	assert.NoError(t, err)
	balance, err = f.ledger.GetBalance(ctx, "app-1", "bill-1", ledgerdomain.AccountTypeWallet)
	assert.NoError(t, err)
	assert.Equal(t, int64(5000), balance)
}

func TestUnhandledEventTypeAcknowledged(t *testing.T) {
	f := newFixture(t)

	f.provider.event = makeEvent(t, "evt_misc", "charge.refunded", map[string]any{"id": "ch_1"})
	result, err := f.svc.ProcessEvent(context.Background(), []byte("{}"), "valid")
	assert.NoError(t, err)
	assert.True(t, result.Received)
}
