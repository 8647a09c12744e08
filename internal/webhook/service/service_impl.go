package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	contractdomain "github.com/smallbiznis/meterbill/internal/contract/domain"
	ledgerdomain "github.com/smallbiznis/meterbill/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/meterbill/internal/observability/metrics"
	plandomain "github.com/smallbiznis/meterbill/internal/plan/domain"
	"github.com/smallbiznis/meterbill/internal/providers/payment"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	webhookdomain "github.com/smallbiznis/meterbill/internal/webhook/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Provider      payment.Provider
	Teams         teamdomain.Service
	Plans         plandomain.Service
	Subscriptions subscriptiondomain.Service
	Ledger        ledgerdomain.Service
	Refresher     contractdomain.Refresher `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	provider      payment.Provider
	teams         teamdomain.Service
	plans         plandomain.Service
	subscriptions subscriptiondomain.Service
	ledger        ledgerdomain.Service
	refresher     contractdomain.Refresher
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) webhookdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("webhook.service"),
		provider:      p.Provider,
		teams:         p.Teams,
		plans:         p.Plans,
		subscriptions: p.Subscriptions,
		ledger:        p.Ledger,
		refresher:     p.Refresher,
		obsMetrics:    p.ObsMetrics,
	}
}

// ProcessEvent verifies the signature over the raw body, dedups by
// processor event ID, and routes to the matching handler. Handler
// errors propagate so the processor retries; ledger duplicates inside
// handlers are swallowed.
func (s *Service) ProcessEvent(ctx context.Context, payload []byte, sigHeader string) (*webhookdomain.Result, error) {
	event, err := s.provider.VerifyWebhookSignature(payload, sigHeader)
	if err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, "stripe", "unknown", "signature_invalid")
		return nil, err
	}

	eventType := string(event.Type)
	inserted, err := s.recordEvent(ctx, event.ID, eventType)
	if err != nil {
		return nil, err
	}
	if !inserted {
		s.log.Info("duplicate webhook event ignored",
			zap.String("event_id", event.ID),
			zap.String("event_type", eventType),
		)
		s.obsMetrics.RecordWebhookEvent(ctx, "stripe", eventType, "duplicate")
		return &webhookdomain.Result{Received: true, Duplicate: true, EventType: eventType}, nil
	}

	if err := s.route(ctx, event); err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, "stripe", eventType, "failed")
		return nil, err
	}
	s.obsMetrics.RecordWebhookEvent(ctx, "stripe", eventType, "ok")
	return &webhookdomain.Result{Received: true, EventType: eventType}, nil
}

func (s *Service) route(ctx context.Context, event *stripe.Event) error {
	switch string(event.Type) {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.updated":
		return s.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	case "invoice.paid":
		return s.handleInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return s.handleInvoicePaymentFailed(ctx, event)
	case "payment_intent.succeeded":
		return s.handlePaymentIntentSucceeded(ctx, event)
	default:
		s.log.Debug("unhandled webhook event type", zap.String("event_type", string(event.Type)))
		return nil
	}
}

// recordEvent inserts the dedup row. Returns false when the event ID
// was seen before.
func (s *Service) recordEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	result := s.db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (id, event_id, event_type, processed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (event_id) DO NOTHING`,
		uuid.NewString(), eventID, eventType, time.Now().UTC(),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return err
	}
	if session.Mode != stripe.CheckoutSessionModeSubscription {
		return nil
	}

	teamID := session.Metadata["teamId"]
	planID := session.Metadata["planId"]
	if teamID == "" || planID == "" || session.Subscription == nil {
		s.log.Warn("checkout session missing metadata, skipping",
			zap.String("event_id", event.ID),
			zap.String("session_id", session.ID),
		)
		return nil
	}

	sub, err := s.provider.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return err
	}
	periodStart, periodEnd, seats := subscriptionTerms(sub)

	row, err := s.subscriptions.Upsert(ctx, subscriptiondomain.UpsertInput{
		TeamID:               teamID,
		PlanID:               planID,
		StripeSubscriptionID: sub.ID,
		Status:               subscriptiondomain.StatusFromStripe(string(sub.Status)),
		CurrentPeriodStart:   periodStart,
		CurrentPeriodEnd:     periodEnd,
		SeatsQuantity:        seats,
	})
	if err != nil {
		return err
	}

	entity, err := s.teams.GetBillingEntity(ctx, teamID)
	if err != nil {
		return err
	}
	appID := session.Metadata["appId"]
	if appID == "" {
		plan, perr := s.plans.GetPlanByID(ctx, planID)
		if perr != nil {
			return perr
		}
		appID = plan.AppID
	}

	_, err = s.ledger.CreateEntry(ctx, ledgerdomain.CreateEntryInput{
		AppID:          appID,
		BillToID:       entity.ID,
		AccountType:    ledgerdomain.AccountTypeRevenue,
		Type:           ledgerdomain.EntryTypeSubscriptionCharge,
		AmountMinor:    session.AmountTotal,
		Currency:       strings.ToUpper(string(session.Currency)),
		ReferenceType:  ledgerdomain.ReferenceTypeManual,
		ReferenceID:    &session.ID,
		IdempotencyKey: "checkout:" + event.ID,
		Metadata: map[string]any{
			"checkoutSessionId":    session.ID,
			"stripeSubscriptionId": sub.ID,
		},
	})
	if err != nil && !errors.Is(err, ledgerdomain.ErrDuplicateEntry) {
		return err
	}

	s.log.Info("checkout session completed",
		zap.String("team_id", teamID),
		zap.String("stripe_subscription_id", sub.ID),
		zap.Int("seats", row.SeatsQuantity),
	)
	return s.refreshEntitlements(ctx, teamID)
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return err
	}
	periodStart, periodEnd, seats := subscriptionTerms(&sub)

	row, err := s.subscriptions.UpdateByStripeID(ctx, sub.ID,
		subscriptiondomain.StatusFromStripe(string(sub.Status)),
		periodStart, periodEnd, seats)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			s.log.Warn("subscription update for unknown subscription",
				zap.String("stripe_subscription_id", sub.ID),
			)
			return nil
		}
		return err
	}
	return s.refreshEntitlements(ctx, row.TeamID)
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return err
	}

	row, err := s.subscriptions.UpdateByStripeID(ctx, sub.ID,
		subscriptiondomain.SubscriptionStatusCanceled, nil, nil, 0)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			s.log.Warn("subscription delete for unknown subscription",
				zap.String("stripe_subscription_id", sub.ID),
			)
			return nil
		}
		return err
	}
	return s.refreshEntitlements(ctx, row.TeamID)
}

func (s *Service) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return err
	}
	subID := invoiceSubscriptionID(&inv)
	if subID == "" {
		return nil
	}

	row, err := s.subscriptions.GetByStripeID(ctx, subID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			s.log.Warn("invoice.paid for unknown subscription",
				zap.String("stripe_subscription_id", subID),
			)
			return nil
		}
		return err
	}

	entity, err := s.teams.GetBillingEntity(ctx, row.TeamID)
	if err != nil {
		return err
	}
	plan, err := s.plans.GetPlanByID(ctx, row.PlanID)
	if err != nil {
		return err
	}

	_, err = s.ledger.CreateEntry(ctx, ledgerdomain.CreateEntryInput{
		AppID:          plan.AppID,
		BillToID:       entity.ID,
		AccountType:    ledgerdomain.AccountTypeRevenue,
		Type:           ledgerdomain.EntryTypeSubscriptionCharge,
		AmountMinor:    inv.AmountPaid,
		Currency:       strings.ToUpper(string(inv.Currency)),
		ReferenceType:  ledgerdomain.ReferenceTypeStripeInvoice,
		ReferenceID:    &inv.ID,
		IdempotencyKey: "invoice_paid:" + event.ID,
	})
	if err != nil && !errors.Is(err, ledgerdomain.ErrDuplicateEntry) {
		return err
	}
	return nil
}

func (s *Service) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return err
	}
	subID := invoiceSubscriptionID(&inv)
	if subID == "" {
		return nil
	}

	row, err := s.subscriptions.GetByStripeID(ctx, subID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			s.log.Warn("invoice.payment_failed for unknown subscription",
				zap.String("stripe_subscription_id", subID),
			)
			return nil
		}
		return err
	}

	entity, err := s.teams.GetBillingEntity(ctx, row.TeamID)
	if err != nil {
		return err
	}
	plan, err := s.plans.GetPlanByID(ctx, row.PlanID)
	if err != nil {
		return err
	}

	_, err = s.ledger.CreateEntry(ctx, ledgerdomain.CreateEntryInput{
		AppID:          plan.AppID,
		BillToID:       entity.ID,
		AccountType:    ledgerdomain.AccountTypeAccountsReceivable,
		Type:           ledgerdomain.EntryTypeAdjustment,
		AmountMinor:    0,
		Currency:       strings.ToUpper(string(inv.Currency)),
		ReferenceType:  ledgerdomain.ReferenceTypeStripeInvoice,
		ReferenceID:    &inv.ID,
		IdempotencyKey: "invoice_failed:" + event.ID,
		Metadata:       map[string]any{"amountDue": inv.AmountDue},
	})
	if err != nil && !errors.Is(err, ledgerdomain.ErrDuplicateEntry) {
		return err
	}
	return s.refreshEntitlements(ctx, row.TeamID)
}

func (s *Service) handlePaymentIntentSucceeded(ctx context.Context, event *stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return err
	}
	if intent.Metadata["type"] != "wallet_topup" {
		return nil
	}

	teamID := intent.Metadata["teamId"]
	appID := intent.Metadata["appId"]
	if teamID == "" || appID == "" {
		s.log.Warn("wallet topup intent missing metadata",
			zap.String("payment_intent_id", intent.ID),
		)
		return nil
	}

	entity, err := s.teams.GetBillingEntity(ctx, teamID)
	if err != nil {
		return err
	}

	_, err = s.ledger.CreateEntry(ctx, ledgerdomain.CreateEntryInput{
		AppID:          appID,
		BillToID:       entity.ID,
		AccountType:    ledgerdomain.AccountTypeWallet,
		Type:           ledgerdomain.EntryTypeTopup,
		AmountMinor:    intent.Amount,
		Currency:       strings.ToUpper(string(intent.Currency)),
		ReferenceType:  ledgerdomain.ReferenceTypeStripePaymentIntent,
		ReferenceID:    &intent.ID,
		IdempotencyKey: "topup:" + event.ID,
		Metadata:       map[string]any{"trigger": intent.Metadata["trigger"]},
	})
	if err != nil && !errors.Is(err, ledgerdomain.ErrDuplicateEntry) {
		return err
	}

	s.log.Info("wallet topup credited",
		zap.String("team_id", teamID),
		zap.Int64("amount_minor", intent.Amount),
	)
	return nil
}

func (s *Service) refreshEntitlements(ctx context.Context, teamID string) error {
	if s.refresher == nil {
		return nil
	}
	if err := s.refresher.RefreshEntitlements(ctx, teamID); err != nil {
		s.log.Error("entitlement refresh failed",
			zap.String("team_id", teamID),
			zap.Error(err),
		)
	}
	return nil
}

// subscriptionTerms pulls the billing period and the seat count out of
// the processor subscription. Period timestamps live on the items.
func subscriptionTerms(sub *stripe.Subscription) (periodStart, periodEnd *time.Time, seats int) {
	if sub.Items == nil {
		return nil, nil, 1
	}
	total := int64(0)
	for _, item := range sub.Items.Data {
		total += item.Quantity
		if periodStart == nil && item.CurrentPeriodStart != 0 {
			start := time.Unix(item.CurrentPeriodStart, 0).UTC()
			periodStart = &start
		}
		if periodEnd == nil && item.CurrentPeriodEnd != 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			periodEnd = &end
		}
	}
	if total < 1 {
		total = 1
	}
	return periodStart, periodEnd, int(total)
}

func invoiceSubscriptionID(inv *stripe.Invoice) string {
	if inv.Parent == nil || inv.Parent.SubscriptionDetails == nil || inv.Parent.SubscriptionDetails.Subscription == nil {
		return ""
	}
	return inv.Parent.SubscriptionDetails.Subscription.ID
}
