package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	"github.com/smallbiznis/meterbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),
	}
}

// Upsert creates or refreshes the row keyed by stripeSubscriptionID.
func (s *Service) Upsert(ctx context.Context, input subscriptiondomain.UpsertInput) (*subscriptiondomain.TeamSubscription, error) {
	seats := input.SeatsQuantity
	if seats < 1 {
		seats = 1
	}

	existing, err := s.GetByStripeID(ctx, input.StripeSubscriptionID)
	if err == nil {
		return s.applyUpdate(ctx, existing, input.Status, input.CurrentPeriodStart, input.CurrentPeriodEnd, seats)
	}
	if err != subscriptiondomain.ErrSubscriptionNotFound {
		return nil, err
	}

	sub := subscriptiondomain.TeamSubscription{
		ID:                   uuid.NewString(),
		TeamID:               input.TeamID,
		PlanID:               input.PlanID,
		StripeSubscriptionID: input.StripeSubscriptionID,
		Status:               input.Status,
		CurrentPeriodStart:   normalizeTime(input.CurrentPeriodStart),
		CurrentPeriodEnd:     normalizeTime(input.CurrentPeriodEnd),
		SeatsQuantity:        seats,
	}
	if err := s.db.WithContext(ctx).Create(&sub).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			winner, ferr := s.GetByStripeID(ctx, input.StripeSubscriptionID)
			if ferr != nil {
				return nil, err
			}
			return s.applyUpdate(ctx, winner, input.Status, input.CurrentPeriodStart, input.CurrentPeriodEnd, seats)
		}
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("team_id", sub.TeamID),
		zap.String("stripe_subscription_id", sub.StripeSubscriptionID),
	)
	return &sub, nil
}

func (s *Service) UpdateByStripeID(ctx context.Context, stripeSubscriptionID string, status subscriptiondomain.SubscriptionStatus, periodStart, periodEnd *time.Time, seats int) (*subscriptiondomain.TeamSubscription, error) {
	existing, err := s.GetByStripeID(ctx, stripeSubscriptionID)
	if err != nil {
		return nil, err
	}
	if seats < 1 {
		seats = existing.SeatsQuantity
	}
	return s.applyUpdate(ctx, existing, status, periodStart, periodEnd, seats)
}

func (s *Service) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*subscriptiondomain.TeamSubscription, error) {
	var sub subscriptiondomain.TeamSubscription
	err := s.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, subscriptiondomain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Service) GetActiveForApp(ctx context.Context, teamID, appID string) (*subscriptiondomain.TeamSubscription, error) {
	var sub subscriptiondomain.TeamSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN plans ON plans.id = team_subscriptions.plan_id").
		Where("team_subscriptions.team_id = ? AND team_subscriptions.status = ? AND plans.app_id = ?",
			teamID, string(subscriptiondomain.SubscriptionStatusActive), appID).
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, subscriptiondomain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Service) applyUpdate(ctx context.Context, sub *subscriptiondomain.TeamSubscription, status subscriptiondomain.SubscriptionStatus, periodStart, periodEnd *time.Time, seats int) (*subscriptiondomain.TeamSubscription, error) {
	updates := map[string]any{
		"status":         string(status),
		"seats_quantity": seats,
	}
	if periodStart != nil {
		updates["current_period_start"] = periodStart.UTC()
	}
	if periodEnd != nil {
		updates["current_period_end"] = periodEnd.UTC()
	}
	err := s.db.WithContext(ctx).
		Model(&subscriptiondomain.TeamSubscription{}).
		Where("id = ?", sub.ID).
		Updates(updates).Error
	if err != nil {
		return nil, err
	}

	sub.Status = status
	sub.SeatsQuantity = seats
	if periodStart != nil {
		sub.CurrentPeriodStart = normalizeTime(periodStart)
	}
	if periodEnd != nil {
		sub.CurrentPeriodEnd = normalizeTime(periodEnd)
	}
	return sub, nil
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
