package service

import (
	"context"
	"errors"

	contractdomain "github.com/smallbiznis/meterbill/internal/contract/domain"
	entitlementdomain "github.com/smallbiznis/meterbill/internal/entitlement/domain"
	plandomain "github.com/smallbiznis/meterbill/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// The resolver reads contracts straight off the store rather than
// through the contract service: the contract service calls back into
// RefreshEntitlements on status changes, which would otherwise close a
// construction cycle.
type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Teams         teamdomain.Service
	Subscriptions subscriptiondomain.Service
	Plans         plandomain.Service
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	teams         teamdomain.Service
	subscriptions subscriptiondomain.Service
	plans         plandomain.Service
}

func NewService(p Params) entitlementdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("entitlement.service"),
		teams:         p.Teams,
		subscriptions: p.Subscriptions,
		plans:         p.Plans,
	}
}

// Resolve computes the effective entitlements for (app, team): the
// enterprise-contract cascade when an active contract covers the app,
// the subscription path otherwise.
func (s *Service) Resolve(ctx context.Context, appID, teamID string) (*entitlementdomain.Entitlements, error) {
	team, err := s.teams.GetTeam(ctx, appID, teamID)
	if err != nil {
		return nil, err
	}

	entity, err := s.teams.GetBillingEntity(ctx, teamID)
	if err != nil {
		if errors.Is(err, teamdomain.ErrBillingEntityNotFound) {
			return s.resolveSubscription(ctx, appID, team)
		}
		return nil, err
	}

	contract, err := s.activeContract(ctx, entity.ID)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return s.resolveSubscription(ctx, appID, team)
	}

	return s.resolveContract(appID, team, contract), nil
}

// RefreshEntitlements is the post-change hook. Entitlements are
// recomputed on every read, so there is no cache to invalidate.
func (s *Service) RefreshEntitlements(_ context.Context, teamID string) error {
	s.log.Debug("entitlement refresh requested", zap.String("team_id", teamID))
	return nil
}

func (s *Service) activeContract(ctx context.Context, billToID string) (*contractdomain.Contract, error) {
	var contract contractdomain.Contract
	err := s.db.WithContext(ctx).
		Preload("Bundle").
		Preload("Bundle.Apps").
		Preload("Bundle.MeterPolicies").
		Preload("Overrides").
		Where("bill_to_id = ? AND status = ?", billToID, string(contractdomain.ContractStatusActive)).
		First(&contract).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &contract, nil
}

func (s *Service) resolveContract(appID string, team *teamdomain.Team, contract *contractdomain.Contract) *entitlementdomain.Entitlements {
	if contract.Bundle == nil {
		return defaults(team)
	}

	var bundleApp *contractdomain.BundleApp
	for i := range contract.Bundle.Apps {
		if contract.Bundle.Apps[i].AppID == appID {
			bundleApp = &contract.Bundle.Apps[i]
			break
		}
	}
	// A contract whose bundle does not cover this app confers nothing.
	if bundleApp == nil {
		return defaults(team)
	}

	features := map[string]bool{}
	for flag, enabled := range bundleApp.DefaultFeatureFlags.Data() {
		features[flag] = enabled
	}

	meters := map[string]entitlementdomain.MeterPolicy{}
	for _, policy := range contract.Bundle.MeterPolicies {
		if policy.AppID != appID {
			continue
		}
		meters[policy.MeterKey] = entitlementdomain.MeterPolicy{
			LimitType:      policy.LimitType,
			IncludedAmount: policy.IncludedAmount,
			Enforcement:    policy.Enforcement,
			OverageBilling: policy.OverageBilling,
		}
	}

	for _, override := range contract.Overrides {
		if override.AppID != appID {
			continue
		}
		merged, ok := meters[override.MeterKey]
		if !ok {
			merged = entitlementdomain.DefaultMeterPolicy()
		}
		if override.LimitType != nil {
			merged.LimitType = *override.LimitType
		}
		if override.IncludedAmount != nil {
			merged.IncludedAmount = override.IncludedAmount
		}
		if override.Enforcement != nil {
			merged.Enforcement = *override.Enforcement
		}
		if override.OverageBilling != nil {
			merged.OverageBilling = *override.OverageBilling
		}
		meters[override.MeterKey] = merged

		for flag, enabled := range override.FeatureFlags.Data() {
			features[flag] = enabled
		}
	}

	return &entitlementdomain.Entitlements{
		Features:    features,
		Meters:      meters,
		BillingMode: entitlementdomain.BillingModeEnterpriseContract,
		Billable:    true,
	}
}

func (s *Service) resolveSubscription(ctx context.Context, appID string, team *teamdomain.Team) (*entitlementdomain.Entitlements, error) {
	subscription, err := s.subscriptions.GetActiveForApp(ctx, team.ID, appID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			return defaults(team), nil
		}
		return nil, err
	}

	plan, err := s.plans.GetPlanByID(ctx, subscription.PlanID)
	if err != nil {
		return nil, err
	}

	return &entitlementdomain.Entitlements{
		Features:    map[string]bool{},
		Meters:      map[string]entitlementdomain.MeterPolicy{},
		BillingMode: string(team.BillingMode),
		Billable:    true,
		PlanCode:    &plan.Code,
		PlanName:    &plan.Name,
	}, nil
}

func defaults(team *teamdomain.Team) *entitlementdomain.Entitlements {
	return &entitlementdomain.Entitlements{
		Features:    map[string]bool{},
		Meters:      map[string]entitlementdomain.MeterPolicy{},
		BillingMode: string(team.BillingMode),
		Billable:    false,
	}
}
