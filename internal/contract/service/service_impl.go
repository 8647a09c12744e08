package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/meterbill/internal/clock"
	contractdomain "github.com/smallbiznis/meterbill/internal/contract/domain"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	"github.com/smallbiznis/meterbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Refresher contractdomain.Refresher `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	refresher contractdomain.Refresher
}

func NewService(p Params) contractdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("contract.service"),
		clock:     p.Clock,
		refresher: p.Refresher,
	}
}

func (s *Service) CreateBundle(ctx context.Context, input contractdomain.CreateBundleInput) (*contractdomain.Bundle, error) {
	bundle := contractdomain.Bundle{
		ID:   uuid.NewString(),
		Name: strings.TrimSpace(input.Name),
	}
	for _, app := range input.Apps {
		flags := app.DefaultFeatureFlags
		if flags == nil {
			flags = map[string]bool{}
		}
		bundle.Apps = append(bundle.Apps, contractdomain.BundleApp{
			ID:                  uuid.NewString(),
			BundleID:            bundle.ID,
			AppID:               app.AppID,
			DefaultFeatureFlags: datatypes.NewJSONType(flags),
		})
	}
	for _, policy := range input.MeterPolicies {
		bundle.MeterPolicies = append(bundle.MeterPolicies, contractdomain.BundleMeterPolicy{
			ID:             uuid.NewString(),
			BundleID:       bundle.ID,
			AppID:          policy.AppID,
			MeterKey:       policy.MeterKey,
			LimitType:      defaultLimitType(policy.LimitType),
			IncludedAmount: policy.IncludedAmount,
			Enforcement:    defaultEnforcement(policy.Enforcement),
			OverageBilling: defaultOverageBilling(policy.OverageBilling),
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Apps", "MeterPolicies").Create(&bundle).Error; err != nil {
			return err
		}
		for i := range bundle.Apps {
			if err := tx.Create(&bundle.Apps[i]).Error; err != nil {
				return err
			}
		}
		for i := range bundle.MeterPolicies {
			if err := tx.Create(&bundle.MeterPolicies[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("bundle created", zap.String("bundle_id", bundle.ID))
	return &bundle, nil
}

func (s *Service) GetBundle(ctx context.Context, id string) (*contractdomain.Bundle, error) {
	var bundle contractdomain.Bundle
	err := s.db.WithContext(ctx).
		Preload("Apps").
		Preload("MeterPolicies").
		Where("id = ?", id).
		First(&bundle).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, contractdomain.ErrBundleNotFound
		}
		return nil, err
	}
	return &bundle, nil
}

func (s *Service) CreateContract(ctx context.Context, input contractdomain.CreateContractInput) (*contractdomain.Contract, error) {
	if err := validateContractInput(input); err != nil {
		return nil, err
	}
	if _, err := s.GetBundle(ctx, input.BundleID); err != nil {
		return nil, err
	}

	status := input.Status
	if status == "" {
		status = contractdomain.ContractStatusDraft
	}

	if status == contractdomain.ContractStatusActive {
		if err := s.ensureNoActiveContract(ctx, input.BillToID); err != nil {
			return nil, err
		}
	}

	contract := contractdomain.Contract{
		ID:              uuid.NewString(),
		BillToID:        input.BillToID,
		BundleID:        input.BundleID,
		Status:          status,
		Currency:        normalizeCurrency(input.Currency),
		BillingPeriod:   input.BillingPeriod,
		TermsDays:       input.TermsDays,
		PricingMode:     input.PricingMode,
		BaseAmountMinor: input.BaseAmountMinor,
		MinCommitMinor:  input.MinCommitMinor,
		StartsAt:        input.StartsAt.UTC(),
		EndsAt:          input.EndsAt,
	}
	if err := s.db.WithContext(ctx).Create(&contract).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, contractdomain.ErrActiveContractExists
		}
		return nil, err
	}

	s.log.Info("contract created",
		zap.String("contract_id", contract.ID),
		zap.String("bill_to_id", contract.BillToID),
		zap.String("status", string(contract.Status)),
	)
	return &contract, nil
}

func (s *Service) GetContract(ctx context.Context, id string) (*contractdomain.Contract, error) {
	var contract contractdomain.Contract
	err := s.db.WithContext(ctx).
		Preload("Bundle").
		Preload("Bundle.Apps").
		Preload("Bundle.MeterPolicies").
		Preload("Overrides").
		Where("id = ?", id).
		First(&contract).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, contractdomain.ErrContractNotFound
		}
		return nil, err
	}
	return &contract, nil
}

func (s *Service) UpdateContractStatus(ctx context.Context, id string, status contractdomain.ContractStatus) (*contractdomain.Contract, error) {
	contract, err := s.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if !validTransition(contract.Status, status) {
		return nil, contractdomain.ErrInvalidTransition
	}
	if status == contractdomain.ContractStatusActive && contract.Status != contractdomain.ContractStatusActive {
		if err := s.ensureNoActiveContract(ctx, contract.BillToID); err != nil {
			return nil, err
		}
	}

	err = s.db.WithContext(ctx).
		Model(&contractdomain.Contract{}).
		Where("id = ?", id).
		Update("status", string(status)).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, contractdomain.ErrActiveContractExists
		}
		return nil, err
	}
	contract.Status = status

	if s.refresher != nil {
		teamID, terr := s.teamIDForBillTo(ctx, contract.BillToID)
		if terr != nil {
			s.log.Warn("entitlement refresh skipped", zap.Error(terr))
		} else if rerr := s.refresher.RefreshEntitlements(ctx, teamID); rerr != nil {
			s.log.Warn("entitlement refresh failed", zap.Error(rerr))
		}
	}
	return contract, nil
}

func (s *Service) SetOverride(ctx context.Context, input contractdomain.OverrideInput) (*contractdomain.ContractOverride, error) {
	if _, err := s.GetContract(ctx, input.ContractID); err != nil {
		return nil, err
	}

	flags := input.FeatureFlags
	if flags == nil {
		flags = map[string]bool{}
	}

	var override contractdomain.ContractOverride
	err := s.db.WithContext(ctx).
		Where("contract_id = ? AND app_id = ? AND meter_key = ?", input.ContractID, input.AppID, input.MeterKey).
		First(&override).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		override = contractdomain.ContractOverride{
			ID:             uuid.NewString(),
			ContractID:     input.ContractID,
			AppID:          input.AppID,
			MeterKey:       input.MeterKey,
			LimitType:      input.LimitType,
			IncludedAmount: input.IncludedAmount,
			Enforcement:    input.Enforcement,
			OverageBilling: input.OverageBilling,
			FeatureFlags:   datatypes.NewJSONType(flags),
		}
		if err := s.db.WithContext(ctx).Create(&override).Error; err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		override.LimitType = input.LimitType
		override.IncludedAmount = input.IncludedAmount
		override.Enforcement = input.Enforcement
		override.OverageBilling = input.OverageBilling
		override.FeatureFlags = datatypes.NewJSONType(flags)
		if err := s.db.WithContext(ctx).Save(&override).Error; err != nil {
			return nil, err
		}
	}
	return &override, nil
}

func (s *Service) ActiveContractForBillTo(ctx context.Context, billToID string) (*contractdomain.Contract, error) {
	var contract contractdomain.Contract
	err := s.db.WithContext(ctx).
		Preload("Bundle").
		Preload("Bundle.Apps").
		Preload("Bundle.MeterPolicies").
		Preload("Overrides").
		Where("bill_to_id = ? AND status = ?", billToID, string(contractdomain.ContractStatusActive)).
		First(&contract).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, contractdomain.ErrContractNotFound
		}
		return nil, err
	}
	return &contract, nil
}

func (s *Service) ListDueContracts(ctx context.Context, asOf time.Time) ([]contractdomain.Contract, error) {
	asOf = asOf.UTC()
	var candidates []contractdomain.Contract
	err := s.db.WithContext(ctx).
		Preload("Bundle").
		Preload("Bundle.Apps").
		Preload("Bundle.MeterPolicies").
		Preload("Overrides").
		Where("status = ? AND starts_at <= ?", string(contractdomain.ContractStatusActive), asOf).
		Order("created_at ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	due := make([]contractdomain.Contract, 0, len(candidates))
	for _, contract := range candidates {
		if _, ok := contractdomain.PeriodToClose(contract.StartsAt, contract.BillingPeriod, asOf); ok {
			due = append(due, contract)
		}
	}
	return due, nil
}

func (s *Service) RateCardFor(ctx context.Context, contractID string, kind contractdomain.RateCardKind, ts time.Time) (*contractdomain.ContractRateCard, error) {
	ts = ts.UTC()
	var card contractdomain.ContractRateCard
	err := s.db.WithContext(ctx).
		Where("contract_id = ? AND kind = ? AND effective_from <= ? AND (effective_to IS NULL OR effective_to > ?)",
			contractID, string(kind), ts, ts).
		Order("effective_from DESC").
		First(&card).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &card, nil
}

func (s *Service) ensureNoActiveContract(ctx context.Context, billToID string) error {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&contractdomain.Contract{}).
		Where("bill_to_id = ? AND status = ?", billToID, string(contractdomain.ContractStatusActive)).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return contractdomain.ErrActiveContractExists
	}
	return nil
}

func (s *Service) teamIDForBillTo(ctx context.Context, billToID string) (string, error) {
	var entity teamdomain.BillingEntity
	err := s.db.WithContext(ctx).Where("id = ?", billToID).First(&entity).Error
	if err != nil {
		return "", err
	}
	return entity.TeamID, nil
}

func validateContractInput(input contractdomain.CreateContractInput) error {
	switch input.PricingMode {
	case contractdomain.PricingModeFixed,
		contractdomain.PricingModeFixedPlusTrueup,
		contractdomain.PricingModeMinCommitTrueup,
		contractdomain.PricingModeCustomInvoiceOnly:
	default:
		return contractdomain.ErrInvalidPricingMode
	}
	switch input.BillingPeriod {
	case contractdomain.BillingPeriodMonthly, contractdomain.BillingPeriodQuarterly:
	default:
		return contractdomain.ErrInvalidBillingPeriod
	}
	if input.TermsDays < 1 {
		return contractdomain.ErrInvalidTermsDays
	}
	return nil
}

func validTransition(from, to contractdomain.ContractStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case contractdomain.ContractStatusDraft:
		return to == contractdomain.ContractStatusActive || to == contractdomain.ContractStatusEnded
	case contractdomain.ContractStatusActive:
		return to == contractdomain.ContractStatusPaused || to == contractdomain.ContractStatusEnded
	case contractdomain.ContractStatusPaused:
		return to == contractdomain.ContractStatusActive || to == contractdomain.ContractStatusEnded
	default:
		return false
	}
}

func defaultLimitType(v contractdomain.LimitType) contractdomain.LimitType {
	if v == "" {
		return contractdomain.LimitTypeNone
	}
	return v
}

func defaultEnforcement(v contractdomain.Enforcement) contractdomain.Enforcement {
	if v == "" {
		return contractdomain.EnforcementNone
	}
	return v
}

func defaultOverageBilling(v contractdomain.OverageBilling) contractdomain.OverageBilling {
	if v == "" {
		return contractdomain.OverageBillingNone
	}
	return v
}

func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "USD"
	}
	return currency
}
