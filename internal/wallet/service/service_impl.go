package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/meterbill/internal/clock"
	ledgerdomain "github.com/smallbiznis/meterbill/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/meterbill/internal/observability/metrics"
	pricingdomain "github.com/smallbiznis/meterbill/internal/pricing/domain"
	"github.com/smallbiznis/meterbill/internal/providers/payment"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	walletdomain "github.com/smallbiznis/meterbill/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Ledger     ledgerdomain.Service
	Provider   payment.Provider
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	ledger     ledgerdomain.Service
	provider   payment.Provider
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) walletdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("wallet.service"),
		clock:      p.Clock,
		ledger:     p.Ledger,
		provider:   p.Provider,
		obsMetrics: p.ObsMetrics,
	}
}

// DebitImmediate charges the wallet for one customer line item right
// after pricing. Already-debited items, non-customer items, and
// non-wallet teams are skipped without error.
func (s *Service) DebitImmediate(ctx context.Context, lineItemID string) error {
	var item pricingdomain.BillableLineItem
	if err := s.db.WithContext(ctx).First(&item, "id = ?", lineItemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return walletdomain.ErrLineItemNotFound
		}
		return err
	}
	if item.WalletDebitedAt != nil {
		return nil
	}
	if item.Kind != pricingdomain.PriceBookKindCustomer {
		return nil
	}

	var team teamdomain.Team
	if err := s.db.WithContext(ctx).First(&team, "id = ?", item.TeamID).Error; err != nil {
		return err
	}
	if team.BillingMode != teamdomain.BillingModeWallet {
		return nil
	}

	_, err := s.ledger.CreateEntry(ctx, ledgerdomain.CreateEntryInput{
		AppID:          item.AppID,
		BillToID:       item.BillToID,
		AccountType:    ledgerdomain.AccountTypeWallet,
		Type:           ledgerdomain.EntryTypeUsageCharge,
		AmountMinor:    -item.AmountMinor,
		Currency:       item.Currency,
		ReferenceType:  ledgerdomain.ReferenceTypeUsageEvent,
		ReferenceID:    &item.UsageEventID,
		IdempotencyKey: "wallet-debit:" + item.ID,
		Metadata:       map[string]any{"lineItemId": item.ID},
	})
	if err != nil && !errors.Is(err, ledgerdomain.ErrDuplicateEntry) {
		s.obsMetrics.RecordWalletDebit(ctx, "immediate", "failed")
		return err
	}

	now := s.clock.Now().UTC()
	err = s.db.WithContext(ctx).
		Model(&pricingdomain.BillableLineItem{}).
		Where("id = ?", item.ID).
		Update("wallet_debited_at", now).Error
	if err != nil {
		return err
	}
	s.obsMetrics.RecordWalletDebit(ctx, "immediate", "ok")

	if err := s.CheckAndTriggerAutoTopUp(ctx, item.AppID, item.TeamID); err != nil {
		s.log.Error("auto-topup check failed",
			zap.String("team_id", item.TeamID),
			zap.String("app_id", item.AppID),
			zap.Error(err),
		)
	}
	return nil
}

// DebitBatch sweeps undebited customer line items grouped per
// (team, app, currency) into one wallet charge each. Amounts in
// different currencies never sum into one entry. The group key is
// deterministic over the sorted item IDs so reruns are idempotent.
func (s *Service) DebitBatch(ctx context.Context) (*walletdomain.BatchResult, error) {
	var items []pricingdomain.BillableLineItem
	err := s.db.WithContext(ctx).
		Where("wallet_debited_at IS NULL AND kind = ?", string(pricingdomain.PriceBookKindCustomer)).
		Order("timestamp ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	type groupKey struct{ teamID, appID, currency string }
	groups := map[groupKey][]pricingdomain.BillableLineItem{}
	for _, item := range items {
		key := groupKey{teamID: item.TeamID, appID: item.AppID, currency: item.Currency}
		groups[key] = append(groups[key], item)
	}

	keys := make([]groupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].teamID != keys[j].teamID {
			return keys[i].teamID < keys[j].teamID
		}
		if keys[i].appID != keys[j].appID {
			return keys[i].appID < keys[j].appID
		}
		return keys[i].currency < keys[j].currency
	})

	result := &walletdomain.BatchResult{Groups: len(keys)}
	for _, key := range keys {
		group := groups[key]

		var team teamdomain.Team
		if err := s.db.WithContext(ctx).First(&team, "id = ?", key.teamID).Error; err != nil {
			result.Failed++
			continue
		}
		if team.BillingMode != teamdomain.BillingModeWallet {
			result.Skipped++
			continue
		}

		if err := s.debitGroup(ctx, key.appID, group); err != nil {
			s.log.Error("wallet batch debit failed",
				zap.String("team_id", key.teamID),
				zap.String("app_id", key.appID),
				zap.Error(err),
			)
			s.obsMetrics.RecordWalletDebit(ctx, "batch", "failed")
			result.Failed++
			continue
		}
		s.obsMetrics.RecordWalletDebit(ctx, "batch", "ok")
		result.Debited++

		if err := s.CheckAndTriggerAutoTopUp(ctx, key.appID, key.teamID); err != nil {
			s.log.Error("auto-topup check failed",
				zap.String("team_id", key.teamID),
				zap.String("app_id", key.appID),
				zap.Error(err),
			)
		}
	}
	return result, nil
}

func (s *Service) debitGroup(ctx context.Context, appID string, group []pricingdomain.BillableLineItem) error {
	ids := make([]string, 0, len(group))
	total := int64(0)
	for _, item := range group {
		ids = append(ids, item.ID)
		total += item.AmountMinor
	}
	sort.Strings(ids)

	teamID := group[0].TeamID
	key := "wallet-batch:" + teamID + ":" + appID + ":" + strings.Join(ids, ",")

	_, err := s.ledger.CreateEntry(ctx, ledgerdomain.CreateEntryInput{
		AppID:          appID,
		BillToID:       group[0].BillToID,
		AccountType:    ledgerdomain.AccountTypeWallet,
		Type:           ledgerdomain.EntryTypeUsageCharge,
		AmountMinor:    -total,
		Currency:       group[0].Currency,
		ReferenceType:  ledgerdomain.ReferenceTypeManual,
		IdempotencyKey: key,
		Metadata:       map[string]any{"lineItemIds": ids},
	})
	if err != nil && !errors.Is(err, ledgerdomain.ErrDuplicateEntry) {
		return err
	}

	now := s.clock.Now().UTC()
	return s.db.WithContext(ctx).
		Model(&pricingdomain.BillableLineItem{}).
		Where("id IN ?", ids).
		Update("wallet_debited_at", now).Error
}

// CheckAndTriggerAutoTopUp issues a non-interactive top-up payment
// intent when the wallet balance falls below the configured threshold.
func (s *Service) CheckAndTriggerAutoTopUp(ctx context.Context, appID, teamID string) error {
	var config walletdomain.WalletConfig
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND app_id = ?", teamID, appID).
		First(&config).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if !config.AutoTopUpEnabled || config.TopUpAmountMinor <= 0 {
		return nil
	}

	var entity teamdomain.BillingEntity
	if err := s.db.WithContext(ctx).First(&entity, "team_id = ?", teamID).Error; err != nil {
		return err
	}

	balance, err := s.ledger.GetBalance(ctx, appID, entity.ID, ledgerdomain.AccountTypeWallet)
	if err != nil {
		return err
	}
	if balance >= config.ThresholdMinor {
		return nil
	}

	var team teamdomain.Team
	if err := s.db.WithContext(ctx).First(&team, "id = ?", teamID).Error; err != nil {
		return err
	}
	if team.ExternalCustomerID == nil || strings.HasPrefix(*team.ExternalCustomerID, "pending:") {
		s.log.Warn("auto-topup skipped: team has no external customer",
			zap.String("team_id", teamID),
		)
		return nil
	}

	_, err = s.provider.CreatePaymentIntent(ctx, payment.PaymentIntentInput{
		CustomerID:  *team.ExternalCustomerID,
		AmountMinor: config.TopUpAmountMinor,
		Currency:    strings.ToLower(config.Currency),
		Metadata: map[string]string{
			"type":    "wallet_topup",
			"trigger": "auto_topup",
			"teamId":  teamID,
			"appId":   appID,
		},
	})
	if err != nil {
		return err
	}

	s.log.Info("auto-topup payment intent created",
		zap.String("team_id", teamID),
		zap.String("app_id", appID),
		zap.Int64("amount_minor", config.TopUpAmountMinor),
	)
	return nil
}

// UpsertConfig creates or replaces the auto-topup policy.
func (s *Service) UpsertConfig(ctx context.Context, input walletdomain.UpsertConfigInput) (*walletdomain.WalletConfig, error) {
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "USD"
	}

	var config walletdomain.WalletConfig
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND app_id = ?", input.TeamID, input.AppID).
		First(&config).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		config = walletdomain.WalletConfig{
			ID:     uuid.NewString(),
			TeamID: input.TeamID,
			AppID:  input.AppID,
		}
	}

	config.AutoTopUpEnabled = input.AutoTopUpEnabled
	config.ThresholdMinor = input.ThresholdMinor
	config.TopUpAmountMinor = input.TopUpAmountMinor
	config.Currency = currency

	if err := s.db.WithContext(ctx).Save(&config).Error; err != nil {
		return nil, err
	}
	return &config, nil
}
