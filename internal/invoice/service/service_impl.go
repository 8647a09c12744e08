package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/meterbill/internal/clock"
	contractdomain "github.com/smallbiznis/meterbill/internal/contract/domain"
	invoicedomain "github.com/smallbiznis/meterbill/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/meterbill/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/meterbill/internal/observability/metrics"
	pricingdomain "github.com/smallbiznis/meterbill/internal/pricing/domain"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Node       *snowflake.Node
	Contracts  contractdomain.Service
	Teams      teamdomain.Service
	Ledger     ledgerdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	node       *snowflake.Node
	contracts  contractdomain.Service
	teams      teamdomain.Service
	ledger     ledgerdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		clock:      p.Clock,
		node:       p.Node,
		contracts:  p.Contracts,
		teams:      p.Teams,
		ledger:     p.Ledger,
		obsMetrics: p.ObsMetrics,
	}
}

// RunPeriodClose sweeps every due contract. A contract whose invoice
// already exists for the period only gets its ledger writes re-run,
// which recovers partial prior runs. Per-contract errors never abort
// the batch.
func (s *Service) RunPeriodClose(ctx context.Context, asOf time.Time) (*invoicedomain.CloseResult, error) {
	asOf = asOf.UTC()
	contracts, err := s.contracts.ListDueContracts(ctx, asOf)
	if err != nil {
		return nil, err
	}

	result := &invoicedomain.CloseResult{}
	for i := range contracts {
		contract := &contracts[i]
		period, ok := contractdomain.PeriodToClose(contract.StartsAt, contract.BillingPeriod, asOf)
		if !ok {
			continue
		}

		existing, err := s.findInvoice(ctx, contract.ID, period)
		if err != nil {
			s.log.Error("period-close lookup failed",
				zap.String("contract_id", contract.ID),
				zap.Error(err),
			)
			result.Failed++
			continue
		}
		if existing != nil {
			if err := s.writeLedgerEntries(ctx, contract, existing); err != nil {
				s.log.Error("period-close ledger recovery failed",
					zap.String("contract_id", contract.ID),
					zap.String("invoice_id", existing.ID),
					zap.Error(err),
				)
				result.Failed++
				continue
			}
			result.Skipped++
			continue
		}

		if _, err := s.closeContractPeriod(ctx, contract, period); err != nil {
			s.log.Error("period-close failed",
				zap.String("contract_id", contract.ID),
				zap.Error(err),
			)
			result.Failed++
			continue
		}
		result.Processed++
	}

	s.log.Info("period-close run finished",
		zap.Time("as_of", asOf),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// Generate issues an on-demand invoice for an explicit period. Reruns
// for the same (team, period) return the existing invoice.
func (s *Service) Generate(ctx context.Context, input invoicedomain.GenerateInput) (*invoicedomain.Invoice, error) {
	if !input.PeriodEnd.After(input.PeriodStart) {
		return nil, invoicedomain.ErrInvalidPeriod
	}

	entity, err := s.teams.GetBillingEntity(ctx, input.TeamID)
	if err != nil {
		return nil, err
	}
	contract, err := s.contracts.ActiveContractForBillTo(ctx, entity.ID)
	if err != nil {
		return nil, err
	}

	period := contractdomain.Period{Start: input.PeriodStart.UTC(), End: input.PeriodEnd.UTC()}
	existing, err := s.findInvoice(ctx, contract.ID, period)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return s.closeContractPeriod(ctx, contract, period)
}

func (s *Service) GetInvoice(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&invoice, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoicedomain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

// MarkPaid settles an issued invoice. Already-paid invoices are
// returned unchanged.
func (s *Service) MarkPaid(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	invoice, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status == invoicedomain.InvoiceStatusPaid {
		return invoice, nil
	}
	if invoice.Status != invoicedomain.InvoiceStatusIssued {
		return nil, invoicedomain.ErrInvoiceNotIssued
	}

	err = s.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("id = ?", invoice.ID).
		Update("status", string(invoicedomain.InvoiceStatusPaid)).Error
	if err != nil {
		return nil, err
	}
	invoice.Status = invoicedomain.InvoiceStatusPaid

	_, err = s.ledger.CreateEntry(ctx, ledgerdomain.CreateEntryInput{
		AppID:          s.invoiceAppID(ctx, invoice),
		BillToID:       invoice.BillToID,
		AccountType:    ledgerdomain.AccountTypeAccountsReceivable,
		Type:           ledgerdomain.EntryTypeInvoicePayment,
		AmountMinor:    -invoice.TotalMinor,
		Currency:       invoice.Currency,
		ReferenceType:  ledgerdomain.ReferenceTypeManual,
		ReferenceID:    &invoice.ID,
		IdempotencyKey: "invoice-payment:" + invoice.ID,
	})
	if err != nil && !errors.Is(err, ledgerdomain.ErrDuplicateEntry) {
		return nil, err
	}

	s.log.Info("invoice marked paid",
		zap.String("invoice_id", invoice.ID),
		zap.Int64("total_minor", invoice.TotalMinor),
	)
	return invoice, nil
}

// closeContractPeriod rolls usage up, persists the invoice atomically,
// then posts ledger entries outside the transaction to keep it short.
func (s *Service) closeContractPeriod(ctx context.Context, contract *contractdomain.Contract, period contractdomain.Period) (*invoicedomain.Invoice, error) {
	usage, err := s.aggregateUsage(ctx, contract.BillToID, period)
	if err != nil {
		return nil, err
	}

	drafts := s.buildLineItems(contract, usage)
	subtotal := int64(0)
	for _, draft := range drafts {
		subtotal += draft.AmountMinor
	}

	now := s.clock.Now().UTC()
	status := invoicedomain.InvoiceStatusIssued
	if contract.PricingMode == contractdomain.PricingModeCustomInvoiceOnly {
		status = invoicedomain.InvoiceStatusDraft
	}

	contractID := contract.ID
	invoice := invoicedomain.Invoice{
		ID:            uuid.NewString(),
		Number:        "INV-" + s.node.Generate().String(),
		BillToID:      contract.BillToID,
		ContractID:    &contractID,
		PeriodStart:   period.Start,
		PeriodEnd:     period.End,
		Status:        status,
		Currency:      contract.Currency,
		SubtotalMinor: subtotal,
		TaxMinor:      0,
		TotalMinor:    subtotal,
	}
	if status != invoicedomain.InvoiceStatusDraft {
		invoice.IssuedAt = &now
		due := now.AddDate(0, 0, contract.TermsDays)
		invoice.DueAt = &due
	}

	for i, draft := range drafts {
		invoice.LineItems = append(invoice.LineItems, invoicedomain.InvoiceLineItem{
			ID:             uuid.NewString(),
			InvoiceID:      invoice.ID,
			Position:       i,
			AppID:          draft.AppID,
			Type:           draft.Type,
			Description:    draft.Description,
			Quantity:       draft.Quantity,
			UnitPriceMinor: draft.UnitPriceMinor,
			AmountMinor:    draft.AmountMinor,
			UsageSummary:   draft.UsageSummary,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&invoice).Error
	})
	if err != nil {
		return nil, err
	}

	if err := s.writeLedgerEntries(ctx, contract, &invoice); err != nil {
		// The invoice row exists; the next period-close run repeats the
		// ledger step under the same idempotency keys.
		s.log.Error("period-close ledger write failed",
			zap.String("contract_id", contract.ID),
			zap.String("invoice_id", invoice.ID),
			zap.Error(err),
		)
		return nil, err
	}

	s.obsMetrics.RecordInvoiceIssued(ctx, string(invoice.Status))
	s.log.Info("invoice created",
		zap.String("invoice_id", invoice.ID),
		zap.String("contract_id", contract.ID),
		zap.Time("period_start", period.Start),
		zap.Time("period_end", period.End),
		zap.Int64("total_minor", invoice.TotalMinor),
	)
	return &invoice, nil
}

// writeLedgerEntries posts one receivable per line item. Keys embed
// the line position so reruns converge.
func (s *Service) writeLedgerEntries(ctx context.Context, contract *contractdomain.Contract, invoice *invoicedomain.Invoice) error {
	items := invoice.LineItems
	if len(items) == 0 {
		loaded, err := s.GetInvoice(ctx, invoice.ID)
		if err != nil {
			return err
		}
		items = loaded.LineItems
	}

	fallbackAppID := ""
	if contract.Bundle != nil && len(contract.Bundle.Apps) > 0 {
		fallbackAppID = contract.Bundle.Apps[0].AppID
	}

	for _, item := range items {
		appID := fallbackAppID
		if item.AppID != nil {
			appID = *item.AppID
		}

		entryType := ledgerdomain.EntryTypeAdjustment
		switch item.Type {
		case invoicedomain.LineItemTypeBaseFee:
			entryType = ledgerdomain.EntryTypeSubscriptionCharge
		case invoicedomain.LineItemTypeUsageTrueup:
			entryType = ledgerdomain.EntryTypeUsageCharge
		}

		_, err := s.ledger.CreateEntry(ctx, ledgerdomain.CreateEntryInput{
			AppID:          appID,
			BillToID:       contract.BillToID,
			AccountType:    ledgerdomain.AccountTypeAccountsReceivable,
			Type:           entryType,
			AmountMinor:    item.AmountMinor,
			Currency:       invoice.Currency,
			ReferenceType:  ledgerdomain.ReferenceTypeManual,
			ReferenceID:    &invoice.ID,
			IdempotencyKey: "period-close:" + contract.ID + ":" + invoice.ID + ":" + strconv.Itoa(item.Position),
		})
		if err != nil && !errors.Is(err, ledgerdomain.ErrDuplicateEntry) {
			return err
		}
	}
	return nil
}

// aggregateUsage sums customer-facing line items over the half-open
// period, grouped by (app, meter).
func (s *Service) aggregateUsage(ctx context.Context, billToID string, period contractdomain.Period) ([]invoicedomain.UsageGroup, error) {
	var groups []invoicedomain.UsageGroup
	err := s.db.WithContext(ctx).
		Model(&pricingdomain.BillableLineItem{}).
		Select("app_id AS app_id, event_type AS meter_key, SUM(amount_minor) AS total_amount_minor, COUNT(*) AS event_count").
		Where("bill_to_id = ? AND kind = ? AND timestamp >= ? AND timestamp < ?",
			billToID, string(pricingdomain.PriceBookKindCustomer), period.Start, period.End).
		Group("app_id, event_type").
		Order("app_id, event_type").
		Scan(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

type lineItemDraft struct {
	AppID          *string
	Type           invoicedomain.LineItemType
	Description    string
	Quantity       int64
	UnitPriceMinor int64
	AmountMinor    int64
	UsageSummary   datatypes.JSONMap
}

// buildLineItems translates the usage rollup into invoice lines per
// pricing mode.
func (s *Service) buildLineItems(contract *contractdomain.Contract, usage []invoicedomain.UsageGroup) []lineItemDraft {
	baseDescription := "Base fee " + string(contract.BillingPeriod)

	trueup := func(group invoicedomain.UsageGroup, amount int64) lineItemDraft {
		appID := group.AppID
		return lineItemDraft{
			AppID:       &appID,
			Type:        invoicedomain.LineItemTypeUsageTrueup,
			Description: "Usage " + group.MeterKey,
			Quantity:    group.EventCount,
			AmountMinor: amount,
			UsageSummary: datatypes.JSONMap{
				"meterKey":         group.MeterKey,
				"eventCount":       group.EventCount,
				"totalAmountMinor": group.TotalAmountMinor,
			},
		}
	}

	switch contract.PricingMode {
	case contractdomain.PricingModeFixed:
		return []lineItemDraft{{
			Type:        invoicedomain.LineItemTypeBaseFee,
			Description: baseDescription,
			Quantity:    1,
			AmountMinor: contract.BaseAmountMinor,
		}}

	case contractdomain.PricingModeFixedPlusTrueup:
		drafts := []lineItemDraft{{
			Type:        invoicedomain.LineItemTypeBaseFee,
			Description: baseDescription,
			Quantity:    1,
			AmountMinor: contract.BaseAmountMinor,
		}}
		for _, group := range usage {
			included := resolveIncluded(contract, group.AppID, group.MeterKey)
			if group.TotalAmountMinor > included {
				drafts = append(drafts, trueup(group, group.TotalAmountMinor-included))
			}
		}
		return drafts

	case contractdomain.PricingModeMinCommitTrueup:
		total := int64(0)
		for _, group := range usage {
			total += group.TotalAmountMinor
		}
		if total < contract.MinCommitMinor {
			total = contract.MinCommitMinor
		}
		drafts := []lineItemDraft{{
			Type:        invoicedomain.LineItemTypeBaseFee,
			Description: baseDescription,
			Quantity:    1,
			AmountMinor: total,
		}}
		// Informational lines; the base fee already carries the charge.
		for _, group := range usage {
			drafts = append(drafts, trueup(group, 0))
		}
		return drafts

	default: // CUSTOM_INVOICE_ONLY
		drafts := []lineItemDraft{{
			Type:        invoicedomain.LineItemTypeBaseFee,
			Description: baseDescription,
			Quantity:    1,
			AmountMinor: 0,
		}}
		for _, group := range usage {
			drafts = append(drafts, trueup(group, group.TotalAmountMinor))
		}
		return drafts
	}
}

// resolveIncluded walks ContractOverride, then BundleMeterPolicy, then
// zero.
func resolveIncluded(contract *contractdomain.Contract, appID, meterKey string) int64 {
	for _, override := range contract.Overrides {
		if override.AppID == appID && override.MeterKey == meterKey && override.IncludedAmount != nil {
			return *override.IncludedAmount
		}
	}
	if contract.Bundle != nil {
		for _, policy := range contract.Bundle.MeterPolicies {
			if policy.AppID == appID && policy.MeterKey == meterKey && policy.IncludedAmount != nil {
				return *policy.IncludedAmount
			}
		}
	}
	return 0
}

func (s *Service) findInvoice(ctx context.Context, contractID string, period contractdomain.Period) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("contract_id = ? AND period_start = ? AND period_end = ?",
			contractID, period.Start, period.End).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (s *Service) invoiceAppID(ctx context.Context, invoice *invoicedomain.Invoice) string {
	for _, item := range invoice.LineItems {
		if item.AppID != nil {
			return *item.AppID
		}
	}
	if invoice.ContractID != nil {
		contract, err := s.contracts.GetContract(ctx, *invoice.ContractID)
		if err == nil && contract.Bundle != nil && len(contract.Bundle.Apps) > 0 {
			return contract.Bundle.Apps[0].AppID
		}
	}
	return ""
}
