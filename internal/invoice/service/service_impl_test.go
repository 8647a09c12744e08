package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/meterbill/internal/clock"
	contractdomain "github.com/smallbiznis/meterbill/internal/contract/domain"
	contractservice "github.com/smallbiznis/meterbill/internal/contract/service"
	invoicedomain "github.com/smallbiznis/meterbill/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/meterbill/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/meterbill/internal/ledger/service"
	pricingdomain "github.com/smallbiznis/meterbill/internal/pricing/domain"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	teamservice "github.com/smallbiznis/meterbill/internal/team/service"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	svc       *Service
	contracts contractdomain.Service
	billTo    string
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
		&contractdomain.Bundle{},
		&contractdomain.BundleApp{},
		&contractdomain.BundleMeterPolicy{},
		&contractdomain.Contract{},
		&contractdomain.ContractOverride{},
		&contractdomain.ContractRateCard{},
		&pricingdomain.BillableLineItem{},
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerEntry{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLineItem{},
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

	fake := clock.NewFakeClock(time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}

	contracts := contractservice.NewService(contractservice.Params{DB: conn, Log: zap.NewNop(), Clock: fake})
	teams := teamservice.NewService(teamservice.Params{DB: conn, Log: zap.NewNop(), Clock: fake})
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: conn, Log: zap.NewNop()})

	svc := &Service{
		db:        conn,
		log:       zap.NewNop(),
		clock:     fake,
		node:      node,
		contracts: contracts,
		teams:     teams,
		ledger:    ledger,
	}
	return &fixture{db: conn, svc: svc, contracts: contracts, billTo: "bill-1"}
}

func (f *fixture) seedContract(t *testing.T, mode contractdomain.PricingMode, base, minCommit int64, included *int64) *contractdomain.Contract {
	t.Helper()
	ctx := context.Background()

	bundle, err := f.contracts.CreateBundle(ctx, contractdomain.CreateBundleInput{
		Name: "enterprise",
		Apps: []contractdomain.BundleAppInput{{AppID: "app-1"}},
		MeterPolicies: []contractdomain.MeterPolicyInput{{
			AppID:          "app-1",
			MeterKey:       "llm.tokens.v1",
			LimitType:      contractdomain.LimitTypeIncluded,
			IncludedAmount: included,
			Enforcement:    contractdomain.EnforcementSoft,
			OverageBilling: contractdomain.OverageBillingPerUnit,
		}},
	})
	assert.NoError(t, err)

	contract, err := f.contracts.CreateContract(ctx, contractdomain.CreateContractInput{
		BillToID:        f.billTo,
		BundleID:        bundle.ID,
		Status:          contractdomain.ContractStatusActive,
		Currency:        "USD",
		BillingPeriod:   contractdomain.BillingPeriodMonthly,
		TermsDays:       30,
		PricingMode:     mode,
		BaseAmountMinor: base,
		MinCommitMinor:  minCommit,
		StartsAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.NoError(t, err)
	return contract
}

func (f *fixture) seedUsage(t *testing.T, id string, kind pricingdomain.PriceBookKind, amount int64, ts time.Time) {
	t.Helper()
	assert.NoError(t, f.db.Create(&pricingdomain.BillableLineItem{
		ID:           id,
		AppID:        "app-1",
		TeamID:       "team-1",
		BillToID:     f.billTo,
		UsageEventID: "evt-" + id,
		EventType:    "llm.tokens.v1",
		Kind:         kind,
		AmountMinor:  amount,
		Currency:     "USD",
		Timestamp:    ts,
	}).Error)
}

func TestRunPeriodCloseFixedPlusTrueup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	included := int64(500)
	contract := f.seedContract(t, contractdomain.PricingModeFixedPlusTrueup, 10000, 0, &included)

	january := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	f.seedUsage(t, "li-1", pricingdomain.PriceBookKindCustomer, 600, january)
	f.seedUsage(t, "li-2", pricingdomain.PriceBookKindCustomer, 200, january.Add(24*time.Hour))
	f.seedUsage(t, "li-cogs", pricingdomain.PriceBookKindCOGS, 90, january)
	// Outside the period.
	f.seedUsage(t, "li-feb", pricingdomain.PriceBookKindCustomer, 999, time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC))

	result, err := f.svc.RunPeriodClose(ctx, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Failed)

	var invoice invoicedomain.Invoice
	assert.NoError(t, f.db.Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&invoice, "contract_id = ?", contract.ID).Error)
	assert.Equal(t, invoicedomain.InvoiceStatusIssued, invoice.Status)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), invoice.PeriodStart.UTC())
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), invoice.PeriodEnd.UTC())
	assert.NotNil(t, invoice.IssuedAt)
	assert.NotNil(t, invoice.DueAt)
	assert.Equal(t, int64(10300), invoice.SubtotalMinor)
	assert.Equal(t, invoice.SubtotalMinor+invoice.TaxMinor, invoice.TotalMinor)

	if assert.Len(t, invoice.LineItems, 2) {
		assert.Equal(t, invoicedomain.LineItemTypeBaseFee, invoice.LineItems[0].Type)
		assert.Equal(t, int64(10000), invoice.LineItems[0].AmountMinor)
		assert.Equal(t, invoicedomain.LineItemTypeUsageTrueup, invoice.LineItems[1].Type)
		assert.Equal(t, int64(300), invoice.LineItems[1].AmountMinor)
		assert.Equal(t, int64(2), invoice.LineItems[1].Quantity)
	}

	var entries []ledgerdomain.LedgerEntry
	assert.NoError(t, f.db.Where("idempotency_key LIKE ?", "period-close:%").Order("idempotency_key").Find(&entries).Error)
	if assert.Len(t, entries, 2) {
		assert.Equal(t, ledgerdomain.EntryTypeSubscriptionCharge, entries[0].Type)
		assert.Equal(t, ledgerdomain.EntryTypeUsageCharge, entries[1].Type)

		var account ledgerdomain.LedgerAccount
		assert.NoError(t, f.db.First(&account, "id = ?", entries[0].LedgerAccountID).Error)
		assert.Equal(t, ledgerdomain.AccountTypeAccountsReceivable, account.Type)
	}
}

func TestRunPeriodCloseRerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	included := int64(0)
	f.seedContract(t, contractdomain.PricingModeFixedPlusTrueup, 10000, 0, &included)
	f.seedUsage(t, "li-1", pricingdomain.PriceBookKindCustomer, 700, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))

	asOf := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	first, err := f.svc.RunPeriodClose(ctx, asOf)
	assert.NoError(t, err)
	assert.Equal(t, 1, first.Processed)

	second, err := f.svc.RunPeriodClose(ctx, asOf)
	assert.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 1, second.Skipped)

	var invoiceCount, entryCount int64
	assert.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&invoiceCount).Error)
	assert.NoError(t, f.db.Model(&ledgerdomain.LedgerEntry{}).
		Where("idempotency_key LIKE ?", "period-close:%").
		Count(&entryCount).Error)
	assert.Equal(t, int64(1), invoiceCount)
	assert.Equal(t, int64(2), entryCount)
}

func TestRunPeriodCloseMinCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedContract(t, contractdomain.PricingModeMinCommitTrueup, 0, 5000, nil)
	f.seedUsage(t, "li-1", pricingdomain.PriceBookKindCustomer, 800, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))

	result, err := f.svc.RunPeriodClose(ctx, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	var invoice invoicedomain.Invoice
	assert.NoError(t, f.db.Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&invoice).Error)
	assert.Equal(t, int64(5000), invoice.TotalMinor)
	if assert.Len(t, invoice.LineItems, 2) {
		assert.Equal(t, int64(5000), invoice.LineItems[0].AmountMinor)
		// Informational trueup carries no charge.
		assert.Equal(t, int64(0), invoice.LineItems[1].AmountMinor)
	}
}

func TestRunPeriodCloseCustomInvoiceOnlyStaysDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedContract(t, contractdomain.PricingModeCustomInvoiceOnly, 0, 0, nil)
	f.seedUsage(t, "li-1", pricingdomain.PriceBookKindCustomer, 1200, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))

	result, err := f.svc.RunPeriodClose(ctx, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	var invoice invoicedomain.Invoice
	assert.NoError(t, f.db.Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&invoice).Error)
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, invoice.Status)
	assert.Nil(t, invoice.IssuedAt)
	assert.Nil(t, invoice.DueAt)
	if assert.Len(t, invoice.LineItems, 2) {
		assert.Equal(t, int64(0), invoice.LineItems[0].AmountMinor)
		assert.Equal(t, int64(1200), invoice.LineItems[1].AmountMinor)
	}
}

func TestMarkPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedContract(t, contractdomain.PricingModeFixed, 10000, 0, nil)

	result, err := f.svc.RunPeriodClose(ctx, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	var invoice invoicedomain.Invoice
	assert.NoError(t, f.db.First(&invoice).Error)

	paid, err := f.svc.MarkPaid(ctx, invoice.ID)
	assert.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, paid.Status)

	var entry ledgerdomain.LedgerEntry
	assert.NoError(t, f.db.First(&entry, "idempotency_key = ?", "invoice-payment:"+invoice.ID).Error)
	assert.Equal(t, -invoice.TotalMinor, entry.AmountMinor)
	assert.Equal(t, ledgerdomain.EntryTypeInvoicePayment, entry.Type)

	// Already-paid is a no-op.
	again, err := f.svc.MarkPaid(ctx, invoice.ID)
	assert.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, again.Status)

	var paymentCount int64
	assert.NoError(t, f.db.Model(&ledgerdomain.LedgerEntry{}).
		Where("idempotency_key = ?", "invoice-payment:"+invoice.ID).
		Count(&paymentCount).Error)
	assert.Equal(t, int64(1), paymentCount)
}

func TestMarkPaidRejectsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedContract(t, contractdomain.PricingModeCustomInvoiceOnly, 0, 0, nil)

	_, err := f.svc.RunPeriodClose(ctx, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)

	var invoice invoicedomain.Invoice
	assert.NoError(t, f.db.First(&invoice).Error)

	_, err = f.svc.MarkPaid(ctx, invoice.ID)
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotIssued)

	_, err = f.svc.MarkPaid(ctx, "ghost")
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}

func TestGenerateOnDemand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedContract(t, contractdomain.PricingModeFixed, 2500, 0, nil)

	input := invoicedomain.GenerateInput{
		TeamID:      "team-1",
		PeriodStart: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	first, err := f.svc.Generate(ctx, input)
	assert.NoError(t, err)
	assert.Equal(t, int64(2500), first.TotalMinor)

	second, err := f.svc.Generate(ctx, input)
	assert.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = f.svc.Generate(ctx, invoicedomain.GenerateInput{
		TeamID:      "team-1",
		PeriodStart: input.PeriodEnd,
		PeriodEnd:   input.PeriodStart,
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidPeriod)
}
