package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/meterbill/internal/clock"
	contractdomain "github.com/smallbiznis/meterbill/internal/contract/domain"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type refresherSpy struct {
	teamIDs []string
}

func (r *refresherSpy) RefreshEntitlements(_ context.Context, teamID string) error {
	r.teamIDs = append(r.teamIDs, teamID)
	return nil
}

func newTestService(t *testing.T) (*Service, *refresherSpy) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	err = conn.AutoMigrate(
		&contractdomain.Bundle{},
		&contractdomain.BundleApp{},
		&contractdomain.BundleMeterPolicy{},
		&contractdomain.Contract{},
		&contractdomain.ContractOverride{},
		&contractdomain.ContractRateCard{},
		&teamdomain.BillingEntity{},
	)
	if err != nil {
		t.Fatal(err)
	}
	spy := &refresherSpy{}
	svc := &Service{
		db:        conn,
		log:       zap.NewNop(),
		clock:     clock.NewFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
		refresher: spy,
	}
	return svc, spy
}

func seedBundle(t *testing.T, svc *Service) *contractdomain.Bundle {
	t.Helper()
	included := int64(1_000_000)
	bundle, err := svc.CreateBundle(context.Background(), contractdomain.CreateBundleInput{
		Name: "enterprise-default",
		Apps: []contractdomain.BundleAppInput{
			{AppID: "app-1", DefaultFeatureFlags: map[string]bool{"sso": true}},
		},
		MeterPolicies: []contractdomain.MeterPolicyInput{
			{
				AppID:          "app-1",
				MeterKey:       "llm.tokens.v1",
				LimitType:      contractdomain.LimitTypeIncluded,
				IncludedAmount: &included,
				Enforcement:    contractdomain.EnforcementSoft,
				OverageBilling: contractdomain.OverageBillingPerUnit,
			},
		},
	})
	assert.NoError(t, err)
	return bundle
}

func contractInput(bundleID string) contractdomain.CreateContractInput {
	return contractdomain.CreateContractInput{
		BillToID:      "bill-1",
		BundleID:      bundleID,
		Status:        contractdomain.ContractStatusActive,
		Currency:      "usd",
		BillingPeriod: contractdomain.BillingPeriodMonthly,
		TermsDays:     30,
		PricingMode:   contractdomain.PricingModeFixedPlusTrueup,
		StartsAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateContractEnforcesSingleActive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	bundle := seedBundle(t, svc)

	first, err := svc.CreateContract(ctx, contractInput(bundle.ID))
	assert.NoError(t, err)
	assert.Equal(t, "USD", first.Currency)

	_, err = svc.CreateContract(ctx, contractInput(bundle.ID))
	assert.ErrorIs(t, err, contractdomain.ErrActiveContractExists)

	// A DRAFT alongside the ACTIVE one is fine.
	draft := contractInput(bundle.ID)
	draft.Status = contractdomain.ContractStatusDraft
	_, err = svc.CreateContract(ctx, draft)
	assert.NoError(t, err)
}

func TestContractValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	bundle := seedBundle(t, svc)

	bad := contractInput(bundle.ID)
	bad.PricingMode = "FREEFORM"
	_, err := svc.CreateContract(ctx, bad)
	assert.ErrorIs(t, err, contractdomain.ErrInvalidPricingMode)

	bad = contractInput(bundle.ID)
	bad.BillingPeriod = "WEEKLY"
	_, err = svc.CreateContract(ctx, bad)
	assert.ErrorIs(t, err, contractdomain.ErrInvalidBillingPeriod)

	bad = contractInput(bundle.ID)
	bad.TermsDays = 0
	_, err = svc.CreateContract(ctx, bad)
	assert.ErrorIs(t, err, contractdomain.ErrInvalidTermsDays)

	bad = contractInput("missing-bundle")
	_, err = svc.CreateContract(ctx, bad)
	assert.ErrorIs(t, err, contractdomain.ErrBundleNotFound)
}

func TestUpdateContractStatusNotifiesRefresher(t *testing.T) {
	svc, spy := newTestService(t)
	ctx := context.Background()
	bundle := seedBundle(t, svc)

	assert.NoError(t, svc.db.Create(&teamdomain.BillingEntity{
		ID:     "bill-1",
		Type:   teamdomain.BillingEntityTypeTeam,
		TeamID: "team-1",
	}).Error)

	contract, err := svc.CreateContract(ctx, contractInput(bundle.ID))
	assert.NoError(t, err)

	updated, err := svc.UpdateContractStatus(ctx, contract.ID, contractdomain.ContractStatusPaused)
	assert.NoError(t, err)
	assert.Equal(t, contractdomain.ContractStatusPaused, updated.Status)
	assert.Equal(t, []string{"team-1"}, spy.teamIDs)

	_, err = svc.UpdateContractStatus(ctx, contract.ID, contractdomain.ContractStatusDraft)
	assert.ErrorIs(t, err, contractdomain.ErrInvalidTransition)
}

func TestActivatePausedContractChecksUniqueness(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	bundle := seedBundle(t, svc)

	first, err := svc.CreateContract(ctx, contractInput(bundle.ID))
	assert.NoError(t, err)
	_, err = svc.UpdateContractStatus(ctx, first.ID, contractdomain.ContractStatusPaused)
	assert.NoError(t, err)

	second, err := svc.CreateContract(ctx, contractInput(bundle.ID))
	assert.NoError(t, err)

	_, err = svc.UpdateContractStatus(ctx, first.ID, contractdomain.ContractStatusActive)
	assert.ErrorIs(t, err, contractdomain.ErrActiveContractExists)
	_ = second
}

func TestSetOverrideUpserts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	bundle := seedBundle(t, svc)
	contract, err := svc.CreateContract(ctx, contractInput(bundle.ID))
	assert.NoError(t, err)

	hardCap := contractdomain.LimitTypeHardCap
	amount := int64(5_000_000)
	first, err := svc.SetOverride(ctx, contractdomain.OverrideInput{
		ContractID:     contract.ID,
		AppID:          "app-1",
		MeterKey:       "llm.tokens.v1",
		LimitType:      &hardCap,
		IncludedAmount: &amount,
		FeatureFlags:   map[string]bool{"sso": false},
	})
	assert.NoError(t, err)

	unlimited := contractdomain.LimitTypeUnlimited
	second, err := svc.SetOverride(ctx, contractdomain.OverrideInput{
		ContractID: contract.ID,
		AppID:      "app-1",
		MeterKey:   "llm.tokens.v1",
		LimitType:  &unlimited,
	})
	assert.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, contractdomain.LimitTypeUnlimited, *second.LimitType)
	assert.Nil(t, second.IncludedAmount)

	var count int64
	assert.NoError(t, svc.db.Model(&contractdomain.ContractOverride{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestListDueContracts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	bundle := seedBundle(t, svc)

	input := contractInput(bundle.ID)
	input.StartsAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.CreateContract(ctx, input)
	assert.NoError(t, err)

	fresh := contractInput(bundle.ID)
	fresh.BillToID = "bill-2"
	fresh.StartsAt = time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	_, err = svc.CreateContract(ctx, fresh)
	assert.NoError(t, err)

	due, err := svc.ListDueContracts(ctx, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
	assert.Len(t, due, 1)
	assert.Equal(t, "bill-1", due[0].BillToID)
	assert.NotNil(t, due[0].Bundle)
}
