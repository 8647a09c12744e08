package domain

import (
	"context"
	"time"
)

// CreateBundleInput provisions a bundle with apps and meter policies.
type CreateBundleInput struct {
	Name          string
	Apps          []BundleAppInput
	MeterPolicies []MeterPolicyInput
}

// BundleAppInput attaches one app.
type BundleAppInput struct {
	AppID               string
	DefaultFeatureFlags map[string]bool
}

// MeterPolicyInput is one bundle default policy.
type MeterPolicyInput struct {
	AppID          string
	MeterKey       string
	LimitType      LimitType
	IncludedAmount *int64
	Enforcement    Enforcement
	OverageBilling OverageBilling
}

// CreateContractInput provisions a contract against a bundle.
type CreateContractInput struct {
	BillToID        string
	BundleID        string
	Status          ContractStatus
	Currency        string
	BillingPeriod   BillingPeriod
	TermsDays       int
	PricingMode     PricingMode
	BaseAmountMinor int64
	MinCommitMinor  int64
	StartsAt        time.Time
	EndsAt          *time.Time
}

// OverrideInput upserts a contract override for one meter key.
type OverrideInput struct {
	ContractID     string
	AppID          string
	MeterKey       string
	LimitType      *LimitType
	IncludedAmount *int64
	Enforcement    *Enforcement
	OverageBilling *OverageBilling
	FeatureFlags   map[string]bool
}

// Refresher is notified after contract status changes so entitlement
// caches can be rebuilt.
type Refresher interface {
	RefreshEntitlements(ctx context.Context, teamID string) error
}

// Service manages bundles and contracts.
type Service interface {
	CreateBundle(ctx context.Context, input CreateBundleInput) (*Bundle, error)
	GetBundle(ctx context.Context, id string) (*Bundle, error)
	CreateContract(ctx context.Context, input CreateContractInput) (*Contract, error)
	GetContract(ctx context.Context, id string) (*Contract, error)
	UpdateContractStatus(ctx context.Context, id string, status ContractStatus) (*Contract, error)
	SetOverride(ctx context.Context, input OverrideInput) (*ContractOverride, error)
	// ActiveContractForBillTo loads the ACTIVE contract with its bundle
	// graph and overrides, or ErrContractNotFound.
	ActiveContractForBillTo(ctx context.Context, billToID string) (*Contract, error)
	// ListDueContracts returns ACTIVE contracts whose current period has
	// ended as of asOf.
	ListDueContracts(ctx context.Context, asOf time.Time) ([]Contract, error)
	// RateCardFor returns the contract rate card effective at ts, or nil.
	RateCardFor(ctx context.Context, contractID string, kind RateCardKind, ts time.Time) (*ContractRateCard, error)
}
