package domain

import (
	"context"

	contractdomain "github.com/smallbiznis/meterbill/internal/contract/domain"
)

// BillingModeEnterpriseContract marks entitlements resolved from an
// active contract rather than from the team's own billing mode.
const BillingModeEnterpriseContract = "ENTERPRISE_CONTRACT"

// MeterPolicy is the effective policy for one meter key after the
// bundle default and contract override layers are merged.
type MeterPolicy struct {
	LimitType      contractdomain.LimitType      `json:"limitType"`
	IncludedAmount *int64                        `json:"includedAmount"`
	Enforcement    contractdomain.Enforcement    `json:"enforcement"`
	OverageBilling contractdomain.OverageBilling `json:"overageBilling"`
}

// DefaultMeterPolicy is the base of the merge cascade.
func DefaultMeterPolicy() MeterPolicy {
	return MeterPolicy{
		LimitType:      contractdomain.LimitTypeNone,
		Enforcement:    contractdomain.EnforcementNone,
		OverageBilling: contractdomain.OverageBillingNone,
	}
}

// Entitlements is the resolved view for one (app, team) pair.
type Entitlements struct {
	Features    map[string]bool        `json:"features"`
	Meters      map[string]MeterPolicy `json:"meters"`
	BillingMode string                 `json:"billingMode"`
	Billable    bool                   `json:"billable"`
	PlanCode    *string                `json:"planCode"`
	PlanName    *string                `json:"planName"`
}

// Service resolves effective entitlements through the override cascade.
type Service interface {
	Resolve(ctx context.Context, appID, teamID string) (*Entitlements, error)
	// RefreshEntitlements is invoked after contract status changes and
	// subscription webhooks. Resolution is computed on read, so the
	// hook has nothing to invalidate yet.
	RefreshEntitlements(ctx context.Context, teamID string) error
}
