package domain

import (
	"time"

	"gorm.io/datatypes"
)

// LimitType bounds a metered stream.
type LimitType string

const (
	LimitTypeNone      LimitType = "NONE"
	LimitTypeIncluded  LimitType = "INCLUDED"
	LimitTypeUnlimited LimitType = "UNLIMITED"
	LimitTypeHardCap   LimitType = "HARD_CAP"
)

// Enforcement says what happens at the limit.
type Enforcement string

const (
	EnforcementNone Enforcement = "NONE"
	EnforcementSoft Enforcement = "SOFT"
	EnforcementHard Enforcement = "HARD"
)

// OverageBilling says how usage beyond the limit is billed.
type OverageBilling string

const (
	OverageBillingNone    OverageBilling = "NONE"
	OverageBillingPerUnit OverageBilling = "PER_UNIT"
	OverageBillingTiered  OverageBilling = "TIERED"
	OverageBillingCustom  OverageBilling = "CUSTOM"
)

// ContractStatus is the lifecycle state of a contract.
type ContractStatus string

const (
	ContractStatusDraft  ContractStatus = "DRAFT"
	ContractStatusActive ContractStatus = "ACTIVE"
	ContractStatusPaused ContractStatus = "PAUSED"
	ContractStatusEnded  ContractStatus = "ENDED"
)

// BillingPeriod is the contract invoicing cadence.
type BillingPeriod string

const (
	BillingPeriodMonthly   BillingPeriod = "MONTHLY"
	BillingPeriodQuarterly BillingPeriod = "QUARTERLY"
)

// Months returns the period length in calendar months.
func (p BillingPeriod) Months() int {
	if p == BillingPeriodQuarterly {
		return 3
	}
	return 1
}

// PricingMode selects how period-close builds invoice line items.
type PricingMode string

const (
	PricingModeFixed             PricingMode = "FIXED"
	PricingModeFixedPlusTrueup   PricingMode = "FIXED_PLUS_TRUEUP"
	PricingModeMinCommitTrueup   PricingMode = "MIN_COMMIT_TRUEUP"
	PricingModeCustomInvoiceOnly PricingMode = "CUSTOM_INVOICE_ONLY"
)

// RateCardKind mirrors price book kinds for contract overlays.
type RateCardKind string

const (
	RateCardKindCOGS     RateCardKind = "COGS"
	RateCardKindCustomer RateCardKind = "CUSTOMER"
)

// Bundle groups apps and default meter policies for enterprise deals.
type Bundle struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Apps          []BundleApp         `gorm:"foreignKey:BundleID"`
	MeterPolicies []BundleMeterPolicy `gorm:"foreignKey:BundleID"`
}

// TableName sets the database table name.
func (Bundle) TableName() string { return "bundles" }

// BundleApp attaches an app with its default feature flags.
type BundleApp struct {
	ID                  string                             `gorm:"type:uuid;primaryKey"`
	BundleID            string                             `gorm:"type:uuid;not null;uniqueIndex:ux_bundle_apps,priority:1"`
	AppID               string                             `gorm:"type:uuid;not null;uniqueIndex:ux_bundle_apps,priority:2"`
	DefaultFeatureFlags datatypes.JSONType[map[string]bool] `gorm:"type:jsonb"`
	CreatedAt           time.Time
}

// TableName sets the database table name.
func (BundleApp) TableName() string { return "bundle_apps" }

// BundleMeterPolicy is the bundle-level default for one meter key.
type BundleMeterPolicy struct {
	ID             string         `gorm:"type:uuid;primaryKey"`
	BundleID       string         `gorm:"type:uuid;not null;uniqueIndex:ux_bundle_meter_policies,priority:1"`
	AppID          string         `gorm:"type:uuid;not null;uniqueIndex:ux_bundle_meter_policies,priority:2"`
	MeterKey       string         `gorm:"type:text;not null;uniqueIndex:ux_bundle_meter_policies,priority:3"`
	LimitType      LimitType      `gorm:"type:text;not null;default:NONE"`
	IncludedAmount *int64
	Enforcement    Enforcement    `gorm:"type:text;not null;default:NONE"`
	OverageBilling OverageBilling `gorm:"type:text;not null;default:NONE"`
	CreatedAt      time.Time
}

// TableName sets the database table name.
func (BundleMeterPolicy) TableName() string { return "bundle_meter_policies" }

// Contract is an enterprise agreement bound to one billing entity.
// At most one ACTIVE contract may exist per bill-to; a partial unique
// index enforces it at the database.
type Contract struct {
	ID              string         `gorm:"type:uuid;primaryKey"`
	BillToID        string         `gorm:"type:uuid;not null;index"`
	BundleID        string         `gorm:"type:uuid;not null;index"`
	Status          ContractStatus `gorm:"type:text;not null;default:DRAFT"`
	Currency        string         `gorm:"type:text;not null;default:USD"`
	BillingPeriod   BillingPeriod  `gorm:"type:text;not null;default:MONTHLY"`
	TermsDays       int            `gorm:"not null;default:30"`
	PricingMode     PricingMode    `gorm:"type:text;not null"`
	BaseAmountMinor int64          `gorm:"not null;default:0"`
	MinCommitMinor  int64          `gorm:"not null;default:0"`
	StartsAt        time.Time      `gorm:"not null"`
	EndsAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Bundle    *Bundle            `gorm:"foreignKey:BundleID"`
	Overrides []ContractOverride `gorm:"foreignKey:ContractID"`
}

// TableName sets the database table name.
func (Contract) TableName() string { return "contracts" }

// ContractOverride overrides the bundle default for one meter key.
// Nil fields inherit; present fields replace.
type ContractOverride struct {
	ID             string          `gorm:"type:uuid;primaryKey"`
	ContractID     string          `gorm:"type:uuid;not null;uniqueIndex:ux_contract_overrides,priority:1"`
	AppID          string          `gorm:"type:uuid;not null;uniqueIndex:ux_contract_overrides,priority:2"`
	MeterKey       string          `gorm:"type:text;not null;uniqueIndex:ux_contract_overrides,priority:3"`
	LimitType      *LimitType      `gorm:"type:text"`
	IncludedAmount *int64
	Enforcement    *Enforcement    `gorm:"type:text"`
	OverageBilling *OverageBilling `gorm:"type:text"`
	FeatureFlags   datatypes.JSONType[map[string]bool] `gorm:"type:jsonb"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName sets the database table name.
func (ContractOverride) TableName() string { return "contract_overrides" }

// ContractRateCard overlays app price books with contract pricing for
// events inside its effective window.
type ContractRateCard struct {
	ID            string         `gorm:"type:uuid;primaryKey"`
	ContractID    string         `gorm:"type:uuid;not null;index"`
	Kind          RateCardKind   `gorm:"type:text;not null"`
	Currency      string         `gorm:"type:text;not null;default:USD"`
	EffectiveFrom time.Time      `gorm:"not null"`
	EffectiveTo   *time.Time
	Rules         datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time
}

// TableName sets the database table name.
func (ContractRateCard) TableName() string { return "contract_rate_cards" }
