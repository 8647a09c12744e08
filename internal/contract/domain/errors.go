package domain

import "errors"

var (
	ErrBundleNotFound       = errors.New("bundle_not_found")
	ErrContractNotFound     = errors.New("contract_not_found")
	ErrActiveContractExists = errors.New("active_contract_exists")
	ErrInvalidPricingMode   = errors.New("invalid_pricing_mode")
	ErrInvalidBillingPeriod = errors.New("invalid_billing_period")
	ErrInvalidTermsDays     = errors.New("invalid_terms_days")
	ErrInvalidTransition    = errors.New("invalid_contract_transition")
)
