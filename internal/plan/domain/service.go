package domain

import "context"

// CreatePlanInput provisions a plan with its external product mappings.
type CreatePlanInput struct {
	AppID       string
	Code        string
	Name        string
	ProductMaps []ProductMapInput
}

// ProductMapInput is one external product mapping.
type ProductMapInput struct {
	Kind            ProductMapKind
	StripeProductID string
	StripePriceID   string
}

// Service manages plans and addons.
type Service interface {
	CreatePlan(ctx context.Context, input CreatePlanInput) (*Plan, error)
	GetPlanByCode(ctx context.Context, appID, code string) (*Plan, error)
	GetPlanByID(ctx context.Context, id string) (*Plan, error)
}
