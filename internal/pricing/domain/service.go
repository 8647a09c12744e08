package domain

import (
	"context"
	"time"

	contractdomain "github.com/smallbiznis/meterbill/internal/contract/domain"
	usagedomain "github.com/smallbiznis/meterbill/internal/usage/domain"
)

// CreatePriceBookInput opens a new versioned book.
type CreatePriceBookInput struct {
	AppID         string
	Kind          PriceBookKind
	Version       int
	Currency      string
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}

// AddRuleInput appends one rule to an existing book.
type AddRuleInput struct {
	PriceBookID string
	Priority    int
	Match       map[string]any
	Rule        []byte
}

// Debiter charges wallet-mode teams as soon as a customer line item
// lands.
type Debiter interface {
	DebitImmediate(ctx context.Context, lineItemID string) error
}

// RateCardSource overlays contract rate cards onto app price books.
type RateCardSource interface {
	ActiveContractForBillTo(ctx context.Context, billToID string) (*contractdomain.Contract, error)
	RateCardFor(ctx context.Context, contractID string, kind contractdomain.RateCardKind, ts time.Time) (*contractdomain.ContractRateCard, error)
}

// Service prices usage events into billable line items.
type Service interface {
	usagedomain.Pricer

	CreatePriceBook(ctx context.Context, input CreatePriceBookInput) (*PriceBook, error)
	AddRule(ctx context.Context, input AddRuleInput) (*PriceRule, error)
	// EffectiveBook selects the highest-version book whose
	// [effectiveFrom, effectiveTo) window contains ts.
	EffectiveBook(ctx context.Context, appID string, kind PriceBookKind, ts time.Time) (*PriceBook, error)
	LineItemsForEvent(ctx context.Context, usageEventID string) ([]BillableLineItem, error)
}
