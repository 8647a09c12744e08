package domain

import (
	"context"
	"errors"
)

var ErrLineItemNotFound = errors.New("line_item_not_found")

// UpsertConfigInput sets the auto-topup policy for one (team, app).
type UpsertConfigInput struct {
	TeamID           string
	AppID            string
	AutoTopUpEnabled bool
	ThresholdMinor   int64
	TopUpAmountMinor int64
	Currency         string
}

// BatchResult reports one debitBatch run.
type BatchResult struct {
	Groups  int `json:"groups"`
	Debited int `json:"debited"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Service debits wallet-mode teams for priced usage and triggers
// auto-topups when the balance falls below threshold.
type Service interface {
	DebitImmediate(ctx context.Context, lineItemID string) error
	DebitBatch(ctx context.Context) (*BatchResult, error)
	CheckAndTriggerAutoTopUp(ctx context.Context, appID, teamID string) error
	UpsertConfig(ctx context.Context, input UpsertConfigInput) (*WalletConfig, error)
}
