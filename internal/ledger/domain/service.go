package domain

import (
	"context"
	"time"
)

// CreateEntryInput carries one ledger posting request.
type CreateEntryInput struct {
	AppID          string
	BillToID       string
	AccountType    AccountType
	Type           EntryType
	AmountMinor    int64
	Currency       string
	ReferenceType  ReferenceType
	ReferenceID    *string
	IdempotencyKey string
	Metadata       map[string]any
	Timestamp      time.Time
}

// EntryFilter narrows and pages ListEntries.
type EntryFilter struct {
	From   *time.Time
	To     *time.Time
	Type   *EntryType
	Limit  int
	Offset int
}

// Service is the append-only monetary ledger.
type Service interface {
	GetOrCreateAccount(ctx context.Context, appID, billToID string, accountType AccountType) (*LedgerAccount, error)
	CreateEntry(ctx context.Context, input CreateEntryInput) (*LedgerEntry, error)
	GetBalance(ctx context.Context, appID, billToID string, accountType AccountType) (int64, error)
	ListEntries(ctx context.Context, appID, billToID string, filter EntryFilter) ([]LedgerEntry, int64, error)
}
