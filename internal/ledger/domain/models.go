package domain

import (
	"time"

	"gorm.io/datatypes"
)

// AccountType identifies the chart-of-accounts slot an entry posts to.
type AccountType string

const (
	AccountTypeWallet             AccountType = "WALLET"
	AccountTypeAccountsReceivable AccountType = "ACCOUNTS_RECEIVABLE"
	AccountTypeRevenue            AccountType = "REVENUE"
	AccountTypeCOGS               AccountType = "COGS"
	AccountTypeTax                AccountType = "TAX"
)

// EntryType classifies the business meaning of a ledger entry.
type EntryType string

const (
	EntryTypeTopup              EntryType = "TOPUP"
	EntryTypeSubscriptionCharge EntryType = "SUBSCRIPTION_CHARGE"
	EntryTypeUsageCharge        EntryType = "USAGE_CHARGE"
	EntryTypeRefund             EntryType = "REFUND"
	EntryTypeAdjustment         EntryType = "ADJUSTMENT"
	EntryTypeInvoicePayment     EntryType = "INVOICE_PAYMENT"
	EntryTypeCOGSAccrual        EntryType = "COGS_ACCRUAL"
)

// ReferenceType names the upstream object a ledger entry points at.
type ReferenceType string

const (
	ReferenceTypeStripeInvoice       ReferenceType = "STRIPE_INVOICE"
	ReferenceTypeStripePaymentIntent ReferenceType = "STRIPE_PAYMENT_INTENT"
	ReferenceTypeUsageEvent          ReferenceType = "USAGE_EVENT"
	ReferenceTypeManual              ReferenceType = "MANUAL"
)

// LedgerAccount is created lazily per (app, bill-to, type).
type LedgerAccount struct {
	ID        string      `gorm:"type:uuid;primaryKey"`
	AppID     string      `gorm:"type:uuid;not null;uniqueIndex:ux_ledger_accounts_scope,priority:1"`
	BillToID  string      `gorm:"type:uuid;not null;uniqueIndex:ux_ledger_accounts_scope,priority:2"`
	Type      AccountType `gorm:"type:text;not null;uniqueIndex:ux_ledger_accounts_scope,priority:3"`
	CreatedAt time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerAccount) TableName() string { return "ledger_accounts" }

// LedgerEntry is an immutable signed monetary delta. Credits are
// positive, debits negative. Corrections are new entries, never updates.
type LedgerEntry struct {
	ID              string            `gorm:"type:uuid;primaryKey"`
	AppID           string            `gorm:"type:uuid;not null;index"`
	BillToID        string            `gorm:"type:uuid;not null;index"`
	LedgerAccountID string            `gorm:"type:uuid;not null;index"`
	Type            EntryType         `gorm:"type:text;not null"`
	AmountMinor     int64             `gorm:"not null"`
	Currency        string            `gorm:"type:text;not null"`
	ReferenceType   ReferenceType     `gorm:"type:text;not null"`
	ReferenceID     *string           `gorm:"type:text"`
	IdempotencyKey  string            `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_idem"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb"`
	Timestamp       time.Time         `gorm:"not null;index"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }
