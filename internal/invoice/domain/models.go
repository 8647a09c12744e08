package domain

import (
	"time"

	"gorm.io/datatypes"
)

// InvoiceStatus is the invoice lifecycle state.
type InvoiceStatus string

const (
	InvoiceStatusDraft  InvoiceStatus = "DRAFT"
	InvoiceStatusIssued InvoiceStatus = "ISSUED"
	InvoiceStatusPaid   InvoiceStatus = "PAID"
	InvoiceStatusVoid   InvoiceStatus = "VOID"
)

// LineItemType classifies one invoice line.
type LineItemType string

const (
	LineItemTypeBaseFee     LineItemType = "BASE_FEE"
	LineItemTypeUsageTrueup LineItemType = "USAGE_TRUEUP"
	LineItemTypeAddon       LineItemType = "ADDON"
	LineItemTypeCredit      LineItemType = "CREDIT"
	LineItemTypeAdjustment  LineItemType = "ADJUSTMENT"
)

// Invoice rolls one contract billing period into monetary truth.
// Exactly one invoice exists per (contract, period); the unique index
// makes period-close reruns converge. totalMinor = subtotal + tax.
type Invoice struct {
	ID            string        `gorm:"type:uuid;primaryKey" json:"id"`
	Number        string        `gorm:"type:text;not null;uniqueIndex:ux_invoices_number" json:"number"`
	BillToID      string        `gorm:"type:uuid;not null;index" json:"billToId"`
	ContractID    *string       `gorm:"type:uuid;uniqueIndex:ux_invoices_contract_period,priority:1" json:"contractId,omitempty"`
	PeriodStart   time.Time     `gorm:"not null;uniqueIndex:ux_invoices_contract_period,priority:2" json:"periodStart"`
	PeriodEnd     time.Time     `gorm:"not null;uniqueIndex:ux_invoices_contract_period,priority:3" json:"periodEnd"`
	Status        InvoiceStatus `gorm:"type:text;not null;default:DRAFT" json:"status"`
	Currency      string        `gorm:"type:text;not null;default:USD" json:"currency"`
	SubtotalMinor int64         `gorm:"not null;default:0" json:"subtotalMinor"`
	TaxMinor      int64         `gorm:"not null;default:0" json:"taxMinor"`
	TotalMinor    int64         `gorm:"not null;default:0" json:"totalMinor"`
	ExternalRef   *string       `gorm:"type:text" json:"externalRef,omitempty"`
	IssuedAt      *time.Time    `json:"issuedAt,omitempty"`
	DueAt         *time.Time    `json:"dueAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`

	LineItems []InvoiceLineItem `gorm:"foreignKey:InvoiceID" json:"lineItems,omitempty"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLineItem is one line of an invoice. Position fixes the line
// order so ledger idempotency keys derived from the index are stable
// across recovery reruns.
type InvoiceLineItem struct {
	ID             string            `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID      string            `gorm:"type:uuid;not null;index" json:"invoiceId"`
	Position       int               `gorm:"not null" json:"position"`
	AppID          *string           `gorm:"type:uuid" json:"appId,omitempty"`
	Type           LineItemType      `gorm:"type:text;not null" json:"type"`
	Description    string            `gorm:"type:text;not null" json:"description"`
	Quantity       int64             `gorm:"not null;default:1" json:"quantity"`
	UnitPriceMinor int64             `gorm:"not null;default:0" json:"unitPriceMinor"`
	AmountMinor    int64             `gorm:"not null" json:"amountMinor"`
	UsageSummary   datatypes.JSONMap `gorm:"type:jsonb" json:"usageSummary,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// TableName sets the database table name.
func (InvoiceLineItem) TableName() string { return "invoice_line_items" }
