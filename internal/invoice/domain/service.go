package domain

import (
	"context"
	"time"
)

// UsageGroup is the billable rollup for one (app, meter) over a period.
type UsageGroup struct {
	AppID            string
	MeterKey         string
	TotalAmountMinor int64
	EventCount       int64
}

// CloseResult reports one period-close run. Skipped counts contracts
// whose invoice already existed and only had their ledger writes
// re-run.
type CloseResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// GenerateInput requests an on-demand invoice for an explicit period.
type GenerateInput struct {
	TeamID      string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Service closes contract billing periods into invoices and posts the
// resulting receivables to the ledger.
type Service interface {
	RunPeriodClose(ctx context.Context, asOf time.Time) (*CloseResult, error)
	Generate(ctx context.Context, input GenerateInput) (*Invoice, error)
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	MarkPaid(ctx context.Context, id string) (*Invoice, error)
}
