package domain

import "errors"

var (
	ErrInvoiceNotFound  = errors.New("invoice_not_found")
	ErrInvoiceNotIssued = errors.New("invoice_not_issued")
	ErrPeriodNotElapsed = errors.New("period_not_elapsed")
	ErrInvalidPeriod    = errors.New("invalid_period")
)
