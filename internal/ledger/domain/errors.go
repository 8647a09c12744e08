package domain

import "errors"

var (
	ErrInvalidApp       = errors.New("invalid_app")
	ErrInvalidBillTo    = errors.New("invalid_bill_to")
	ErrInvalidAccount   = errors.New("invalid_account_type")
	ErrInvalidEntryType = errors.New("invalid_entry_type")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrMissingIdemKey   = errors.New("missing_idempotency_key")
	ErrDuplicateEntry   = errors.New("duplicate_ledger_entry")
)
