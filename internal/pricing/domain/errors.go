package domain

import "errors"

var (
	ErrNoPriceBook     = errors.New("no_price_book_found")
	ErrNoMatchingRule  = errors.New("no_matching_rule")
	ErrInvalidRule     = errors.New("invalid_price_rule")
	ErrLineItemMissing = errors.New("line_item_not_found")
)
