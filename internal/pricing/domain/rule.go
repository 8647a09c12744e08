package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Rule types stored in PriceRule.Rule.
const (
	RuleTypeFlat    = "flat"
	RuleTypePerUnit = "per_unit"
	RuleTypeTiered  = "tiered"
)

// Tier is one graduated band. A nil UpTo absorbs the remainder.
type Tier struct {
	UpTo      *int64  `json:"upTo"`
	UnitPrice float64 `json:"unitPrice"`
}

// RuleSpec is the closed tagged union behind the stored rule JSON.
type RuleSpec struct {
	Type      string  `json:"type"`
	Amount    float64 `json:"amount,omitempty"`
	Field     string  `json:"field,omitempty"`
	UnitPrice float64 `json:"unitPrice,omitempty"`
	Tiers     []Tier  `json:"tiers,omitempty"`
}

// ParseRule validates raw JSON into the rule union.
func ParseRule(raw []byte) (*RuleSpec, error) {
	var spec RuleSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, ErrInvalidRule
	}
	switch spec.Type {
	case RuleTypeFlat:
	case RuleTypePerUnit:
		if spec.Field == "" {
			return nil, ErrInvalidRule
		}
	case RuleTypeTiered:
		if spec.Field == "" || len(spec.Tiers) == 0 {
			return nil, ErrInvalidRule
		}
	default:
		return nil, ErrInvalidRule
	}
	return &spec, nil
}

// TierBreakdownEntry records one band's contribution for the snapshot.
type TierBreakdownEntry struct {
	UpTo      *int64  `json:"upTo"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	Subtotal  int64   `json:"subtotal"`
}

// Evaluation is the priced outcome plus its audit snapshot inputs.
type Evaluation struct {
	AmountMinor   int64
	Quantity      float64
	TierBreakdown []TierBreakdownEntry
}

// Evaluate prices one payload against the rule. Quantities round to
// minor units at each step, graduated per tier.
func (r *RuleSpec) Evaluate(payload map[string]any) (*Evaluation, error) {
	switch r.Type {
	case RuleTypeFlat:
		return &Evaluation{AmountMinor: roundMinor(decimal.NewFromFloat(r.Amount))}, nil

	case RuleTypePerUnit:
		quantity, ok := payloadNumber(payload, r.Field)
		if !ok {
			return nil, ErrInvalidRule
		}
		amount := decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(r.UnitPrice))
		return &Evaluation{
			AmountMinor: roundMinor(amount),
			Quantity:    quantity,
		}, nil

	case RuleTypeTiered:
		quantity, ok := payloadNumber(payload, r.Field)
		if !ok {
			return nil, ErrInvalidRule
		}
		return evaluateTiered(r.Tiers, quantity)

	default:
		return nil, ErrInvalidRule
	}
}

func evaluateTiered(tiers []Tier, quantity float64) (*Evaluation, error) {
	remaining := decimal.NewFromFloat(quantity)
	prevUpTo := decimal.Zero
	total := int64(0)
	var breakdown []TierBreakdownEntry

	for _, tier := range tiers {
		if remaining.Sign() <= 0 {
			break
		}
		capacity := remaining
		if tier.UpTo != nil {
			upTo := decimal.NewFromInt(*tier.UpTo)
			capacity = upTo.Sub(prevUpTo)
			if capacity.Sign() < 0 {
				return nil, ErrInvalidRule
			}
			prevUpTo = upTo
		}
		take := decimal.Min(remaining, capacity)
		subtotal := roundMinor(take.Mul(decimal.NewFromFloat(tier.UnitPrice)))
		total += subtotal
		takeFloat, _ := take.Float64()
		breakdown = append(breakdown, TierBreakdownEntry{
			UpTo:      tier.UpTo,
			Quantity:  takeFloat,
			UnitPrice: tier.UnitPrice,
			Subtotal:  subtotal,
		})
		remaining = remaining.Sub(take)
	}

	return &Evaluation{
		AmountMinor:   total,
		Quantity:      quantity,
		TierBreakdown: breakdown,
	}, nil
}

// Matches reports whether every key in the match map holds for the
// event: eventType against the event's type, any other key against the
// stringified payload value, with * matching anything.
func Matches(match map[string]any, eventType string, payload map[string]any) bool {
	for key, wanted := range match {
		expected := stringify(wanted)
		if expected == "*" {
			continue
		}
		if key == "eventType" {
			if expected != eventType {
				return false
			}
			continue
		}
		value, ok := payload[key]
		if !ok || expected != stringify(value) {
			return false
		}
	}
	return true
}

func payloadNumber(payload map[string]any, field string) (float64, bool) {
	value, ok := payload[field]
	if !ok {
		return 0, false
	}
	n, ok := asFloat(value)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func asFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func roundMinor(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
