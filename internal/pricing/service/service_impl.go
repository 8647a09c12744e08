package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	contractdomain "github.com/smallbiznis/meterbill/internal/contract/domain"
	pricingdomain "github.com/smallbiznis/meterbill/internal/pricing/domain"
	teamdomain "github.com/smallbiznis/meterbill/internal/team/domain"
	usagedomain "github.com/smallbiznis/meterbill/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	RateCards pricingdomain.RateCardSource `optional:"true"`
	Debiter   pricingdomain.Debiter        `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	rateCards pricingdomain.RateCardSource
	debiter   pricingdomain.Debiter
}

func NewService(p Params) pricingdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("pricing.service"),
		rateCards: p.RateCards,
		debiter:   p.Debiter,
	}
}

// CreatePriceBook opens a new versioned book.
func (s *Service) CreatePriceBook(ctx context.Context, input pricingdomain.CreatePriceBookInput) (*pricingdomain.PriceBook, error) {
	version := input.Version
	if version <= 0 {
		version = 1
	}
	book := pricingdomain.PriceBook{
		ID:            uuid.NewString(),
		AppID:         input.AppID,
		Kind:          input.Kind,
		Version:       version,
		Currency:      normalizeCurrency(input.Currency),
		EffectiveFrom: input.EffectiveFrom.UTC(),
		EffectiveTo:   input.EffectiveTo,
	}
	if err := s.db.WithContext(ctx).Create(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

// AddRule appends one validated rule to a book.
func (s *Service) AddRule(ctx context.Context, input pricingdomain.AddRuleInput) (*pricingdomain.PriceRule, error) {
	if _, err := pricingdomain.ParseRule(input.Rule); err != nil {
		return nil, err
	}
	rule := pricingdomain.PriceRule{
		ID:          uuid.NewString(),
		PriceBookID: input.PriceBookID,
		Priority:    input.Priority,
		Match:       datatypes.JSONMap(input.Match),
		Rule:        datatypes.JSON(input.Rule),
	}
	if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

// EffectiveBook selects the highest-version book containing ts. A book
// whose effectiveTo equals ts is already expired.
func (s *Service) EffectiveBook(ctx context.Context, appID string, kind pricingdomain.PriceBookKind, ts time.Time) (*pricingdomain.PriceBook, error) {
	var book pricingdomain.PriceBook
	err := s.db.WithContext(ctx).
		Where("app_id = ? AND kind = ?", appID, string(kind)).
		Where("effective_from <= ?", ts.UTC()).
		Where("effective_to IS NULL OR effective_to > ?", ts.UTC()).
		Order("version DESC").
		First(&book).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pricingdomain.ErrNoPriceBook
		}
		return nil, err
	}
	return &book, nil
}

// LineItemsForEvent returns the priced projections of one event.
func (s *Service) LineItemsForEvent(ctx context.Context, usageEventID string) ([]pricingdomain.BillableLineItem, error) {
	var items []pricingdomain.BillableLineItem
	err := s.db.WithContext(ctx).
		Where("usage_event_id = ?", usageEventID).
		Order("kind ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// PriceEvent projects one persisted event into exactly two line items,
// COGS and CUSTOMER, in one transaction. Wallet-mode teams are debited
// immediately on the customer side.
func (s *Service) PriceEvent(ctx context.Context, event *usagedomain.UsageEvent) error {
	payload := map[string]any(event.Payload)

	items := make([]pricingdomain.BillableLineItem, 0, 2)
	for _, kind := range []pricingdomain.PriceBookKind{pricingdomain.PriceBookKindCOGS, pricingdomain.PriceBookKindCustomer} {
		item, err := s.priceKind(ctx, event, kind, payload)
		if err != nil {
			return err
		}
		items = append(items, *item)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range items {
			if err := tx.Create(&items[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.maybeDebitWallet(ctx, event, items)
}

func (s *Service) priceKind(ctx context.Context, event *usagedomain.UsageEvent, kind pricingdomain.PriceBookKind, payload map[string]any) (*pricingdomain.BillableLineItem, error) {
	if item, ok, err := s.priceFromRateCard(ctx, event, kind, payload); err != nil {
		return nil, err
	} else if ok {
		return item, nil
	}

	book, err := s.EffectiveBook(ctx, event.AppID, kind, event.Timestamp)
	if err != nil {
		return nil, err
	}

	var rules []pricingdomain.PriceRule
	err = s.db.WithContext(ctx).
		Where("price_book_id = ?", book.ID).
		Order("priority DESC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}

	for i := range rules {
		rule := rules[i]
		if !pricingdomain.Matches(map[string]any(rule.Match), event.EventType, payload) {
			continue
		}
		spec, err := pricingdomain.ParseRule(rule.Rule)
		if err != nil {
			return nil, err
		}
		evaluation, err := spec.Evaluate(payload)
		if err != nil {
			return nil, err
		}
		item := s.newLineItem(event, kind, book.Currency, spec, evaluation, payload)
		item.PriceBookID = &book.ID
		item.PriceRuleID = &rule.ID
		return item, nil
	}
	return nil, pricingdomain.ErrNoMatchingRule
}

// cardRule is one entry of a contract rate card's rules array.
type cardRule struct {
	Priority int             `json:"priority"`
	Match    map[string]any  `json:"match"`
	Rule     json.RawMessage `json:"rule"`
}

func (s *Service) priceFromRateCard(ctx context.Context, event *usagedomain.UsageEvent, kind pricingdomain.PriceBookKind, payload map[string]any) (*pricingdomain.BillableLineItem, bool, error) {
	if s.rateCards == nil {
		return nil, false, nil
	}

	contract, err := s.rateCards.ActiveContractForBillTo(ctx, event.BillToID)
	if err != nil {
		if errors.Is(err, contractdomain.ErrContractNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	card, err := s.rateCards.RateCardFor(ctx, contract.ID, contractdomain.RateCardKind(kind), event.Timestamp)
	if err != nil {
		return nil, false, err
	}
	if card == nil {
		return nil, false, nil
	}

	var rules []cardRule
	if err := json.Unmarshal(card.Rules, &rules); err != nil {
		return nil, false, pricingdomain.ErrInvalidRule
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	for _, rule := range rules {
		if !pricingdomain.Matches(rule.Match, event.EventType, payload) {
			continue
		}
		spec, err := pricingdomain.ParseRule(rule.Rule)
		if err != nil {
			return nil, false, err
		}
		evaluation, err := spec.Evaluate(payload)
		if err != nil {
			return nil, false, err
		}
		item := s.newLineItem(event, kind, card.Currency, spec, evaluation, payload)
		item.RateCardID = &card.ID
		return item, true, nil
	}
	// The card is an overlay, not a replacement: an event no card rule
	// matches prices off the app-scoped book.
	return nil, false, nil
}

func (s *Service) newLineItem(event *usagedomain.UsageEvent, kind pricingdomain.PriceBookKind, currency string, spec *pricingdomain.RuleSpec, evaluation *pricingdomain.Evaluation, payload map[string]any) *pricingdomain.BillableLineItem {
	snapshot := map[string]any{
		"ruleType":       spec.Type,
		"eventType":      event.EventType,
		"computedAmount": evaluation.AmountMinor,
		"payload":        payload,
	}
	switch spec.Type {
	case pricingdomain.RuleTypeFlat:
		snapshot["amount"] = spec.Amount
	case pricingdomain.RuleTypePerUnit:
		snapshot["field"] = spec.Field
		snapshot["quantity"] = evaluation.Quantity
		snapshot["unitPrice"] = spec.UnitPrice
	case pricingdomain.RuleTypeTiered:
		snapshot["field"] = spec.Field
		snapshot["quantity"] = evaluation.Quantity
		snapshot["tiers"] = evaluation.TierBreakdown
	}

	return &pricingdomain.BillableLineItem{
		ID:             uuid.NewString(),
		AppID:          event.AppID,
		TeamID:         event.TeamID,
		BillToID:       event.BillToID,
		UsageEventID:   event.ID,
		EventType:      event.EventType,
		Kind:           kind,
		AmountMinor:    evaluation.AmountMinor,
		Currency:       currency,
		InputsSnapshot: datatypes.JSONMap(snapshot),
		Timestamp:      event.Timestamp.UTC(),
	}
}

func (s *Service) maybeDebitWallet(ctx context.Context, event *usagedomain.UsageEvent, items []pricingdomain.BillableLineItem) error {
	if s.debiter == nil {
		return nil
	}

	var team teamdomain.Team
	if err := s.db.WithContext(ctx).First(&team, "id = ?", event.TeamID).Error; err != nil {
		return err
	}
	if team.BillingMode != teamdomain.BillingModeWallet {
		return nil
	}

	for i := range items {
		if items[i].Kind != pricingdomain.PriceBookKindCustomer {
			continue
		}
		if err := s.debiter.DebitImmediate(ctx, items[i].ID); err != nil {
			s.log.Error("immediate wallet debit failed",
				zap.String("line_item_id", items[i].ID),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

func normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "USD"
	}
	return currency
}
