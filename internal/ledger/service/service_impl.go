package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	ledgerdomain "github.com/smallbiznis/meterbill/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/meterbill/internal/observability/metrics"
	"github.com/smallbiznis/meterbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		obsMetrics: p.ObsMetrics,
	}
}

// GetOrCreateAccount returns the account for the scope, creating it on
// first use. Races on creation resolve by re-reading the winner's row.
func (s *Service) GetOrCreateAccount(ctx context.Context, appID, billToID string, accountType ledgerdomain.AccountType) (*ledgerdomain.LedgerAccount, error) {
	if strings.TrimSpace(appID) == "" {
		return nil, ledgerdomain.ErrInvalidApp
	}
	if strings.TrimSpace(billToID) == "" {
		return nil, ledgerdomain.ErrInvalidBillTo
	}
	if !validAccountType(accountType) {
		return nil, ledgerdomain.ErrInvalidAccount
	}

	account, err := s.findAccount(ctx, appID, billToID, accountType)
	if err == nil {
		return account, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	candidate := ledgerdomain.LedgerAccount{
		ID:       uuid.NewString(),
		AppID:    appID,
		BillToID: billToID,
		Type:     accountType,
	}
	if err := s.db.WithContext(ctx).Create(&candidate).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.findAccount(ctx, appID, billToID, accountType)
		}
		return nil, err
	}
	return &candidate, nil
}

// CreateEntry appends one immutable entry. Concurrent writers on the
// same account serialize behind a per-account advisory transaction lock.
func (s *Service) CreateEntry(ctx context.Context, input ledgerdomain.CreateEntryInput) (*ledgerdomain.LedgerEntry, error) {
	if err := validateEntryInput(input); err != nil {
		return nil, err
	}

	account, err := s.GetOrCreateAccount(ctx, input.AppID, input.BillToID, input.AccountType)
	if err != nil {
		return nil, err
	}

	timestamp := input.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	entry := ledgerdomain.LedgerEntry{
		ID:              uuid.NewString(),
		AppID:           input.AppID,
		BillToID:        input.BillToID,
		LedgerAccountID: account.ID,
		Type:            input.Type,
		AmountMinor:     input.AmountMinor,
		Currency:        strings.ToUpper(strings.TrimSpace(input.Currency)),
		ReferenceType:   input.ReferenceType,
		ReferenceID:     input.ReferenceID,
		IdempotencyKey:  input.IdempotencyKey,
		Metadata:        datatypes.JSONMap(input.Metadata),
		Timestamp:       timestamp.UTC(),
	}

	inserted := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lockKey := db.AdvisoryLockKey(input.AppID, input.BillToID, string(input.AccountType))
		if err := db.AcquireXactLock(ctx, tx, lockKey); err != nil {
			return err
		}

		result := tx.WithContext(ctx).Exec(
			`INSERT INTO ledger_entries (
				id, app_id, bill_to_id, ledger_account_id, type, amount_minor,
				currency, reference_type, reference_id, idempotency_key,
				metadata, timestamp, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (idempotency_key) DO NOTHING`,
			entry.ID,
			entry.AppID,
			entry.BillToID,
			entry.LedgerAccountID,
			string(entry.Type),
			entry.AmountMinor,
			entry.Currency,
			string(entry.ReferenceType),
			entry.ReferenceID,
			entry.IdempotencyKey,
			entry.Metadata,
			entry.Timestamp,
			time.Now().UTC(),
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ledgerdomain.ErrDuplicateEntry
		}
		inserted = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if inserted && s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(ctx, string(input.AccountType), string(input.Type))
	}
	return &entry, nil
}

// GetBalance reconstructs the balance purely from entry history.
func (s *Service) GetBalance(ctx context.Context, appID, billToID string, accountType ledgerdomain.AccountType) (int64, error) {
	account, err := s.findAccount(ctx, appID, billToID, accountType)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, err
	}

	var balance *int64
	err = s.db.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Select("SUM(amount_minor)").
		Where("ledger_account_id = ?", account.ID).
		Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, nil
	}
	return *balance, nil
}

// ListEntries returns entries newest-first with the total alongside.
func (s *Service) ListEntries(ctx context.Context, appID, billToID string, filter ledgerdomain.EntryFilter) ([]ledgerdomain.LedgerEntry, int64, error) {
	if strings.TrimSpace(appID) == "" {
		return nil, 0, ledgerdomain.ErrInvalidApp
	}
	if strings.TrimSpace(billToID) == "" {
		return nil, 0, ledgerdomain.ErrInvalidBillTo
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 250 {
		limit = 250
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("app_id = ? AND bill_to_id = ?", appID, billToID)
	if filter.From != nil {
		query = query.Where("timestamp >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("timestamp < ?", filter.To.UTC())
	}
	if filter.Type != nil {
		query = query.Where("type = ?", string(*filter.Type))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []ledgerdomain.LedgerEntry
	err := query.
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Service) findAccount(ctx context.Context, appID, billToID string, accountType ledgerdomain.AccountType) (*ledgerdomain.LedgerAccount, error) {
	var account ledgerdomain.LedgerAccount
	err := s.db.WithContext(ctx).
		Where("app_id = ? AND bill_to_id = ? AND type = ?", appID, billToID, string(accountType)).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func validateEntryInput(input ledgerdomain.CreateEntryInput) error {
	if strings.TrimSpace(input.AppID) == "" {
		return ledgerdomain.ErrInvalidApp
	}
	if strings.TrimSpace(input.BillToID) == "" {
		return ledgerdomain.ErrInvalidBillTo
	}
	if !validAccountType(input.AccountType) {
		return ledgerdomain.ErrInvalidAccount
	}
	if !validEntryType(input.Type) {
		return ledgerdomain.ErrInvalidEntryType
	}
	if strings.TrimSpace(input.Currency) == "" {
		return ledgerdomain.ErrInvalidCurrency
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return ledgerdomain.ErrMissingIdemKey
	}
	return nil
}

func validAccountType(accountType ledgerdomain.AccountType) bool {
	switch accountType {
	case ledgerdomain.AccountTypeWallet,
		ledgerdomain.AccountTypeAccountsReceivable,
		ledgerdomain.AccountTypeRevenue,
		ledgerdomain.AccountTypeCOGS,
		ledgerdomain.AccountTypeTax:
		return true
	default:
		return false
	}
}

func validEntryType(entryType ledgerdomain.EntryType) bool {
	switch entryType {
	case ledgerdomain.EntryTypeTopup,
		ledgerdomain.EntryTypeSubscriptionCharge,
		ledgerdomain.EntryTypeUsageCharge,
		ledgerdomain.EntryTypeRefund,
		ledgerdomain.EntryTypeAdjustment,
		ledgerdomain.EntryTypeInvoicePayment,
		ledgerdomain.EntryTypeCOGSAccrual:
		return true
	default:
		return false
	}
}
