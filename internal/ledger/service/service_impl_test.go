package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	ledgerdomain "github.com/smallbiznis/meterbill/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.AutoMigrate(&ledgerdomain.LedgerAccount{}, &ledgerdomain.LedgerEntry{}); err != nil {
		t.Fatal(err)
	}
	return &Service{db: conn, log: zap.NewNop()}
}

func TestGetOrCreateAccountIsStable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.GetOrCreateAccount(ctx, "app-1", "bill-1", ledgerdomain.AccountTypeWallet)
	assert.NoError(t, err)
	second, err := svc.GetOrCreateAccount(ctx, "app-1", "bill-1", ledgerdomain.AccountTypeWallet)
	assert.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := svc.GetOrCreateAccount(ctx, "app-1", "bill-1", ledgerdomain.AccountTypeRevenue)
	assert.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestCreateEntryRejectsDuplicateIdempotencyKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	input := ledgerdomain.CreateEntryInput{
		AppID:          "app-1",
		BillToID:       "bill-1",
		AccountType:    ledgerdomain.AccountTypeWallet,
		Type:           ledgerdomain.EntryTypeTopup,
		AmountMinor:    5000,
		Currency:       "usd",
		ReferenceType:  ledgerdomain.ReferenceTypeManual,
		IdempotencyKey: "topup:evt-1",
	}

	entry, err := svc.CreateEntry(ctx, input)
	assert.NoError(t, err)
	assert.Equal(t, "USD", entry.Currency)

	_, err = svc.CreateEntry(ctx, input)
	assert.ErrorIs(t, err, ledgerdomain.ErrDuplicateEntry)

	var count int64
	assert.NoError(t, svc.db.Model(&ledgerdomain.LedgerEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetBalanceSumsEntryHistory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	balance, err := svc.GetBalance(ctx, "app-1", "bill-1", ledgerdomain.AccountTypeWallet)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	deltas := []int64{10_000, -2_500, -500}
	for i, amount := range deltas {
		entryType := ledgerdomain.EntryTypeTopup
		if amount < 0 {
			entryType = ledgerdomain.EntryTypeUsageCharge
		}
		_, err := svc.CreateEntry(ctx, ledgerdomain.CreateEntryInput{
			AppID:          "app-1",
			BillToID:       "bill-1",
			AccountType:    ledgerdomain.AccountTypeWallet,
			Type:           entryType,
			AmountMinor:    amount,
			Currency:       "USD",
			ReferenceType:  ledgerdomain.ReferenceTypeManual,
			IdempotencyKey: fmt.Sprintf("entry-%d", i),
		})
		assert.NoError(t, err)
	}

	balance, err = svc.GetBalance(ctx, "app-1", "bill-1", ledgerdomain.AccountTypeWallet)
	assert.NoError(t, err)
	assert.Equal(t, int64(7_000), balance)
}

func TestCreateEntryValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	base := ledgerdomain.CreateEntryInput{
		AppID:          "app-1",
		BillToID:       "bill-1",
		AccountType:    ledgerdomain.AccountTypeWallet,
		Type:           ledgerdomain.EntryTypeTopup,
		Currency:       "USD",
		ReferenceType:  ledgerdomain.ReferenceTypeManual,
		IdempotencyKey: "k",
	}

	tests := []struct {
		name    string
		mutate  func(*ledgerdomain.CreateEntryInput)
		wantErr error
	}{
		{"missing app", func(in *ledgerdomain.CreateEntryInput) { in.AppID = "" }, ledgerdomain.ErrInvalidApp},
		{"missing bill-to", func(in *ledgerdomain.CreateEntryInput) { in.BillToID = " " }, ledgerdomain.ErrInvalidBillTo},
		{"bad account type", func(in *ledgerdomain.CreateEntryInput) { in.AccountType = "PETTY_CASH" }, ledgerdomain.ErrInvalidAccount},
		{"bad entry type", func(in *ledgerdomain.CreateEntryInput) { in.Type = "GIFT" }, ledgerdomain.ErrInvalidEntryType},
		{"missing currency", func(in *ledgerdomain.CreateEntryInput) { in.Currency = "" }, ledgerdomain.ErrInvalidCurrency},
		{"missing key", func(in *ledgerdomain.CreateEntryInput) { in.IdempotencyKey = "" }, ledgerdomain.ErrMissingIdemKey},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			input := base
			tc.mutate(&input)
			_, err := svc.CreateEntry(ctx, input)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestListEntriesFiltersAndPages(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		entryType := ledgerdomain.EntryTypeUsageCharge
		if i%2 == 0 {
			entryType = ledgerdomain.EntryTypeTopup
		}
		_, err := svc.CreateEntry(ctx, ledgerdomain.CreateEntryInput{
			AppID:          "app-1",
			BillToID:       "bill-1",
			AccountType:    ledgerdomain.AccountTypeWallet,
			Type:           entryType,
			AmountMinor:    int64(100 * (i + 1)),
			Currency:       "USD",
			ReferenceType:  ledgerdomain.ReferenceTypeManual,
			IdempotencyKey: fmt.Sprintf("list-%d", i),
			Timestamp:      base.Add(time.Duration(i) * time.Hour),
		})
		assert.NoError(t, err)
	}

	entries, total, err := svc.ListEntries(ctx, "app-1", "bill-1", ledgerdomain.EntryFilter{})
	assert.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, entries, 5)
	// Newest first.
	assert.Equal(t, int64(500), entries[0].AmountMinor)

	topup := ledgerdomain.EntryTypeTopup
	entries, total, err = svc.ListEntries(ctx, "app-1", "bill-1", ledgerdomain.EntryFilter{Type: &topup})
	assert.NoError(t, err)
	assert.Equal(t, int64(3), total)

	from := base.Add(90 * time.Minute)
	to := base.Add(4 * time.Hour)
	entries, total, err = svc.ListEntries(ctx, "app-1", "bill-1", ledgerdomain.EntryFilter{From: &from, To: &to})
	assert.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, entries, 2)

	entries, total, err = svc.ListEntries(ctx, "app-1", "bill-1", ledgerdomain.EntryFilter{Limit: 2, Offset: 4})
	assert.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, entries, 1)
}
