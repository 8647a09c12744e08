package db

import (
	"context"
	"hash/fnv"
	"strings"

	"gorm.io/gorm"
)

// AdvisoryLockKey folds an arbitrary set of strings into a 64-bit key usable
// with pg_advisory_xact_lock.
func AdvisoryLockKey(parts ...string) int64 {
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.Write([]byte(p))
	}
	return int64(h.Sum64())
}

// AcquireXactLock takes a transaction-scoped advisory lock. It is a no-op on
// dialects without advisory locks (sqlite in tests serializes writes anyway).
func AcquireXactLock(ctx context.Context, tx *gorm.DB, key int64) error {
	if tx == nil || !strings.EqualFold(tx.Dialector.Name(), "postgres") {
		return nil
	}
	return tx.WithContext(ctx).Exec(`SELECT pg_advisory_xact_lock(?)`, key).Error
}
