package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCurrentPeriodMonthly(t *testing.T) {
	starts := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	p := CurrentPeriod(starts, BillingPeriodMonthly, time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, starts, p.Start)
	assert.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), p.End)

	p = CurrentPeriod(starts, BillingPeriodMonthly, time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), p.End)

	// Period start boundary belongs to the new period.
	p = CurrentPeriod(starts, BillingPeriodMonthly, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), p.Start)
}

func TestCurrentPeriodQuarterly(t *testing.T) {
	starts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	p := CurrentPeriod(starts, BillingPeriodQuarterly, time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), p.End)
}

func TestPeriodToClose(t *testing.T) {
	starts := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	_, ok := PeriodToClose(starts, BillingPeriodMonthly, time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)

	p, ok := PeriodToClose(starts, BillingPeriodMonthly, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC))
	assert.True(t, ok)
	assert.Equal(t, starts, p.Start)
	assert.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), p.End)

	// Several periods elapsed: only the most recent one closes.
	p, ok = PeriodToClose(starts, BillingPeriodMonthly, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), p.End)
}

func TestPeriodMonthOverflowNormalizes(t *testing.T) {
	// Jan 31 + 1 month lands on Mar 3 (non-leap year semantics for 2026).
	starts := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	p := CurrentPeriod(starts, BillingPeriodMonthly, starts)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), p.End)
}

func TestPeriodContains(t *testing.T) {
	p := Period{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	assert.True(t, p.Contains(p.Start))
	assert.False(t, p.Contains(p.End))
}
