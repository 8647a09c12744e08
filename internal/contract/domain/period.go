package domain

import "time"

// Period is one half-open billing window [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls inside the window.
func (p Period) Contains(ts time.Time) bool {
	return !ts.Before(p.Start) && ts.Before(p.End)
}

func addPeriods(start time.Time, period BillingPeriod, n int) time.Time {
	start = start.UTC()
	// UTC calendar-month addition with day overflow normalization.
	return time.Date(
		start.Year(), start.Month()+time.Month(n*period.Months()), start.Day(),
		start.Hour(), start.Minute(), start.Second(), start.Nanosecond(),
		time.UTC,
	)
}

// CurrentPeriod returns the window containing asOf: [S+nB, S+(n+1)B)
// for the largest n with S+nB <= asOf.
func CurrentPeriod(startsAt time.Time, period BillingPeriod, asOf time.Time) Period {
	asOf = asOf.UTC()
	n := 0
	for !addPeriods(startsAt, period, n+1).After(asOf) {
		n++
	}
	return Period{
		Start: addPeriods(startsAt, period, n),
		End:   addPeriods(startsAt, period, n+1),
	}
}

// PeriodToClose returns the most recent fully elapsed window, i.e. the
// latest [start, end) with end <= asOf. ok is false before the first
// period completes.
func PeriodToClose(startsAt time.Time, period BillingPeriod, asOf time.Time) (Period, bool) {
	asOf = asOf.UTC()
	if addPeriods(startsAt, period, 1).After(asOf) {
		return Period{}, false
	}
	n := 1
	for !addPeriods(startsAt, period, n+1).After(asOf) {
		n++
	}
	return Period{
		Start: addPeriods(startsAt, period, n-1),
		End:   addPeriods(startsAt, period, n),
	}, true
}
