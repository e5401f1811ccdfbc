package billing

import (
	"fmt"
	"time"

	"github.com/core-coin/x402/internal/models"
)

// AddInterval advances t by one billing interval. Months and years are calendar
// based and follow time.AddDate normalization (Jan 31 + 1 month = Mar 2 or 3).
func AddInterval(t time.Time, interval models.BillingInterval) (time.Time, error) {
	switch interval {
	case models.IntervalDaily:
		return t.AddDate(0, 0, 1), nil
	case models.IntervalWeekly:
		return t.AddDate(0, 0, 7), nil
	case models.IntervalMonthly:
		return t.AddDate(0, 1, 0), nil
	case models.IntervalYearly:
		return t.AddDate(1, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("unknown billing interval %q", interval)
}

// TrialEnd returns the end of a trial of the given number of days.
func TrialEnd(start time.Time, days int) time.Time {
	return start.AddDate(0, 0, days)
}

// PeriodKey identifies a billing period by its reset and end dates.
func PeriodKey(resetDate, endDate time.Time) string {
	return resetDate.UTC().Format("2006-01-02") + "_" + endDate.UTC().Format("2006-01-02")
}
