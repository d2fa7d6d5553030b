package recurring

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/orderflow/internal/shared"
)

// Civil truncates t to midnight UTC of its UTC calendar date.
func Civil(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidateCadence checks billingDay against schedule: 1-31 for monthly,
// 0-6 (Sunday = 0) for weekly.
func ValidateCadence(schedule Schedule, billingDay int) error {
	switch schedule {
	case ScheduleMonthly:
		if billingDay < 1 || billingDay > 31 {
			return fmt.Errorf("%w: billingDay must be between 1 and 31 for monthly schedules", shared.ErrValidation)
		}
	case ScheduleWeekly:
		if billingDay < 0 || billingDay > 6 {
			return fmt.Errorf("%w: billingDay must be between 0 and 6 for weekly schedules", shared.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: schedule must be weekly or monthly", shared.ErrValidation)
	}
	return nil
}

// NextOrderDate returns the first civil date strictly after `after` that
// matches billingDay. Monthly billing days beyond the end of a month fall on
// that month's last day.
func NextOrderDate(schedule Schedule, billingDay int, after time.Time) (time.Time, error) {
	if err := ValidateCadence(schedule, billingDay); err != nil {
		return time.Time{}, err
	}
	after = Civil(after)
	if schedule == ScheduleWeekly {
		delta := (billingDay - int(after.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return after.AddDate(0, 0, delta), nil
	}
	y, m, _ := after.Date()
	candidate := monthDay(y, m, billingDay)
	if !candidate.After(after) {
		candidate = monthDay(y, m+1, billingDay)
	}
	return candidate, nil
}

// FirstOrderDate places the first occurrence of a new subscription. Weekly
// schedules start on the start date itself when its weekday matches; monthly
// schedules take the first billing day strictly after the start date.
func FirstOrderDate(schedule Schedule, billingDay int, start time.Time) (time.Time, error) {
	if schedule == ScheduleWeekly {
		return NextOrderDate(schedule, billingDay, Civil(start).AddDate(0, 0, -1))
	}
	return NextOrderDate(schedule, billingDay, start)
}

// Advance returns the occurrence following sub.NextOrderDate.
func Advance(sub Subscription) (time.Time, error) {
	return NextOrderDate(sub.Schedule, sub.BillingDay, sub.NextOrderDate)
}

func monthDay(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
