package schedule

import (
	"errors"
	"fmt"
	"time"
)

// ErrTerminal reports that a schedule has no next fire; the caller must
// treat the job as finished.
var ErrTerminal = errors.New("schedule has no next run")

// NextAfter advances the anchor by exactly one period of the given kind.
//
// The anchor is the job's previous computed fire instant (or its
// original schedule time if it never ran) — never "now". Drift is
// deliberately not corrected: a fire that happens late still advances
// the schedule by one period from its anchor, so missed fires and
// process downtime do not shift the time-of-day.
//
// Monthly advances to the same day-of-month in the next calendar month,
// December rolling the year forward. When that day does not exist in the
// target month (e.g. the 31st), the date clamps to the month's last day.
//
// Cron schedules are not handled here; their next fire comes from the
// expression itself via NextCron.
func NextAfter(kind Kind, anchor time.Time) (time.Time, error) {
	switch kind {
	case Daily:
		return anchor.AddDate(0, 0, 1), nil
	case Weekly:
		return anchor.AddDate(0, 0, 7), nil
	case Monthly:
		return addMonthClamped(anchor), nil
	case Once:
		return time.Time{}, ErrTerminal
	case Cron:
		return time.Time{}, fmt.Errorf("cron schedule: next run comes from the expression")
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %d", int(kind))
	}
}

// addMonthClamped moves t one calendar month forward, keeping the
// day-of-month and time-of-day, clamping to the last day of the target
// month when needed. time.AddDate would normalize Jan 31 + 1 month to
// Mar 2/3, which is not what a "monthly on the 31st" job means.
func addMonthClamped(t time.Time) time.Time {
	year, month := t.Year(), t.Month()
	if month == time.December {
		year++
		month = time.January
	} else {
		month++
	}

	day := t.Day()
	if last := lastDayOfMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
