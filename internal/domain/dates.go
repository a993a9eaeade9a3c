// internal/domain/dates.go
package domain

import "time"

// Clock returns the current facility-local calendar day.
type Clock func() time.Time

// SystemClock reads the wall clock in loc and truncates it to a day.
func SystemClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return func() time.Time {
		return DateOf(time.Now().In(loc))
	}
}

// FixedClock always reports day.
func FixedClock(day time.Time) Clock {
	d := DateOf(day)
	return func() time.Time { return d }
}

// DateOf normalizes t to midnight UTC of its calendar day, so that
// dates compare with Equal/Before/After regardless of source location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func AddDays(day time.Time, n int) time.Time {
	return DateOf(day).AddDate(0, 0, n)
}

// DaysBetween returns the whole number of days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

func datePtr(t time.Time) *time.Time {
	d := DateOf(t)
	return &d
}
