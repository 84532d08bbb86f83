package utils

import (
	"time"

	apperr "drivehub/internal/errors"
)

// DateLayout is the calendar date format accepted on the wire.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string into UTC midnight.
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, apperr.Newf(apperr.KindInvalidInput, "%s must be a YYYY-MM-DD date, got %q", field, value)
	}
	return t.UTC(), nil
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayCount is the number of whole days in [start, end). It is zero or
// negative when end does not come after start.
func DayCount(start, end time.Time) int {
	return int(unixDay(end) - unixDay(start))
}

// unixDay numbers calendar days from the epoch. Day always lands on a
// multiple of 86400 seconds, so the division is exact.
func unixDay(t time.Time) int64 {
	return Day(t).Unix() / 86400
}

func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
