package core

import (
	"errors"
	"time"
)

var (
	ErrInvalidDateFormat = errors.New("please use YYYY-MM-DD format for both dates")
	ErrStartAfterEnd     = errors.New("start date cannot be after end date")
)

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start DateKey
	End   DateKey
}

// ParseDateRange validates two YYYY-MM-DD strings with start <= end.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := ParseDateKey(start)
	if err != nil {
		return DateRange{}, ErrInvalidDateFormat
	}
	e, err := ParseDateKey(end)
	if err != nil {
		return DateRange{}, ErrInvalidDateFormat
	}
	if s > e {
		return DateRange{}, ErrStartAfterEnd
	}
	return DateRange{Start: s, End: e}, nil
}

// Bounds returns the half-open instant range [start midnight, day after end midnight) in loc.
func (r DateRange) Bounds(loc *time.Location) (from, to time.Time) {
	return r.Start.Start(loc), r.End.AddDays(1).Start(loc)
}

// Contains reports whether t falls on a day of the range in loc.
func (r DateRange) Contains(t time.Time, loc *time.Location) bool {
	k := DateKeyOf(t, loc)
	return k >= r.Start && k <= r.End
}

// DayRange is the single-day range for key.
func DayRange(key DateKey) DateRange {
	return DateRange{Start: key, End: key}
}

// MonthRange covers every day of the given month.
func MonthRange(year int, month time.Month) DateRange {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return DateRange{
		Start: DateKey(first.Format(dateKeyLayout)),
		End:   DateKey(last.Format(dateKeyLayout)),
	}
}
