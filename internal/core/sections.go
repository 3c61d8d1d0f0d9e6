package core

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

const (
	dateKeyLayout = "2006-01-02"
	labelLayout   = "January 2"

	LabelToday     = "Today"
	LabelYesterday = "Yesterday"
)

// ErrInvalidEntryTimestamp classifies entries that cannot be placed on a calendar day.
var ErrInvalidEntryTimestamp = errors.New("invalid entry timestamp")

// DateKey is a calendar date formatted YYYY-MM-DD. String order is date order.
type DateKey string

// DateSection groups the entries of one calendar day, newest first.
type DateSection struct {
	Key     DateKey
	Label   string
	Entries []JournalEntry
}

// InvalidEntryTimestampError reports an entry skipped during grouping.
type InvalidEntryTimestampError struct {
	EntryID string
}

func (e *InvalidEntryTimestampError) Error() string {
	return fmt.Sprintf("entry %q: %v", e.EntryID, ErrInvalidEntryTimestamp)
}

func (e *InvalidEntryTimestampError) Unwrap() error {
	return ErrInvalidEntryTimestamp
}

// DateKeyOf truncates t to its calendar date in loc.
func DateKeyOf(t time.Time, loc *time.Location) DateKey {
	if loc == nil {
		loc = time.Local
	}
	return DateKey(t.In(loc).Format(dateKeyLayout))
}

// ParseDateKey validates a YYYY-MM-DD string.
func ParseDateKey(s string) (DateKey, error) {
	t, err := time.Parse(dateKeyLayout, s)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", s, err)
	}
	// Reject non-canonical forms that time.Parse tolerates.
	if t.Format(dateKeyLayout) != s {
		return "", fmt.Errorf("parse date %q: not in YYYY-MM-DD form", s)
	}
	return DateKey(s), nil
}

// Start returns midnight of the key's day in loc.
func (k DateKey) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(dateKeyLayout, string(k), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays moves the key by n calendar days.
func (k DateKey) AddDays(n int) DateKey {
	t, err := time.Parse(dateKeyLayout, string(k))
	if err != nil {
		return k
	}
	return DateKey(t.AddDate(0, 0, n).Format(dateKeyLayout))
}

// Time is the key's midnight in UTC.
func (k DateKey) Time() time.Time {
	return k.Start(time.UTC)
}

func (k DateKey) String() string {
	return string(k)
}

// Label renders the key relative to today: "Today", "Yesterday", or month and day.
// The year is never shown.
func (k DateKey) Label(today DateKey) string {
	switch k {
	case today:
		return LabelToday
	case today.AddDays(-1):
		return LabelYesterday
	}
	t, err := time.Parse(dateKeyLayout, string(k))
	if err != nil {
		return string(k)
	}
	return t.Format(labelLayout)
}

// GroupEntriesByDate buckets entries by calendar day in today's location and orders
// both sections and entries newest first.
//
// Entries with a zero timestamp are skipped. The valid sections are always returned;
// the error, when non-nil, joins one *InvalidEntryTimestampError per skipped entry.
func GroupEntriesByDate(entries []JournalEntry, today time.Time) ([]DateSection, error) {
	loc := today.Location()
	todayKey := DateKeyOf(today, loc)

	buckets := make(map[DateKey][]JournalEntry)
	var skipped []error
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			skipped = append(skipped, &InvalidEntryTimestampError{EntryID: e.ID})
			continue
		}
		key := DateKeyOf(e.Timestamp, loc)
		buckets[key] = append(buckets[key], e)
	}

	sections := make([]DateSection, 0, len(buckets))
	for key, bucket := range buckets {
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].Timestamp.After(bucket[j].Timestamp)
		})
		sections = append(sections, DateSection{
			Key:     key,
			Label:   key.Label(todayKey),
			Entries: bucket,
		})
	}
	sort.Slice(sections, func(i, j int) bool {
		return sections[i].Key > sections[j].Key
	})

	return sections, errors.Join(skipped...)
}
