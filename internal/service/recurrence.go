package service

import (
	"time"

	"duotime/internal/model"
)

// NextOccurrence advances t by one calendar unit of pattern. Month and year
// steps that land past the end of the target month are clamped to its last
// day, so a monthly reminder on Jan 31 fires on the last day of February.
// The wall clock and location of t are kept. ok is false for an unknown
// pattern.
func NextOccurrence(t time.Time, pattern string) (next time.Time, ok bool) {
	switch pattern {
	case model.PatternDaily:
		return t.AddDate(0, 0, 1), true
	case model.PatternWeekly:
		return t.AddDate(0, 0, 7), true
	case model.PatternMonthly:
		return addMonths(t, 1), true
	case model.PatternYearly:
		return addMonths(t, 12), true
	}
	return time.Time{}, false
}

func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
