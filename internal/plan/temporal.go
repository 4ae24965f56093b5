package plan

import "time"

// TemporalRange is a named calendar window.
type TemporalRange string

const (
	RangeToday     TemporalRange = "today"
	RangeYesterday TemporalRange = "yesterday"
	RangeThisWeek  TemporalRange = "this_week"
	RangeLastWeek  TemporalRange = "last_week"
	RangeThisMonth TemporalRange = "this_month"
	RangeLastMonth TemporalRange = "last_month"
	RangeRecent    TemporalRange = "recent"
	RangeThisYear  TemporalRange = "this_year"
)

// TemporalRanges lists every supported range.
var TemporalRanges = []TemporalRange{
	RangeToday, RangeYesterday, RangeThisWeek, RangeLastWeek,
	RangeThisMonth, RangeLastMonth, RangeRecent, RangeThisYear,
}

// Direction orders results by creation time.
type Direction string

const (
	DirectionOldest Direction = "oldest"
	DirectionNewest Direction = "newest"
)

// recentWindow is the span of RangeRecent.
const recentWindow = 30 * 24 * time.Hour

// Bounds resolves the range against now. from is inclusive, to is exclusive.
// ok is false for a nil filter or a direction-only filter.
func (f *TemporalFilter) Bounds(now time.Time) (from, to time.Time, ok bool) {
	if f == nil || f.Range == "" {
		return time.Time{}, time.Time{}, false
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	// Weeks start on Monday.
	offset := (int(day.Weekday()) + 6) % 7
	monday := day.AddDate(0, 0, -offset)
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	end := now.Add(time.Nanosecond)

	switch f.Range {
	case RangeToday:
		return day, end, true
	case RangeYesterday:
		return day.AddDate(0, 0, -1), day, true
	case RangeThisWeek:
		return monday, end, true
	case RangeLastWeek:
		return monday.AddDate(0, 0, -7), monday, true
	case RangeThisMonth:
		return month, end, true
	case RangeLastMonth:
		return month.AddDate(0, -1, 0), month, true
	case RangeRecent:
		return now.Add(-recentWindow), end, true
	case RangeThisYear:
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()), end, true
	}
	return time.Time{}, time.Time{}, false
}
