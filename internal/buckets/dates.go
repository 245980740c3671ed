package buckets

import (
	"time"

	"github.com/stream-journal/stream/internal/vcs"
)

// DateKeyLayout is the layout of a bucket key and of dated note file names.
const DateKeyLayout = "2006-01-02"

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(location(loc))
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last representable instant of t's calendar day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	start := StartOfDay(t, loc)
	return time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, start.Location()).Add(-time.Nanosecond)
}

// DateKey returns the YYYY-MM-DD key of t's calendar day in loc.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(location(loc)).Format(DateKeyLayout)
}

// ParseDateKey parses a YYYY-MM-DD key as midnight in loc.
func ParseDateKey(key string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateKeyLayout, key, location(loc))
}

// DayWindow widens [start, end] to whole calendar days in loc.
func DayWindow(start, end time.Time, loc *time.Location) vcs.Range {
	return vcs.Range{Start: StartOfDay(start, loc), End: EndOfDay(end, loc)}
}

// DaysIn returns the date keys of every calendar day from start to end,
// both included, oldest first. It returns nil when end is before start.
func DaysIn(start, end time.Time, loc *time.Location) []string {
	day := StartOfDay(start, loc)
	last := StartOfDay(end, loc)

	var keys []string
	for !day.After(last) {
		keys = append(keys, day.Format(DateKeyLayout))
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, day.Location())
	}
	return keys
}
