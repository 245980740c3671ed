// Package attrs stores per-note attributes that live outside the note text:
// location, description, refresh interval and last refresh time.
package attrs

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Interval is how often a structured note is regenerated.
type Interval string

const (
	Minutely Interval = "minutely"
	Hourly   Interval = "hourly"
	Daily    Interval = "daily"
	Weekly   Interval = "weekly"
	Never    Interval = "none"
)

// ParseInterval parses an interval name case-insensitively.
func ParseInterval(s string) (Interval, error) {
	switch i := Interval(strings.ToLower(strings.TrimSpace(s))); i {
	case Minutely, Hourly, Daily, Weekly, Never:
		return i, nil
	default:
		return "", fmt.Errorf("invalid refresh interval: %s", s)
	}
}

// Duration returns the length of the interval. It reports false for Never
// and for the empty interval.
func (i Interval) Duration() (time.Duration, bool) {
	switch i {
	case Minutely:
		return time.Minute, true
	case Hourly:
		return time.Hour, true
	case Daily:
		return 24 * time.Hour, true
	case Weekly:
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Due reports whether a note with this interval, last refreshed at last,
// needs a refresh at now. A note never refreshed counts as refreshed at the
// Unix epoch.
func (i Interval) Due(last, now time.Time) bool {
	d, ok := i.Duration()
	if !ok {
		return false
	}
	if last.IsZero() {
		last = time.UnixMilli(0)
	}
	return now.Sub(last) >= d
}

// Attributes of one note. Empty strings and the zero time mean unset.
type Attributes struct {
	Country         string
	City            string
	Description     string
	RefreshInterval Interval
	LastRefreshed   time.Time
}

// Store reads and writes note attributes.
type Store interface {
	Get(ctx context.Context, path string) (Attributes, error)
	SetLocation(ctx context.Context, path, country, city string) error

	// SetDescription stores description; an empty description removes it.
	SetDescription(ctx context.Context, path, description string) error

	SetRefreshInterval(ctx context.Context, path string, interval Interval) error
	MarkRefreshed(ctx context.Context, path string, at time.Time) error
}
