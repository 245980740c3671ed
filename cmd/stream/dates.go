package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/stream-journal/stream/internal/buckets"
	"github.com/stream-journal/stream/internal/vcs"
)

var dateParser = newDateParser()

func newDateParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// parseDate accepts YYYY-MM-DD or an English expression such as "yesterday"
// or "last monday", relative to now.
func parseDate(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := buckets.ParseDateKey(s, loc); err == nil {
		return t, nil
	}
	switch strings.ToLower(s) {
	case "today", "now":
		return now.In(loc), nil
	}

	r, err := dateParser.Parse(s, now.In(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return r.Time.In(loc), nil
}

// parseRange resolves --from and --to into whole days. An empty from means the
// day of to.
func parseRange(from, to string, now time.Time, loc *time.Location) (vcs.Range, error) {
	end := now.In(loc)
	if to != "" {
		t, err := parseDate(to, now, loc)
		if err != nil {
			return vcs.Range{}, err
		}
		end = t
	}
	start := end
	if from != "" {
		t, err := parseDate(from, now, loc)
		if err != nil {
			return vcs.Range{}, err
		}
		start = t
	}
	if start.After(end) {
		return vcs.Range{}, fmt.Errorf("--from %s is after --to %s",
			buckets.DateKey(start, loc), buckets.DateKey(end, loc))
	}
	return buckets.DayWindow(start, end, loc), nil
}
