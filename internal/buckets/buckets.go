// Package buckets groups commits from several repositories into calendar-day
// buckets and merges partial bucket maps.
package buckets

import (
	"sort"
	"time"

	"github.com/stream-journal/stream/internal/vcs"
)

// Buckets maps a date key (YYYY-MM-DD) to the commits of that day.
type Buckets map[string][]vcs.Commit

// Keys returns the date keys in ascending order.
func (b Buckets) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Count returns the number of commits over all days.
func (b Buckets) Count() int {
	n := 0
	for _, commits := range b {
		n += len(commits)
	}
	return n
}

// Group buckets commits by their calendar day in loc, keeping the input
// order inside each day.
func Group(commits []vcs.Commit, loc *time.Location) Buckets {
	out := make(Buckets)
	for _, c := range commits {
		key := DateKey(c.Time(loc), loc)
		out[key] = append(out[key], c)
	}
	return out
}

// MergeCommitsByDate returns the union of old and new. Days present in new
// replace the same day in old; days only in old are kept as they are.
// Neither argument is modified.
func MergeCommitsByDate(old, new Buckets) Buckets {
	out := make(Buckets, len(old)+len(new))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range new {
		out[k] = v
	}
	return out
}
