package journal

import (
	"context"
	"os"
	"runtime"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultSearchLimit caps the matches returned when no limit is given.
const DefaultSearchLimit = 100

// Snippets show this many runes before the first match and up to
// snippetWidth runes from the start of the snippet window.
const (
	snippetLead  = 50
	snippetWidth = 100
)

// SearchOptions controls Search.
type SearchOptions struct {
	// Limit caps the returned matches. Zero means DefaultSearchLimit.
	Limit int

	// SortByDate orders matches newest note first instead of by score.
	SortByDate bool
}

// MatchRange is a half-open byte range [Start, End) into a snippet. The
// ranges of a match are ordered by Start and may overlap when two terms
// match the same word.
type MatchRange struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// SearchMatch is one matching line of a dated note.
type SearchMatch struct {
	FilePath   string       `json:"file_path" yaml:"file_path"`
	DateKey    string       `json:"date" yaml:"date"`
	LineNumber int          `json:"line_number" yaml:"line_number"`
	Snippet    string       `json:"snippet" yaml:"snippet"`
	Ranges     []MatchRange `json:"match_ranges" yaml:"match_ranges"`
	Score      float64      `json:"score" yaml:"score"`
}

// SearchResults holds the matches kept after sorting and the limit. Total
// counts every match found.
type SearchResults struct {
	Matches []SearchMatch `json:"matches" yaml:"matches"`
	Total   int           `json:"total_results" yaml:"total_results"`
	Took    time.Duration `json:"search_time" yaml:"search_time"`
}

// Search finds the lines of the folder's dated notes that contain every term
// of query. Terms match whole words, case-insensitively, except the last
// one, which also matches as a word prefix so a query can be typed
// incrementally. A line scores one point per occurrence of any term.
//
// Unreadable notes are skipped. A query without terms returns no matches.
func (r *Reader) Search(ctx context.Context, folder, query string, opts SearchOptions) (SearchResults, error) {
	started := time.Now()

	terms := Tokenize(query)
	if len(terms) == 0 {
		return SearchResults{Matches: []SearchMatch{}}, nil
	}

	notes, err := r.ReadFileMetadata(ctx, folder, Options{})
	if err != nil {
		return SearchResults{}, err
	}

	perNote := make([][]SearchMatch, len(notes))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, note := range notes {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			perNote[i] = r.searchNote(note, terms)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SearchResults{}, err
	}

	// Notes arrive newest date first; flattening keeps that order for ties.
	matches := []SearchMatch{}
	for _, m := range perNote {
		matches = append(matches, m...)
	}

	if opts.SortByDate {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].DateKey > matches[j].DateKey
		})
	} else {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].Score > matches[j].Score
		})
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	total := len(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	return SearchResults{Matches: matches, Total: total, Took: time.Since(started)}, nil
}

func (r *Reader) searchNote(note FileMetadata, terms []string) []SearchMatch {
	data, err := os.ReadFile(note.FilePath)
	if err != nil {
		r.log.Debug("skipping unreadable note", zap.String("path", note.FilePath), zap.Error(err))
		return nil
	}

	var out []SearchMatch
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		m, ok := MatchLine(line, terms)
		if !ok {
			continue
		}
		m.FilePath = note.FilePath
		m.DateKey = note.DateFromFilename
		m.LineNumber = i + 1
		out = append(out, m)
	}
	return out
}

// Tokenize lowercases s and splits it on white space and ASCII punctuation.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), isWordSep)
}

func isWordSep(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	return r < utf8.RuneSelf && (unicode.IsPunct(r) || unicode.IsSymbol(r))
}

// MatchLine reports whether line contains every one of terms, as Search
// matches them, and returns the snippet around the first occurrence of the
// first term. Only FilePath, DateKey and LineNumber are left unset.
func MatchLine(line string, terms []string) (SearchMatch, bool) {
	if len(terms) == 0 {
		return SearchMatch{}, false
	}

	text := []rune(line)
	lower := make([]rune, len(text))
	for i, c := range text {
		lower[i] = unicode.ToLower(c)
	}
	boundary := func(i int) bool {
		return i == 0 || isWordSep(lower[i-1])
	}
	wordEnd := func(i int) bool {
		return i >= len(lower) || isWordSep(lower[i])
	}

	type span struct{ start, end int }
	var spans []span

	for n, term := range terms {
		want := []rune(term)
		prefix := n == len(terms)-1
		found := false

		for i := 0; i < len(lower); {
			end := i + len(want)
			if !boundary(i) || end > len(lower) || !slices.Equal(lower[i:end], want) {
				i++
				continue
			}
			if prefix {
				for !wordEnd(end) {
					end++
				}
			} else if !wordEnd(end) {
				i++
				continue
			}
			spans = append(spans, span{i, end})
			found = true
			i = end
		}

		if !found {
			return SearchMatch{}, false
		}
	}

	first := spans[0].start
	from := max(first-snippetLead, 0)
	to := min(first+snippetWidth, len(text))

	// Byte offset of each rune of the snippet, plus its end.
	offsets := make([]int, 0, to-from+1)
	pos := 0
	for _, c := range text[from:to] {
		offsets = append(offsets, pos)
		pos += utf8.RuneLen(c)
	}
	offsets = append(offsets, pos)

	ranges := []MatchRange{}
	for _, s := range spans {
		if s.start < from || s.start >= to {
			continue
		}
		ranges = append(ranges, MatchRange{
			Start: offsets[s.start-from],
			End:   offsets[min(s.end, to)-from],
		})
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	return SearchMatch{
		Snippet: string(text[from:to]),
		Ranges:  ranges,
		Score:   float64(len(spans)),
	}, true
}
