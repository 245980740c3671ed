package journal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/stream-journal/stream/internal/errs"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Parser fix", []string{"parser", "fix"}},
		{"  deploy,  rollback!", []string{"deploy", "rollback"}},
		{"café-meeting", []string{"café", "meeting"}},
		{" ,.;", []string{}},
	}

	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, Tokenize(tt.in)); diff != "" {
			t.Errorf("Tokenize(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestMatchLine(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		terms      []string
		wantOK     bool
		wantRanges []MatchRange
		wantScore  float64
	}{
		{
			name:       "whole word",
			line:       "Fixed the parser today",
			terms:      []string{"parser"},
			wantOK:     true,
			wantRanges: []MatchRange{{10, 16}},
			wantScore:  1,
		},
		{
			name:       "last term matches a prefix",
			line:       "Fixed the parser today",
			terms:      []string{"fix"},
			wantOK:     true,
			wantRanges: []MatchRange{{0, 5}},
			wantScore:  1,
		},
		{
			name:   "earlier terms need the whole word",
			line:   "Fixed the parser today",
			terms:  []string{"par", "today"},
			wantOK: false,
		},
		{
			name:   "every term required",
			line:   "Fixed the parser today",
			terms:  []string{"parser", "tomorrow"},
			wantOK: false,
		},
		{
			name:   "no match inside a word",
			line:   "reparse everything",
			terms:  []string{"parse"},
			wantOK: false,
		},
		{
			name:       "punctuation is a boundary",
			line:       "(deploy) went fine",
			terms:      []string{"deploy"},
			wantOK:     true,
			wantRanges: []MatchRange{{1, 7}},
			wantScore:  1,
		},
		{
			name:       "byte offsets after multi-byte runes",
			line:       "Café meeting notes",
			terms:      []string{"meeting"},
			wantOK:     true,
			wantRanges: []MatchRange{{6, 13}},
			wantScore:  1,
		},
		{
			name:       "ranges ordered by position",
			line:       "notes from the standup notes",
			terms:      []string{"standup", "notes"},
			wantOK:     true,
			wantRanges: []MatchRange{{0, 5}, {15, 22}, {23, 28}},
			wantScore:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := MatchLine(tt.line, tt.terms)
			if ok != tt.wantOK {
				t.Fatalf("MatchLine() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if diff := cmp.Diff(tt.wantRanges, m.Ranges); diff != "" {
				t.Errorf("ranges mismatch (-want +got):\n%s", diff)
			}
			if m.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", m.Score, tt.wantScore)
			}
		})
	}
}

func TestMatchLine_SnippetWindow(t *testing.T) {
	line := strings.Repeat("a ", 60) + "target" + strings.Repeat(" b", 100)

	m, ok := MatchLine(line, []string{"target"})
	if !ok {
		t.Fatal("MatchLine() found nothing")
	}
	if len(m.Snippet) != snippetLead+snippetWidth {
		t.Errorf("snippet is %d bytes, want %d", len(m.Snippet), snippetWidth+snippetLead)
	}
	if diff := cmp.Diff([]MatchRange{{snippetLead, snippetLead + 6}}, m.Ranges); diff != "" {
		t.Errorf("ranges mismatch (-want +got):\n%s", diff)
	}
	if got := m.Snippet[m.Ranges[0].Start:m.Ranges[0].End]; got != "target" {
		t.Errorf("highlighted %q, want target", got)
	}
}

func searchFolder(t *testing.T) string {
	t.Helper()
	folder := t.TempDir()
	writeNote(t, filepath.Join(folder, "2024-03-08-not-dated.md"), "parser")
	writeNote(t, filepath.Join(folder, "2024-03-09.md"), "standup notes\nparser parser fix\n")
	writeNote(t, filepath.Join(folder, "2024-03-10.md"), "parser work\r\n\r\nnothing here\r\n")
	writeNote(t, filepath.Join(folder, "2024", "2024-03-08.md"), "Parser.")
	writeNote(t, filepath.Join(folder, StructuredDir, "weekly.md"), "parser")
	return folder
}

type hit struct {
	Date  string
	Line  int
	Score float64
}

func hits(matches []SearchMatch) []hit {
	var out []hit
	for _, m := range matches {
		out = append(out, hit{m.DateKey, m.LineNumber, m.Score})
	}
	return out
}

func TestReader_Search(t *testing.T) {
	folder := searchFolder(t)
	r := NewReader(nil, nil)
	ctx := context.Background()

	t.Run("by score", func(t *testing.T) {
		res, err := r.Search(ctx, folder, "parser", SearchOptions{})
		if err != nil {
			t.Fatalf("Search() failed: %v", err)
		}
		want := []hit{{"2024-03-09", 2, 2}, {"2024-03-10", 1, 1}, {"2024-03-08", 1, 1}}
		if diff := cmp.Diff(want, hits(res.Matches)); diff != "" {
			t.Errorf("matches mismatch (-want +got):\n%s", diff)
		}
		if res.Total != 3 {
			t.Errorf("Total = %d, want 3", res.Total)
		}
	})

	t.Run("by date", func(t *testing.T) {
		res, err := r.Search(ctx, folder, "parser", SearchOptions{SortByDate: true})
		if err != nil {
			t.Fatalf("Search() failed: %v", err)
		}
		want := []hit{{"2024-03-10", 1, 1}, {"2024-03-09", 2, 2}, {"2024-03-08", 1, 1}}
		if diff := cmp.Diff(want, hits(res.Matches)); diff != "" {
			t.Errorf("matches mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("limit keeps total", func(t *testing.T) {
		res, err := r.Search(ctx, folder, "parser", SearchOptions{Limit: 1})
		if err != nil {
			t.Fatalf("Search() failed: %v", err)
		}
		if len(res.Matches) != 1 || res.Total != 3 {
			t.Errorf("got %d matches of %d, want 1 of 3", len(res.Matches), res.Total)
		}
	})

	t.Run("empty query", func(t *testing.T) {
		res, err := r.Search(ctx, folder, " ,. ", SearchOptions{})
		if err != nil {
			t.Fatalf("Search() failed: %v", err)
		}
		if len(res.Matches) != 0 || res.Total != 0 {
			t.Errorf("Search() = %+v, want nothing", res)
		}
	})

	t.Run("missing folder", func(t *testing.T) {
		_, err := r.Search(ctx, filepath.Join(folder, "gone"), "parser", SearchOptions{})
		if _, ok := errs.IsIOError(err); !ok {
			t.Errorf("error = %v, want IOError", err)
		}
	})
}
