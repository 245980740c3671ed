package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/stream-journal/stream/internal/buckets"
	"github.com/stream-journal/stream/internal/journal"
	"github.com/stream-journal/stream/internal/vcs"
)

var now = time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2024-03-01", want: "2024-03-01"},
		{in: "today", want: "2024-03-10"},
		{in: "yesterday", want: "2024-03-09"},
		{in: "", wantErr: true},
		{in: "qwzx", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDate(tt.in, now, time.UTC)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseDate(%q) = %v, want an error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDate(%q) failed: %v", tt.in, err)
			}
			if key := buckets.DateKey(got, time.UTC); key != tt.want {
				t.Errorf("parseDate(%q) = %s, want %s", tt.in, key, tt.want)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	r, err := parseRange("2024-03-08", "", now, time.UTC)
	if err != nil {
		t.Fatalf("parseRange() failed: %v", err)
	}
	want := vcs.Range{
		Start: time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
		End:   buckets.EndOfDay(now, time.UTC),
	}
	if !r.Start.Equal(want.Start) || !r.End.Equal(want.End) {
		t.Errorf("parseRange() = %v, want %v", r, want)
	}

	if _, err := parseRange("2024-03-10", "2024-03-01", now, time.UTC); err == nil {
		t.Error("parseRange() with from after to should fail")
	}
}

func testBuckets() buckets.Buckets {
	return buckets.Buckets{
		"2024-03-09": {},
		"2024-03-10": {{
			ID:          "0123456789abcdef",
			RepoPath:    "/src/stream",
			TimestampMs: now.UnixMilli(),
			Message:     "fix the parser",
			Branches:    []string{"main"},
		}},
	}
}

func TestWriteCommits(t *testing.T) {
	setupColor()

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := writeCommits(&buf, outputText, testBuckets(), time.UTC); err != nil {
			t.Fatalf("writeCommits() failed: %v", err)
		}
		out := buf.String()
		for _, want := range []string{"2024-03-10", "15:00", "0123456", "stream", "fix the parser", "[main]"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
		if strings.Contains(out, "2024-03-09") {
			t.Errorf("empty day printed:\n%s", out)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := writeCommits(&buf, outputJSON, testBuckets(), time.UTC); err != nil {
			t.Fatalf("writeCommits() failed: %v", err)
		}
		var got []dayCommits
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if diff := cmp.Diff(newestFirst(testBuckets()), got); diff != "" {
			t.Errorf("JSON mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := writeCommits(&buf, outputYAML, testBuckets(), time.UTC); err != nil {
			t.Fatalf("writeCommits() failed: %v", err)
		}
		var got []dayCommits
		if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid YAML: %v", err)
		}
		if len(got) != 2 || got[0].Date != "2024-03-10" || got[0].Commits[0].Message != "fix the parser" {
			t.Errorf("YAML = %+v, want newest day first", got)
		}
	})
}

func TestCheckOutput(t *testing.T) {
	for _, f := range []string{outputText, outputJSON, outputYAML} {
		if err := checkOutput(f); err != nil {
			t.Errorf("checkOutput(%q) failed: %v", f, err)
		}
	}
	if err := checkOutput("xml"); err == nil {
		t.Error("checkOutput(xml) should fail")
	}
}

func TestJoinNonEmpty(t *testing.T) {
	if got := joinNonEmpty("Utrecht", "", "NL"); got != "Utrecht, NL" {
		t.Errorf("joinNonEmpty() = %q", got)
	}
}

func TestHighlight(t *testing.T) {
	mark := func(s string) string { return "[" + s + "]" }
	tests := []struct {
		name   string
		ranges []journal.MatchRange
		want   string
	}{
		{"none", nil, "deployed the parser"},
		{"one", []journal.MatchRange{{Start: 0, End: 8}}, "[deployed] the parser"},
		{"two", []journal.MatchRange{{Start: 0, End: 8}, {Start: 13, End: 19}}, "[deployed] the [parser]"},
		{"overlapping", []journal.MatchRange{{Start: 0, End: 6}, {Start: 0, End: 8}}, "[deployed] the parser"},
		{"adjacent", []journal.MatchRange{{Start: 9, End: 12}, {Start: 12, End: 19}}, "deployed [the parser]"},
		{"past the end", []journal.MatchRange{{Start: 13, End: 40}}, "deployed the [parser]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := highlight("deployed the parser", tt.ranges, mark); got != tt.want {
				t.Errorf("highlight() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteSearch(t *testing.T) {
	setupColor()

	res := journal.SearchResults{
		Matches: []journal.SearchMatch{{
			FilePath:   "/journal/2024-03-10.md",
			DateKey:    "2024-03-10",
			LineNumber: 3,
			Snippet:    "fixed the parser",
			Ranges:     []journal.MatchRange{{Start: 10, End: 16}},
			Score:      1,
		}},
		Total: 4,
	}

	var buf bytes.Buffer
	if err := writeSearch(&buf, outputText, res); err != nil {
		t.Fatalf("writeSearch() failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"2024-03-10", ":3", "fixed the parser", "1 of 4 matches"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := writeSearch(&buf, outputJSON, res); err != nil {
		t.Fatalf("writeSearch() failed: %v", err)
	}
	var got journal.SearchResults
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Total != 4 || len(got.Matches) != 1 || got.Matches[0].Ranges[0] != (journal.MatchRange{Start: 10, End: 16}) {
		t.Errorf("JSON = %+v", got)
	}
}
