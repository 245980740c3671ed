package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stream-journal/stream/internal/journal"
	"github.com/stream-journal/stream/internal/session"
)

var searchCmd = &cobra.Command{
	Use:     "search <query...>",
	GroupID: "journal",
	Short:   "Search the dated notes of the journal",
	Long: `Search the dated notes for lines containing every word of the query.

Words match whole words regardless of case. The last word also matches the
start of a longer word, so "deplo" finds "deployed".`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		limit, _ := cmd.Flags().GetInt("limit")
		byDate, _ := cmd.Flags().GetBool("by-date")
		if err := checkOutput(output); err != nil {
			return err
		}

		return withSession(func(s *session.Session) error {
			res, err := s.Search(cmd.Context(), strings.Join(args, " "), journal.SearchOptions{
				Limit:      limit,
				SortByDate: byDate,
			})
			if err != nil {
				return err
			}
			return writeSearch(cmd.OutOrStdout(), output, res)
		})
	},
}

func init() {
	searchCmd.Flags().StringP("output", "o", outputText, "output format: text, json or yaml")
	searchCmd.Flags().IntP("limit", "n", journal.DefaultSearchLimit, "maximum number of matches")
	searchCmd.Flags().Bool("by-date", false, "order matches newest note first instead of by relevance")
	rootCmd.AddCommand(searchCmd)
}

func writeSearch(w io.Writer, format string, res journal.SearchResults) error {
	if format != outputText {
		return writeData(w, format, res)
	}

	if len(res.Matches) == 0 {
		fmt.Fprintln(w, renderMuted("no matches"))
		return nil
	}
	for _, m := range res.Matches {
		label := m.DateKey
		if label == "" {
			label = filepath.Base(m.FilePath)
		}
		fmt.Fprintf(w, "%s:%d  %s\n", renderAccent(label), m.LineNumber, highlight(m.Snippet, m.Ranges, renderWarn))
	}
	if res.Total > len(res.Matches) {
		fmt.Fprintln(w, renderMuted(fmt.Sprintf("%d of %d matches", len(res.Matches), res.Total)))
	}
	return nil
}

// highlight applies mark to the matched parts of snippet. Ranges must be
// ordered by Start; overlapping ranges are merged.
func highlight(snippet string, ranges []journal.MatchRange, mark func(string) string) string {
	var b strings.Builder
	pos := 0
	for i := 0; i < len(ranges); i++ {
		start, end := ranges[i].Start, ranges[i].End
		for i+1 < len(ranges) && ranges[i+1].Start <= end {
			i++
			end = max(end, ranges[i].End)
		}
		start = max(start, pos)
		end = min(end, len(snippet))
		if start >= end {
			continue
		}
		b.WriteString(snippet[pos:start])
		b.WriteString(mark(snippet[start:end]))
		pos = end
	}
	b.WriteString(snippet[pos:])
	return b.String()
}
