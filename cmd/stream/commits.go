package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stream-journal/stream/internal/buckets"
	"github.com/stream-journal/stream/internal/session"
	"github.com/stream-journal/stream/internal/vcs"
)

// Output formats.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// dayCommits is one day of the commits output.
type dayCommits struct {
	Date    string       `json:"date" yaml:"date"`
	Commits []vcs.Commit `json:"commits" yaml:"commits"`
}

var commitsCmd = &cobra.Command{
	Use:     "commits",
	GroupID: "repos",
	Short:   "Show the commits of the connected repositories by day",
	Long: `Show the commits of every repository connected to the journal folder,
grouped by calendar day, newest day first.

--from and --to take YYYY-MM-DD dates or expressions like "yesterday" or
"last monday". Both default to today.

Examples:
  stream commits
  stream commits --from "last monday"
  stream commits --from 2024-03-01 --to 2024-03-07 --output json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		output, _ := cmd.Flags().GetString("output")
		if err := checkOutput(output); err != nil {
			return err
		}

		return withSession(func(s *session.Session) error {
			r, err := parseRange(from, to, time.Now(), s.Location())
			if err != nil {
				return err
			}
			res, err := s.Commits(cmd.Context(), r)
			if err != nil {
				return err
			}
			for _, e := range res.Errors {
				fmt.Fprintf(os.Stderr, "%s %v\n", renderWarn("skipped:"), e)
			}
			return writeCommits(cmd.OutOrStdout(), output, res.Buckets, s.Location())
		})
	},
}

func init() {
	commitsCmd.Flags().String("from", "", "first day (YYYY-MM-DD or natural language)")
	commitsCmd.Flags().String("to", "", "last day (YYYY-MM-DD or natural language)")
	commitsCmd.Flags().StringP("output", "o", outputText, "output format: text, json or yaml")
	rootCmd.AddCommand(commitsCmd)
}

func checkOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// newestFirst lists the days of b, newest first.
func newestFirst(b buckets.Buckets) []dayCommits {
	keys := b.Keys()
	out := make([]dayCommits, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		out = append(out, dayCommits{Date: keys[i], Commits: b[keys[i]]})
	}
	return out
}

func writeCommits(w io.Writer, format string, b buckets.Buckets, loc *time.Location) error {
	days := newestFirst(b)

	if format != outputText {
		return writeData(w, format, days)
	}

	total := 0
	for _, d := range days {
		if len(d.Commits) == 0 {
			continue
		}
		total += len(d.Commits)
		fmt.Fprintf(w, "%s %s\n", dayStyle.Render(d.Date), renderMuted(fmt.Sprintf("(%d)", len(d.Commits))))
		for _, c := range d.Commits {
			fmt.Fprintf(w, "  %s  %s  %s  %s",
				c.Time(loc).Format("15:04"),
				renderAccent(shortID(c.ID)),
				filepath.Base(c.RepoPath),
				c.Message)
			if len(c.Branches) > 0 {
				fmt.Fprintf(w, "  %s", renderMuted("["+strings.Join(c.Branches, ", ")+"]"))
			}
			fmt.Fprintln(w)
		}
	}
	if total == 0 {
		fmt.Fprintln(w, renderMuted("no commits"))
	}
	return nil
}

// writeData writes v as JSON or YAML.
func writeData(w io.Writer, format string, v any) error {
	if format == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func shortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}
