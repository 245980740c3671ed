package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stream-journal/stream/internal/session"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "journal",
	Short:   "Scan the journal, list commits and refresh due notes once",
	Long: `Run one synchronization pass over the journal folder:
  1. Scans dated and structured notes
  2. Lists the commits of the connected repositories for the range
  3. Regenerates every structured note whose refresh interval elapsed

The range defaults to the last seven days.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")

		return withSession(func(s *session.Session) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			start := time.Now()

			fmt.Fprintf(out, "%s Syncing %s\n", renderAccent("→"), s.Folder())

			notes, err := s.Metadata(ctx)
			if err != nil {
				return err
			}
			structured, err := s.StructuredMetadata(ctx)
			if err != nil {
				return err
			}

			if from == "" && to == "" {
				from = start.AddDate(0, 0, -6).In(s.Location()).Format("2006-01-02")
			}
			r, err := parseRange(from, to, start, s.Location())
			if err != nil {
				return err
			}
			res, err := s.Commits(ctx, r)
			if err != nil {
				return err
			}
			for _, e := range res.Errors {
				fmt.Fprintf(out, "%s %v\n", renderWarn("⚠"), e)
			}

			metrics := s.Metrics()
			if s.CheckForRefresh("sync") {
				s.Scheduler().Wait()
			}

			fmt.Fprintf(out, "%s Sync complete in %v\n", renderPass("✓"), time.Since(start).Round(time.Millisecond))
			fmt.Fprintf(out, "   Notes: %d dated, %d structured\n", len(notes), len(structured))
			fmt.Fprintf(out, "   Commits: %d over %d days\n", res.Buckets.Count(), len(res.Buckets))
			fmt.Fprintf(out, "   Refreshed: %d, failed: %d\n", metrics.RefreshedItems(), metrics.FailedItems())
			return nil
		})
	},
}

func init() {
	syncCmd.Flags().String("from", "", "first day of the commit range")
	syncCmd.Flags().String("to", "", "last day of the commit range")
	rootCmd.AddCommand(syncCmd)
}
