package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stream-journal/stream/internal/journal"
	"github.com/stream-journal/stream/internal/journal/attrs"
	"github.com/stream-journal/stream/internal/session"
)

var notesCmd = &cobra.Command{
	Use:     "notes",
	GroupID: "journal",
	Short:   "List the notes of the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		structured, _ := cmd.Flags().GetBool("structured")
		if err := checkOutput(output); err != nil {
			return err
		}

		return withSession(func(s *session.Session) error {
			var notes []journal.FileMetadata
			var err error
			if structured {
				notes, err = s.StructuredMetadata(cmd.Context())
			} else {
				notes, err = s.Metadata(cmd.Context())
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != outputText {
				return writeData(out, output, notes)
			}
			for _, n := range notes {
				label := n.DateFromFilename
				if label == "" {
					label = n.FileName
				}
				fmt.Fprintf(out, "%s  %s", renderAccent(label), renderMuted(fmt.Sprintf("%d B", n.Size)))
				if n.City != "" || n.Country != "" {
					fmt.Fprintf(out, "  %s", joinNonEmpty(n.City, n.Country))
				}
				if n.RefreshInterval != "" && n.RefreshInterval != attrs.Never {
					fmt.Fprintf(out, "  %s", renderMuted("every "+string(n.RefreshInterval)))
				}
				if n.Description != "" {
					fmt.Fprintf(out, "\n    %s", n.Description)
				}
				fmt.Fprintln(out)
			}
			return nil
		})
	},
}

var noteSetCmd = &cobra.Command{
	Use:     "set <file>",
	GroupID: "journal",
	Short:   "Set the description, location or refresh interval of a note",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if !flags.Changed("description") && !flags.Changed("city") &&
			!flags.Changed("country") && !flags.Changed("interval") {
			return fmt.Errorf("nothing to set")
		}

		var interval attrs.Interval
		if flags.Changed("interval") {
			s, _ := flags.GetString("interval")
			parsed, err := journal.ParseRefreshInterval(s)
			if err != nil {
				return err
			}
			interval = parsed
		}

		return withSession(func(s *session.Session) error {
			ctx := cmd.Context()
			path := args[0]

			if flags.Changed("description") {
				d, _ := flags.GetString("description")
				if err := s.SetDescription(ctx, path, d); err != nil {
					return err
				}
			}
			if flags.Changed("city") || flags.Changed("country") {
				city, _ := flags.GetString("city")
				country, _ := flags.GetString("country")
				if err := s.SetLocation(ctx, path, country, city); err != nil {
					return err
				}
			}
			if flags.Changed("interval") {
				if err := s.SetRefreshInterval(ctx, path, interval); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated %s\n", renderPass("✓"), path)
			return nil
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:     "refresh <file>",
	GroupID: "journal",
	Short:   "Regenerate a structured note now",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session.Session) error {
			if err := s.RefreshFile(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s refreshed %s\n", renderPass("✓"), args[0])
			return nil
		})
	},
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += p
	}
	return out
}

func init() {
	notesCmd.Flags().StringP("output", "o", outputText, "output format: text, json or yaml")
	notesCmd.Flags().Bool("structured", false, "list structured notes instead of dated ones")

	noteSetCmd.Flags().String("description", "", "description, empty to remove")
	noteSetCmd.Flags().String("city", "", "city the note was written in")
	noteSetCmd.Flags().String("country", "", "country the note was written in")
	noteSetCmd.Flags().String("interval", "", "refresh interval: minutely, hourly, daily, weekly or none")

	rootCmd.AddCommand(notesCmd, noteSetCmd, refreshCmd)
}
