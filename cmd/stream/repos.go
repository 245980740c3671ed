package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/stream-journal/stream/internal/session"
	"github.com/stream-journal/stream/internal/vcs/git"
)

var reposCmd = &cobra.Command{
	Use:     "repos",
	GroupID: "repos",
	Short:   "Manage the repositories connected to the journal",
}

var reposListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connected repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if err := checkOutput(output); err != nil {
			return err
		}
		return withSession(func(s *session.Session) error {
			repos, err := s.ConnectedRepos(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if output != outputText {
				return writeData(out, output, repos)
			}
			if len(repos) == 0 {
				fmt.Fprintln(out, renderMuted("no connected repositories"))
				return nil
			}
			for _, r := range repos {
				mark := renderPass("✓")
				if !git.IsRepo(r) {
					mark = renderWarn("⚠")
				}
				fmt.Fprintf(out, "%s %s\n", mark, r)
			}
			return nil
		})
	},
}

var reposConnectCmd = &cobra.Command{
	Use:   "connect [path...]",
	Short: "Connect repositories, replacing the current set",
	Long: `Connect git repositories to the journal folder. The given paths replace
the connected set.

Without arguments on a terminal, pick repositories among the git
repositories directly below --scan (default: the parent of the current
directory).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scan, _ := cmd.Flags().GetString("scan")
		add, _ := cmd.Flags().GetBool("add")

		return withSession(func(s *session.Session) error {
			ctx := cmd.Context()
			current, err := s.ConnectedRepos(ctx)
			if err != nil {
				return err
			}

			repos := args
			if len(repos) == 0 {
				if !isTerminal(os.Stdin) {
					return fmt.Errorf("no repositories given")
				}
				repos, err = pickRepos(scan, current)
				if err != nil {
					return err
				}
			} else if add {
				repos = append(slices.Clone(current), repos...)
			}

			if err := s.ConnectRepos(ctx, repos); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d repositories connected\n", renderPass("✓"), len(repos))
			return nil
		})
	},
}

var reposDisconnectCmd = &cobra.Command{
	Use:   "disconnect <path>",
	Short: "Disconnect a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session.Session) error {
			if err := s.DisconnectRepo(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s disconnected %s\n", renderPass("✓"), args[0])
			return nil
		})
	},
}

var reposFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the remotes of every connected repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session.Session) error {
			results, err := s.FetchRepos(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				if r.Success {
					fmt.Fprintf(out, "%s %s %s\n", renderPass("✓"), r.RepoPath, renderMuted(r.Message))
					continue
				}
				failed++
				fmt.Fprintf(out, "%s %s %s\n", renderFail("✗"), r.RepoPath, r.Message)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d fetches failed", failed, len(results))
			}
			return nil
		})
	},
}

// pickRepos offers the git repositories directly below dir for selection,
// with the connected ones preselected.
func pickRepos(dir string, connected []string) ([]string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dir = filepath.Dir(wd)
	}
	found, err := findRepos(dir)
	if err != nil {
		return nil, err
	}
	for _, c := range connected {
		if !slices.Contains(found, c) {
			found = append(found, c)
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no git repositories below %s", dir)
	}

	options := make([]huh.Option[string], len(found))
	for i, r := range found {
		options[i] = huh.NewOption(filepath.Base(r)+"  "+renderMuted(r), r).
			Selected(slices.Contains(connected, r))
	}

	var selected []string
	err = huh.NewMultiSelect[string]().
		Title("Repositories to connect").
		Options(options...).
		Value(&selected).
		Run()
	if err != nil {
		return nil, err
	}
	return selected, nil
}

// findRepos lists the git repositories directly below dir.
func findRepos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	var repos []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if git.IsRepo(p) {
			repos = append(repos, p)
		}
	}
	return repos, nil
}

func init() {
	reposListCmd.Flags().StringP("output", "o", outputText, "output format: text, json or yaml")
	reposConnectCmd.Flags().String("scan", "", "directory to look for repositories in")
	reposConnectCmd.Flags().Bool("add", false, "add to the connected set instead of replacing it")

	reposCmd.AddCommand(reposListCmd, reposConnectCmd, reposDisconnectCmd, reposFetchCmd)
	rootCmd.AddCommand(reposCmd)
}
