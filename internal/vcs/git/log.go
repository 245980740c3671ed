package git

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stream-journal/stream/internal/vcs"
)

const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"

	// logFormat is one record per commit: hash, author name, author email,
	// committer time (unix seconds) and subject.
	logFormat = recordSep + "%H" + fieldSep + "%an" + fieldSep + "%ae" + fieldSep + "%ct" + fieldSep + "%s"

	// windowSlack widens the --since/--until hints so clock skew between
	// parents and children does not make git stop walking too early. The
	// exact window is enforced after parsing.
	windowSlack = 24 * time.Hour

	gitDateFmt = "2006-01-02 15:04:05 -0700"
)

// Lister lists commits of git repositories. The zero value is usable.
type Lister struct {
	// SkipBranches disables branch labelling and commit URLs, which cost
	// one extra git call per commit.
	SkipBranches bool
}

// NewLister returns a Lister with branch labelling enabled.
func NewLister() *Lister {
	return &Lister{}
}

// ListCommits implements vcs.Lister. Commits reachable from any local or
// remote branch whose committer time falls inside r are returned newest
// first. Every failure is wrapped in a *vcs.RepoError naming repoPath.
func (l *Lister) ListCommits(ctx context.Context, repoPath string, r vcs.Range) ([]vcs.Commit, error) {
	g, err := New(repoPath)
	if err != nil {
		return nil, &vcs.RepoError{Repo: repoPath, Err: err}
	}

	commits, err := g.Log(ctx, r, !l.SkipBranches)
	if err != nil {
		return nil, &vcs.RepoError{Repo: repoPath, Err: err}
	}

	for i := range commits {
		commits[i].RepoPath = repoPath
	}
	return commits, nil
}

// Log returns the commits in r across all branches, newest first. When
// withBranches is set each commit gets branch labels and, if a remote
// branch contains it, a web URL.
func (g *Git) Log(ctx context.Context, r vcs.Range, withBranches bool) ([]vcs.Commit, error) {
	if !g.hasCommits(ctx) {
		return nil, nil
	}

	args := []string{
		"log", "--branches", "--remotes", "--name-only",
		"--format=" + logFormat,
		"--since=" + r.Start.Add(-windowSlack).UTC().Format(gitDateFmt),
		"--until=" + r.End.Add(windowSlack).UTC().Format(gitDateFmt),
	}
	output, err := g.Exec(ctx, args...)
	if err != nil {
		return nil, err
	}

	commits, err := parseLog(string(output))
	if err != nil {
		return nil, err
	}

	inRange := commits[:0]
	for _, c := range commits {
		if r.Contains(time.UnixMilli(c.TimestampMs)) {
			inRange = append(inRange, c)
		}
	}
	commits = inRange

	sort.SliceStable(commits, func(i, j int) bool {
		return commits[i].TimestampMs > commits[j].TimestampMs
	})

	if withBranches && len(commits) > 0 {
		remoteURL := g.RemoteURL(ctx)
		for i := range commits {
			local, remote, err := g.BranchesContaining(ctx, commits[i].ID)
			if err != nil {
				return nil, err
			}
			labels, onRemote := LabelBranches(local, remote)
			commits[i].Branches = labels
			if onRemote && remoteURL != "" {
				commits[i].URL = CommitURL(remoteURL, commits[i].ID)
			}
		}
	}

	return commits, nil
}

// hasCommits reports whether HEAD or any ref resolves; git log fails on a
// freshly initialised repository with no commits.
func (g *Git) hasCommits(ctx context.Context) bool {
	output, err := g.Exec(ctx, "for-each-ref", "--count=1", "--format=%(refname)", "refs/heads", "refs/remotes")
	return err == nil && vcs.TrimOutput(output) != ""
}

// parseLog parses output produced with logFormat and --name-only. The same
// commit never appears twice in one git log invocation, but duplicates are
// dropped anyway so a hash maps to exactly one record.
func parseLog(output string) ([]vcs.Commit, error) {
	var commits []vcs.Commit
	seen := make(map[string]bool)

	for _, record := range strings.Split(output, recordSep) {
		record = strings.TrimLeft(record, "\n")
		if strings.TrimSpace(record) == "" {
			continue
		}

		lines := strings.Split(record, "\n")
		fields := strings.Split(lines[0], fieldSep)
		if len(fields) < 5 {
			return nil, fmt.Errorf("unexpected git log record: %q", lines[0])
		}

		seconds, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid commit time %q: %w", fields[3], err)
		}

		id := fields[0]
		if seen[id] {
			continue
		}
		seen[id] = true

		author := fields[1]
		if author == "" {
			author = "Unknown"
		}

		files := make([]string, 0, len(lines)-1)
		for _, line := range lines[1:] {
			if line = strings.TrimSpace(line); line != "" {
				files = append(files, line)
			}
		}

		commits = append(commits, vcs.Commit{
			ID:           id,
			AuthorName:   author,
			AuthorEmail:  fields[2],
			TimestampMs:  seconds * 1000,
			Message:      vcs.FirstLine(strings.Join(fields[4:], fieldSep)),
			FilesChanged: files,
		})
	}

	return commits, nil
}
