package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stream-journal/stream/internal/errs"
	"github.com/stream-journal/stream/internal/vcs"
)

// detectTimeout bounds the rev-parse run by New.
const detectTimeout = 10 * time.Second

// detect resolves the repository root of path.
func (g *Git) detect(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return &errs.IOError{Op: "stat", Path: absPath, Err: err}
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", absPath, vcs.ErrNotInVCS)
	}

	output, err := vcs.ExecContext(context.Background(), detectTimeout, absPath, "git", "rev-parse", "--show-toplevel")
	if err != nil {
		if vcs.IsExitError(err) {
			return fmt.Errorf("%s: %w", absPath, vcs.ErrNotInVCS)
		}
		return err
	}

	root := vcs.TrimOutput(output)
	if root == "" {
		return fmt.Errorf("%s: %w", absPath, vcs.ErrNotInVCS)
	}
	g.repoRoot = normalizeRepoRoot(root)
	return nil
}

// normalizeRepoRoot resolves symlinks so the same repository connected
// through two paths is recognised.
func normalizeRepoRoot(path string) string {
	path = filepath.FromSlash(path)

	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}

	return path
}

// IsRepo reports whether path is inside a git repository.
func IsRepo(path string) bool {
	_, err := New(path)
	return err == nil
}

// Remotes returns the configured remote names.
func (g *Git) Remotes(ctx context.Context) ([]string, error) {
	remotes, err := vcs.ExecLines(ctx, g.timeout, g.repoRoot, "git", "remote")
	if err != nil {
		return nil, fmt.Errorf("git remote failed: %w", err)
	}
	return remotes, nil
}

// RemoteURL returns the URL of origin, or of the first remote that has one.
// Returns "" when no remote is configured.
func (g *Git) RemoteURL(ctx context.Context) string {
	if output, err := g.Exec(ctx, "remote", "get-url", "origin"); err == nil {
		if url := vcs.TrimOutput(output); url != "" {
			return url
		}
	}

	remotes, err := g.Remotes(ctx)
	if err != nil {
		return ""
	}
	for _, name := range remotes {
		output, err := g.Exec(ctx, "remote", "get-url", name)
		if err != nil {
			continue
		}
		if url := vcs.TrimOutput(output); url != "" {
			return url
		}
	}
	return ""
}

// CommitURL builds a web URL for commitID from a remote URL. SSH remotes
// (git@host:owner/repo.git) and HTTP(S) remotes are supported; anything
// else yields "".
func CommitURL(remoteURL, commitID string) string {
	var base string
	switch {
	case strings.HasPrefix(remoteURL, "git@"):
		parts := strings.Split(remoteURL, ":")
		if len(parts) != 2 {
			return ""
		}
		host := strings.TrimPrefix(parts[0], "git@")
		path := strings.TrimSuffix(parts[1], ".git")
		base = "https://" + host + "/" + path
	case strings.HasPrefix(remoteURL, "https://"), strings.HasPrefix(remoteURL, "http://"):
		base = strings.TrimSuffix(remoteURL, ".git")
	default:
		return ""
	}

	switch {
	case strings.Contains(base, "github.com"):
		return base + "/commit/" + commitID
	case strings.Contains(base, "gitlab.com"), strings.Contains(base, "gitlab."):
		return base + "/-/commit/" + commitID
	case strings.Contains(base, "bitbucket.org"):
		return base + "/commits/" + commitID
	default:
		return base + "/commit/" + commitID
	}
}
