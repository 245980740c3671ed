// Package git provides the git implementation of vcs.Lister.
//
// This package wraps git commands to provide what the journal needs from a
// connected repository: commit listing over a time window, branch labels,
// web URLs for commits reachable from a remote, and fetching remotes.
package git

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stream-journal/stream/internal/vcs"
)

// DefaultTimeout bounds every git invocation.
const DefaultTimeout = 30 * time.Second

// Git wraps one repository.
type Git struct {
	// repoRoot is the repository root directory path
	repoRoot string

	timeout time.Duration
}

// New creates a new Git instance for the given repository.
// The path should be somewhere within a git repository.
func New(path string) (*Git, error) {
	g := &Git{timeout: DefaultTimeout}

	if err := g.detect(path); err != nil {
		return nil, err
	}

	return g, nil
}

// RepoRoot returns the repository root directory path
func (g *Git) RepoRoot() string {
	return g.repoRoot
}

// Exec executes a raw git command in the repository root.
func (g *Git) Exec(ctx context.Context, args ...string) ([]byte, error) {
	output, err := vcs.ExecContext(ctx, g.timeout, g.repoRoot, "git", args...)
	if err != nil {
		return nil, fmt.Errorf("git %s failed: %w", strings.Join(args, " "), err)
	}
	return output, nil
}

// Fetch fetches all configured remotes. Repositories without remotes are
// skipped and reported as such, matching how the journal treats local-only
// repositories.
func (g *Git) Fetch(ctx context.Context) (string, error) {
	remotes, err := g.Remotes(ctx)
	if err != nil {
		return "", err
	}
	if len(remotes) == 0 {
		return "No remotes found", nil
	}

	if _, err := g.Exec(ctx, "fetch", "--all", "--quiet"); err != nil {
		return "", err
	}

	return fmt.Sprintf("fetched %s", strings.Join(remotes, ", ")), nil
}
