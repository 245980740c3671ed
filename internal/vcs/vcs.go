// Package vcs provides the commit model and repository access used to show
// source-control activity next to journal days.
//
// # Architecture
//
// The Lister interface is the only thing the sync engine needs from a
// repository: given a path and a time window, produce the commits inside it.
// The git implementation lives in internal/vcs/git and shells out to the git
// binary, the same way the rest of the package runs commands through
// ExecContext.
//
// # Usage
//
//	lister := git.NewLister()
//	commits, err := vcs.ListCommits(ctx, lister, repos, vcs.Range{Start: from, End: to})
//	if re, ok := vcs.IsRepoError(err); ok {
//	    log.Printf("repository %s is unavailable", re.Repo)
//	}
package vcs

import (
	"context"
	"fmt"
	"time"
)

// Commit is one commit as shown on a journal day. Commits never change once
// fetched; only the set of commits in a day can grow as new ones appear.
type Commit struct {
	ID           string   `json:"id" yaml:"id"`
	RepoPath     string   `json:"repo_path" yaml:"repo_path"`
	AuthorName   string   `json:"author_name" yaml:"author_name"`
	AuthorEmail  string   `json:"author_email,omitempty" yaml:"author_email,omitempty"`
	TimestampMs  int64    `json:"timestamp" yaml:"timestamp"`
	Message      string   `json:"message" yaml:"message"`
	Branches     []string `json:"branches" yaml:"branches"`
	FilesChanged []string `json:"files_changed" yaml:"files_changed"`
	URL          string   `json:"url,omitempty" yaml:"url,omitempty"`
}

// Time returns the commit timestamp as a time.Time in loc.
func (c Commit) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(c.TimestampMs).In(loc)
}

// Range is an inclusive time window.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the range, both bounds included.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// String returns a compact representation used in logs and keys.
func (r Range) String() string {
	return fmt.Sprintf("%d..%d", r.Start.UnixMilli(), r.End.UnixMilli())
}

// Lister lists commits of a single repository.
//
// Implementations must return commits whose timestamp lies inside r
// (inclusive on both ends) and must wrap failures in a *RepoError naming
// repoPath.
type Lister interface {
	ListCommits(ctx context.Context, repoPath string, r Range) ([]Commit, error)
}

// ListerFunc adapts a function to the Lister interface.
type ListerFunc func(ctx context.Context, repoPath string, r Range) ([]Commit, error)

// ListCommits implements Lister.
func (f ListerFunc) ListCommits(ctx context.Context, repoPath string, r Range) ([]Commit, error) {
	return f(ctx, repoPath, r)
}

// ListCommits lists commits of every repository in order and concatenates
// them. It stops at the first failing repository and returns a *RepoError
// naming it.
func ListCommits(ctx context.Context, lister Lister, repos []string, r Range) ([]Commit, error) {
	var all []Commit
	for _, repo := range repos {
		commits, err := lister.ListCommits(ctx, repo, r)
		if err != nil {
			if _, ok := IsRepoError(err); ok {
				return nil, err
			}
			return nil, &RepoError{Repo: repo, Err: err}
		}
		all = append(all, commits...)
	}
	return all, nil
}
