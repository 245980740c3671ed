package buckets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stream-journal/stream/internal/vcs"
)

// Config holds configuration for an Aggregator.
type Config struct {
	// Location decides which calendar day a commit belongs to.
	// Defaults to time.Local.
	Location *time.Location

	// MaxConcurrent bounds how many repositories are listed at once.
	MaxConcurrent int

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Location:      time.Local,
		MaxConcurrent: 4,
		Logger:        zap.NewNop(),
	}
}

// Aggregator lists commits of a repository set and buckets them by day.
type Aggregator struct {
	lister vcs.Lister
	config Config
	log    *zap.Logger
}

// NewAggregator creates an Aggregator reading through lister.
func NewAggregator(lister vcs.Lister, config Config) *Aggregator {
	def := DefaultConfig()
	if config.Location == nil {
		config.Location = def.Location
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	return &Aggregator{
		lister: lister,
		config: config,
		log:    config.Logger.Named("buckets"),
	}
}

// Location returns the time zone used for grouping.
func (a *Aggregator) Location() *time.Location {
	return a.config.Location
}

// Result is the outcome of Aggregate.
type Result struct {
	Buckets Buckets

	// Errors holds one entry per repository that could not be listed.
	Errors []*vcs.RepoError
}

// Aggregate lists the commits of every repository between the start of
// start's day and the end of end's day, both included, and groups them by
// calendar day.
//
// Within a day, commits appear in repository order and, per repository, in
// the order the lister returned them. A commit id listed twice by the same
// repository is kept once; the same id in two repositories is kept twice.
//
// A repository that fails is reported in Result.Errors and the others are
// still returned. Aggregate only fails when every repository failed or ctx
// is done.
func (a *Aggregator) Aggregate(ctx context.Context, repos []string, r vcs.Range) (Result, error) {
	window := DayWindow(r.Start, r.End, a.config.Location)

	lists := make([][]vcs.Commit, len(repos))
	errs := make([]error, len(repos))

	var g errgroup.Group
	g.SetLimit(a.config.MaxConcurrent)

	for i, repo := range repos {
		g.Go(func() error {
			commits, err := a.lister.ListCommits(ctx, repo, window)
			if err != nil {
				errs[i] = err
				return nil
			}
			lists[i] = commits
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	result := Result{Buckets: make(Buckets)}
	var all []vcs.Commit

	for i, repo := range repos {
		if err := errs[i]; err != nil {
			re, ok := vcs.IsRepoError(err)
			if !ok {
				re = &vcs.RepoError{Repo: repo, Err: err}
			}
			result.Errors = append(result.Errors, re)
			a.log.Warn("failed to list commits", zap.String("repo", repo), zap.Error(err))
			continue
		}

		seen := make(map[string]bool, len(lists[i]))
		for _, c := range lists[i] {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			if c.RepoPath == "" {
				c.RepoPath = repo
			}
			all = append(all, c)
		}
	}

	if len(repos) > 0 && len(result.Errors) == len(repos) {
		joined := make([]error, len(result.Errors))
		for i, re := range result.Errors {
			joined[i] = re
		}
		return result, fmt.Errorf("all %d repositories failed: %w", len(repos), errors.Join(joined...))
	}

	for _, c := range all {
		if !window.Contains(c.Time(a.config.Location)) {
			continue
		}
		key := DateKey(c.Time(a.config.Location), a.config.Location)
		result.Buckets[key] = append(result.Buckets[key], c)
	}

	a.log.Debug("aggregated commits",
		zap.Int("repos", len(repos)),
		zap.String("from", DateKey(window.Start, a.config.Location)),
		zap.String("to", DateKey(window.End, a.config.Location)),
		zap.Int("commits", result.Buckets.Count()))

	return result, nil
}
