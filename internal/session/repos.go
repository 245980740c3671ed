package session

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stream-journal/stream/internal/buckets"
	"github.com/stream-journal/stream/internal/cache"
	"github.com/stream-journal/stream/internal/vcs"
)

// fetchConcurrency bounds parallel git fetches.
const fetchConcurrency = 4

// FetchResult is the outcome of fetching one repository.
type FetchResult struct {
	RepoPath string `json:"repo_path" yaml:"repo_path"`
	Success  bool   `json:"success" yaml:"success"`
	Message  string `json:"message" yaml:"message"`
}

// ConnectedRepos returns the repositories connected to the folder, in the
// order they were connected.
func (s *Session) ConnectedRepos(ctx context.Context) ([]string, error) {
	return cache.FetchOrGet(ctx, s.cache, cache.ReposKey{Folder: s.folder},
		func(ctx context.Context) ([]string, error) {
			return s.settings.GetConnectedRepos(ctx, s.folder)
		}, 0)
}

// ConnectRepos replaces the connected repositories. Every path must be a git
// repository. Cached commits of the previous set are dropped.
func (s *Session) ConnectRepos(ctx context.Context, repos []string) error {
	resolved := make([]string, 0, len(repos))
	for _, r := range repos {
		abs, err := filepath.Abs(r)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", r, err)
		}
		if !s.isRepo(abs) {
			return &vcs.RepoError{Repo: abs, Err: vcs.ErrNotInVCS}
		}
		if !slices.Contains(resolved, abs) {
			resolved = append(resolved, abs)
		}
	}
	return s.setRepos(ctx, resolved)
}

// DisconnectRepo removes one repository from the connected set.
func (s *Session) DisconnectRepo(ctx context.Context, repo string) error {
	current, err := s.ConnectedRepos(ctx)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(repo)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", repo, err)
	}
	if !slices.Contains(current, abs) {
		return fmt.Errorf("%s is not connected", abs)
	}
	remaining := slices.DeleteFunc(slices.Clone(current), func(r string) bool { return r == abs })
	return s.setRepos(ctx, remaining)
}

func (s *Session) setRepos(ctx context.Context, repos []string) error {
	err := s.mutator.Apply(ctx, cache.ReposKey{Folder: s.folder}, repos, func(ctx context.Context) error {
		return s.settings.SetConnectedRepos(ctx, s.folder, repos)
	})
	if err != nil {
		return err
	}
	s.setCachedRepos(repos)
	s.cache.Invalidate(cache.CommitsForFolder(s.folder))
	s.log.Info("connected repositories changed", zap.Strings("repos", repos))
	return nil
}

// FetchRepos fetches the remotes of every connected repository. A failing
// repository is reported in its result and does not stop the others.
// Cached commits are dropped afterwards so new remote branches show up.
func (s *Session) FetchRepos(ctx context.Context) ([]FetchResult, error) {
	repos, err := s.ConnectedRepos(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]FetchResult, len(repos))
	var g errgroup.Group
	g.SetLimit(fetchConcurrency)
	for i, repo := range repos {
		g.Go(func() error {
			msg, err := s.fetch(ctx, repo)
			if vcs.IsRetryable(err) && ctx.Err() == nil {
				s.log.Debug("fetch timed out, retrying", zap.String("repo", repo))
				msg, err = s.fetch(ctx, repo)
			}
			if err != nil {
				s.log.Warn("fetch failed", zap.String("repo", repo), zap.Error(err))
				results[i] = FetchResult{RepoPath: repo, Message: err.Error()}
				return nil
			}
			results[i] = FetchResult{RepoPath: repo, Success: true, Message: msg}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	s.cache.Invalidate(cache.CommitsForFolder(s.folder))
	return results, nil
}

// Commits returns the commits of every day in r, grouped by day. When every
// day is cached and not invalidated nothing is listed. Otherwise the whole
// range is listed once, shared by concurrent callers asking for the same
// days, and every day of it is cached, empty days included.
func (s *Session) Commits(ctx context.Context, r vcs.Range) (buckets.Result, error) {
	repos := s.cachedRepos()
	days := buckets.DaysIn(r.Start, r.End, s.loc)
	if len(repos) == 0 || len(days) == 0 {
		return buckets.Result{Buckets: buckets.Buckets{}}, nil
	}

	if cached := s.cachedDays(repos, days); cached != nil {
		return buckets.Result{Buckets: cached}, nil
	}

	id := strings.Join([]string{
		s.folder, days[0], days[len(days)-1],
		strings.Join(cache.NormalizeRepos(repos), ","),
	}, "|")
	return cache.Share(ctx, s.cache, id, func(ctx context.Context) (buckets.Result, error) {
		// A listing that finished between our miss and joining already
		// stored the days.
		if cached := s.cachedDays(repos, days); cached != nil {
			return buckets.Result{Buckets: cached}, nil
		}
		res, err := s.agg.Aggregate(ctx, repos, r)
		if err != nil {
			return buckets.Result{}, err
		}
		s.storeDays(repos, days, res.Buckets)
		return res, nil
	})
}

// cachedDays returns the cached commits of days, or nil when any of them is
// missing or invalidated.
func (s *Session) cachedDays(repos, days []string) buckets.Buckets {
	cached := make(buckets.Buckets, len(days))
	for _, day := range days {
		key := cache.NewCommitsKey(s.folder, day, repos)
		st, present := s.cache.State(key)
		commits, ok := cache.Lookup[[]vcs.Commit](s.cache, key)
		if !present || st.Invalidated || !ok {
			return nil
		}
		cached[day] = commits
	}
	return cached
}

// CommitsForDay returns the commits of one YYYY-MM-DD day.
func (s *Session) CommitsForDay(ctx context.Context, dateKey string) ([]vcs.Commit, error) {
	day, err := buckets.ParseDateKey(dateKey, s.loc)
	if err != nil {
		return nil, err
	}
	res, err := s.Commits(ctx, vcs.Range{Start: day, End: day})
	if err != nil {
		return nil, err
	}
	return res.Buckets[dateKey], nil
}

// storeDays caches each of days from fetched and merges them into the
// folder's accumulated buckets.
func (s *Session) storeDays(repos, days []string, fetched buckets.Buckets) {
	stored := make(buckets.Buckets, len(days))
	for _, day := range days {
		commits := fetched[day]
		if commits == nil {
			commits = []vcs.Commit{}
		}
		stored[day] = commits
		s.cache.SetWithTTL(cache.NewCommitsKey(s.folder, day, repos), commits, s.cfg.Cache.StaleAfter)
	}
	s.prefetch.MergeBuckets(repos, stored)
}

// commitsSince lists the commits from since up to now. A zero since means the
// start of today.
func (s *Session) commitsSince(ctx context.Context, since, now time.Time) ([]vcs.Commit, error) {
	if since.IsZero() || since.After(now) {
		since = buckets.StartOfDay(now, s.loc)
	}
	res, err := s.Commits(ctx, vcs.Range{Start: since, End: now})
	if err != nil {
		return nil, err
	}

	var out []vcs.Commit
	for _, day := range res.Buckets.Keys() {
		for _, c := range res.Buckets[day] {
			if t := c.Time(s.loc); !t.Before(since) && !t.After(now) {
				out = append(out, c)
			}
		}
	}
	return out, nil
}
