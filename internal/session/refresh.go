package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stream-journal/stream/internal/buckets"
	"github.com/stream-journal/stream/internal/cache"
	"github.com/stream-journal/stream/internal/cache/mutate"
	"github.com/stream-journal/stream/internal/generate"
	"github.com/stream-journal/stream/internal/prefetch"
	"github.com/stream-journal/stream/internal/refresh"
	"github.com/stream-journal/stream/internal/vcs"
)

// todayItemPrefix prefixes the refresh item of the current day's commits.
const todayItemPrefix = "commits:"

// Rows loads the dated notes as display rows, newest first, and hands them to
// the prefetcher.
func (s *Session) Rows(ctx context.Context) ([]prefetch.Item, error) {
	notes, err := s.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]prefetch.Item, len(notes))
	for i, n := range notes {
		items[i] = prefetch.Item{DateKey: n.DateFromFilename, FilePath: n.FilePath}
	}
	s.prefetch.SetItems(items)
	return items, nil
}

// ShowRange reports the rows start..end of the last Rows call as visible.
func (s *Session) ShowRange(start, end int) {
	s.prefetch.OnRangeChanged(start, end)
}

// RefreshFile regenerates one structured note now. It fails with
// refresh.ErrAlreadyRefreshing while the note is being refreshed.
func (s *Session) RefreshFile(ctx context.Context, path string) error {
	path, err := s.notePath(path)
	if err != nil {
		return err
	}
	return s.scheduler.RefreshNow(ctx, refresh.Candidate{ID: path, Key: cache.ContentKey{Path: path}})
}

// CheckForRefresh starts a refresh cycle unless one is running.
func (s *Session) CheckForRefresh(reason string) bool {
	return s.scheduler.Trigger(reason)
}

func (s *Session) dueNotes(ctx context.Context, now time.Time) ([]refresh.Candidate, error) {
	paths, err := s.reader.FilesNeedingRefresh(ctx, s.folder, now)
	if err != nil {
		return nil, err
	}
	out := make([]refresh.Candidate, len(paths))
	for i, p := range paths {
		out[i] = refresh.Candidate{ID: p, Key: cache.ContentKey{Path: p}}
	}
	return out, nil
}

// dueCommits reports today's commits when they are missing or stale.
func (s *Session) dueCommits(ctx context.Context, now time.Time) ([]refresh.Candidate, error) {
	repos := s.cachedRepos()
	if len(repos) == 0 {
		return nil, nil
	}
	today := buckets.DateKey(now, s.loc)
	if st, ok := s.cache.State(cache.NewCommitsKey(s.folder, today, repos)); ok && st.Fresh {
		return nil, nil
	}
	return []refresh.Candidate{{ID: todayItemPrefix + today}}, nil
}

func (s *Session) refreshItem(ctx context.Context, c refresh.Candidate) error {
	if day, ok := strings.CutPrefix(c.ID, todayItemPrefix); ok {
		return s.refreshDay(ctx, day)
	}
	return s.refreshNote(ctx, c.ID)
}

// refreshDay lists one day's commits again and replaces its cache entry.
func (s *Session) refreshDay(ctx context.Context, dateKey string) error {
	repos := s.cachedRepos()
	if len(repos) == 0 {
		return nil
	}
	day, err := buckets.ParseDateKey(dateKey, s.loc)
	if err != nil {
		return err
	}
	res, err := s.agg.Aggregate(ctx, repos, vcs.Range{Start: day, End: day})
	if err != nil {
		return err
	}
	for _, e := range res.Errors {
		if vcs.IsFatal(e) {
			s.log.Error("repository unavailable", zap.String("repo", e.Repo), zap.Error(e.Err))
			continue
		}
		s.log.Warn("repository skipped", zap.String("repo", e.Repo), zap.Error(e.Err))
	}
	s.storeDays(repos, []string{dateKey}, res.Buckets)
	return nil
}

// refreshNote regenerates a structured note from the commits made since its
// last refresh, writes it and records the refresh time.
func (s *Session) refreshNote(ctx context.Context, path string) error {
	a, err := s.reader.Attrs().Get(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to read attributes of %s: %w", path, err)
	}
	current, err := s.reader.ReadFileContent(ctx, path)
	if err != nil {
		return err
	}

	now := s.now()
	commits, err := s.commitsSince(ctx, a.LastRefreshed, now)
	if err != nil {
		return err
	}

	content, err := s.generator.Generate(ctx, generate.Request{
		Path:        path,
		Description: a.Description,
		Current:     current,
		Commits:     commits,
		Now:         now,
		Location:    s.loc,
	})
	if err != nil {
		return fmt.Errorf("failed to generate %s: %w", path, err)
	}

	err = mutate.Mutate(ctx, s.mutator, cache.ContentKey{Path: path}, content,
		func(ctx context.Context, v string) error {
			return s.reader.WriteFileContent(ctx, path, v)
		})
	if err != nil {
		return err
	}
	if err := s.reader.Attrs().MarkRefreshed(ctx, path, now); err != nil {
		return fmt.Errorf("failed to record refresh of %s: %w", path, err)
	}
	s.cache.Invalidate(cache.Exact(cache.MetadataKey{Folder: s.folder, Structured: true}))

	s.log.Info("refreshed note",
		zap.String("path", path),
		zap.Int("commits", len(commits)))
	return nil
}
