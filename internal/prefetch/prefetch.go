// Package prefetch loads the data of list rows around the visible window
// before they are scrolled into view.
package prefetch

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stream-journal/stream/internal/buckets"
	"github.com/stream-journal/stream/internal/cache"
	"github.com/stream-journal/stream/internal/vcs"
)

// Item is one row of the displayed list.
type Item struct {
	DateKey  string
	FilePath string
}

// RangeAggregator lists and buckets the commits of a repository set.
type RangeAggregator interface {
	Aggregate(ctx context.Context, repos []string, r vcs.Range) (buckets.Result, error)
	Location() *time.Location
}

// Config holds configuration for a Prefetcher.
type Config struct {
	// Folder is the journal folder the items belong to.
	Folder string

	// Repos returns the repositories connected to Folder.
	Repos func() []string

	// ReadContent reads one note.
	ReadContent func(ctx context.Context, path string) (string, error)

	Aggregator RangeAggregator

	// Overscan is how many extra rows are prefetched on each side.
	Overscan int

	ContentStaleAfter time.Duration
	CommitsStaleAfter time.Duration

	Logger *zap.Logger
}

// Stats counts the requests a Prefetcher issued.
type Stats struct {
	ContentFetches     int
	CommitRangeFetches int
	CommitDays         int
}

// Prefetcher issues fetches only for keys that are neither cached nor
// already being fetched. Fetches are never cancelled when the window moves
// on; their results land in the cache regardless.
type Prefetcher struct {
	cache  *cache.Cache
	config Config
	log    *zap.Logger

	mu       sync.Mutex
	items    []Item
	inflight map[string]bool
	stats    Stats

	// bucketsMu serializes read-modify-write of the merged buckets entry.
	bucketsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Prefetcher writing into c.
func New(c *cache.Cache, config Config) *Prefetcher {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Repos == nil {
		config.Repos = func() []string { return nil }
	}
	if config.Overscan < 0 {
		config.Overscan = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Prefetcher{
		cache:    c,
		config:   config,
		log:      config.Logger.Named("prefetch"),
		inflight: make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetItems replaces the displayed list.
func (p *Prefetcher) SetItems(items []Item) {
	p.mu.Lock()
	p.items = append([]Item(nil), items...)
	p.mu.Unlock()
}

// Stats returns the request counters.
func (p *Prefetcher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// OnRangeChanged prefetches rows start through end, both included, plus the
// overscan. Indices are clamped to the list. It does not block.
func (p *Prefetcher) OnRangeChanged(start, end int) {
	repos := cache.NormalizeRepos(p.config.Repos())

	p.mu.Lock()
	if len(p.items) == 0 {
		p.mu.Unlock()
		return
	}
	if start > end {
		start, end = end, start
	}
	start = max(start-p.config.Overscan, 0)
	end = min(end+p.config.Overscan, len(p.items)-1)
	if start > end {
		p.mu.Unlock()
		return
	}

	var paths []string
	var days []string
	for _, item := range p.items[start : end+1] {
		if item.FilePath != "" && p.config.ReadContent != nil {
			key := cache.ContentKey{Path: item.FilePath}
			if p.claimLocked(key) {
				paths = append(paths, item.FilePath)
			}
		}
		if item.DateKey != "" && len(repos) > 0 && p.config.Aggregator != nil {
			key := cache.NewCommitsKey(p.config.Folder, item.DateKey, repos)
			if p.claimLocked(key) {
				days = append(days, item.DateKey)
			}
		}
	}

	p.stats.ContentFetches += len(paths)
	if len(days) > 0 {
		p.stats.CommitRangeFetches++
		p.stats.CommitDays += len(days)
	}
	p.mu.Unlock()

	for _, path := range paths {
		p.fetchContent(path)
	}
	if len(days) > 0 {
		p.fetchCommits(repos, days)
	}
}

// claimLocked marks key in flight if it is neither cached nor already in
// flight. p.mu must be held.
func (p *Prefetcher) claimLocked(key cache.Key) bool {
	k := key.String()
	if p.inflight[k] {
		return false
	}
	if _, ok := p.cache.Get(key); ok {
		return false
	}
	p.inflight[k] = true
	return true
}

func (p *Prefetcher) release(keys ...cache.Key) {
	p.mu.Lock()
	for _, key := range keys {
		delete(p.inflight, key.String())
	}
	p.mu.Unlock()
}

func (p *Prefetcher) fetchContent(path string) {
	key := cache.ContentKey{Path: path}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(key)

		_, err := cache.FetchOrGet(p.ctx, p.cache, key, func(ctx context.Context) (string, error) {
			return p.config.ReadContent(ctx, path)
		}, p.config.ContentStaleAfter)
		if err != nil {
			p.log.Debug("content prefetch failed", zap.String("path", path), zap.Error(err))
		}
	}()
}

// fetchCommits lists one range covering every claimed day and stores each
// claimed day, empty days included.
func (p *Prefetcher) fetchCommits(repos []string, days []string) {
	sort.Strings(days)
	loc := p.config.Aggregator.Location()

	claimed := make([]cache.Key, len(days))
	for i, day := range days {
		claimed[i] = cache.NewCommitsKey(p.config.Folder, day, repos)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release(claimed...)

		first, err := buckets.ParseDateKey(days[0], loc)
		if err != nil {
			p.log.Warn("invalid date key", zap.String("date", days[0]), zap.Error(err))
			return
		}
		last, err := buckets.ParseDateKey(days[len(days)-1], loc)
		if err != nil {
			p.log.Warn("invalid date key", zap.String("date", days[len(days)-1]), zap.Error(err))
			return
		}

		res, err := p.config.Aggregator.Aggregate(p.ctx, repos, vcs.Range{Start: first, End: last})
		if err != nil {
			p.log.Warn("commit prefetch failed",
				zap.String("from", days[0]), zap.String("to", days[len(days)-1]), zap.Error(err))
			return
		}

		// Days between the claimed ones may be cached or claimed by another
		// fetch; only the claimed days are written.
		fetched := make(buckets.Buckets, len(days))
		for i, day := range days {
			commits := res.Buckets[day]
			if commits == nil {
				commits = []vcs.Commit{}
			}
			fetched[day] = commits
			p.cache.SetWithTTL(claimed[i], commits, p.config.CommitsStaleAfter)
		}

		p.MergeBuckets(repos, fetched)
	}()
}

// MergeBuckets merges fetched into the folder's accumulated buckets entry.
func (p *Prefetcher) MergeBuckets(repos []string, fetched buckets.Buckets) {
	key := cache.NewBucketsKey(p.config.Folder, repos)

	p.bucketsMu.Lock()
	defer p.bucketsMu.Unlock()

	old, _ := cache.Lookup[buckets.Buckets](p.cache, key)
	p.cache.SetWithTTL(key, buckets.MergeCommitsByDate(old, fetched), p.config.CommitsStaleAfter)
}

// Wait blocks until every fetch issued so far has finished.
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}

// Close cancels outstanding fetches and waits for them.
func (p *Prefetcher) Close() {
	p.cancel()
	p.wg.Wait()
}
