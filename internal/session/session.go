// Package session wires the cache, readers, drivers and background services
// of one journal folder into an explicitly constructed application session.
//
// The session:
// 1. Serves notes, note metadata, commits and connected repositories through the cache
// 2. Writes edits optimistically, rolling the cache back when a write fails
// 3. Prefetches rows around the visible window
// 4. Regenerates structured notes and today's commits on a schedule
// 5. Follows external edits and serves the dashboard while started
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stream-journal/stream/internal/buckets"
	"github.com/stream-journal/stream/internal/cache"
	"github.com/stream-journal/stream/internal/cache/mutate"
	"github.com/stream-journal/stream/internal/config"
	"github.com/stream-journal/stream/internal/dashboard"
	"github.com/stream-journal/stream/internal/generate"
	"github.com/stream-journal/stream/internal/journal"
	"github.com/stream-journal/stream/internal/journal/attrs"
	"github.com/stream-journal/stream/internal/metrics"
	"github.com/stream-journal/stream/internal/prefetch"
	"github.com/stream-journal/stream/internal/refresh"
	"github.com/stream-journal/stream/internal/settings"
	"github.com/stream-journal/stream/internal/store"
	"github.com/stream-journal/stream/internal/vcs"
	"github.com/stream-journal/stream/internal/vcs/git"
)

// Deps are the collaborators of a Session. Zero fields get the production
// implementation.
type Deps struct {
	// Lister lists commits. Defaults to git.
	Lister vcs.Lister

	// Fetch fetches the remotes of one repository. Defaults to git.
	Fetch func(ctx context.Context, repo string) (string, error)

	// IsRepo validates repositories before they are connected.
	IsRepo func(path string) bool

	// Generator regenerates structured notes. Defaults to Claude when an API
	// key is configured and to a plain commit summary otherwise.
	Generator generate.Generator

	// Attrs stores note attributes. Defaults to the configured backend.
	Attrs attrs.Store

	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// StartOptions selects the background services Start runs.
type StartOptions struct {
	Schedule  bool
	Watch     bool
	Dashboard bool
}

// Session is safe for concurrent use.
type Session struct {
	cfg    *config.Config
	folder string
	loc    *time.Location
	now    func() time.Time
	log    *zap.Logger

	db       *store.DB
	settings *settings.Store
	metrics  *metrics.Metrics

	cache     *cache.Cache
	reader    *journal.Reader
	agg       *buckets.Aggregator
	mutator   *mutate.Mutator
	saves     *mutate.SaveQueue[string]
	prefetch  *prefetch.Prefetcher
	scheduler *refresh.Scheduler
	generator generate.Generator

	fetch  func(ctx context.Context, repo string) (string, error)
	isRepo func(path string) bool

	watcher   *refresh.Watcher
	dashboard *dashboard.Server
	detach    func()

	// repos mirrors the connected repositories for the prefetcher, which
	// must not block on the database.
	reposMu sync.RWMutex
	repos   []string

	closeOnce sync.Once
	closeErr  error
}

// New builds a session for cfg.Folder. Nothing runs in the background until
// Start is called.
func New(cfg *config.Config, deps Deps) (*Session, error) {
	if cfg.Folder == "" {
		return nil, fmt.Errorf("no journal folder configured")
	}
	folder, err := filepath.Abs(cfg.Folder)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", cfg.Folder, err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Lister == nil {
		deps.Lister = git.NewLister()
	}
	if deps.Fetch == nil {
		deps.Fetch = fetchGit
	}
	if deps.IsRepo == nil {
		deps.IsRepo = git.IsRepo
	}
	log := deps.Logger

	db, err := store.Open(filepath.Join(cfg.DataDir, store.FileName), log)
	if err != nil {
		return nil, err
	}

	if deps.Attrs == nil {
		deps.Attrs = chooseAttrs(cfg, folder, db, log)
	}
	if deps.Generator == nil {
		deps.Generator = chooseGenerator(cfg, log)
	}

	s := &Session{
		cfg:       cfg,
		folder:    folder,
		loc:       loc,
		now:       deps.Now,
		log:       log.Named("session"),
		db:        db,
		settings:  settings.New(db),
		metrics:   deps.Metrics,
		generator: deps.Generator,
		fetch:     deps.Fetch,
		isRepo:    deps.IsRepo,
	}

	s.cache = cache.New(cache.Options{
		DefaultStaleAfter: cfg.Cache.StaleAfter,
		GCGrace:           cfg.Cache.GCGrace,
		GCInterval:        cfg.Cache.GCInterval,
		Now:               deps.Now,
		Logger:            log,
		Metrics:           deps.Metrics,
	})
	s.reader = journal.NewReader(deps.Attrs, log)
	s.agg = buckets.NewAggregator(deps.Lister, buckets.Config{
		Location:      loc,
		MaxConcurrent: buckets.DefaultConfig().MaxConcurrent,
		Logger:        log,
	})
	s.mutator = mutate.New(s.cache, mutate.Options{Logger: log})
	s.saves = mutate.NewSaveQueue[string](s.mutator, s.saveContent, mutate.QueueConfig{
		Delay: cfg.Save.Debounce,
		OnError: func(key cache.Key, err error) {
			s.log.Error("save failed, edit rolled back", zap.String("key", cache.Describe(key)), zap.Error(err))
		},
	})
	s.prefetch = prefetch.New(s.cache, prefetch.Config{
		Folder:            folder,
		Repos:             s.cachedRepos,
		ReadContent:       s.reader.ReadFileContent,
		Aggregator:        s.agg,
		Overscan:          cfg.Prefetch.Overscan,
		ContentStaleAfter: cfg.Cache.StaleAfter,
		CommitsStaleAfter: cfg.Cache.StaleAfter,
		Logger:            log,
	})
	s.scheduler = refresh.NewScheduler(s.cache,
		refresh.Sources{
			refresh.SourceFunc(s.dueNotes),
			refresh.SourceFunc(s.dueCommits),
		},
		s.refreshItem,
		refresh.Config{
			Interval:      cfg.Refresh.Interval,
			MaxConcurrent: cfg.Refresh.MaxConcurrent,
			Now:           deps.Now,
			Logger:        log,
			Metrics:       deps.Metrics,
		})

	repos, err := s.settings.GetConnectedRepos(context.Background(), folder)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.setCachedRepos(repos)

	return s, nil
}

func chooseAttrs(cfg *config.Config, folder string, db *store.DB, log *zap.Logger) attrs.Store {
	if cfg.Attrs.Backend == config.AttrsXattr {
		x := attrs.NewXattrStore()
		if x.Supported(folder) {
			return x
		}
		log.Warn("extended attributes unsupported, keeping note attributes in the database",
			zap.String("folder", folder))
	}
	return attrs.NewSQLiteStore(db)
}

func chooseGenerator(cfg *config.Config, log *zap.Logger) generate.Generator {
	if cfg.AI.APIKey == "" {
		return generate.Summary{}
	}
	g, err := generate.NewClaude(generate.ClaudeConfig{
		APIKey:    cfg.AI.APIKey,
		Model:     cfg.AI.Model,
		MaxTokens: cfg.AI.MaxTokens,
		Logger:    log,
	})
	if err != nil {
		log.Warn("falling back to commit summaries", zap.Error(err))
		return generate.Summary{}
	}
	return g
}

func fetchGit(ctx context.Context, repo string) (string, error) {
	g, err := git.New(repo)
	if err != nil {
		return "", err
	}
	return g.Fetch(ctx)
}

// Start runs the cache janitor and the selected background services until
// Close.
func (s *Session) Start(ctx context.Context, opts StartOptions) error {
	s.cache.Start(ctx)

	if opts.Schedule {
		s.scheduler.Start(ctx)
	}

	if opts.Watch {
		w, err := refresh.NewWatcher(s.cache, s.scheduler, s.log)
		if err != nil {
			return err
		}
		if err := w.Start(s.folder); err != nil {
			return err
		}
		s.watcher = w
	}

	if opts.Dashboard {
		srv := dashboard.NewServer(dashboard.Config{
			Port:      s.cfg.Dashboard.Port,
			Scheduler: s.scheduler,
			Metrics:   s.metrics.Handler(),
			Logger:    s.log,
		})
		if err := srv.Start(); err != nil {
			return err
		}
		s.dashboard = srv
		s.detach = dashboard.NewHandler(srv).Attach(s.cache)
	}
	return nil
}

// Close flushes queued edits, stops every background service and releases
// the database. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.saves.Close(ctx); err != nil && !errors.Is(err, mutate.ErrQueueClosed) {
			errs = append(errs, fmt.Errorf("flush edits: %w", err))
		}
		s.prefetch.Close()
		s.scheduler.Stop()
		if s.watcher != nil {
			if err := s.watcher.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.detach != nil {
			s.detach()
		}
		if s.dashboard != nil {
			if err := s.dashboard.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		s.cache.Close()
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Folder returns the absolute journal folder.
func (s *Session) Folder() string { return s.folder }

// Location returns the zone commits are bucketed in.
func (s *Session) Location() *time.Location { return s.loc }

// Cache returns the session cache.
func (s *Session) Cache() *cache.Cache { return s.cache }

// Prefetcher returns the viewport prefetcher.
func (s *Session) Prefetcher() *prefetch.Prefetcher { return s.prefetch }

// Scheduler returns the refresh scheduler.
func (s *Session) Scheduler() *refresh.Scheduler { return s.scheduler }

// Metrics returns the session metrics.
func (s *Session) Metrics() *metrics.Metrics { return s.metrics }

// Dashboard returns the dashboard server, or nil when it is not running.
func (s *Session) Dashboard() *dashboard.Server { return s.dashboard }

func (s *Session) cachedRepos() []string {
	s.reposMu.RLock()
	defer s.reposMu.RUnlock()
	return s.repos
}

func (s *Session) setCachedRepos(repos []string) {
	s.reposMu.Lock()
	s.repos = append([]string(nil), repos...)
	s.reposMu.Unlock()
}
