// Package refresh regenerates cached items whose refresh interval elapsed.
//
// The scheduler:
// 1. Runs a check-for-refresh cycle on every tick or external trigger
// 2. Drops triggers that arrive while a cycle is still running
// 3. Holds a ticket per item so one item is never refreshed twice at once
// 4. Invalidates the cache key of every item it refreshed
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stream-journal/stream/internal/cache"
)

// ErrAlreadyRefreshing is returned by RefreshNow when the item holds a ticket.
var ErrAlreadyRefreshing = errors.New("item is already refreshing")

// ErrStopped is returned by RefreshNow after Stop.
var ErrStopped = errors.New("scheduler stopped")

// State is the phase of the check-for-refresh cycle.
type State int

const (
	Idle State = iota
	Scanning
	Refreshing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Candidate is an item that is due for a refresh.
type Candidate struct {
	// ID identifies the item, e.g. a note path.
	ID string

	// Key is invalidated after a successful refresh. May be nil.
	Key cache.Key
}

// Source lists the items due at now.
type Source interface {
	Due(ctx context.Context, now time.Time) ([]Candidate, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, now time.Time) ([]Candidate, error)

// Due implements Source.
func (f SourceFunc) Due(ctx context.Context, now time.Time) ([]Candidate, error) {
	return f(ctx, now)
}

// Sources merges the candidates of several sources. A failing source is
// logged by the scheduler and does not hide the others' candidates.
type Sources []Source

// Due implements Source.
func (s Sources) Due(ctx context.Context, now time.Time) ([]Candidate, error) {
	var out []Candidate
	var errs []error
	for _, src := range s {
		c, err := src.Due(ctx, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, c...)
	}
	return out, errors.Join(errs...)
}

// RefreshFunc regenerates one item.
type RefreshFunc func(ctx context.Context, c Candidate) error

// Ticket marks an item as being refreshed.
type Ticket struct {
	ItemKey   string    `json:"item_key"`
	StartedAt time.Time `json:"started_at"`

	// CycleID is empty for manual refreshes.
	CycleID string `json:"cycle_id,omitempty"`
}

// Metrics receives scheduler counters.
type Metrics interface {
	CycleStarted(reason string)
	TriggerDropped()
	ItemRefreshed(err error)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) CycleStarted(string) {}
func (NoopMetrics) TriggerDropped()     {}
func (NoopMetrics) ItemRefreshed(error) {}

// Config holds configuration for a Scheduler.
type Config struct {
	// Interval is how often Start triggers a cycle.
	Interval time.Duration

	// MaxConcurrent bounds how many items refresh at once within a cycle.
	MaxConcurrent int

	Now     func() time.Time
	Logger  *zap.Logger
	Metrics Metrics
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      10 * time.Second,
		MaxConcurrent: 2,
		Now:           time.Now,
		Logger:        zap.NewNop(),
		Metrics:       NoopMetrics{},
	}
}

// Scheduler runs at most one check-for-refresh cycle at a time.
type Scheduler struct {
	cache   *cache.Cache
	source  Source
	refresh RefreshFunc
	config  Config
	log     *zap.Logger

	mu      sync.Mutex
	state   State
	stopped bool
	tickets map[string]Ticket

	ctx    context.Context
	cancel context.CancelFunc
	loop   sync.WaitGroup
	cycles sync.WaitGroup

	stopOnce sync.Once
}

// NewScheduler creates a Scheduler. c may be nil when refreshed items are not
// cached.
func NewScheduler(c *cache.Cache, source Source, refresh RefreshFunc, config Config) *Scheduler {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if config.Now == nil {
		config.Now = def.Now
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	if config.Metrics == nil {
		config.Metrics = def.Metrics
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cache:   c,
		source:  source,
		refresh: refresh,
		config:  config,
		log:     config.Logger.Named("refresh"),
		tickets: make(map[string]Ticket),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start triggers a cycle now and then on every Interval until ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.loop.Add(1)
	go func() {
		defer s.loop.Done()

		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		s.Trigger("startup")
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.Trigger("interval")
			}
		}
	}()
}

// State returns the current cycle phase.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Trigger starts a cycle unless one is already running, in which case the
// trigger is dropped and false is returned.
func (s *Scheduler) Trigger(reason string) bool {
	s.mu.Lock()
	if s.stopped || s.state != Idle {
		s.mu.Unlock()
		s.config.Metrics.TriggerDropped()
		s.log.Debug("trigger dropped", zap.String("reason", reason))
		return false
	}
	s.state = Scanning
	s.cycles.Add(1)
	s.mu.Unlock()

	s.config.Metrics.CycleStarted(reason)
	go s.runCycle(reason)
	return true
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Scheduler) runCycle(reason string) {
	defer s.cycles.Done()
	defer s.setState(Idle)

	id := uuid.NewString()
	log := s.log.With(zap.String("cycle", id))

	candidates, err := s.source.Due(s.ctx, s.config.Now())
	if err != nil {
		log.Warn("failed to list items due for refresh", zap.Error(err))
	}
	if len(candidates) == 0 {
		log.Debug("nothing to refresh", zap.String("reason", reason))
		return
	}

	s.setState(Refreshing)
	log.Info("refreshing", zap.String("reason", reason), zap.Int("candidates", len(candidates)))

	var g errgroup.Group
	g.SetLimit(s.config.MaxConcurrent)

	for _, c := range candidates {
		if !s.acquire(c.ID, id) {
			log.Debug("item already refreshing", zap.String("item", c.ID))
			continue
		}
		g.Go(func() error {
			defer s.release(c.ID)
			if err := s.run(s.ctx, c); err != nil {
				log.Warn("refresh failed", zap.String("item", c.ID), zap.Error(err))
			}
			return nil
		})
	}
	g.Wait()
}

// RefreshNow refreshes c immediately, outside any cycle.
func (s *Scheduler) RefreshNow(ctx context.Context, c Candidate) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	if !s.acquire(c.ID, "") {
		return fmt.Errorf("refresh %s: %w", c.ID, ErrAlreadyRefreshing)
	}
	defer s.release(c.ID)

	if err := s.run(ctx, c); err != nil {
		return fmt.Errorf("refresh %s: %w", c.ID, err)
	}
	return nil
}

func (s *Scheduler) run(ctx context.Context, c Candidate) error {
	err := s.refresh(ctx, c)
	s.config.Metrics.ItemRefreshed(err)
	if err != nil {
		return err
	}
	if s.cache != nil && c.Key != nil {
		s.cache.Invalidate(cache.Exact(c.Key))
	}
	return nil
}

func (s *Scheduler) acquire(item, cycle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.tickets[item]; held {
		return false
	}
	s.tickets[item] = Ticket{ItemKey: item, StartedAt: s.config.Now(), CycleID: cycle}
	return true
}

func (s *Scheduler) release(item string) {
	s.mu.Lock()
	delete(s.tickets, item)
	s.mu.Unlock()
}

// Tickets returns the items currently being refreshed, oldest first.
func (s *Scheduler) Tickets() []Ticket {
	s.mu.Lock()
	out := make([]Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ItemKey < out[j].ItemKey
	})
	return out
}

// Wait blocks until the running cycle, if any, has finished.
func (s *Scheduler) Wait() {
	s.cycles.Wait()
}

// Stop ends the timer loop, cancels running refreshes and waits for them.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.cancel()
		s.loop.Wait()
		s.cycles.Wait()
	})
}
