package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, clock *fakeClock) *Cache {
	t.Helper()
	c := New(Options{
		DefaultStaleAfter: time.Minute,
		GCGrace:           10 * time.Minute,
		Now:               clock.Now,
	})
	t.Cleanup(c.Close)
	return c
}

func TestCache_SetGetRemove(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	key := ContentKey{Path: "/notes/2024-01-05.md"}

	if _, ok := c.Get(key); ok {
		t.Fatal("expected empty cache")
	}

	c.Set(key, "hello")

	got, ok := Lookup[string](c, key)
	if !ok || got != "hello" {
		t.Errorf("Lookup() = %q, %v; want hello, true", got, ok)
	}

	if !c.Remove(key) {
		t.Error("Remove() = false, want true")
	}
	if _, ok := c.Get(key); ok {
		t.Error("entry still present after Remove")
	}
	if c.Remove(key) {
		t.Error("second Remove() = true, want false")
	}
}

func TestCache_StructuralKeys(t *testing.T) {
	c := newTestCache(t, newFakeClock())

	c.Set(NewCommitsKey("/j", "2024-01-05", []string{"/b", "/a", "/a"}), 1)

	got, ok := Lookup[int](c, CommitsKey{Folder: "/j", DateKey: "2024-01-05", Repos: []string{"/a", "/b"}})
	if !ok || got != 1 {
		t.Errorf("equivalent key lookup = %d, %v; want 1, true", got, ok)
	}

	if _, ok := c.Get(CommitsKey{Folder: "/j", DateKey: "2024-01-06", Repos: []string{"/a", "/b"}}); ok {
		t.Error("different date resolved to the same slot")
	}
	if _, ok := c.Get(ContentKey{Path: "/j"}); ok {
		t.Error("different namespace resolved to the same slot")
	}
}

func TestCache_Freshness(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	key := MetadataKey{Folder: "/j"}

	c.Set(key, []string{"a"})

	st, _ := c.State(key)
	if !st.Fresh {
		t.Error("new entry is not fresh")
	}

	clock.Advance(time.Minute)
	st, _ = c.State(key)
	if st.Fresh {
		t.Error("entry still fresh at fetchedAt + staleAfter")
	}

	c.SetWithTTL(key, []string{"b"}, 0)
	clock.Advance(24 * time.Hour)
	st, _ = c.State(key)
	if !st.Fresh {
		t.Error("entry with zero staleAfter expired by time")
	}
}

func TestCache_InvalidateKeepsValue(t *testing.T) {
	c := newTestCache(t, newFakeClock())

	c.Set(ContentKey{Path: "a.md"}, "a")
	c.Set(ContentKey{Path: "b.md"}, "b")
	c.Set(MetadataKey{Folder: "/j"}, "meta")

	n := c.Invalidate(InNamespace(NamespaceContent))
	if n != 2 {
		t.Errorf("Invalidate() = %d, want 2", n)
	}

	got, ok := Lookup[string](c, ContentKey{Path: "a.md"})
	if !ok || got != "a" {
		t.Errorf("invalidated entry = %q, %v; want a, true", got, ok)
	}

	st, _ := c.State(ContentKey{Path: "a.md"})
	if !st.Invalidated || st.Fresh {
		t.Errorf("State() = %+v, want invalidated and not fresh", st)
	}
	st, _ = c.State(MetadataKey{Folder: "/j"})
	if st.Invalidated {
		t.Error("unmatched entry was invalidated")
	}

	c.Set(ContentKey{Path: "a.md"}, "a2")
	st, _ = c.State(ContentKey{Path: "a.md"})
	if st.Invalidated {
		t.Error("Set did not clear invalidation")
	}
}

func TestFetchOrGet_DeduplicatesConcurrentReads(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	key := ContentKey{Path: "a.md"}

	var calls atomic.Int32
	release := make(chan struct{})
	reader := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "content", nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	started := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			results[i], errs[i] = FetchOrGet(context.Background(), c, key, reader, time.Minute)
		}(i)
	}

	for i := 0; i < n; i++ {
		<-started
	}
	// Give every goroutine time to join the in-flight load.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("reader called %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("call %d failed: %v", i, errs[i])
		}
		if results[i] != "content" {
			t.Errorf("call %d = %q, want content", i, results[i])
		}
	}
}

func TestFetchOrGet_ReturnsCachedWithoutReading(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	key := ContentKey{Path: "a.md"}
	c.Set(key, "cached")

	got, err := FetchOrGet(context.Background(), c, key, func(ctx context.Context) (string, error) {
		t.Error("reader called for a cached key")
		return "", nil
	}, time.Minute)
	if err != nil {
		t.Fatalf("FetchOrGet() failed: %v", err)
	}
	if got != "cached" {
		t.Errorf("FetchOrGet() = %q, want cached", got)
	}
}

func TestFetchOrGet_FailureDoesNotPoison(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	key := ContentKey{Path: "a.md"}
	boom := errors.New("boom")

	_, err := FetchOrGet(context.Background(), c, key, func(ctx context.Context) (string, error) {
		return "", boom
	}, time.Minute)
	if !errors.Is(err, boom) {
		t.Fatalf("FetchOrGet() error = %v, want boom", err)
	}
	if _, ok := c.Get(key); ok {
		t.Fatal("failed read stored an entry")
	}

	got, err := FetchOrGet(context.Background(), c, key, func(ctx context.Context) (string, error) {
		return "second", nil
	}, time.Minute)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if got != "second" {
		t.Errorf("retry = %q, want second", got)
	}
}

func TestFetchOrGet_CallerCancellation(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	key := ContentKey{Path: "slow.md"}

	release := make(chan struct{})
	reader := func(ctx context.Context) (string, error) {
		<-release
		return "done", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := FetchOrGet(ctx, c, key, reader, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller error = %v, want context.Canceled", err)
	}

	close(release)

	got, err := FetchOrGet(context.Background(), c, key, reader, time.Minute)
	if err != nil || got != "done" {
		t.Errorf("FetchOrGet() = %q, %v; want done, nil", got, err)
	}
}

func TestFetchOrGet_RevalidatesInvalidatedEntry(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	key := ContentKey{Path: "a.md"}
	c.Set(key, "old")
	c.Invalidate(Exact(key))

	updated := make(chan struct{})
	unsubscribe := c.Subscribe(key, func(ev Event) {
		if ev.Type == EventSet {
			close(updated)
		}
	})
	defer unsubscribe()

	got, err := FetchOrGet(context.Background(), c, key, func(ctx context.Context) (string, error) {
		return "new", nil
	}, time.Minute)
	if err != nil {
		t.Fatalf("FetchOrGet() failed: %v", err)
	}
	if got != "old" {
		t.Errorf("FetchOrGet() = %q, want the stale value old", got)
	}

	select {
	case <-updated:
	case <-time.After(2 * time.Second):
		t.Fatal("background revalidation never stored a value")
	}

	if v, _ := Lookup[string](c, key); v != "new" {
		t.Errorf("after revalidation = %q, want new", v)
	}
}

func TestFetchOrGet_ExpiredWithoutSubscriberIsNotRevalidated(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	key := ContentKey{Path: "a.md"}
	c.Set(key, "old")
	clock.Advance(2 * time.Minute)

	var calls atomic.Int32
	got, err := FetchOrGet(context.Background(), c, key, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "new", nil
	}, time.Minute)
	if err != nil || got != "old" {
		t.Fatalf("FetchOrGet() = %q, %v; want old, nil", got, err)
	}

	c.Close()
	if calls.Load() != 0 {
		t.Errorf("reader called %d times for an unobserved expired entry", calls.Load())
	}
}

func TestFetchOrGet_FailedRevalidationKeepsEntry(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	key := ContentKey{Path: "a.md"}
	c.Set(key, "old")
	c.Invalidate(Exact(key))

	_, err := FetchOrGet(context.Background(), c, key, func(ctx context.Context) (string, error) {
		return "", errors.New("unreadable")
	}, time.Minute)
	if err != nil {
		t.Fatalf("FetchOrGet() failed: %v", err)
	}

	// Close waits for the background revalidation.
	c.Close()

	if v, _ := Lookup[string](c, key); v != "old" {
		t.Errorf("entry = %q after failed revalidation, want old", v)
	}
}

func TestFetchOrGet_TypeMismatch(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	key := ContentKey{Path: "a.md"}
	c.Set(key, 42)

	_, err := FetchOrGet(context.Background(), c, key, func(ctx context.Context) (string, error) {
		return "", nil
	}, time.Minute)
	if err == nil {
		t.Error("expected a type mismatch error")
	}
}

func TestCache_SubscribeEvents(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	key := ContentKey{Path: "a.md"}

	var got []EventType
	unsubscribe := c.Subscribe(key, func(ev Event) {
		got = append(got, ev.Type)
	})

	var all []string
	unsubscribeAll := c.SubscribeAll(func(ev Event) {
		all = append(all, ev.Type.String()+":"+ev.Key.Namespace())
	})
	defer unsubscribeAll()

	c.Set(key, "a")
	c.Set(ContentKey{Path: "other.md"}, "b")
	c.Invalidate(Exact(key))
	c.Remove(key)

	unsubscribe()
	unsubscribe()
	c.Set(key, "after")

	want := []EventType{EventSet, EventInvalidated, EventRemoved}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("key events mismatch (-want +got):\n%s", diff)
	}

	wantAll := []string{"set:content", "set:content", "invalidated:content", "removed:content", "set:content"}
	if diff := cmp.Diff(wantAll, all); diff != "" {
		t.Errorf("global events mismatch (-want +got):\n%s", diff)
	}
}

func TestCache_CollectRespectsSubscribersAndGrace(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)

	watched := ContentKey{Path: "visible.md"}
	idle := ContentKey{Path: "idle.md"}

	c.Set(watched, "v")
	c.Set(idle, "i")
	unsubscribe := c.Subscribe(watched, func(Event) {})

	clock.Advance(5 * time.Minute)
	if n := c.Collect(clock.Now()); n != 0 {
		t.Errorf("Collect() before grace = %d, want 0", n)
	}

	clock.Advance(5 * time.Minute)
	if n := c.Collect(clock.Now()); n != 1 {
		t.Errorf("Collect() after grace = %d, want 1", n)
	}
	if _, ok := c.Get(idle); ok {
		t.Error("idle entry survived collection")
	}
	if _, ok := c.Get(watched); !ok {
		t.Fatal("subscribed entry was collected")
	}

	// The grace period restarts when the last subscriber leaves.
	unsubscribe()
	clock.Advance(9 * time.Minute)
	if n := c.Collect(clock.Now()); n != 0 {
		t.Errorf("Collect() within grace of unsubscribe = %d, want 0", n)
	}
	clock.Advance(time.Minute)
	if n := c.Collect(clock.Now()); n != 1 {
		t.Errorf("Collect() after unsubscribe grace = %d, want 1", n)
	}
}

func TestCache_Keys(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	c.Set(ReposKey{Folder: "/j"}, nil)
	c.Set(ContentKey{Path: "b.md"}, "")
	c.Set(ContentKey{Path: "a.md"}, "")

	var got []string
	for _, k := range c.Keys() {
		got = append(got, k.String())
	}
	want := []string{
		ContentKey{Path: "a.md"}.String(),
		ContentKey{Path: "b.md"}.String(),
		ReposKey{Folder: "/j"}.String(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

func TestShare_DeduplicatesConcurrentCalls(t *testing.T) {
	c := newTestCache(t, newFakeClock())

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make(chan int, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := Share(context.Background(), c, "2024-03-01|2024-03-07", fn)
			if err != nil {
				t.Errorf("Share() failed: %v", err)
			}
			results <- v
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for v := range results {
		if v != 42 {
			t.Errorf("Share() = %d, want 42", v)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fn called %d times, want 1", got)
	}

	// Nothing is stored: the next call runs fn again.
	if _, err := Share(context.Background(), c, "2024-03-01|2024-03-07", fn); err != nil {
		t.Fatalf("Share() failed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fn called %d times after the group finished, want 2", got)
	}
}
