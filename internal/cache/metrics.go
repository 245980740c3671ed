package cache

// Metrics records what the cache is doing. Implementations must be safe for
// concurrent use.
type Metrics interface {
	Hit(namespace string)
	Miss(namespace string)

	// Fetch records one reader call and its outcome.
	Fetch(namespace string, err error)

	Evict(n int)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Hit(string)          {}
func (NoopMetrics) Miss(string)         {}
func (NoopMetrics) Fetch(string, error) {}
func (NoopMetrics) Evict(int)           {}
