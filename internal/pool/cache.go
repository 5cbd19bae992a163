package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

// Fetcher is the external RPC collaborator that reads fresh reserves for
// a batch of keys at (or after) a given block. Out of scope per spec.md
// §1; the cache only needs this narrow contract.
type Fetcher[K comparable, V any] interface {
	Fetch(ctx context.Context, keys []K, block uint64) (map[K]V, error)
}

// BlockOf extracts the observed-block tag from a cached value so the
// cache can decide whether an entry satisfies a caller's recency bound
// without knowing the concrete pool type.
type BlockOf[V any] func(V) uint64

// Recency is the caller's freshness requirement for fetch (spec.md §4.B).
type Recency struct {
	// Exact, when non-zero, requires an entry observed at or after this
	// block number.
	Exact uint64
	// Recent, when true, accepts any entry observed at a block not older
	// than MaxRecentBlockAge blocks behind the cache's notion of head.
	Recent bool
}

// RetryConfig bounds the fetcher retry loop (spec.md §4.B "configurable
// retry with bounded attempts and delay between retries").
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

var DefaultRetry = RetryConfig{MaxAttempts: 3, Delay: 100 * time.Millisecond}

// Cache fronts a Fetcher with a block-indexed, LRU-warmed cache. One Cache
// instance handles one pool flavor (constant-product keyed by TokenPair,
// or weighted keyed by PoolID); both are instantiated from this same
// generic implementation.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]V
	blockOf BlockOf[V]
	fetcher Fetcher[K, V]
	retry   RetryConfig

	lru   *lru.Cache
	group singleflight.Group

	maxRecentBlockAge uint64
	currentHead       func() uint64
}

// New constructs a Cache. lruSize bounds how many keys the periodic
// maintenance pass keeps warm; maxRecentBlockAge is the window Recency{Recent:true}
// accepts; currentHead reports the chain head for recency comparisons.
func New[K comparable, V any](fetcher Fetcher[K, V], blockOf BlockOf[V], lruSize int, maxRecentBlockAge uint64, currentHead func() uint64, retry RetryConfig) (*Cache[K, V], error) {
	l, err := lru.New(lruSize)
	if err != nil {
		return nil, fmt.Errorf("pool cache: building LRU: %w", err)
	}
	return &Cache[K, V]{
		entries:           make(map[K]V),
		blockOf:           blockOf,
		fetcher:           fetcher,
		retry:             retry,
		lru:               l,
		maxRecentBlockAge: maxRecentBlockAge,
		currentHead:       currentHead,
	}, nil
}

// Fetch returns values for keys satisfying req, fetching fresh reserves
// for any key whose cached entry (if any) doesn't satisfy it.
func (c *Cache[K, V]) Fetch(ctx context.Context, keys []K, req Recency) (map[K]V, error) {
	out := make(map[K]V, len(keys))
	var stale []K

	c.mu.Lock()
	for _, k := range keys {
		v, ok := c.entries[k]
		if ok && c.satisfies(v, req) {
			out[k] = v
			c.lru.Add(k, struct{}{})
			continue
		}
		stale = append(stale, k)
	}
	c.mu.Unlock()

	if len(stale) == 0 {
		return out, nil
	}

	fresh, err := c.fetchWithRetry(ctx, stale, req.Exact)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for k, v := range fresh {
		c.entries[k] = v
		c.lru.Add(k, struct{}{})
		out[k] = v
	}
	c.mu.Unlock()

	return out, nil
}

func (c *Cache[K, V]) satisfies(v V, req Recency) bool {
	observed := c.blockOf(v)
	if req.Exact != 0 {
		return observed >= req.Exact
	}
	if req.Recent && c.currentHead != nil {
		head := c.currentHead()
		if head < c.maxRecentBlockAge {
			return true
		}
		return observed >= head-c.maxRecentBlockAge
	}
	return true
}

// fetchWithRetry coalesces concurrent fetches for the same key set via a
// singleflight group (the same key set issued twice while the first is
// in flight is served once), and retries up to retry.MaxAttempts times.
func (c *Cache[K, V]) fetchWithRetry(ctx context.Context, keys []K, atBlock uint64) (map[K]V, error) {
	groupKey := fmt.Sprintf("%v@%d", keys, atBlock)
	result, err, _ := c.group.Do(groupKey, func() (interface{}, error) {
		var lastErr error
		for attempt := 0; attempt < max(1, c.retry.MaxAttempts); attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(c.retry.Delay):
				}
			}
			fresh, err := c.fetcher.Fetch(ctx, keys, atBlock)
			if err == nil {
				return fresh, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("pool cache: fetch failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[K]V), nil
}

// Maintain refreshes the N most recently used keys so cache hits stay
// warm between solver ticks (spec.md §4.B "periodic maintenance").
func (c *Cache[K, V]) Maintain(ctx context.Context, n int) error {
	keys := c.lru.Keys()
	if len(keys) > n {
		keys = keys[len(keys)-n:]
	}
	hot := make([]K, 0, len(keys))
	for _, k := range keys {
		hot = append(hot, k.(K))
	}
	if len(hot) == 0 {
		return nil
	}
	fresh, err := c.fetchWithRetry(ctx, hot, 0)
	if err != nil {
		return err
	}
	c.mu.Lock()
	for k, v := range fresh {
		c.entries[k] = v
	}
	c.mu.Unlock()
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
