// Package badtoken supplements spec.md with the bad-token cache fronting
// the detector (grounded on original_source/orderbook/src/bad_token_cache.rs),
// consulted by both the Sanitizer estimator layer and the order validator
// so repeated calls for the same token don't re-run detection heuristics.
package badtoken

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/cowdex/batchcore/internal/order"
)

// Detector is the underlying (possibly expensive) bad-token heuristic,
// out of scope per spec.md §1 beyond this interface.
type Detector interface {
	IsBad(ctx context.Context, token order.Address) (bool, error)
}

type entry struct {
	bad      bool
	expireAt time.Time
}

// Cache wraps a Detector with a TTL'd LRU cache keyed by token address.
type Cache struct {
	inner Detector
	ttl   time.Duration
	lru   *lru.Cache
}

func New(inner Detector, size int, ttl time.Duration) (*Cache, error) {
	l, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner, ttl: ttl, lru: l}, nil
}

func (c *Cache) IsBad(ctx context.Context, token order.Address) (bool, error) {
	if v, ok := c.lru.Get(token); ok {
		e := v.(entry)
		if time.Now().Before(e.expireAt) {
			return e.bad, nil
		}
	}
	bad, err := c.inner.IsBad(ctx, token)
	if err != nil {
		return false, err
	}
	c.lru.Add(token, entry{bad: bad, expireAt: time.Now().Add(c.ttl)})
	return bad, nil
}

// AllowUnsupportedList is a static override list (config key
// unsupported_tokens, spec.md §6) always reported bad regardless of the
// inner detector or cache freshness.
type AllowUnsupportedList struct {
	Inner       Detector
	Unsupported map[order.Address]struct{}
}

func (l AllowUnsupportedList) IsBad(ctx context.Context, token order.Address) (bool, error) {
	if _, ok := l.Unsupported[token]; ok {
		return true, nil
	}
	return l.Inner.IsBad(ctx, token)
}
