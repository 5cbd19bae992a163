package validation

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/cowdex/batchcore/internal/order"
)

// SubsidyTier maps a COW-token balance threshold to a fee-factor
// multiplier, grounded on
// original_source/crates/orderbook/src/cow_subsidy.rs.
type SubsidyTier struct {
	Threshold *big.Int
	Factor    float64
}

// BalanceReader is the external collaborator reading a user's COW
// balance; out of scope per spec.md §1.
type BalanceReader interface {
	BalanceOf(ctx context.Context, owner order.Address) (*big.Int, error)
}

const (
	cowSubsidyCacheTTL = time.Hour
)

// CowSubsidy computes property P10: sorted tiers, balance b1<=b2 implies
// factor f(b1)>=f(b2); duplicate thresholds collapse to the last
// declared factor. Results are cached per user for one hour.
type CowSubsidy struct {
	balances BalanceReader
	tiers    []SubsidyTier // sorted ascending, deduplicated by threshold

	mu    sync.Mutex
	cache map[order.Address]cachedFactor
}

type cachedFactor struct {
	factor   float64
	expireAt time.Time
}

// NewCowSubsidy normalizes tiers the way the reference implementation's
// constructor does: sort ascending by threshold, then dedup keeping the
// last entry for any repeated threshold.
func NewCowSubsidy(balances BalanceReader, tiers []SubsidyTier) *CowSubsidy {
	sorted := make([]SubsidyTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Threshold.Cmp(sorted[j].Threshold) < 0
	})
	deduped := dedupByThresholdKeepLast(sorted)
	return &CowSubsidy{balances: balances, tiers: deduped, cache: make(map[order.Address]cachedFactor)}
}

func dedupByThresholdKeepLast(sorted []SubsidyTier) []SubsidyTier {
	out := make([]SubsidyTier, 0, len(sorted))
	for _, t := range sorted {
		if n := len(out); n > 0 && out[n-1].Threshold.Cmp(t.Threshold) == 0 {
			out[n-1] = t
			continue
		}
		out = append(out, t)
	}
	return out
}

// Factor returns the subsidy multiplier for user, consulting the 1-hour
// cache first.
func (c *CowSubsidy) Factor(ctx context.Context, user order.Address) (float64, error) {
	c.mu.Lock()
	if cached, ok := c.cache[user]; ok && time.Now().Before(cached.expireAt) {
		c.mu.Unlock()
		return cached.factor, nil
	}
	c.mu.Unlock()

	balance, err := c.balances.BalanceOf(ctx, user)
	if err != nil {
		return 0, err
	}
	factor := LookupSubsidyFactor(balance, c.tiers)

	c.mu.Lock()
	c.cache[user] = cachedFactor{factor: factor, expireAt: time.Now().Add(cowSubsidyCacheTTL)}
	c.mu.Unlock()
	return factor, nil
}

// LookupSubsidyFactor finds the highest-threshold tier <= balance,
// defaulting to 1.0 (no subsidy) if balance qualifies for none. tiers
// must already be sorted ascending by threshold.
func LookupSubsidyFactor(balance *big.Int, tiers []SubsidyTier) float64 {
	factor := 1.0
	for _, tier := range tiers {
		if tier.Threshold.Cmp(balance) <= 0 {
			factor = tier.Factor
		}
	}
	return factor
}

// FixedCowSubsidy always returns the same factor, used when no COW
// token is configured for the deployment (mirrors FixedCowSubsidy in
// the reference implementation). Implements SubsidyFactorer.
type FixedCowSubsidy struct{ Value float64 }

func (f FixedCowSubsidy) Factor(context.Context, order.Address) (float64, error) {
	return f.Value, nil
}
