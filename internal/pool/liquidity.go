package pool

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cowdex/batchcore/internal/order"
)

// ParsePairAddresses parses config.Config.PairAddresses entries
// ("tokenA:tokenB:pairAddress") into the lookup function
// chainio.NewPairFetcher needs.
func ParsePairAddresses(entries []string) (func(TokenPair) (order.Address, bool), error) {
	table := make(map[TokenPair]order.Address, len(entries))
	for _, e := range entries {
		parts := strings.Split(e, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("pool: pair address entry %q must be \"tokenA:tokenB:pairAddress\"", e)
		}
		a := order.Address(common.HexToAddress(parts[0]))
		b := order.Address(common.HexToAddress(parts[1]))
		pairAddr := order.Address(common.HexToAddress(parts[2]))
		table[NewTokenPair(a, b)] = pairAddr
	}
	return func(p TokenPair) (order.Address, bool) {
		addr, ok := table[p]
		return addr, ok
	}, nil
}

// ConstantProductLiquidity implements driver.LiquidityFetcher over a
// Cache[TokenPair, V] for any raw reserve type V, converting each fetched
// entry into the fee-aware ConstantProductPool the solver-facing math in
// constantproduct.go operates on (spec.md §4.J step 2: "loads the pools
// touched by the involved token pairs").
type ConstantProductLiquidity[V any] struct {
	cache   *Cache[TokenPair, V]
	toRaw   func(V) (reserve0, reserve1 *big.Int)
	fee     Rational
	recency Recency
}

// NewConstantProductLiquidity wires a raw reserve cache into the driver's
// LiquidityFetcher contract. toRaw extracts the cached fetcher's native
// shape (e.g. chainio.ConstantProductPool) into reserves; the ordered
// token pair itself comes from the cache's own TokenPair key, not from V,
// since a raw reserve fetch result carries no token identity of its own.
// fee is the constant swap fee applied uniformly (spec.md §3 Non-goals:
// per-pool fee discovery is out of scope, a fixed default mirrors most
// Uniswap-v2 forks' 0.3%).
func NewConstantProductLiquidity[V any](cache *Cache[TokenPair, V], toRaw func(V) (r0, r1 *big.Int), fee Rational, recency Recency) *ConstantProductLiquidity[V] {
	return &ConstantProductLiquidity[V]{cache: cache, toRaw: toRaw, fee: fee, recency: recency}
}

// FetchLiquidity implements driver.LiquidityFetcher, returning
// map[TokenPair]*ConstantProductPool keyed by every distinct (sellToken,
// buyToken) pair among orders.
func (l *ConstantProductLiquidity[V]) FetchLiquidity(ctx context.Context, orders []order.Order) (interface{}, error) {
	seen := map[TokenPair]struct{}{}
	keys := make([]TokenPair, 0, len(orders))
	for _, o := range orders {
		p := NewTokenPair(o.SellToken, o.BuyToken)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		keys = append(keys, p)
	}
	if len(keys) == 0 {
		return map[TokenPair]*ConstantProductPool{}, nil
	}

	raw, err := l.cache.Fetch(ctx, keys, l.recency)
	if err != nil {
		return nil, err
	}

	out := make(map[TokenPair]*ConstantProductPool, len(raw))
	for pair, v := range raw {
		r0, r1 := l.toRaw(v)
		out[pair] = &ConstantProductPool{
			Pair:     pair,
			Reserve0: r0,
			Reserve1: r1,
			Fee:      l.fee,
		}
	}
	return out, nil
}
