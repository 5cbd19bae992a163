// Package auction implements the solvable-orders cache (component F,
// spec.md §4.F): a periodically rebuilt snapshot of the orders the
// solver may consider.
package auction

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cowdex/batchcore/internal/apperr"
	"github.com/cowdex/batchcore/internal/order"
)

// Auction is the snapshot handed to the driver/solver (spec.md §3).
type Auction struct {
	Orders      []order.Order
	Prices      map[order.Address]*big.Int
	BlockNumber uint64
	Timestamp   time.Time
}

// SolverOrdersSource is the subset of the order-book store (E) this
// component consults.
type SolverOrdersSource interface {
	SolverOrders(ctx context.Context, minValidTo uint32) ([]order.Order, error)
}

// BalanceSource is the batched multicall balance lookup (spec.md §4.F
// step 3), external per spec.md §1.
type BalanceSource interface {
	// Balances returns, for each (owner, token) pair, the funded
	// balance available to the given funding source.
	Balances(ctx context.Context, queries []BalanceQuery) (map[BalanceQuery]*big.Int, error)
}

type BalanceQuery struct {
	Owner  order.Address
	Token  order.Address
	Source order.BalanceSource
}

// AllowanceSource reports the allowance an owner has granted the vault
// relayer for a sell-external order (spec.md §4.F step 4).
type AllowanceSource interface {
	Allowance(ctx context.Context, owner, token order.Address) (*big.Int, error)
}

// BadTokenDetector mirrors the other components' narrow interface.
type BadTokenDetector interface {
	IsBad(ctx context.Context, token order.Address) (bool, error)
}

// NativePriceSource supplies the Auction.Prices map.
type NativePriceSource interface {
	PricesFor(ctx context.Context, tokens []order.Address) (map[order.Address]*big.Int, error)
}

// Cache rebuilds the Auction snapshot and serves reads with a staleness
// contract (spec.md §4.F "Liveness contract").
type Cache struct {
	store      SolverOrdersSource
	balances   BalanceSource
	allowances AllowanceSource
	badTokens  BadTokenDetector
	prices     NativePriceSource
	head       func() uint64
	maxAge     time.Duration
	now        func() time.Time

	// refreshMu serializes rebuilds: "a new refresh waits for the
	// prior refresh's writer lock" (spec.md §5).
	refreshMu sync.Mutex

	mu        sync.RWMutex
	current   *Auction
	builtAt   time.Time
}

func New(store SolverOrdersSource, balances BalanceSource, allowances AllowanceSource, badTokens BadTokenDetector, prices NativePriceSource, head func() uint64, maxAge time.Duration) *Cache {
	return &Cache{
		store: store, balances: balances, allowances: allowances, badTokens: badTokens,
		prices: prices, head: head, maxAge: maxAge, now: time.Now,
	}
}

// Refresh rebuilds the snapshot (spec.md §4.F steps 1-6). Its callers
// (the orderbook refresh loop and the driver tick loop) run it on fixed
// timers; no caller triggers it on a new block.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	minValidTo := uint32(c.now().Unix())
	orders, err := c.store.SolverOrders(ctx, minValidTo)
	if err != nil {
		return fmt.Errorf("auction: loading solver orders: %w", err)
	}

	tokenSet := map[order.Address]struct{}{}
	for _, o := range orders {
		tokenSet[o.SellToken] = struct{}{}
		tokenSet[o.BuyToken] = struct{}{}
	}

	balanceQueries := make([]BalanceQuery, 0, len(orders))
	for _, o := range orders {
		balanceQueries = append(balanceQueries, BalanceQuery{Owner: o.Owner, Token: o.SellToken, Source: o.SellTokenBalance})
	}
	balances, err := c.balances.Balances(ctx, balanceQueries)
	if err != nil {
		return fmt.Errorf("auction: fetching balances: %w", err)
	}

	filtered := orders[:0:0]
	for _, o := range orders {
		ok, err := c.hasSufficientFunds(ctx, o, balances)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		sellBad, err := c.badTokens.IsBad(ctx, o.SellToken)
		if err != nil {
			return err
		}
		buyBad, err := c.badTokens.IsBad(ctx, o.BuyToken)
		if err != nil {
			return err
		}
		if sellBad || buyBad {
			continue
		}
		filtered = append(filtered, o)
	}

	tokens := make([]order.Address, 0, len(tokenSet))
	for t := range tokenSet {
		tokens = append(tokens, t)
	}
	prices, err := c.prices.PricesFor(ctx, tokens)
	if err != nil {
		return fmt.Errorf("auction: fetching prices: %w", err)
	}

	snapshot := &Auction{Orders: filtered, Prices: prices, BlockNumber: c.head(), Timestamp: c.now()}

	c.mu.Lock()
	c.current = snapshot
	c.builtAt = c.now()
	c.mu.Unlock()
	return nil
}

func (c *Cache) hasSufficientFunds(ctx context.Context, o order.Order, balances map[BalanceQuery]*big.Int) (bool, error) {
	remaining := o.RemainingSell()
	needed := new(big.Int).Set(remaining)
	if o.Kind == order.KindSell {
		needed.Add(needed, o.FeeAmount)
	}
	bal, ok := balances[BalanceQuery{Owner: o.Owner, Token: o.SellToken, Source: o.SellTokenBalance}]
	if !ok || bal == nil {
		return false, nil
	}
	if o.SellTokenBalance == order.BalanceSourceExternal {
		allowance, err := c.allowances.Allowance(ctx, o.Owner, o.SellToken)
		if err != nil {
			return false, err
		}
		if allowance.Cmp(needed) < 0 {
			return false, nil
		}
	}
	return bal.Cmp(needed) >= 0, nil
}

// Current returns the latest snapshot, failing with apperr.ErrStaleAuction
// (via the returned error) if it hasn't been refreshed within maxAge
// (spec.md §4.F "Liveness contract").
func (c *Cache) Current() (*Auction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil, staleError{never: true}
	}
	if c.now().Sub(c.builtAt) > c.maxAge {
		return nil, staleError{age: c.now().Sub(c.builtAt)}
	}
	return c.current, nil
}

type staleError struct {
	never bool
	age   time.Duration
}

func (e staleError) Error() string {
	if e.never {
		return "auction: no successful refresh yet"
	}
	return fmt.Sprintf("auction: snapshot is stale (age=%s)", e.age)
}

func (e staleError) Unwrap() error { return apperr.ErrStaleAuction }
