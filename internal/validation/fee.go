package validation

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/cowdex/batchcore/internal/order"
)

// QuoteTTL is the fee-quote validity window (spec.md §4.D "Quotes are
// cached for one hour").
const QuoteTTL = time.Hour

// GasPriceOracle and NativeTokenPricer are external collaborators (out
// of scope per spec.md §1 beyond these narrow interfaces).
type GasPriceOracle interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

type NativeTokenPricer interface {
	// PriceInNative returns how many wei of the native token one base
	// unit of sellToken is worth.
	PriceInNative(ctx context.Context, sellToken order.Address) (*big.Rat, error)
}

type SubsidyFactorer interface {
	Factor(ctx context.Context, user order.Address) (float64, error)
}

// QuoteKey identifies a cached fee/quote row (spec.md §3 "Quote").
type QuoteKey struct {
	Sell, Buy order.Address
	Amount    string // big.Int.String() normalized so equal amounts hash equal
	Kind      order.Kind
	User      order.Address
}

// Quote is the cached result of a fee computation.
type Quote struct {
	Amount         *big.Int
	ExpirationDate time.Time
}

// FeeCalculator implements spec.md §4.D's fee computation:
//
//	minFee = gasEstimate * gasPrice / sellTokenNativePrice * feeFactor * cowSubsidy(user)
//
// with the result cached for QuoteTTL so repeated requests for the same
// (sell, buy, amount, kind, user) are bit-identical within the window
// (property P3), even if the gas-price oracle's value changes between
// calls (spec.md §8 scenario 4).
type FeeCalculator struct {
	gasEstimate uint64 // fixed gas estimate for a single trade, config-tunable
	gasOracle   GasPriceOracle
	nativePrice NativeTokenPricer
	subsidy     SubsidyFactorer
	feeFactor   float64

	mu     sync.Mutex
	quotes map[QuoteKey]Quote
	now    func() time.Time
}

func NewFeeCalculator(gasEstimate uint64, gasOracle GasPriceOracle, nativePrice NativeTokenPricer, subsidy SubsidyFactorer, feeFactor float64) *FeeCalculator {
	return &FeeCalculator{
		gasEstimate: gasEstimate,
		gasOracle:   gasOracle,
		nativePrice: nativePrice,
		subsidy:     subsidy,
		feeFactor:   feeFactor,
		quotes:      make(map[QuoteKey]Quote),
		now:         time.Now,
	}
}

// MinFee returns the cached quote for key if still valid, else computes
// and caches a fresh one.
func (f *FeeCalculator) MinFee(ctx context.Context, key QuoteKey) (Quote, error) {
	f.mu.Lock()
	if q, ok := f.quotes[key]; ok && f.now().Before(q.ExpirationDate) {
		f.mu.Unlock()
		return q, nil
	}
	f.mu.Unlock()

	gasPrice, err := f.gasOracle.GasPrice(ctx)
	if err != nil {
		return Quote{}, err
	}
	nativePrice, err := f.nativePrice.PriceInNative(ctx, key.Sell)
	if err != nil {
		return Quote{}, err
	}
	subsidyFactor, err := f.subsidy.Factor(ctx, key.User)
	if err != nil {
		return Quote{}, err
	}

	costInNative := new(big.Int).Mul(new(big.Int).SetUint64(f.gasEstimate), gasPrice)
	// divide by sellTokenNativePrice (units: native wei per sell-token
	// base unit) via the rational; the final amount is truncated to an
	// integer.
	costInSellToken := new(big.Rat).Quo(new(big.Rat).SetInt(costInNative), nativePrice)
	scaled := new(big.Rat).Mul(costInSellToken, big.NewRat(int64(f.feeFactor*1e9), 1e9))
	scaled.Mul(scaled, big.NewRat(int64(subsidyFactor*1e9), 1e9))

	amount := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	quote := Quote{Amount: amount, ExpirationDate: f.now().Add(QuoteTTL)}

	f.mu.Lock()
	f.quotes[key] = quote
	f.mu.Unlock()
	return quote, nil
}

// RemoveExpired prunes quote rows whose validity window has passed
// (spec.md §4.D "Expired quote rows are pruned in a periodic
// maintenance step").
func (f *FeeCalculator) RemoveExpired() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	now := f.now()
	for k, q := range f.quotes {
		if !now.Before(q.ExpirationDate) {
			delete(f.quotes, k)
			removed++
		}
	}
	return removed
}
