package settlement

import (
	"fmt"
	"math/big"

	"github.com/cowdex/batchcore/internal/apperr"
	"github.com/cowdex/batchcore/internal/order"
)

// pairKey identifies an unordered token pair for the uniform-clearing-
// price check (spec.md §4.G, property P7).
type pairKey struct{ a, b order.Address }

func newPairKey(a, b order.Address) pairKey {
	if lessAddr(b, a) {
		a, b = b, a
	}
	return pairKey{a, b}
}

func lessAddr(a, b order.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Encode assembles trades and interactions into a Settlement, enforcing
// every invariant in spec.md §4.G. interactions is keyed by phase; the
// list order within each phase is preserved (the caller is responsible
// for proposing the correct order; Encode only merges and inserts
// approvals, never reorders trades or inter-phase placement).
func Encode(trades []Trade, interactions map[Phase][]Interaction, prices map[order.Address]*big.Int, allowances AllowanceChecker, nativeGasPrice *big.Rat, gasUsed uint64) (*Settlement, error) {
	if err := checkUniformClearingPrices(trades, prices); err != nil {
		return nil, err
	}
	if err := checkLimitPrices(trades, prices); err != nil {
		return nil, err
	}

	merged := make(map[Phase][]Interaction, 3)
	for _, phase := range []Phase{PhasePre, PhaseIntra, PhasePost} {
		m, err := mergeUnwraps(interactions[phase])
		if err != nil {
			return nil, err
		}
		merged[phase] = m
	}

	withApprovals, err := insertApprovals(merged, allowances)
	if err != nil {
		return nil, err
	}

	if err := checkConservation(trades, withApprovals); err != nil {
		return nil, err
	}

	s := &Settlement{Prices: prices, Trades: trades}
	for t := range prices {
		s.Tokens = append(s.Tokens, t)
	}
	for _, phase := range []Phase{PhasePre, PhaseIntra, PhasePost} {
		s.Interactions[phase] = withApprovals[phase]
	}
	s.Objective = objectiveValue(trades, prices, nativeGasPrice, gasUsed)
	return s, nil
}

// checkUniformClearingPrices enforces that every trade on the same
// token pair implies the same prices[X]/prices[Y] ratio (property P7).
// Because all trades read from the single shared prices map this is
// really a completeness check: every token a trade references must have
// a price, and (defensively) two trades sharing a pair must still agree
// — which can only fail if the caller passed inconsistent trades for a
// pair priced differently than the map (impossible given a single map),
// so this also doubles as a guard against a caller-provided pair-local
// override map accidentally shadowing the global prices.
func checkUniformClearingPrices(trades []Trade, prices map[order.Address]*big.Int) error {
	ratios := map[pairKey]*big.Rat{}
	for _, t := range trades {
		pSell, ok := prices[t.Sell]
		if !ok {
			return fmt.Errorf("settlement: missing clearing price for %x: %w", t.Sell, apperr.ErrMissingData)
		}
		pBuy, ok := prices[t.Buy]
		if !ok {
			return fmt.Errorf("settlement: missing clearing price for %x: %w", t.Buy, apperr.ErrMissingData)
		}
		ratio := new(big.Rat).SetFrac(pSell, pBuy)
		key := newPairKey(t.Sell, t.Buy)
		if existing, seen := ratios[key]; seen {
			if existing.Cmp(ratio) != 0 {
				return fmt.Errorf("settlement: non-uniform clearing price for pair %x/%x", t.Sell, t.Buy)
			}
		} else {
			ratios[key] = ratio
		}
	}
	return nil
}

// checkLimitPrices enforces spec.md §4.G's limit-price respect:
//
//	sell orders: executedBuy * price[sell] >= executedSell * price[buy]
//	buy orders:  executedSell * price[buy] <= executedBuy * price[sell]  (symmetric)
func checkLimitPrices(trades []Trade, prices map[order.Address]*big.Int) error {
	for _, t := range trades {
		pSell := prices[t.Sell]
		pBuy := prices[t.Buy]
		lhs := new(big.Int).Mul(t.ExecutedBuyAmount, pSell)
		rhs := new(big.Int).Mul(t.ExecutedSellAmount, pBuy)
		if lhs.Cmp(rhs) < 0 {
			return fmt.Errorf("settlement: trade %x violates limit price", t.OrderUID)
		}
	}
	return nil
}

// objectiveValue computes Σ surplus(trade) - gasCost*nativeGasPrice in
// native-token units (spec.md §4.G "Objective value").
func objectiveValue(trades []Trade, prices map[order.Address]*big.Int, nativeGasPrice *big.Rat, gasUsed uint64) *big.Rat {
	total := new(big.Rat)
	for _, t := range trades {
		total.Add(total, surplus(t, prices))
	}
	if nativeGasPrice != nil {
		gasCost := new(big.Rat).Mul(new(big.Rat).SetUint64(gasUsed), nativeGasPrice)
		total.Sub(total, gasCost)
	}
	return total
}

// surplus is the buy-side excess over the limit price, converted to
// native units via the clearing prices. For a sell order the surplus is
// how much more buy-token the trader received than their limit price
// demanded; for a buy order it's the sell-token saved.
func surplus(t Trade, prices map[order.Address]*big.Int) *big.Rat {
	switch t.Kind {
	case order.KindSell:
		// limitBuy/limitSell is the minimum acceptable price; the
		// executed price may be better.
		minAcceptableBuy := new(big.Int).Mul(t.ExecutedSellAmount, t.LimitBuyAmount)
		minAcceptableBuy.Quo(minAcceptableBuy, t.LimitSellAmount)
		excessBuy := new(big.Int).Sub(t.ExecutedBuyAmount, minAcceptableBuy)
		if excessBuy.Sign() < 0 {
			excessBuy.SetInt64(0)
		}
		return valueInNative(t.Buy, excessBuy, prices)
	default: // KindBuy
		maxAcceptableSell := new(big.Int).Mul(t.ExecutedBuyAmount, t.LimitSellAmount)
		maxAcceptableSell.Quo(maxAcceptableSell, t.LimitBuyAmount)
		excessSell := new(big.Int).Sub(maxAcceptableSell, t.ExecutedSellAmount)
		if excessSell.Sign() < 0 {
			excessSell.SetInt64(0)
		}
		return valueInNative(t.Sell, excessSell, prices)
	}
}

func valueInNative(token order.Address, amount *big.Int, prices map[order.Address]*big.Int) *big.Rat {
	p, ok := prices[token]
	if !ok || p.Sign() == 0 {
		return new(big.Rat)
	}
	// prices are expressed in a common numeraire (clearing-price units);
	// amount * price converts token units into that numeraire.
	return new(big.Rat).SetInt(new(big.Int).Mul(amount, p))
}
