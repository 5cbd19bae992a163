package num

import "math/big"

// Price returns outAmount/inAmount as an exact rational, used so that
// competing estimates can be ordered without floating-point error. A
// zero inAmount has no price and is reported via ok=false.
func Price(outAmount, inAmount *big.Int) (price *big.Rat, ok bool) {
	if inAmount == nil || inAmount.Sign() == 0 {
		return nil, false
	}
	return new(big.Rat).SetFrac(outAmount, inAmount), true
}

// Best returns the index of the rational in prices with the greatest
// value, breaking ties by the lowest index (iteration order), matching
// the competition estimator's tie-break rule. Returns -1 if prices is
// empty or every entry is nil.
func Best(prices []*big.Rat) int {
	best := -1
	for i, p := range prices {
		if p == nil {
			continue
		}
		if best == -1 || p.Cmp(prices[best]) > 0 {
			best = i
		}
	}
	return best
}
