package pool

import (
	"fmt"

	"github.com/cowdex/batchcore/pkg/num"
)

// AmountOut computes a Balancer-style weighted-pool swap output using
// the canonical formula:
//
//	out = balanceOut * (1 - (balanceIn / (balanceIn + amountInAfterFee)) ^ (weightIn/weightOut))
//
// rounded down (the pool must never pay out more than the exact formula
// allows). Balances are used as given; ScalingExponents is not applied.
func (p *WeightedPool) AmountOut(tokenInIdx, tokenOutIdx int, amountIn num.Decimal18) (num.Decimal18, error) {
	if p.Paused {
		return num.Decimal18{}, fmt.Errorf("pool: weighted pool is paused")
	}
	if tokenInIdx == tokenOutIdx || tokenInIdx >= len(p.Tokens) || tokenOutIdx >= len(p.Tokens) {
		return num.Decimal18{}, fmt.Errorf("pool: invalid token index")
	}

	balanceIn := num.FromBigInt(p.Balances[tokenInIdx])
	balanceOut := num.FromBigInt(p.Balances[tokenOutIdx])
	weightIn := p.NormalizedWeights[tokenInIdx]
	weightOut := p.NormalizedWeights[tokenOutIdx]

	feeMultiplier, err := num.Sub(num.FromInt64(1), p.SwapFee)
	if err != nil {
		return num.Decimal18{}, err
	}
	amountInAfterFee := num.MulDown(amountIn, feeMultiplier)

	denominator, err := num.Add(balanceIn, amountInAfterFee)
	if err != nil {
		return num.Decimal18{}, err
	}
	base, err := num.DivUp(balanceIn, denominator)
	if err != nil {
		return num.Decimal18{}, err
	}
	exponent, err := num.DivDown(weightIn, weightOut)
	if err != nil {
		return num.Decimal18{}, err
	}
	powered, err := num.PowUp(base, exponent)
	if err != nil {
		return num.Decimal18{}, err
	}
	complement, err := num.Sub(num.FromInt64(1), powered)
	if err != nil {
		// powered can legitimately exceed 1 due to the pow-up safety
		// margin when amountIn is tiny; clamp to zero output rather than
		// surface a spurious underflow to the caller.
		return num.FromInt64(0), nil
	}
	return num.MulDown(balanceOut, complement), nil
}
