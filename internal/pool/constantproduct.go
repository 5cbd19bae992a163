package pool

import (
	"fmt"
	"math/big"
)

// AmountOut computes the constant-product ("xy=k") swap output for
// selling amountIn of the reserveIn side, after the pool fee. Matches
// the canonical Uniswap-v2 formula used by scenario 2 of spec.md §8:
// pool {T0:100, T1:200, fee:0.3%}, sell 10 T0 → ~18.13 T1 out.
func (p *ConstantProductPool) AmountOut(sellToken0 bool, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("pool: amountIn must be positive")
	}
	reserveIn, reserveOut := p.Reserve0, p.Reserve1
	if !sellToken0 {
		reserveIn, reserveOut = p.Reserve1, p.Reserve0
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, fmt.Errorf("pool: empty reserves")
	}

	feeNum := new(big.Int).Sub(p.Fee.Den, p.Fee.Num) // e.g. 1000-3=997
	amountInAfterFee := new(big.Int).Mul(amountIn, feeNum)

	numerator := new(big.Int).Mul(amountInAfterFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, p.Fee.Den)
	denominator.Add(denominator, amountInAfterFee)

	out := new(big.Int).Quo(numerator, denominator)
	return out, nil
}

// AmountIn computes the amount of the sell side required to buy exactly
// amountOut of the other side, the inverse of AmountOut, rounding up so
// the pool is never shorted.
func (p *ConstantProductPool) AmountIn(sellToken0 bool, amountOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, fmt.Errorf("pool: amountOut must be positive")
	}
	reserveIn, reserveOut := p.Reserve0, p.Reserve1
	if !sellToken0 {
		reserveIn, reserveOut = p.Reserve1, p.Reserve0
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("pool: insufficient reserves for requested output")
	}

	feeNum := new(big.Int).Sub(p.Fee.Den, p.Fee.Num)

	numerator := new(big.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, p.Fee.Den)
	denominator := new(big.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, feeNum)

	amountIn := new(big.Int).Quo(numerator, denominator)
	amountIn.Add(amountIn, big.NewInt(1))
	return amountIn, nil
}
