// Package pool implements the reorg-tolerant, LRU-backed AMM reserve
// cache (component B, spec.md §4.B).
package pool

import (
	"math/big"

	"github.com/cowdex/batchcore/internal/order"
	"github.com/cowdex/batchcore/pkg/num"
)

// TokenPair keys a constant-product pool by its two tokens, normalized so
// (A,B) and (B,A) hash identically.
type TokenPair struct {
	Token0, Token1 order.Address
}

// NewTokenPair orders the two addresses so equality is independent of
// the order the caller observed them in.
func NewTokenPair(a, b order.Address) TokenPair {
	if lessAddress(b, a) {
		a, b = b, a
	}
	return TokenPair{Token0: a, Token1: b}
}

func lessAddress(a, b order.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// PoolID keys a weighted pool by its 32-byte Balancer-style pool id.
type PoolID [32]byte

// Rational is a fee or weight expressed exactly, e.g. 0.3% = {3,1000}.
type Rational struct {
	Num, Den *big.Int
}

// ConstantProductPool is a Uniswap-v2-style reserve pair (spec.md §3).
type ConstantProductPool struct {
	Pair     TokenPair
	Reserve0 *big.Int // u112 range, stored as big.Int
	Reserve1 *big.Int
	Fee      Rational
	Block    uint64
}

// WeightedPool is a Balancer-style weighted pool (spec.md §3).
type WeightedPool struct {
	ID                PoolID
	Address           order.Address
	Tokens            []order.Address
	NormalizedWeights []num.Decimal18
	Balances          []*big.Int
	ScalingExponents  []uint8
	SwapFee           num.Decimal18
	Paused            bool
	Block             uint64
}
