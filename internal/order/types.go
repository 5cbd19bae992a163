// Package order defines the Order data model (spec.md §3) and the
// operations for deriving and validating its identity.
package order

import (
	"math/big"
	"time"
)

// Address is a 20-byte account or token address.
type Address [20]byte

// UID is the 56-byte order identifier: orderStructHash (32) ∥ owner (20) ∥ validTo (4).
type UID [56]byte

// AppData is an opaque 32-byte tag an order carries, optionally resolvable
// to an off-chain metadata document (see internal/orderbook.AppDataStore).
type AppData [32]byte

// Kind distinguishes sell orders (exact sell amount) from buy orders
// (exact buy amount).
type Kind uint8

const (
	KindSell Kind = iota
	KindBuy
)

func (k Kind) String() string {
	if k == KindBuy {
		return "buy"
	}
	return "sell"
}

// BalanceSource/BalanceDestination enumerate where sell funds are drawn
// from and where bought funds are sent, mirroring the Vault-relayer
// funding modes of the original protocol.
type BalanceSource uint8

const (
	BalanceSourceErc20 BalanceSource = iota
	BalanceSourceExternal
	BalanceSourceInternal
)

type BalanceDestination uint8

const (
	BalanceDestinationErc20 BalanceDestination = iota
	BalanceDestinationInternal
)

// SigningScheme enumerates how Signature should be interpreted.
type SigningScheme uint8

const (
	SchemeEIP712 SigningScheme = iota
	SchemeEthSign
	SchemeEIP1271
	SchemePreSign
)

// Order is the off-chain signed trade intent (spec.md §3).
type Order struct {
	UID       UID
	Owner     Address
	SellToken Address
	BuyToken  Address

	SellAmount *big.Int
	BuyAmount  *big.Int
	FeeAmount  *big.Int

	ValidTo uint32
	AppData AppData
	Kind    Kind

	PartiallyFillable bool
	SellTokenBalance  BalanceSource
	BuyTokenBalance   BalanceDestination

	Signature     []byte
	SigningScheme SigningScheme

	CreationDate     time.Time
	CancellationDate *time.Time

	// Derived fields, populated from the Trade event join (§3, §4.E).
	ExecutedSellAmount *big.Int
	ExecutedBuyAmount  *big.Int
	ExecutedFeeAmount  *big.Int
}

// RemainingSell returns the unexecuted sell-side remainder, clamped to
// zero (an order cannot be "over-executed" once it is fully filled).
func (o *Order) RemainingSell() *big.Int {
	rem := new(big.Int).Sub(o.SellAmount, zeroIfNil(o.ExecutedSellAmount))
	if rem.Sign() < 0 {
		return big.NewInt(0)
	}
	return rem
}

func zeroIfNil(x *big.Int) *big.Int {
	if x == nil {
		return big.NewInt(0)
	}
	return x
}

// IsSolvable reports whether the order still qualifies for matching, per
// the invariant in spec.md §3: not cancelled, not expired, not fully
// executed.
func (o *Order) IsSolvable(now time.Time) bool {
	if o.CancellationDate != nil {
		return false
	}
	if uint32(now.Unix()) > o.ValidTo {
		return false
	}
	switch o.Kind {
	case KindSell:
		if zeroIfNil(o.ExecutedSellAmount).Cmp(o.SellAmount) >= 0 {
			return false
		}
	case KindBuy:
		if zeroIfNil(o.ExecutedBuyAmount).Cmp(o.BuyAmount) >= 0 {
			return false
		}
	}
	return true
}
