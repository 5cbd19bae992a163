// Package settlement implements the settlement encoder (component G,
// spec.md §4.G): assembling clearing prices, trades and ordered
// interactions into one atomic, deterministically encoded settlement.
package settlement

import (
	"math/big"

	"github.com/cowdex/batchcore/internal/order"
)

// Trade is one executed fill within a settlement.
type Trade struct {
	OrderUID           order.UID
	Sell, Buy          order.Address
	Kind               order.Kind
	ExecutedSellAmount *big.Int // includes fee
	ExecutedBuyAmount  *big.Int
	LimitSellAmount    *big.Int // from the originating order, for the surplus computation
	LimitBuyAmount     *big.Int
}

// Phase is one of the three sequential interaction phases (spec.md
// §4.G "Interaction ordering").
type Phase uint8

const (
	PhasePre Phase = iota
	PhaseIntra
	PhasePost
)

// InteractionKind distinguishes the shapes the conservation and merge
// rules need to special-case.
type InteractionKind uint8

const (
	KindGeneric InteractionKind = iota
	KindApproval
	KindSwap
	KindUnwrap
)

// Interaction is one call the settlement contract makes.
type Interaction struct {
	Kind InteractionKind

	// Approval fields.
	Token   order.Address
	Spender order.Address
	Amount  *big.Int

	// Swap/generic accounting fields: tokens and amounts this
	// interaction moves, used by the conservation check (spec.md §4.G).
	TokenIn    order.Address
	AmountIn   *big.Int
	TokenOut   order.Address
	AmountOut  *big.Int

	Target   order.Address
	CallData []byte
}

// MaxUint256 is the approval amount the encoder grants (spec.md §4.G
// "Approvals").
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Settlement is the fully encoded, ready-to-submit settlement.
type Settlement struct {
	Tokens       []order.Address
	Prices       map[order.Address]*big.Int
	Trades       []Trade
	Interactions [3][]Interaction // indexed by Phase

	Objective *big.Rat
}

// AllowanceChecker reports the settlement contract's current allowance
// to spender for token; external collaborator (spec.md §1).
type AllowanceChecker interface {
	Allowance(token, spender order.Address) (*big.Int, error)
}
