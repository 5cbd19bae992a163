// Package events models the on-chain event types the indexer (component
// A, spec.md §4.A) absorbs, and the reorg-tolerant cursor used to decide
// how far back each tick must rescan.
package events

import (
	"math/big"

	"github.com/cowdex/batchcore/internal/order"
)

// MaxReorgBlocks bounds how deep the indexer re-reads on every tick
// (spec.md §3 "Event cursor", default overridable via config).
const MaxReorgBlocks = 25

// DefaultPageSize is the number of blocks fetched per RPC page (spec.md
// §4.A "page-sized chunks").
const DefaultPageSize = 500

// Key uniquely identifies an event row: (blockNumber, logIndex).
type Key struct {
	BlockNumber uint64
	LogIndex    uint64
}

func (k Key) Less(o Key) bool {
	if k.BlockNumber != o.BlockNumber {
		return k.BlockNumber < o.BlockNumber
	}
	return k.LogIndex < o.LogIndex
}

// Trade is the on-chain Trade event (spec.md §3).
type Trade struct {
	Key
	UID                    order.UID
	SellAmountIncludingFee *big.Int
	BuyAmount              *big.Int
	FeeAmount              *big.Int
}

// Settlement is the on-chain Settlement event (spec.md §3).
type Settlement struct {
	Key
	TxHash [32]byte
	Solver order.Address
}

// InvalidationState distinguishes an order invalidation from a
// pre-signature event sharing the same key shape.
type InvalidationState uint8

const (
	StateInvalidated InvalidationState = iota
	StatePreSigned
	StatePreSignatureRevoked
)

// Invalidation is either an order-invalidation or pre-signature event
// (spec.md §3 "Invalidation / PreSignature events").
type Invalidation struct {
	Key
	UID   order.UID
	State InvalidationState
}

// Kind tags the variant an absorbed log was converted to (spec.md §4.A
// "converts each to a tagged variant").
type Kind uint8

const (
	KindTrade Kind = iota
	KindInvalidation
	KindSettlement
	KindPreSignature
)

// Event is the tagged union the indexer persists; exactly one of the
// payload fields is populated depending on Kind.
type Event struct {
	Kind         Kind
	Trade        *Trade
	Settlement   *Settlement
	Invalidation *Invalidation
}

func (e Event) Key() Key {
	switch e.Kind {
	case KindTrade:
		return e.Trade.Key
	case KindSettlement:
		return e.Settlement.Key
	default:
		return e.Invalidation.Key
	}
}
