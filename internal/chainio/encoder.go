package chainio

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/cowdex/batchcore/internal/order"
	"github.com/cowdex/batchcore/internal/settlement"
)

// settleABIJSON declares the single entrypoint the settlement simulator
// (component H) and submitter (component I) both need: the GPv2Settlement
// contract's settle(tokens, clearingPrices, trades, interactions) method.
// Every other contract surface (EIP-1271, Vault interactions themselves)
// is invoked indirectly through the interaction calldata the encoder
// already assembled and is opaque to this package.
const settleABIJSON = `[{
	"name":"settle","type":"function","stateMutability":"nonpayable",
	"inputs":[
		{"name":"tokens","type":"address[]"},
		{"name":"clearingPrices","type":"uint256[]"},
		{"name":"trades","type":"tuple[]","components":[
			{"name":"sellTokenIndex","type":"uint256"},
			{"name":"buyTokenIndex","type":"uint256"},
			{"name":"receiver","type":"address"},
			{"name":"sellAmount","type":"uint256"},
			{"name":"buyAmount","type":"uint256"},
			{"name":"validTo","type":"uint32"},
			{"name":"appData","type":"bytes32"},
			{"name":"feeAmount","type":"uint256"},
			{"name":"flags","type":"uint256"},
			{"name":"executedAmount","type":"uint256"},
			{"name":"signature","type":"bytes"}
		]},
		{"name":"interactions","type":"tuple[][3]","components":[
			{"name":"target","type":"address"},
			{"name":"value","type":"uint256"},
			{"name":"callData","type":"bytes"}
		]}
	]
}]`

var settleABI abi.ABI

func init() {
	var err error
	settleABI, err = abi.JSON(strings.NewReader(settleABIJSON))
	if err != nil {
		panic("chainio: parsing settle ABI: " + err.Error())
	}
}

// SettlementEncoder implements simulate.Encoder: turning the encoder's
// (G) output into the GPv2Settlement.settle calldata that the simulator
// (H) eth_calls and the submitter (I) broadcasts.
//
// The original protocol's GPv2Trade.Data additionally carries a
// per-trade receiver, signature and flags byte packing the trade kind,
// balance sources and the partial-fill executed amount; settlement.Trade
// only models the fields the encoder's invariants (G) need. When
// ordersByUID resolves a trade's originating order, receiver (the order
// owner), validTo, appData, fee amount, the full flags byte and the
// signature are taken from that order. An unresolved trade is encoded
// with the zero receiver address (the contract defaults an unset
// receiver to the order owner), zero validTo, appData and fee, a flags
// byte derived from Kind alone, and no signature.
type SettlementEncoder struct {
	settlementAddr common.Address
	ordersByUID    func(uid order.UID) (*order.Order, bool)
}

// NewSettlementEncoder builds a SettlementEncoder. ordersByUID resolves a
// trade's originating order for the fields settlement.Trade itself
// doesn't carry (receiver, signature, flags); a nil entry falls back to
// the simplified defaults described on SettlementEncoder.
func NewSettlementEncoder(settlementAddr order.Address, ordersByUID func(order.UID) (*order.Order, bool)) *SettlementEncoder {
	return &SettlementEncoder{settlementAddr: toAddr(settlementAddr), ordersByUID: ordersByUID}
}

type abiTrade struct {
	SellTokenIndex *big.Int
	BuyTokenIndex  *big.Int
	Receiver       common.Address
	SellAmount     *big.Int
	BuyAmount      *big.Int
	ValidTo        uint32
	AppData        [32]byte
	FeeAmount      *big.Int
	Flags          *big.Int
	ExecutedAmount *big.Int
	Signature      []byte
}

type abiInteraction struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// EncodeCall implements simulate.Encoder.
func (e *SettlementEncoder) EncodeCall(s *settlement.Settlement) (common.Address, []byte, error) {
	tokenIndex := make(map[order.Address]int, len(s.Tokens))
	tokens := make([]common.Address, len(s.Tokens))
	prices := make([]*big.Int, len(s.Tokens))
	for i, t := range s.Tokens {
		tokenIndex[t] = i
		tokens[i] = toAddr(t)
		price, ok := s.Prices[t]
		if !ok {
			return common.Address{}, nil, fmt.Errorf("chainio: settlement missing clearing price for token %x", t)
		}
		prices[i] = price
	}

	trades := make([]abiTrade, len(s.Trades))
	for i, t := range s.Trades {
		sellIdx, ok := tokenIndex[t.Sell]
		if !ok {
			return common.Address{}, nil, fmt.Errorf("chainio: trade sell token %x not in settlement token list", t.Sell)
		}
		buyIdx, ok := tokenIndex[t.Buy]
		if !ok {
			return common.Address{}, nil, fmt.Errorf("chainio: trade buy token %x not in settlement token list", t.Buy)
		}
		trades[i] = e.encodeTrade(t, sellIdx, buyIdx)
	}

	var interactions [3][]abiInteraction
	for phase := settlement.PhasePre; phase <= settlement.PhasePost; phase++ {
		for _, ia := range s.Interactions[phase] {
			interactions[phase] = append(interactions[phase], encodeInteraction(ia))
		}
	}

	data, err := settleABI.Pack("settle", tokens, prices, trades, interactions)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("chainio: packing settle call: %w", err)
	}
	return e.settlementAddr, data, nil
}

func (e *SettlementEncoder) encodeTrade(t settlement.Trade, sellIdx, buyIdx int) abiTrade {
	at := abiTrade{
		SellTokenIndex: big.NewInt(int64(sellIdx)),
		BuyTokenIndex:  big.NewInt(int64(buyIdx)),
		SellAmount:     t.ExecutedSellAmount,
		BuyAmount:      t.ExecutedBuyAmount,
		FeeAmount:      big.NewInt(0),
		Flags:          tradeFlags(t.Kind),
		ExecutedAmount: executedAmountField(t),
		Signature:      nil,
	}
	if e.ordersByUID != nil {
		if o, ok := e.ordersByUID(t.OrderUID); ok {
			at.Receiver = toAddr(o.Owner)
			at.ValidTo = o.ValidTo
			at.AppData = o.AppData
			at.FeeAmount = o.FeeAmount
			at.Flags = tradeFlagsFromOrder(o)
			at.Signature = o.Signature
			return at
		}
	}
	return at
}

// tradeFlags packs only the trade kind bit (bit 0), the minimum the
// simplified encoding above can derive without the originating order.
func tradeFlags(kind order.Kind) *big.Int {
	if kind == order.KindBuy {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}

// tradeFlagsFromOrder additionally packs the partially-fillable bit (bit
// 1) and balance source/destination bits (bits 2-4), mirroring the
// GPv2Order flags byte layout.
func tradeFlagsFromOrder(o *order.Order) *big.Int {
	flags := int64(0)
	if o.Kind == order.KindBuy {
		flags |= 1
	}
	if o.PartiallyFillable {
		flags |= 1 << 1
	}
	flags |= int64(o.SellTokenBalance) << 2
	flags |= int64(o.BuyTokenBalance) << 4
	return big.NewInt(flags)
}

func executedAmountField(t settlement.Trade) *big.Int {
	if t.Kind == order.KindBuy {
		return t.ExecutedBuyAmount
	}
	return t.ExecutedSellAmount
}

func encodeInteraction(ia settlement.Interaction) abiInteraction {
	switch ia.Kind {
	case settlement.KindApproval:
		data, _ := erc20ABI.Pack("approve", toAddr(ia.Spender), ia.Amount)
		return abiInteraction{Target: toAddr(ia.Token), Value: big.NewInt(0), CallData: data}
	default:
		return abiInteraction{Target: toAddr(ia.Target), Value: big.NewInt(0), CallData: ia.CallData}
	}
}
