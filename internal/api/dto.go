package api

import (
	"encoding/hex"
	"math/big"
	"time"

	"github.com/cowdex/batchcore/internal/order"
)

// orderDTO is the JSON wire shape for order.Order. Fixed-width byte
// arrays are hex-encoded with a 0x prefix, following the go-ethereum
// hexutil convention the teacher uses throughout its own JSON-RPC types.
type orderDTO struct {
	UID       string `json:"uid,omitempty"`
	Owner     string `json:"owner"`
	SellToken string `json:"sellToken"`
	BuyToken  string `json:"buyToken"`

	SellAmount string `json:"sellAmount"`
	BuyAmount  string `json:"buyAmount"`
	FeeAmount  string `json:"feeAmount"`

	ValidTo uint32 `json:"validTo"`
	AppData string `json:"appData"`
	Kind    string `json:"kind"`

	PartiallyFillable bool   `json:"partiallyFillable"`
	SellTokenBalance  string `json:"sellTokenBalance"`
	BuyTokenBalance   string `json:"buyTokenBalance"`

	Signature     string `json:"signature"`
	SigningScheme string `json:"signingScheme"`

	CreationDate time.Time `json:"creationDate,omitempty"`

	ExecutedSellAmount string `json:"executedSellAmount,omitempty"`
	ExecutedBuyAmount  string `json:"executedBuyAmount,omitempty"`
}

func hexEncode(b []byte) string { return "0x" + hex.EncodeToString(b) }

func hexDecodeFixed(s string, out []byte) error {
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	copy(out, decoded)
	return nil
}

func toOrderDTO(o *order.Order) orderDTO {
	dto := orderDTO{
		UID:               hexEncode(o.UID[:]),
		Owner:             hexEncode(o.Owner[:]),
		SellToken:         hexEncode(o.SellToken[:]),
		BuyToken:          hexEncode(o.BuyToken[:]),
		SellAmount:        bigString(o.SellAmount),
		BuyAmount:         bigString(o.BuyAmount),
		FeeAmount:         bigString(o.FeeAmount),
		ValidTo:           o.ValidTo,
		AppData:           hexEncode(o.AppData[:]),
		Kind:              o.Kind.String(),
		PartiallyFillable: o.PartiallyFillable,
		Signature:         hexEncode(o.Signature),
		CreationDate:      o.CreationDate,
	}
	if o.ExecutedSellAmount != nil {
		dto.ExecutedSellAmount = o.ExecutedSellAmount.String()
	}
	if o.ExecutedBuyAmount != nil {
		dto.ExecutedBuyAmount = o.ExecutedBuyAmount.String()
	}
	return dto
}

func bigString(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

// fromOrderDTO parses an inbound order submission. It does not populate
// UID (derived server-side) or execution fields.
func fromOrderDTO(dto orderDTO) (*order.Order, error) {
	o := &order.Order{ValidTo: dto.ValidTo, PartiallyFillable: dto.PartiallyFillable}

	if err := hexDecodeFixed(dto.Owner, o.Owner[:]); err != nil {
		return nil, err
	}
	if err := hexDecodeFixed(dto.SellToken, o.SellToken[:]); err != nil {
		return nil, err
	}
	if err := hexDecodeFixed(dto.BuyToken, o.BuyToken[:]); err != nil {
		return nil, err
	}
	if err := hexDecodeFixed(dto.AppData, o.AppData[:]); err != nil {
		return nil, err
	}

	var ok bool
	if o.SellAmount, ok = new(big.Int).SetString(dto.SellAmount, 10); !ok {
		o.SellAmount = big.NewInt(0)
	}
	if o.BuyAmount, ok = new(big.Int).SetString(dto.BuyAmount, 10); !ok {
		o.BuyAmount = big.NewInt(0)
	}
	if o.FeeAmount, ok = new(big.Int).SetString(dto.FeeAmount, 10); !ok {
		o.FeeAmount = big.NewInt(0)
	}

	if dto.Kind == "buy" {
		o.Kind = order.KindBuy
	} else {
		o.Kind = order.KindSell
	}

	sig := dto.Signature
	if len(sig) >= 2 && sig[0:2] == "0x" {
		sig = sig[2:]
	}
	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, err
	}
	o.Signature = sigBytes

	return o, nil
}
