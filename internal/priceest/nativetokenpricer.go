package priceest

import (
	"context"
	"fmt"
	"math/big"

	"github.com/cowdex/batchcore/internal/order"
	"github.com/cowdex/batchcore/pkg/num"
)

// NativeTokenPricer adapts the estimator stack to validation.NativeTokenPricer
// (spec.md §4.D "sellTokenNativePrice"): how many wei of the native/
// reference token one base unit of sellToken is worth, expressed as the
// exact rational the fee calculator divides by.
type NativeTokenPricer struct {
	estimator Estimator
	reference order.Address
	unit      *big.Int
}

func NewNativeTokenPricer(estimator Estimator, reference order.Address, unit *big.Int) *NativeTokenPricer {
	return &NativeTokenPricer{estimator: estimator, reference: reference, unit: unit}
}

func (n *NativeTokenPricer) PriceInNative(ctx context.Context, sellToken order.Address) (*big.Rat, error) {
	results := n.estimator.Estimate(ctx, []Query{{Sell: sellToken, Buy: n.reference, Amount: n.unit, Kind: order.KindSell}})
	if len(results) != 1 {
		return nil, fmt.Errorf("priceest: native price estimate returned %d results, want 1", len(results))
	}
	if results[0].Err != nil {
		return nil, results[0].Err
	}
	price, ok := num.Price(results[0].Estimate.OutAmount, n.unit)
	if !ok {
		return nil, fmt.Errorf("priceest: native price estimate for %x has non-positive amount", sellToken)
	}
	return price, nil
}
