package priceest

import (
	"context"
	"math/big"

	"github.com/cowdex/batchcore/internal/order"
)

// NativePrices adapts the estimator stack to auction.NativePriceSource
// (spec.md §4.F step 6: "Auction.Prices"), quoting each token against a
// fixed reference amount of the configured native/reference token the
// same way the driver's own estimateNativePrices does.
type NativePrices struct {
	estimator Estimator
	reference order.Address
	unit      *big.Int
}

// NewNativePrices builds a NativePrices adapter. unit is the sell amount
// quoted per token (typically 1e18, one unit of an 18-decimal token).
func NewNativePrices(estimator Estimator, reference order.Address, unit *big.Int) *NativePrices {
	return &NativePrices{estimator: estimator, reference: reference, unit: unit}
}

func (n *NativePrices) PricesFor(ctx context.Context, tokens []order.Address) (map[order.Address]*big.Int, error) {
	out := make(map[order.Address]*big.Int, len(tokens))
	if len(tokens) == 0 {
		return out, nil
	}
	queries := make([]Query, len(tokens))
	for i, t := range tokens {
		queries[i] = Query{Sell: t, Buy: n.reference, Amount: n.unit, Kind: order.KindSell}
	}
	for i, r := range n.estimator.Estimate(ctx, queries) {
		if r.Err != nil {
			continue
		}
		out[tokens[i]] = r.Estimate.OutAmount
	}
	return out, nil
}
