package priceest

import (
	"context"

	"github.com/cowdex/batchcore/internal/order"
)

// QuoteEstimator adapts the estimator stack to validation.QuoteEstimator
// (spec.md §4.D step 7: "a non-zero counter amount is estimable").
type QuoteEstimator struct {
	estimator Estimator
}

func NewQuoteEstimator(estimator Estimator) *QuoteEstimator {
	return &QuoteEstimator{estimator: estimator}
}

func (q *QuoteEstimator) EstimateCounterAmount(ctx context.Context, o *order.Order) (bool, error) {
	amount := o.SellAmount
	if o.Kind == order.KindBuy {
		amount = o.BuyAmount
	}
	results := q.estimator.Estimate(ctx, []Query{{Sell: o.SellToken, Buy: o.BuyToken, Amount: amount, Kind: o.Kind}})
	if len(results) != 1 || results[0].Err != nil {
		if len(results) == 1 {
			return false, results[0].Err
		}
		return false, nil
	}
	return results[0].Estimate.OutAmount != nil && results[0].Estimate.OutAmount.Sign() > 0, nil
}
