package priceest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/cowdex/batchcore/pkg/num"
)

// NamedEstimator pairs an inner estimator with the source name surfaced
// on its winning Estimate.Source.
type NamedEstimator struct {
	Name      string
	Estimator Estimator
}

// Competition is the innermost layer (spec.md §4.C.3): fans out to N
// named estimators in parallel and, per query, keeps the result with
// the highest out/in price, compared as exact rationals. A query fails
// only if every source fails (property P5: the winner's price is >=
// every sibling's successful price for the same query).
type Competition struct {
	sources []NamedEstimator
}

func NewCompetition(sources ...NamedEstimator) *Competition {
	return &Competition{sources: sources}
}

func (c *Competition) Estimate(ctx context.Context, queries []Query) []Result {
	perSource := make([][]Result, len(c.sources))
	var wg sync.WaitGroup
	for i, src := range c.sources {
		i, src := i, src
		wg.Add(1)
		go func() {
			defer wg.Done()
			perSource[i] = src.Estimator.Estimate(ctx, queries)
		}()
	}
	wg.Wait()

	out := make([]Result, len(queries))
	for qi, q := range queries {
		bestIdx := -1
		var bestPrice *big.Rat
		var lastErr error
		for si := range c.sources {
			r := perSource[si][qi]
			if r.Err != nil {
				if lastErr == nil {
					lastErr = r.Err
				}
				continue
			}
			price, ok := num.Price(r.Estimate.OutAmount, q.Amount)
			if !ok {
				continue
			}
			if bestIdx == -1 || price.Cmp(bestPrice) > 0 {
				bestIdx = si
				bestPrice = price
			}
		}
		if bestIdx == -1 {
			if lastErr == nil {
				lastErr = fmt.Errorf("competition: no source produced a result")
			}
			out[qi] = Result{Err: lastErr}
			continue
		}
		winning := perSource[bestIdx][qi].Estimate
		winning.Source = c.sources[bestIdx].Name
		out[qi] = Result{Estimate: winning}
	}
	return out
}
