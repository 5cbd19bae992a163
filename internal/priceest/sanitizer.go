package priceest

import (
	"context"
	"math/big"

	"github.com/cowdex/batchcore/internal/apperr"
	"github.com/cowdex/batchcore/internal/order"
)

// GasPerWETHUnwrap is the fixed gas surcharge added when a query is
// rewritten from buy-ETH to buy-wrapped-native (spec.md §4.C.1).
const GasPerWETHUnwrap = 27_000

// BadTokenDetector reports whether a token is known-bad (e.g. has
// transfer-fee or blacklist quirks that break settlement). External
// collaborator; out of scope per spec.md §1 beyond this interface.
type BadTokenDetector interface {
	IsBad(ctx context.Context, token order.Address) (bool, error)
}

// Sanitizer is the outermost layer of the estimator stack (spec.md
// §4.C.1): rejects unsupported tokens, fast-paths sell==buy as a
// zero-gas identity estimate, and rewrites buy-ETH queries to
// buy-WETH before delegating.
type Sanitizer struct {
	inner      Estimator
	badTokens  BadTokenDetector
	nativeAddr order.Address // the chain's pseudo-address for native ETH
	wrapped    order.Address // WETH (or equivalent) address
}

func NewSanitizer(inner Estimator, badTokens BadTokenDetector, native, wrapped order.Address) *Sanitizer {
	return &Sanitizer{inner: inner, badTokens: badTokens, nativeAddr: native, wrapped: wrapped}
}

func (s *Sanitizer) Estimate(ctx context.Context, queries []Query) []Result {
	results := make([]Result, len(queries))
	var toDelegate []Query
	delegateIdx := make([]int, 0, len(queries))
	unwrapAdjust := make([]bool, len(queries))

	for i, q := range queries {
		if q.Sell == q.Buy {
			results[i] = Result{Estimate: Estimate{OutAmount: new(big.Int).Set(q.Amount), Gas: 0, Source: "identity"}}
			continue
		}
		sellBad, err := s.badTokens.IsBad(ctx, q.Sell)
		if err != nil {
			results[i] = Result{Err: &apperr.ErrOther{Cause: err}}
			continue
		}
		buyBad, err := s.badTokens.IsBad(ctx, q.Buy)
		if err != nil {
			results[i] = Result{Err: &apperr.ErrOther{Cause: err}}
			continue
		}
		if sellBad {
			results[i] = Result{Err: unsupportedTokenError(q.Sell)}
			continue
		}
		if buyBad {
			results[i] = Result{Err: unsupportedTokenError(q.Buy)}
			continue
		}

		rewritten := q
		if q.Buy == s.nativeAddr {
			rewritten.Buy = s.wrapped
			unwrapAdjust[i] = true
		}
		toDelegate = append(toDelegate, rewritten)
		delegateIdx = append(delegateIdx, i)
	}

	if len(toDelegate) > 0 {
		inner := s.inner.Estimate(ctx, toDelegate)
		for j, r := range inner {
			idx := delegateIdx[j]
			if r.Err == nil && unwrapAdjust[idx] {
				r.Estimate.Gas += GasPerWETHUnwrap
			}
			results[idx] = r
		}
	}
	return results
}

func unsupportedTokenError(addr order.Address) error {
	return &unsupportedTokenErr{addr: addr}
}

type unsupportedTokenErr struct{ addr order.Address }

func (e *unsupportedTokenErr) Error() string { return apperr.ErrUnsupportedToken.Error() }
func (e *unsupportedTokenErr) Unwrap() error  { return apperr.ErrUnsupportedToken }
func (e *unsupportedTokenErr) Token() order.Address { return e.addr }
