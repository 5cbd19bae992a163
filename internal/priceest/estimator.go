// Package priceest implements the layered price-estimator stack
// (component C, spec.md §4.C): Sanitizer → Buffered → Competition,
// composed as nested decorators the way the teacher's subpool
// aggregation composes independent SubPools behind one TxPool facade.
package priceest

import (
	"context"
	"math/big"

	"github.com/cowdex/batchcore/internal/order"
)

// Query is one estimation request.
type Query struct {
	Sell   order.Address
	Buy    order.Address
	Amount *big.Int
	Kind   order.Kind
}

// Fingerprint returns a value suitable as a map key for deduplicating
// identical queries (used by the Buffered layer and by tests).
func (q Query) Fingerprint() Query { return q }

// Estimate is a successful result for a Query.
type Estimate struct {
	OutAmount *big.Int
	Gas       uint64
	Source    string
}

// Result pairs a Query with either an Estimate or an error, preserving
// input order across every layer (spec.md §4.C "preserving input
// order").
type Result struct {
	Estimate Estimate
	Err      error
}

// Estimator is the capability every layer and every inner source
// implements.
type Estimator interface {
	Estimate(ctx context.Context, queries []Query) []Result
}

// Func adapts a plain function to the Estimator interface, mirroring the
// teacher's preference for small capability-set interfaces over trait
// objects (spec.md §9 design notes).
type Func func(ctx context.Context, queries []Query) []Result

func (f Func) Estimate(ctx context.Context, queries []Query) []Result { return f(ctx, queries) }
