package validation

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowdex/batchcore/internal/order"
)

type stepGasOracle struct{ calls int; prices []*big.Int }

func (o *stepGasOracle) GasPrice(context.Context) (*big.Int, error) {
	p := o.prices[o.calls]
	if o.calls < len(o.prices)-1 {
		o.calls++
	}
	return p, nil
}

type fixedNativePricer struct{ price *big.Rat }

func (p fixedNativePricer) PriceInNative(context.Context, order.Address) (*big.Rat, error) {
	return p.price, nil
}

type fixedSubsidy struct{}

func (fixedSubsidy) Factor(context.Context, order.Address) (float64, error) { return 1.0, nil }

func TestFeeQuoteIdempotentWithinWindowScenario4(t *testing.T) {
	oracle := &stepGasOracle{prices: []*big.Int{big.NewInt(100), big.NewInt(999)}}
	calc := NewFeeCalculator(21000, oracle, fixedNativePricer{price: big.NewRat(1, 1)}, fixedSubsidy{}, 1.0)

	key := QuoteKey{Amount: "1000", Kind: order.KindSell}
	q1, err := calc.MinFee(context.Background(), key)
	require.NoError(t, err)
	q2, err := calc.MinFee(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, q1.Amount, q2.Amount)
	assert.Equal(t, q1.ExpirationDate, q2.ExpirationDate)
	assert.Equal(t, 1, oracle.calls, "gas oracle must only be consulted once within the cache window")
}
