package settlement

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowdex/batchcore/internal/order"
)

func addr(b byte) order.Address {
	var a order.Address
	a[0] = b
	return a
}

type fakeAllowances struct {
	m map[[2]order.Address]*big.Int
}

func (f fakeAllowances) Allowance(token, spender order.Address) (*big.Int, error) {
	if v, ok := f.m[[2]order.Address{token, spender}]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

func TestEncodeConstantProductScenario(t *testing.T) {
	tokenA, tokenB := addr(1), addr(2)
	vaultRelayer := addr(9)
	prices := map[order.Address]*big.Int{tokenA: big.NewInt(1), tokenB: big.NewInt(1)}

	trades := []Trade{{
		OrderUID:           order.UID{1},
		Sell:               tokenA,
		Buy:                tokenB,
		Kind:               order.KindSell,
		ExecutedSellAmount: big.NewInt(1000),
		ExecutedBuyAmount:  big.NewInt(1000),
		LimitSellAmount:    big.NewInt(1000),
		LimitBuyAmount:     big.NewInt(900),
	}}

	interactions := map[Phase][]Interaction{
		PhaseIntra: {{
			Kind:      KindSwap,
			TokenIn:   tokenA,
			AmountIn:  big.NewInt(1000),
			TokenOut:  tokenB,
			AmountOut: big.NewInt(1000),
			Target:    vaultRelayer,
		}},
	}

	s, err := Encode(trades, interactions, prices, fakeAllowances{m: map[[2]order.Address]*big.Int{}}, big.NewRat(0, 1), 0)
	require.NoError(t, err)
	assert.Len(t, s.Interactions[PhasePre], 1, "expected a prepended approval")
	assert.Equal(t, KindApproval, s.Interactions[PhasePre][0].Kind)
	assert.Equal(t, MaxUint256, s.Interactions[PhasePre][0].Amount)
}

func TestEncodeSkipsApprovalWhenAllowanceSufficient(t *testing.T) {
	tokenA, tokenB := addr(1), addr(2)
	vaultRelayer := addr(9)
	prices := map[order.Address]*big.Int{tokenA: big.NewInt(1), tokenB: big.NewInt(1)}
	trades := []Trade{{
		Sell: tokenA, Buy: tokenB, Kind: order.KindSell,
		ExecutedSellAmount: big.NewInt(1000), ExecutedBuyAmount: big.NewInt(1000),
		LimitSellAmount: big.NewInt(1000), LimitBuyAmount: big.NewInt(900),
	}}
	interactions := map[Phase][]Interaction{
		PhaseIntra: {{Kind: KindSwap, TokenIn: tokenA, AmountIn: big.NewInt(1000), TokenOut: tokenB, AmountOut: big.NewInt(1000), Target: vaultRelayer}},
	}
	allow := fakeAllowances{m: map[[2]order.Address]*big.Int{{tokenA, vaultRelayer}: big.NewInt(1_000_000)}}

	s, err := Encode(trades, interactions, prices, allow, big.NewRat(0, 1), 0)
	require.NoError(t, err)
	assert.Empty(t, s.Interactions[PhasePre])
}

func TestEncodeRejectsLimitPriceViolation(t *testing.T) {
	tokenA, tokenB := addr(1), addr(2)
	prices := map[order.Address]*big.Int{tokenA: big.NewInt(1), tokenB: big.NewInt(1)}
	trades := []Trade{{
		Sell: tokenA, Buy: tokenB, Kind: order.KindSell,
		ExecutedSellAmount: big.NewInt(1000), ExecutedBuyAmount: big.NewInt(100),
		LimitSellAmount: big.NewInt(1000), LimitBuyAmount: big.NewInt(900),
	}}
	_, err := Encode(trades, nil, prices, fakeAllowances{m: map[[2]order.Address]*big.Int{}}, big.NewRat(0, 1), 0)
	require.Error(t, err)
}

func TestUniformClearingPriceAcceptsSingleTradePerPair(t *testing.T) {
	tokenA, tokenB := addr(1), addr(2)
	prices := map[order.Address]*big.Int{tokenA: big.NewInt(1), tokenB: big.NewInt(2)}
	trades := []Trade{{
		Sell: tokenA, Buy: tokenB, Kind: order.KindSell,
		ExecutedSellAmount: big.NewInt(1000), ExecutedBuyAmount: big.NewInt(500),
		LimitSellAmount: big.NewInt(1000), LimitBuyAmount: big.NewInt(400),
	}}
	err := checkUniformClearingPrices(trades, prices)
	require.NoError(t, err, "a single trade per pair always satisfies uniform pricing")
}

func TestEncodeRejectsConservationViolation(t *testing.T) {
	tokenA, tokenB := addr(1), addr(2)
	vaultRelayer := addr(9)
	prices := map[order.Address]*big.Int{tokenA: big.NewInt(1), tokenB: big.NewInt(1)}
	trades := []Trade{{
		Sell: tokenA, Buy: tokenB, Kind: order.KindSell,
		ExecutedSellAmount: big.NewInt(1000), ExecutedBuyAmount: big.NewInt(1000),
		LimitSellAmount: big.NewInt(1000), LimitBuyAmount: big.NewInt(900),
	}}
	interactions := map[Phase][]Interaction{
		PhaseIntra: {{Kind: KindSwap, TokenIn: tokenA, AmountIn: big.NewInt(500), TokenOut: tokenB, AmountOut: big.NewInt(1000), Target: vaultRelayer}},
	}
	_, err := Encode(trades, interactions, prices, fakeAllowances{m: map[[2]order.Address]*big.Int{}}, big.NewRat(0, 1), 0)
	require.Error(t, err, "the settlement only bought 500 of tokenA worth of tokenB liquidity but owes the trader 1000 sold")
}

func TestMergeUnwrapsFoldsNonAdjacentUnwraps(t *testing.T) {
	weth := addr(3)
	other := addr(4)
	in := []Interaction{
		{Kind: KindUnwrap, Token: weth, AmountIn: big.NewInt(100), AmountOut: big.NewInt(100)},
		{Kind: KindGeneric, Target: other},
		{Kind: KindUnwrap, Token: weth, AmountIn: big.NewInt(50), AmountOut: big.NewInt(50)},
	}
	out, err := mergeUnwraps(in)
	require.NoError(t, err)
	require.Len(t, out, 2, "both weth unwraps fold into one even though a generic interaction sits between them")
	assert.Equal(t, KindUnwrap, out[0].Kind)
	assert.Equal(t, big.NewInt(150), out[0].AmountOut)
	assert.Equal(t, big.NewInt(150), out[0].AmountIn)
	assert.Equal(t, KindGeneric, out[1].Kind)
}

func TestObjectiveValueRewardsSurplusAndPenalizesGas(t *testing.T) {
	tokenA, tokenB := addr(1), addr(2)
	prices := map[order.Address]*big.Int{tokenA: big.NewInt(1), tokenB: big.NewInt(1)}
	trades := []Trade{{
		Sell: tokenA, Buy: tokenB, Kind: order.KindSell,
		ExecutedSellAmount: big.NewInt(1000), ExecutedBuyAmount: big.NewInt(1000),
		LimitSellAmount: big.NewInt(1000), LimitBuyAmount: big.NewInt(900),
	}}
	withoutGas := objectiveValue(trades, prices, big.NewRat(0, 1), 0)
	withGas := objectiveValue(trades, prices, big.NewRat(1, 1), 50)
	assert.True(t, withoutGas.Cmp(withGas) > 0, "charging gas must lower the objective")
	assert.Equal(t, big.NewRat(100, 1), withoutGas, "surplus is executedBuy (1000) minus limit-implied buy (900)")
}
