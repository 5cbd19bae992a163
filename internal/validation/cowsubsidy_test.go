package validation

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCowSubsidyTiersScenario5(t *testing.T) {
	e18 := big.NewInt(1_000_000_000_000_000_000)
	tiers := []SubsidyTier{
		{Threshold: e18, Factor: 0.9},
		{Threshold: e18, Factor: 0.8},
		{Threshold: new(big.Int).Mul(big.NewInt(2), e18), Factor: 0.7},
		{Threshold: maxUint256(), Factor: 0.0},
	}
	sub := NewCowSubsidy(nil, tiers)

	assert.Equal(t, 1.0, LookupSubsidyFactor(big.NewInt(0), sub.tiers))
	assert.Equal(t, 0.8, LookupSubsidyFactor(e18, sub.tiers))
	assert.Equal(t, 0.7, LookupSubsidyFactor(new(big.Int).Mul(big.NewInt(2), e18), sub.tiers))
	assert.Equal(t, 0.0, LookupSubsidyFactor(maxUint256(), sub.tiers))
}

func TestCowSubsidyMonotonicity(t *testing.T) {
	tiers := []SubsidyTier{
		{Threshold: big.NewInt(10), Factor: 0.9},
		{Threshold: big.NewInt(20), Factor: 0.5},
	}
	f1 := LookupSubsidyFactor(big.NewInt(10), tiers)
	f2 := LookupSubsidyFactor(big.NewInt(25), tiers)
	assert.GreaterOrEqual(t, f1, f2, "larger balance must never yield a weaker subsidy")
}

func maxUint256() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return max.Sub(max, big.NewInt(1))
}
