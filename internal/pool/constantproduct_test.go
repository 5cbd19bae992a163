package pool

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstantProductAmountOutScenario2(t *testing.T) {
	p := &ConstantProductPool{
		Reserve0: big.NewInt(100),
		Reserve1: big.NewInt(200),
		Fee:      Rational{Num: big.NewInt(3), Den: big.NewInt(1000)},
	}
	out, err := p.AmountOut(true, big.NewInt(10))
	assert.NoError(t, err)
	// spec.md §8 scenario 2 expects ~18.13 T1 out for 10 T0 in.
	assert.Equal(t, big.NewInt(18), out)
}
