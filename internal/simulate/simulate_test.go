package simulate

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowdex/batchcore/internal/settlement"
)

func TestBumpGasPriceAppliesMaxBaseFeeIncrease(t *testing.T) {
	base := big.NewInt(100_000_000_000) // 100 gwei
	bumped := BumpGasPrice(base)
	min := big.NewInt(112_500_000_000) // 112.5 gwei
	assert.True(t, bumped.Cmp(min) >= 0, "bumped gas price must be at least +12.5%%")
}

type fakeEncoder struct{}

func (fakeEncoder) EncodeCall(s *settlement.Settlement) (common.Address, []byte, error) {
	return common.Address{1}, []byte{0xaa, 0xbb}, nil
}

type fakeCaller struct {
	fail []bool
}

func (f fakeCaller) BatchCallContext(ctx context.Context, elems []rpc.BatchElem) error {
	for i := range elems {
		if i < len(f.fail) && f.fail[i] {
			elems[i].Error = fakeRevert{}
		}
	}
	return nil
}

type fakeRevert struct{}

func (fakeRevert) Error() string  { return "execution reverted: insufficient balance" }
func (fakeRevert) ErrorCode() int { return 3 }

func TestSimulateAllReportsPerCandidateOutcome(t *testing.T) {
	sim := New(fakeCaller{fail: []bool{false, true}}, fakeEncoder{}, common.Address{9})
	candidates := []Candidate{
		{Solver: "baseline", Settlement: &settlement.Settlement{}},
		{Solver: "experimental", Settlement: &settlement.Settlement{}},
	}
	results, err := sim.SimulateAll(context.Background(), candidates, 100, big.NewInt(1))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].RevertMsg, "insufficient balance")
}
