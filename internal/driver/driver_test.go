package driver

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cowdex/batchcore/internal/auction"
	"github.com/cowdex/batchcore/internal/order"
	"github.com/cowdex/batchcore/internal/settlement"
	"github.com/cowdex/batchcore/internal/simulate"
)

func addr(b byte) order.Address {
	var a order.Address
	a[0] = b
	return a
}

type fakeUnwrapEncoder struct{}

func (fakeUnwrapEncoder) EncodeCall(s *settlement.Settlement) (common.Address, []byte, error) {
	return common.Address{1}, []byte{0xaa}, nil
}

// fakeUnwrapCaller answers each successive single-candidate simulate
// call with the next outcome in succeeds, mirroring the original's
// stacked-boolean test doubles for optimize_unwrapping.
type fakeUnwrapCaller struct {
	succeeds []bool
	calls    int
}

func (f *fakeUnwrapCaller) BatchCallContext(ctx context.Context, elems []rpc.BatchElem) error {
	ok := f.calls < len(f.succeeds) && f.succeeds[f.calls]
	f.calls++
	if !ok {
		elems[0].Error = fakeUnwrapRevert{}
	}
	return nil
}

type fakeUnwrapRevert struct{}

func (fakeUnwrapRevert) Error() string  { return "execution reverted" }
func (fakeUnwrapRevert) ErrorCode() int { return 3 }

func driverWithSimulator(succeeds ...bool) *Driver {
	sim := simulate.New(&fakeUnwrapCaller{succeeds: succeeds}, fakeUnwrapEncoder{}, common.Address{9})
	return &Driver{
		simulator: sim,
		cfg: Config{
			SettlementBlock: func(context.Context) (uint64, error) { return 100, nil },
			GasPriceForSim:  func(context.Context) (*big.Int, error) { return big.NewInt(1), nil },
		},
	}
}

func TestDropsOrdersMissingNativePrice(t *testing.T) {
	priced := addr(1)
	unpriced := addr(2)
	orders := []order.Order{
		{SellToken: priced, BuyToken: priced},
		{SellToken: priced, BuyToken: unpriced},
	}
	prices := map[order.Address]*big.Int{priced: big.NewInt(1)}
	out := dropOrdersMissingPrice(orders, prices)
	require.Len(t, out, 1)
}

func settlementWithUnwrap(weth order.Address, amount *big.Int) *settlement.Settlement {
	s := &settlement.Settlement{}
	s.Interactions[settlement.PhasePost] = []settlement.Interaction{
		{Kind: settlement.KindUnwrap, Token: weth, AmountIn: amount, AmountOut: amount},
	}
	return s
}

func TestOptimizeUnwrapDropsWhenBufferAloneSucceeds(t *testing.T) {
	weth := addr(3)
	s := settlementWithUnwrap(weth, big.NewInt(100))
	d := driverWithSimulator(true) // dropped variant simulates successfully
	out := d.optimizeUnwrap(context.Background(), s, big.NewInt(500), 100, big.NewInt(1), true)
	assert.Empty(t, out.Interactions[settlement.PhasePost], "buffer covers the payout, so the unwrap is dropped")
}

func TestOptimizeUnwrapEnlargesOnlyAfterSimulationConfirms(t *testing.T) {
	weth := addr(3)
	s := settlementWithUnwrap(weth, big.NewInt(1000))
	// dropped variant fails, enlarged variant succeeds.
	d := driverWithSimulator(false, true)
	out := d.optimizeUnwrap(context.Background(), s, big.NewInt(600), 100, big.NewInt(1), true)
	require.Len(t, out.Interactions[settlement.PhasePost], 1)
	assert.Equal(t, big.NewInt(1200), out.Interactions[settlement.PhasePost][0].AmountOut, "buffer 600 * factor 2 (1200) exceeds the original 1000 and simulates successfully")
}

func TestOptimizeUnwrapLeavesSettlementUnchangedWhenEnlargementFails(t *testing.T) {
	weth := addr(3)
	s := settlementWithUnwrap(weth, big.NewInt(1000))
	// both the dropped and the enlarged variant fail simulation.
	d := driverWithSimulator(false, false)
	out := d.optimizeUnwrap(context.Background(), s, big.NewInt(600), 100, big.NewInt(1), true)
	require.Len(t, out.Interactions[settlement.PhasePost], 1)
	assert.Equal(t, big.NewInt(1000), out.Interactions[settlement.PhasePost][0].AmountOut, "an enlargement that was never confirmed by simulation must not be adopted")
}

func TestOptimizeUnwrapSkipsWhenSimulationUnavailable(t *testing.T) {
	weth := addr(3)
	s := settlementWithUnwrap(weth, big.NewInt(1000))
	d := driverWithSimulator()
	out := d.optimizeUnwrap(context.Background(), s, big.NewInt(600), 0, nil, false)
	assert.Same(t, s, out, "without a way to verify via (H), the settlement must be left untouched")
}

func TestAllTradesTooYoungSkipsFreshBatches(t *testing.T) {
	d := &Driver{cfg: Config{MinOrderAge: time.Hour}, now: time.Now}
	uid := order.UID{1}
	a := &auction.Auction{Orders: []order.Order{{UID: uid, CreationDate: time.Now()}}}
	trades := []settlement.Trade{{OrderUID: uid}}
	assert.True(t, d.allTradesTooYoung(a, trades), "a batch with only a brand-new order must be skipped")

	a.Orders[0].CreationDate = time.Now().Add(-2 * time.Hour)
	assert.False(t, d.allTradesTooYoung(a, trades), "an old-enough order makes the batch eligible")
}
