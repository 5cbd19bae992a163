package submit

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGasPrices struct {
	tip, fee *big.Int
}

func (f fakeGasPrices) SuggestGasTipCap(context.Context) (*big.Int, error) { return f.tip, nil }
func (f fakeGasPrices) SuggestGasFeeCap(context.Context) (*big.Int, error) { return f.fee, nil }

type fakeSigner struct{}

func (fakeSigner) Sign(nonce uint64, tip, fee *big.Int) (*types.Transaction, error) {
	return types.NewTx(&types.DynamicFeeTx{Nonce: nonce, GasTipCap: tip, GasFeeCap: fee, Gas: 21000}), nil
}

type instantBroadcaster struct{ delay time.Duration }

func (instantBroadcaster) Name() string { return "direct" }

func (b instantBroadcaster) Send(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	select {
	case <-time.After(b.delay):
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSubmitReturnsFirstConfirmedReceipt(t *testing.T) {
	sub := New(fakeGasPrices{tip: big.NewInt(1), fee: big.NewInt(10)}, fakeSigner{}, Config{}, instantBroadcaster{delay: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outcome, err := sub.Submit(ctx, 0)
	require.NoError(t, err)
	assert.False(t, outcome.Cancelled)
	require.NotNil(t, outcome.Receipt)
	assert.Equal(t, "direct", outcome.Strategy)
}

func TestSubmitCancelsOnDeadline(t *testing.T) {
	sub := New(fakeGasPrices{tip: big.NewInt(1), fee: big.NewInt(10)}, fakeSigner{}, Config{}, instantBroadcaster{delay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	outcome, err := sub.Submit(ctx, 0)
	require.Error(t, err)
	require.NotNil(t, outcome)
	assert.True(t, outcome.Cancelled)
}

func TestShouldReplaceRequiresBump(t *testing.T) {
	sub := New(fakeGasPrices{}, fakeSigner{}, Config{})
	current := big.NewInt(100)
	assert.False(t, sub.shouldReplace(current, big.NewInt(105)))
	assert.True(t, sub.shouldReplace(current, big.NewInt(113)))
}

func TestDryRunBroadcasterNeverBroadcasts(t *testing.T) {
	b := DryRunBroadcaster{From: common.Address{1}}
	tx := types.NewTx(&types.DynamicFeeTx{Nonce: 1, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(1), Gas: 21000})
	receipt, err := b.Send(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
}
