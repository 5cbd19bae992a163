package priceest

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain verifies Buffered's per-call fan-out goroutine always exits
// once its shared future is resolved, rather than leaking on a batch
// that nobody ever waits on.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func q(sell, buy byte, amount int64) Query {
	var s, b [20]byte
	s[0], b[0] = sell, buy
	return Query{Sell: s, Buy: b, Amount: big.NewInt(amount)}
}

func TestCompetitionPicksBestPrice(t *testing.T) {
	cheap := Func(func(_ context.Context, qs []Query) []Result {
		out := make([]Result, len(qs))
		for i := range qs {
			out[i] = Result{Estimate: Estimate{OutAmount: big.NewInt(90)}}
		}
		return out
	})
	rich := Func(func(_ context.Context, qs []Query) []Result {
		out := make([]Result, len(qs))
		for i := range qs {
			out[i] = Result{Estimate: Estimate{OutAmount: big.NewInt(95)}}
		}
		return out
	})
	comp := NewCompetition(
		NamedEstimator{Name: "cheap", Estimator: cheap},
		NamedEstimator{Name: "rich", Estimator: rich},
	)
	res := comp.Estimate(context.Background(), []Query{q(1, 2, 100)})
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)
	assert.Equal(t, "rich", res[0].Estimate.Source)
	assert.Equal(t, big.NewInt(95), res[0].Estimate.OutAmount)
}

func TestCompetitionFailsOnlyWhenAllFail(t *testing.T) {
	allFail := Func(func(_ context.Context, qs []Query) []Result {
		out := make([]Result, len(qs))
		for i := range qs {
			out[i] = Result{Err: assertErr{}}
		}
		return out
	})
	comp := NewCompetition(NamedEstimator{Name: "a", Estimator: allFail})
	res := comp.Estimate(context.Background(), []Query{q(1, 2, 100)})
	require.Error(t, res[0].Err)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestBufferedCoalescesInFlightQueries(t *testing.T) {
	var calls int32
	block := make(chan struct{})
	inner := Func(func(_ context.Context, qs []Query) []Result {
		atomic.AddInt32(&calls, 1)
		<-block
		out := make([]Result, len(qs))
		for i := range qs {
			out[i] = Result{Estimate: Estimate{OutAmount: big.NewInt(42)}}
		}
		return out
	})
	buf := NewBuffered(inner)
	query := q(1, 2, 100)

	var wg sync.WaitGroup
	resultsA := make([]Result, 0)
	resultsB := make([]Result, 0)
	wg.Add(2)
	go func() {
		defer wg.Done()
		resultsA = buf.Estimate(context.Background(), []Query{query})
	}()
	time.Sleep(20 * time.Millisecond) // ensure A is in flight before B issues
	go func() {
		defer wg.Done()
		resultsB = buf.Estimate(context.Background(), []Query{query})
	}()
	time.Sleep(20 * time.Millisecond)
	close(block)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "the source must be called exactly once")
	require.Len(t, resultsA, 1)
	require.Len(t, resultsB, 1)
	assert.Equal(t, resultsA[0].Estimate.OutAmount, resultsB[0].Estimate.OutAmount)
}
