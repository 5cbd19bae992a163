// Package simulate implements the settlement simulator (component H,
// spec.md §4.H): dry-running encoded settlements via eth_call against a
// pinned block before they are ever broadcast.
package simulate

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/cowdex/batchcore/internal/settlement"
)

// maxBaseFeeIncreaseBps is the maximum base fee can rise block-to-block
// under EIP-1559 (12.5%), applied as a safety margin to the gas price
// used for the simulation call so a settlement that would succeed this
// block doesn't spuriously revert if the node mines a new block
// mid-simulation (spec.md §4.H).
const maxBaseFeeIncreaseBps = 1250

// Encoder turns a Settlement into the calldata the settlement contract
// expects. The ABI encoding itself is out of scope here; Simulator only
// needs the resulting call.
type Encoder interface {
	EncodeCall(s *settlement.Settlement) (to common.Address, data []byte, err error)
}

// Caller is the subset of an RPC client Simulator needs. go-ethereum's
// rpc.Client satisfies it directly.
type Caller interface {
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

// Result is the outcome of simulating one candidate settlement.
type Result struct {
	Solver    string
	Success   bool
	RevertMsg string
	Err       error
}

// Simulator dry-runs settlements via eth_call, batching multiple calls
// into a single RPC round-trip (spec.md §4.H).
type Simulator struct {
	client  Caller
	encoder Encoder
	from    common.Address
}

func New(client Caller, encoder Encoder, from common.Address) *Simulator {
	return &Simulator{client: client, encoder: encoder, from: from}
}

// Candidate pairs a settlement with the solver that produced it, carried
// through so results can be attributed back (spec.md §4.J step 6).
type Candidate struct {
	Solver string
	*settlement.Settlement
}

// SimulateAll simulates every candidate against the given block and gas
// price (already bumped via BumpGasPrice), in one batched RPC call.
// Results are returned in the same order as candidates.
func (s *Simulator) SimulateAll(ctx context.Context, candidates []Candidate, blockNumber uint64, gasPrice *big.Int) ([]Result, error) {
	elems := make([]rpc.BatchElem, len(candidates))
	results := make([]Result, len(candidates))
	raw := make([]hexutil.Bytes, len(candidates))

	for i, c := range candidates {
		to, data, err := s.encoder.EncodeCall(c.Settlement)
		if err != nil {
			results[i] = Result{Solver: c.Solver, Err: fmt.Errorf("simulate: encoding candidate: %w", err)}
			elems[i] = rpc.BatchElem{Method: "eth_call", Args: []interface{}{}, Result: &raw[i]}
			continue
		}
		callArg := map[string]interface{}{
			"from":     s.from,
			"to":       to,
			"data":     hexutil.Bytes(data),
			"gasPrice": (*hexutil.Big)(gasPrice),
		}
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []interface{}{callArg, hexutil.Uint64(blockNumber)},
			Result: &raw[i],
		}
	}

	if err := s.client.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("simulate: batch call: %w", err)
	}

	for i, c := range candidates {
		if results[i].Err != nil {
			continue
		}
		if elems[i].Error != nil {
			results[i] = parseRevert(c.Solver, elems[i].Error)
			log.Debug("settlement simulation reverted", "solver", c.Solver, "err", elems[i].Error)
			continue
		}
		results[i] = Result{Solver: c.Solver, Success: true}
	}
	return results, nil
}

func parseRevert(solver string, err error) Result {
	if rpcErr, ok := err.(rpc.Error); ok {
		return Result{Solver: solver, RevertMsg: rpcErr.Error(), Err: err}
	}
	return Result{Solver: solver, Err: err}
}

// BumpGasPrice applies the maximum inter-block base-fee increase to
// defend the simulation against a block being mined mid-call (spec.md
// §4.H).
func BumpGasPrice(price *big.Int) *big.Int {
	bumped := new(big.Int).Mul(price, big.NewInt(10000+maxBaseFeeIncreaseBps))
	return bumped.Div(bumped, big.NewInt(10000))
}
