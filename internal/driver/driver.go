// Package driver implements the driver loop (component J, spec.md
// §4.J): once per tick, composes the auction cache, liquidity, price
// estimation, solvers, settlement encoding, simulation and submission
// into one end-to-end attempt at settling a batch.
package driver

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/cowdex/batchcore/internal/auction"
	"github.com/cowdex/batchcore/internal/order"
	"github.com/cowdex/batchcore/internal/priceest"
	"github.com/cowdex/batchcore/internal/settlement"
	"github.com/cowdex/batchcore/internal/simulate"
)

// LiquidityFetcher loads the pools touched by the involved token pairs
// (component B), handed to solvers as raw input (spec.md §4.J step 2).
type LiquidityFetcher interface {
	FetchLiquidity(ctx context.Context, orders []order.Order) (interface{}, error)
}

// Solver is the external black-box optimizer (spec.md §1, §4.J step 4):
// given the auction, fetched liquidity and native-token prices, it
// proposes trades and supporting interactions, or no result if it finds
// nothing worth settling or misses its deadline.
type Solver interface {
	Name() string
	Solve(ctx context.Context, a *auction.Auction, liquidity interface{}, nativePrices map[order.Address]*big.Int) (*SolverResult, error)
}

// SolverResult is the raw proposal a Solver hands back to the driver,
// before approvals are inserted and invariants are checked by (G).
type SolverResult struct {
	Trades       []settlement.Trade
	Interactions map[settlement.Phase][]settlement.Interaction
	Prices       map[order.Address]*big.Int
}

// NativeBufferSource reports the settlement contract's current
// native-token (wrapped) buffer, consulted by the unwrap post-processing
// step (spec.md §4.J step 5).
type NativeBufferSource interface {
	NativeBuffer(ctx context.Context) (*big.Int, error)
}

// Config bounds one tick's behavior (spec.md §6).
type Config struct {
	SolveBudget          time.Duration
	MinOrderAge          time.Duration
	UnwrapFactor         *big.Rat
	NativeReferenceToken order.Address
	NativeGasPrice       func(ctx context.Context) (*big.Rat, error)
	GasPriceForSim       func(ctx context.Context) (*big.Int, error)
	SettlementBlock      func(ctx context.Context) (uint64, error)
}

// Driver orchestrates one tick end to end.
type Driver struct {
	auction    *auction.Cache
	liquidity  LiquidityFetcher
	prices     priceest.Estimator
	solvers    []Solver
	allowances settlement.AllowanceChecker
	buffer     NativeBufferSource
	simulator  *simulate.Simulator
	submitFn   func(ctx context.Context, winner Candidate) error
	cfg        Config
	now        func() time.Time
}

func New(ac *auction.Cache, liquidity LiquidityFetcher, prices priceest.Estimator, solvers []Solver, allowances settlement.AllowanceChecker, buffer NativeBufferSource, simulator *simulate.Simulator, submitFn func(context.Context, Candidate) error, cfg Config) *Driver {
	return &Driver{
		auction: ac, liquidity: liquidity, prices: prices, solvers: solvers,
		allowances: allowances, buffer: buffer, simulator: simulator, submitFn: submitFn,
		cfg: cfg, now: time.Now,
	}
}

// Candidate is a fully encoded settlement ready to simulate/submit,
// tagged with the solver that produced it.
type Candidate struct {
	Solver     string
	Settlement *settlement.Settlement
}

// Tick runs one full driver iteration (spec.md §4.J).
func (d *Driver) Tick(ctx context.Context) error {
	a, err := d.auction.Current()
	if err != nil {
		log.Debug("driver: auction unavailable, skipping tick", "err", err)
		return nil
	}

	liquidity, err := d.liquidity.FetchLiquidity(ctx, a.Orders)
	if err != nil {
		return err
	}

	tokens := involvedTokens(a.Orders)
	nativeEstimates := d.estimateNativePrices(ctx, tokens)
	filteredOrders := dropOrdersMissingPrice(a.Orders, nativeEstimates)

	tickAuction := &auction.Auction{
		Orders: filteredOrders, Prices: a.Prices,
		BlockNumber: a.BlockNumber, Timestamp: a.Timestamp,
	}

	candidates := d.solveAll(ctx, tickAuction, liquidity, nativeEstimates)
	candidates = d.postProcess(ctx, candidates)
	if len(candidates) == 0 {
		log.Debug("driver: no candidates produced this tick")
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Settlement.Objective.Cmp(candidates[j].Settlement.Objective) > 0
	})

	return d.simulateAndSubmit(ctx, candidates)
}

func involvedTokens(orders []order.Order) []order.Address {
	seen := map[order.Address]struct{}{}
	var tokens []order.Address
	for _, o := range orders {
		for _, t := range [2]order.Address{o.SellToken, o.BuyToken} {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				tokens = append(tokens, t)
			}
		}
	}
	return tokens
}

func (d *Driver) estimateNativePrices(ctx context.Context, tokens []order.Address) map[order.Address]*big.Int {
	out := map[order.Address]*big.Int{}
	if len(tokens) == 0 {
		return out
	}
	// Native-token price is expressed as a sell-1-unit-for-native query
	// (spec.md §4.C); the settlement currency for this query is implicit
	// in the estimator stack's configured reference token.
	queries := make([]priceest.Query, len(tokens))
	for i, t := range tokens {
		queries[i] = priceest.Query{Sell: t, Buy: d.cfg.NativeReferenceToken, Amount: big.NewInt(1e18), Kind: order.KindSell}
	}
	results := d.prices.Estimate(ctx, queries)
	for i, r := range results {
		if r.Err != nil {
			continue
		}
		out[tokens[i]] = r.Estimate.OutAmount
	}
	return out
}

func dropOrdersMissingPrice(orders []order.Order, prices map[order.Address]*big.Int) []order.Order {
	out := orders[:0:0]
	for _, o := range orders {
		if _, ok := prices[o.SellToken]; !ok {
			continue
		}
		if _, ok := prices[o.BuyToken]; !ok {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (d *Driver) solveAll(ctx context.Context, a *auction.Auction, liquidity interface{}, nativePrices map[order.Address]*big.Int) []Candidate {
	candidates := make([]Candidate, 0, len(d.solvers))
	for _, solver := range d.solvers {
		budget := d.cfg.SolveBudget
		if budget <= 0 {
			budget = 10 * time.Second
		}
		solveCtx, cancel := context.WithTimeout(ctx, budget)
		result, err := solver.Solve(solveCtx, a, liquidity, nativePrices)
		cancel()
		if err != nil || result == nil || len(result.Trades) == 0 {
			if err != nil {
				log.Debug("solver error", "solver", solver.Name(), "err", err)
			}
			continue
		}
		if d.allTradesTooYoung(a, result.Trades) {
			continue
		}

		var nativeGasPrice *big.Rat
		if d.cfg.NativeGasPrice != nil {
			nativeGasPrice, err = d.cfg.NativeGasPrice(ctx)
			if err != nil {
				log.Debug("native gas price unavailable", "err", err)
				continue
			}
		}
		encoded, err := settlement.Encode(result.Trades, result.Interactions, result.Prices, d.allowances, nativeGasPrice, estimateGasUsed(result))
		if err != nil {
			log.Debug("settlement encoding failed", "solver", solver.Name(), "err", err)
			continue
		}
		candidates = append(candidates, Candidate{Solver: solver.Name(), Settlement: encoded})
	}
	return candidates
}

func (d *Driver) allTradesTooYoung(a *auction.Auction, trades []settlement.Trade) bool {
	if d.cfg.MinOrderAge <= 0 {
		return false
	}
	byUID := make(map[order.UID]order.Order, len(a.Orders))
	for _, o := range a.Orders {
		byUID[o.UID] = o
	}
	threshold := d.now().Add(-d.cfg.MinOrderAge)
	for _, t := range trades {
		if o, ok := byUID[t.OrderUID]; ok && o.CreationDate.Before(threshold) {
			return false
		}
	}
	return true
}

// estimateGasUsed is a placeholder sized off the interaction count until
// simulation (H) reports an authoritative figure; only relative ordering
// of candidates depends on this before simulation.
func estimateGasUsed(result *SolverResult) uint64 {
	n := uint64(len(result.Trades))
	for _, phase := range result.Interactions {
		n += uint64(len(phase))
	}
	return 100_000 + n*60_000
}

// postProcess implements spec.md §4.J step 5: dropping an unwrap(WETH)
// interaction the settlement doesn't need because the contract's native
// buffer already covers the payout, or enlarging it when a bigger
// unwrap still simulates successfully. Neither change is adopted
// without (H) confirming the resulting settlement still succeeds,
// matching the original's optimize_unwrapping.
func (d *Driver) postProcess(ctx context.Context, candidates []Candidate) []Candidate {
	if d.buffer == nil {
		return candidates
	}
	buffer, err := d.buffer.NativeBuffer(ctx)
	if err != nil {
		log.Debug("driver: native buffer unavailable, skipping unwrap post-processing", "err", err)
		return candidates
	}
	block, gasPrice, ok := d.simBaseline(ctx)
	for i := range candidates {
		candidates[i].Settlement = d.optimizeUnwrap(ctx, candidates[i].Settlement, buffer, block, gasPrice, ok)
	}
	return candidates
}

// simBaseline resolves the block and bumped gas price that both the
// unwrap optimization and the final simulation pass simulate candidate
// settlements against. ok is false when simulation isn't configured or
// the inputs can't be resolved; callers must treat that as "can't
// verify" rather than proceeding unchecked.
func (d *Driver) simBaseline(ctx context.Context) (uint64, *big.Int, bool) {
	if d.simulator == nil || d.cfg.SettlementBlock == nil || d.cfg.GasPriceForSim == nil {
		return 0, nil, false
	}
	block, err := d.cfg.SettlementBlock(ctx)
	if err != nil {
		log.Debug("driver: settlement block unavailable", "err", err)
		return 0, nil, false
	}
	gasPrice, err := d.cfg.GasPriceForSim(ctx)
	if err != nil {
		log.Debug("driver: gas price unavailable", "err", err)
		return 0, nil, false
	}
	return block, simulate.BumpGasPrice(gasPrice), true
}

// optimizeUnwrap mirrors the original optimize_unwrapping: try dropping
// the post-phase unwrap entirely and simulating the result; if the
// native buffer alone covers the payout, adopt the drop. Otherwise, if
// a bigger unwrap (buffer * unwrapFactor) still simulates successfully,
// adopt that instead. If simulation isn't available (canSimulate is
// false), the settlement is left unchanged rather than adopting an
// unverified drop or enlargement.
func (d *Driver) optimizeUnwrap(ctx context.Context, s *settlement.Settlement, buffer *big.Int, block uint64, gasPrice *big.Int, canSimulate bool) *settlement.Settlement {
	current := totalUnwrap(s.Interactions[settlement.PhasePost])
	if current.Sign() == 0 || !canSimulate {
		return s
	}

	dropped := cloneSettlement(s)
	dropped.Interactions[settlement.PhasePost] = withoutUnwraps(s.Interactions[settlement.PhasePost])
	if d.settlementWouldSucceed(ctx, dropped, block, gasPrice) {
		log.Debug("driver: dropping unwrap, native buffer covers payout")
		return dropped
	}

	if d.cfg.UnwrapFactor == nil {
		return s
	}
	target := new(big.Rat).Mul(new(big.Rat).SetInt(buffer), d.cfg.UnwrapFactor)
	targetAmount := new(big.Int).Quo(target.Num(), target.Denom())
	if targetAmount.Cmp(current) <= 0 {
		// wouldn't unwrap more than already planned; leave it as is.
		return s
	}

	enlarged := cloneSettlement(s)
	enlarged.Interactions[settlement.PhasePost] = withUnwrapAmount(s.Interactions[settlement.PhasePost], targetAmount)
	if d.settlementWouldSucceed(ctx, enlarged, block, gasPrice) {
		log.Debug("driver: enlarging unwrap to spend down the native buffer", "amount", targetAmount)
		return enlarged
	}
	return s
}

func (d *Driver) settlementWouldSucceed(ctx context.Context, s *settlement.Settlement, block uint64, gasPrice *big.Int) bool {
	results, err := d.simulator.SimulateAll(ctx, []simulate.Candidate{{Settlement: s}}, block, gasPrice)
	if err != nil || len(results) == 0 {
		return false
	}
	return results[0].Success
}

func totalUnwrap(post []settlement.Interaction) *big.Int {
	total := new(big.Int)
	for _, ia := range post {
		if ia.Kind == settlement.KindUnwrap {
			total.Add(total, ia.AmountOut)
		}
	}
	return total
}

func withoutUnwraps(post []settlement.Interaction) []settlement.Interaction {
	out := make([]settlement.Interaction, 0, len(post))
	for _, ia := range post {
		if ia.Kind != settlement.KindUnwrap {
			out = append(out, ia)
		}
	}
	return out
}

// withUnwrapAmount replaces the amount of the first unwrap interaction
// with amount (the settlement encoder already merges every same-token
// unwrap into at most one per phase, so there is normally exactly one
// to replace) and zeroes out any further one defensively.
func withUnwrapAmount(post []settlement.Interaction, amount *big.Int) []settlement.Interaction {
	out := make([]settlement.Interaction, len(post))
	copy(out, post)
	set := false
	for i := range out {
		if out[i].Kind != settlement.KindUnwrap {
			continue
		}
		if !set {
			out[i].AmountOut, out[i].AmountIn = amount, amount
			set = true
			continue
		}
		out[i].AmountOut, out[i].AmountIn = big.NewInt(0), big.NewInt(0)
	}
	return out
}

func cloneSettlement(s *settlement.Settlement) *settlement.Settlement {
	clone := *s
	return &clone
}

func (d *Driver) simulateAndSubmit(ctx context.Context, candidates []Candidate) error {
	block, bumped, ok := d.simBaseline(ctx)
	if !ok {
		return d.submitFn(ctx, candidates[0])
	}

	simCandidates := make([]simulate.Candidate, len(candidates))
	for i, c := range candidates {
		simCandidates[i] = simulate.Candidate{Solver: c.Solver, Settlement: c.Settlement}
	}
	results, err := d.simulator.SimulateAll(ctx, simCandidates, block, bumped)
	if err != nil {
		return err
	}

	for i, res := range results {
		if !res.Success {
			log.Debug("candidate failed simulation", "solver", candidates[i].Solver, "revert", res.RevertMsg)
			continue
		}
		if i > 0 {
			best := candidates[0].Settlement.Objective
			runnerUp := candidates[i].Settlement.Objective
			diff := new(big.Rat).Sub(best, runnerUp)
			log.Info("submitting settlement", "solver", candidates[i].Solver, "surplusDifferential", diff.FloatString(6))
		}
		return d.submitFn(ctx, candidates[i])
	}
	log.Warn("driver: no candidate simulated successfully this tick")
	return nil
}
