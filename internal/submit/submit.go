// Package submit implements the settlement submitter (component I,
// spec.md §4.I): a gas-price-aware resubmission loop with cancel/replace
// semantics and parallel receipt-observation strategies.
package submit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/cowdex/batchcore/internal/apperr"
)

// gasPriceRefreshInterval is GAS_PRICE_REFRESH_INTERVAL (spec.md §4.I).
const gasPriceRefreshInterval = 15 * time.Second

// replaceBumpBps is the default bump a replacement transaction must
// exceed the in-flight one by (spec.md §4.I step 2).
const replaceBumpBps = 1250

// GasPriceSource estimates the current network gas price, EIP-1559 or
// legacy (spec.md §4.I step 1).
type GasPriceSource interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasFeeCap(ctx context.Context) (*big.Int, error)
}

// Signer produces a signed transaction for the given nonce and gas price.
type Signer interface {
	Sign(nonce uint64, gasTipCap, gasFeeCap *big.Int) (*types.Transaction, error)
}

// Broadcaster is one receipt-observation strategy: it sends tx and
// watches for its inclusion, returning the first confirmed receipt or
// ctx.Err() if cancelled (spec.md §4.I step 4).
type Broadcaster interface {
	Name() string
	Send(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Config bounds the submitter's behavior (spec.md §6).
type Config struct {
	GasPriceCap   *big.Int
	ReplaceBumpBp int // defaults to replaceBumpBps when zero
}

// Submitter drives the resubmit loop for a single settlement submission.
type Submitter struct {
	gasPrices    GasPriceSource
	signer       Signer
	broadcasters []Broadcaster
	cfg          Config
	now          func() time.Time
}

func New(gasPrices GasPriceSource, signer Signer, cfg Config, broadcasters ...Broadcaster) *Submitter {
	if cfg.ReplaceBumpBp == 0 {
		cfg.ReplaceBumpBp = replaceBumpBps
	}
	return &Submitter{gasPrices: gasPrices, signer: signer, broadcasters: broadcasters, cfg: cfg, now: time.Now}
}

// Outcome is the terminal result of a submission attempt.
type Outcome struct {
	Receipt   *types.Receipt
	Strategy  string
	Cancelled bool
}

// Submit runs the resubmit loop until ctx is cancelled (the driver's
// deadline) or a receipt is confirmed. On deadline expiry it attempts a
// best-effort cancellation (spec.md §4.I "Cancellation semantics").
func (s *Submitter) Submit(ctx context.Context, nonce uint64) (*Outcome, error) {
	ticker := time.NewTicker(gasPriceRefreshInterval)
	defer ticker.Stop()

	var inFlight *types.Transaction
	var inFlightGasFeeCap *big.Int

	resultCh := make(chan raceResult, len(s.broadcasters))
	var wg sync.WaitGroup
	broadcast := func(tx *types.Transaction) {
		for _, b := range s.broadcasters {
			wg.Add(1)
			go func(b Broadcaster) {
				defer wg.Done()
				receipt, err := b.Send(ctx, tx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						log.Debug("submission strategy failed", "strategy", b.Name(), "err", err)
					}
					return
				}
				select {
				case resultCh <- raceResult{receipt: receipt, strategy: b.Name()}:
				default:
				}
			}(b)
		}
	}

	refresh := func() error {
		gasFeeCap, gasTipCap, err := s.estimateGasPrice(ctx)
		if err != nil {
			return err
		}
		if inFlight != nil && !s.shouldReplace(inFlightGasFeeCap, gasFeeCap) {
			return nil
		}
		tx, err := s.signer.Sign(nonce, gasTipCap, gasFeeCap)
		if err != nil {
			return fmt.Errorf("submit: signing: %w", err)
		}
		inFlight = tx
		inFlightGasFeeCap = gasFeeCap
		broadcast(tx)
		return nil
	}

	if err := refresh(); err != nil {
		return nil, err
	}

	for {
		select {
		case res := <-resultCh:
			return &Outcome{Receipt: res.receipt, Strategy: res.strategy}, nil
		case <-ticker.C:
			if err := refresh(); err != nil {
				log.Warn("gas price refresh failed", "err", err)
			}
		case <-ctx.Done():
			return s.cancel(nonce, inFlightGasFeeCap)
		}
	}
}

type raceResult struct {
	receipt  *types.Receipt
	strategy string
}

func (s *Submitter) estimateGasPrice(ctx context.Context) (gasFeeCap, gasTipCap *big.Int, err error) {
	gasTipCap, err = s.gasPrices.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("submit: suggesting tip cap: %w", err)
	}
	gasFeeCap, err = s.gasPrices.SuggestGasFeeCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("submit: suggesting fee cap: %w", err)
	}
	if s.cfg.GasPriceCap != nil && gasFeeCap.Cmp(s.cfg.GasPriceCap) > 0 {
		gasFeeCap = s.cfg.GasPriceCap
		if gasTipCap.Cmp(gasFeeCap) > 0 {
			gasTipCap = gasFeeCap
		}
	}
	return gasFeeCap, gasTipCap, nil
}

// shouldReplace reports whether newPrice exceeds the in-flight
// transaction's price by at least the configured bump (spec.md §4.I
// step 2).
func (s *Submitter) shouldReplace(current, newPrice *big.Int) bool {
	if current == nil {
		return true
	}
	threshold := new(big.Int).Mul(current, big.NewInt(10000+int64(s.cfg.ReplaceBumpBp)))
	threshold.Div(threshold, big.NewInt(10000))
	return newPrice.Cmp(threshold) >= 0
}

// cancel submits a no-op self-transfer at the same nonce with a higher
// tip to evict the pending settlement transaction (spec.md §4.I
// "Cancellation semantics"). Best-effort: it does not wait for the
// cancellation itself to confirm, since a settlement mined concurrently
// is still a success.
func (s *Submitter) cancel(nonce uint64, lastGasFeeCap *big.Int) (*Outcome, error) {
	bump := big.NewInt(10000 + int64(s.cfg.ReplaceBumpBp))
	gasFeeCap := new(big.Int)
	if lastGasFeeCap != nil {
		gasFeeCap.Mul(lastGasFeeCap, bump).Div(gasFeeCap, big.NewInt(10000))
	}
	tx, err := s.signer.Sign(nonce, gasFeeCap, gasFeeCap)
	if err != nil {
		return nil, fmt.Errorf("submit: signing cancellation: %w", err)
	}
	for _, b := range s.broadcasters {
		go func(b Broadcaster) { _, _ = b.Send(context.Background(), tx) }(b)
	}
	return &Outcome{Cancelled: true}, apperr.ErrSubmitDeadlineHit
}

// DryRunBroadcaster logs the would-be transaction and reports a synthetic
// success without ever broadcasting (spec.md §4.I "Dry-run strategy").
type DryRunBroadcaster struct {
	From common.Address
}

func (DryRunBroadcaster) Name() string { return "dry-run" }

func (d DryRunBroadcaster) Send(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	log.Info("dry-run: would submit settlement transaction", "nonce", tx.Nonce(), "gasFeeCap", tx.GasFeeCap(), "from", d.From)
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}, nil
}
