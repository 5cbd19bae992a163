// Package validation implements the order validation pipeline and fee
// calculator (component D, spec.md §4.D).
package validation

import (
	"context"
	"time"

	"github.com/cowdex/batchcore/internal/apperr"
	"github.com/cowdex/batchcore/internal/order"
)

// SignatureVerifier recovers the signer of an order payload under the
// declared scheme; external collaborator (signature cryptography is out
// of scope per spec.md §1).
type SignatureVerifier interface {
	Recover(o *order.Order) (order.Address, error)
}

// PreSignatureChecker reports whether a matching on-chain pre-signature
// event exists for uid.
type PreSignatureChecker interface {
	HasPreSignature(ctx context.Context, uid order.UID) (bool, error)
}

// QuoteEstimator reproduces the amount-estimated price used to confirm
// an order's quote is reproducible (spec.md §4.D step 7).
type QuoteEstimator interface {
	EstimateCounterAmount(ctx context.Context, o *order.Order) (nonZero bool, err error)
}

// Validator runs the short-circuiting pipeline of spec.md §4.D.
type Validator struct {
	minValidityPeriod time.Duration
	denylist          map[order.Address]struct{}
	badTokens         interface {
		IsBad(ctx context.Context, token order.Address) (bool, error)
	}
	fees      *FeeCalculator
	sigs      SignatureVerifier
	presigs   PreSignatureChecker
	quotes    QuoteEstimator
	now       func() time.Time
}

type Config struct {
	MinValidityPeriod time.Duration
	Denylist          map[order.Address]struct{}
}

func NewValidator(cfg Config, badTokens interface {
	IsBad(ctx context.Context, token order.Address) (bool, error)
}, fees *FeeCalculator, sigs SignatureVerifier, presigs PreSignatureChecker, quotes QuoteEstimator) *Validator {
	return &Validator{
		minValidityPeriod: cfg.MinValidityPeriod,
		denylist:          cfg.Denylist,
		badTokens:         badTokens,
		fees:              fees,
		sigs:              sigs,
		presigs:           presigs,
		quotes:            quotes,
		now:               time.Now,
	}
}

// Validate runs the seven-step pipeline, returning the first failure
// (spec.md §4.D "short-circuits on first failure").
func (v *Validator) Validate(ctx context.Context, o *order.Order) error {
	now := v.now()

	// 1. validTo must exceed now + minValidityPeriod.
	earliestValid := now.Add(v.minValidityPeriod).Unix()
	if int64(o.ValidTo) <= earliestValid {
		return apperr.ErrPastValidTo
	}

	// 2. neither side in the deny-listed user set.
	if _, banned := v.denylist[o.Owner]; banned {
		return apperr.ErrForbidden
	}

	// 3. sellAmount > 0, buyAmount > 0.
	if o.SellAmount == nil || o.SellAmount.Sign() <= 0 || o.BuyAmount == nil || o.BuyAmount.Sign() <= 0 {
		return apperr.ErrZeroAmount
	}

	// 4. tokens pass bad-token detector.
	if sellBad, err := v.badTokens.IsBad(ctx, o.SellToken); err != nil {
		return err
	} else if sellBad {
		return apperr.ErrUnsupportedToken
	}
	if buyBad, err := v.badTokens.IsBad(ctx, o.BuyToken); err != nil {
		return err
	} else if buyBad {
		return apperr.ErrUnsupportedToken
	}

	// 5. feeAmount >= computeSubsidizedMinFee(...).
	quote, err := v.fees.MinFee(ctx, QuoteKey{
		Sell: o.SellToken, Buy: o.BuyToken, Amount: o.SellAmount.String(), Kind: o.Kind, User: o.Owner,
	})
	if err != nil {
		return err
	}
	if o.FeeAmount == nil || o.FeeAmount.Cmp(quote.Amount) < 0 {
		return apperr.ErrInsufficientFee
	}

	// 6. signature recovers to owner, or PreSign with a matching event.
	if o.SigningScheme == order.SchemePreSign {
		has, err := v.presigs.HasPreSignature(ctx, o.UID)
		if err != nil {
			return err
		}
		if !has {
			return apperr.ErrOnChainOrder
		}
	} else {
		recovered, err := v.sigs.Recover(o)
		if err != nil {
			return apperr.ErrInvalidSignature
		}
		if recovered != o.Owner {
			return apperr.ErrWrongOwner
		}
	}

	// 7. quote reproducible: a non-zero counter amount is estimable.
	nonZero, err := v.quotes.EstimateCounterAmount(ctx, o)
	if err != nil {
		return err
	}
	if !nonZero {
		return apperr.ErrNoLiquidity
	}

	return nil
}
