// Package num implements the fixed-point and rational arithmetic shared by
// the pool, settlement and price-estimation layers.
package num

import (
	"fmt"
	"math/big"
)

// scale is 10^18, the base of every Decimal18 value.
var scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Decimal18 is an 18-fixed-point unsigned decimal, matching the semantics
// weighted-pool math needs: checked add/sub and directional mul/div/pow
// that round consistently toward the caller's chosen bound.
type Decimal18 struct {
	v *big.Int // raw value, already scaled by 1e18
}

// FromBigInt wraps an already-scaled raw value.
func FromBigInt(raw *big.Int) Decimal18 {
	return Decimal18{v: new(big.Int).Set(raw)}
}

// FromInt64 builds a Decimal18 from a whole number.
func FromInt64(n int64) Decimal18 {
	return Decimal18{v: new(big.Int).Mul(big.NewInt(n), scale)}
}

// Raw returns the underlying 1e18-scaled integer.
func (d Decimal18) Raw() *big.Int { return new(big.Int).Set(d.v) }

func (d Decimal18) String() string {
	q, r := new(big.Int).QuoRem(d.v, scale, new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	return fmt.Sprintf("%s.%018s", q.String(), r.Abs(r).String())
}

// overflowError is returned by checked operations that would wrap.
type overflowError struct{ op string }

func (e overflowError) Error() string { return fmt.Sprintf("decimal18: %s overflow", e.op) }

// Add returns a+b. It returns an error to keep the same signature as Sub,
// DivDown and DivUp (so callers can treat the four arithmetic ops
// uniformly); addition of two Decimal18 values never actually fails.
func Add(a, b Decimal18) (Decimal18, error) {
	return Decimal18{v: new(big.Int).Add(a.v, b.v)}, nil
}

// Sub returns a-b, failing if the result would go negative.
func Sub(a, b Decimal18) (Decimal18, error) {
	r := new(big.Int).Sub(a.v, b.v)
	if r.Sign() < 0 {
		return Decimal18{}, overflowError{"sub"}
	}
	return Decimal18{v: r}, nil
}

// MulDown computes a*b rounding toward zero (the floor for non-negative
// operands), matching the reference weighted-pool math's "round down"
// direction used whenever the protocol must not overpay.
func MulDown(a, b Decimal18) Decimal18 {
	prod := new(big.Int).Mul(a.v, b.v)
	return Decimal18{v: prod.Quo(prod, scale)}
}

// MulUp computes a*b rounding toward +infinity.
func MulUp(a, b Decimal18) Decimal18 {
	prod := new(big.Int).Mul(a.v, b.v)
	q, r := new(big.Int).QuoRem(prod, scale, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return Decimal18{v: q}
}

// DivDown computes a/b rounding toward zero.
func DivDown(a, b Decimal18) (Decimal18, error) {
	if b.v.Sign() == 0 {
		return Decimal18{}, fmt.Errorf("decimal18: division by zero")
	}
	num := new(big.Int).Mul(a.v, scale)
	return Decimal18{v: num.Quo(num, b.v)}, nil
}

// DivUp computes a/b rounding toward +infinity.
func DivUp(a, b Decimal18) (Decimal18, error) {
	if b.v.Sign() == 0 {
		return Decimal18{}, fmt.Errorf("decimal18: division by zero")
	}
	num := new(big.Int).Mul(a.v, scale)
	q, r := new(big.Int).QuoRem(num, b.v, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return Decimal18{v: q}, nil
}

// PowUp raises base to exp (both Decimal18), rounding up, and additionally
// inflates the result by a small safety margin (1e-4 * result + 1 wei) as
// the reference weighted-pool math does to guarantee the pool is never
// undercharged by truncation error accumulated across an exponentiation.
func PowUp(base, exp Decimal18) (Decimal18, error) {
	if base.v.Sign() < 0 {
		return Decimal18{}, fmt.Errorf("decimal18: pow of negative base")
	}
	// Exponentiation by repeated squaring in log-space is unnecessary for
	// our domain (weights are small rationals); use a Taylor-free binary
	// power via iterative squaring on the raw fixed point value through
	// a float64 bridge would lose precision, so fall back to an exact
	// integer power when exp is a whole number, else approximate via
	// natural-log/exp through math/big's Float with generous precision.
	if isWhole(exp) {
		n := new(big.Int).Quo(exp.v, scale)
		result := FromInt64(1)
		b := base
		e := n.Int64()
		for e > 0 {
			if e&1 == 1 {
				result = MulUp(result, b)
			}
			b = MulUp(b, b)
			e >>= 1
		}
		return withSafetyMargin(result), nil
	}
	bf := new(big.Float).SetPrec(200).SetInt(base.v)
	bf.Quo(bf, new(big.Float).SetPrec(200).SetInt(scale))
	ef := new(big.Float).SetPrec(200).SetInt(exp.v)
	ef.Quo(ef, new(big.Float).SetPrec(200).SetInt(scale))

	lnB := bigFloatLn(bf)
	prod := new(big.Float).SetPrec(200).Mul(lnB, ef)
	res := bigFloatExp(prod)
	res.Mul(res, new(big.Float).SetPrec(200).SetInt(scale))
	raw, _ := res.Int(nil)
	return withSafetyMargin(Decimal18{v: raw}), nil
}

func isWhole(d Decimal18) bool {
	_, r := new(big.Int).QuoRem(d.v, scale, new(big.Int))
	return r.Sign() == 0
}

// withSafetyMargin adds floor(result * 1e-4) + 1 raw unit, matching the
// reference's "pow-up adds a 1e-4*result + epsilon safety bound".
func withSafetyMargin(d Decimal18) Decimal18 {
	margin := new(big.Int).Mul(d.v, big.NewInt(1))
	margin.Quo(margin, big.NewInt(10000))
	margin.Add(margin, big.NewInt(1))
	return Decimal18{v: new(big.Int).Add(d.v, margin)}
}

// bigFloatLn and bigFloatExp are small fixed-iteration series approximations;
// sufficient here because PowUp is only invoked with the bounded exponents
// and bases that appear in weighted-pool swaps (weights in (0,1), balances
// within token supply range), not for general-purpose math.
func bigFloatLn(x *big.Float) *big.Float {
	one := big.NewFloat(1)
	// Use the identity ln(x) = 2*atanh((x-1)/(x+1)) for x>0, converging
	// quickly for x near 1; for the weighted-pool domain x stays within a
	// few orders of magnitude so we pre-scale by factoring out powers of e
	// is overkill — a direct series over a moderate number of terms is
	// adequate for the precision this package targets.
	num := new(big.Float).SetPrec(200).Sub(x, one)
	den := new(big.Float).SetPrec(200).Add(x, one)
	y := new(big.Float).SetPrec(200).Quo(num, den)
	y2 := new(big.Float).SetPrec(200).Mul(y, y)
	term := new(big.Float).SetPrec(200).Set(y)
	sum := new(big.Float).SetPrec(200)
	for k := 0; k < 60; k++ {
		denom := big.NewFloat(float64(2*k + 1))
		part := new(big.Float).SetPrec(200).Quo(term, denom)
		sum.Add(sum, part)
		term.Mul(term, y2)
	}
	return sum.Mul(sum, big.NewFloat(2))
}

func bigFloatExp(x *big.Float) *big.Float {
	sum := big.NewFloat(1)
	term := big.NewFloat(1)
	for k := 1; k < 60; k++ {
		term = new(big.Float).SetPrec(200).Mul(term, x)
		term = new(big.Float).SetPrec(200).Quo(term, big.NewFloat(float64(k)))
		sum = new(big.Float).SetPrec(200).Add(sum, term)
	}
	return sum
}
