package walletkit

import (
	"fmt"
	"math"
	"math/big"
)

// amountBits is the width of the value a fixed-width chain amount can hold.
// The source library represents amounts as a 256-bit signed integer in base
// units; values that do not fit abort construction rather than silently
// wrapping or growing arbitrarily, which is why NewAmountFromDouble can fail.
const amountBits = 256

var (
	amountMax = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), amountBits-1), big.NewInt(1))
	amountMin = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), amountBits-1))
)

// Amount is an immutable signed value in the base units of its Unit's
// currency.
type Amount struct {
	value *big.Int // always in base-unit (decimalOffset 0) terms
	unit  *Unit
}

func inRange(v *big.Int) bool {
	return v.Cmp(amountMin) >= 0 && v.Cmp(amountMax) <= 0
}

// NewAmountFromBaseInt constructs an Amount directly from a base-unit
// integer value (e.g. satoshis, wei). Returns ok=false if value overflows
// the fixed-width representation.
func NewAmountFromBaseInt(value *big.Int, unit *Unit) (*Amount, bool) {
	v := new(big.Int).Set(value)
	if !inRange(v) {
		return nil, false
	}
	return &Amount{value: v, unit: unit}, true
}

// NewAmountFromInt64 constructs an Amount from an int64 already expressed in
// unit's own denomination (not necessarily base units).
func NewAmountFromInt64(value int64, unit *Unit) (*Amount, bool) {
	return NewAmountFromDecimal(big.NewRat(value, 1), unit)
}

// NewAmountFromDouble constructs an Amount from a floating point value
// expressed in unit's denomination. The value is scaled by 10^decimalOffset
// to base units and truncated toward zero, matching the source library's
// "round down to the base unit" behavior. Returns ok=false if the scaled
// value cannot be represented in the fixed-width 256-bit integer.
func NewAmountFromDouble(value float64, unit *Unit) (*Amount, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, false
	}
	r := new(big.Rat).SetFloat64(value)
	if r == nil {
		return nil, false
	}
	return NewAmountFromDecimal(r, unit)
}

// NewAmountFromDecimal constructs an Amount from an exact rational value
// expressed in unit's denomination, scaling to base units and truncating
// any fractional remainder smaller than one base unit.
func NewAmountFromDecimal(value *big.Rat, unit *Unit) (*Amount, bool) {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(unit.DecimalOffset())), nil)
	scaled := new(big.Rat).Mul(value, new(big.Rat).SetInt(scale))

	// Truncate toward zero to the nearest whole base unit.
	num := new(big.Int).Set(scaled.Num())
	den := new(big.Int).Set(scaled.Denom())
	q := new(big.Int).Quo(num, den)

	if !inRange(q) {
		return nil, false
	}
	return &Amount{value: q, unit: unit}, true
}

// NewAmountFromString parses a base-10 integer string expressed in base
// units (no decimal point). Returns ok=false on parse failure or overflow.
func NewAmountFromString(s string, unit *Unit) (*Amount, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, false
	}
	return NewAmountFromBaseInt(v, unit)
}

// Unit returns the Amount's unit.
func (a *Amount) Unit() *Unit { return a.unit }

// IsNegative reports whether the amount is strictly negative.
func (a *Amount) IsNegative() bool { return a.value.Sign() < 0 }

// IsZero reports whether the amount is exactly zero.
func (a *Amount) IsZero() bool { return a.value.Sign() == 0 }

// BaseInt returns the amount's value in base units as a big.Int copy.
func (a *Amount) BaseInt() *big.Int {
	return new(big.Int).Set(a.value)
}

// Double converts the amount to a floating point value expressed in unit's
// own denomination. ok is false if the conversion cannot be represented with
// reasonable relative accuracy (practically: never, for in-range amounts) -
// it exists to parallel NewAmountFromDouble's fallibility.
func (a *Amount) Double() (float64, bool) {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.unit.DecimalOffset())), nil)
	r := new(big.Rat).SetFrac(a.value, scale)
	f, _ := r.Float64()
	return f, true
}

// DoubleIn converts the amount into a different (compatible) unit's
// denomination.
func (a *Amount) DoubleIn(unit *Unit) (float64, bool) {
	if !a.unit.HasCurrency(unit.Currency()) {
		return 0, false
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(unit.DecimalOffset())), nil)
	r := new(big.Rat).SetFrac(a.value, scale)
	f, _ := r.Float64()
	return f, true
}

// Add returns a+b. ok is false on currency mismatch or overflow.
func (a *Amount) Add(b *Amount) (*Amount, bool) {
	if !a.unit.HasCurrency(b.unit.Currency()) {
		return nil, false
	}
	sum := new(big.Int).Add(a.value, b.value)
	if !inRange(sum) {
		return nil, false
	}
	return &Amount{value: sum, unit: a.unit}, true
}

// Sub returns a-b. ok is false on currency mismatch or overflow.
func (a *Amount) Sub(b *Amount) (*Amount, bool) {
	if !a.unit.HasCurrency(b.unit.Currency()) {
		return nil, false
	}
	diff := new(big.Int).Sub(a.value, b.value)
	if !inRange(diff) {
		return nil, false
	}
	return &Amount{value: diff, unit: a.unit}, true
}

// Negate returns -a.
func (a *Amount) Negate() *Amount {
	return &Amount{value: new(big.Int).Neg(a.value), unit: a.unit}
}

// Compare returns -1, 0, 1 for a<b, a==b, a>b. Amounts must share a currency.
func (a *Amount) Compare(b *Amount) int {
	return a.value.Cmp(b.value)
}

// Equal reports whether two amounts have the same value and unit currency.
func (a *Amount) Equal(b *Amount) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.unit.HasCurrency(b.unit.Currency()) && a.value.Cmp(b.value) == 0
}

func (a *Amount) String() string {
	return fmt.Sprintf("%s %s", a.value.String(), a.unit.Symbol())
}
