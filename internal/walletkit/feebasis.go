package walletkit

import "math/big"

// FeeBasis is an immutable description of fee intent (estimate) or fee
// actuals (confirmed): a price per unit of cost factor, and the cost factor
// itself. For UTXO chains the cost factor is virtual size in kilobytes; for
// account chains it is typically gas limit.
type FeeBasis struct {
	pricePerCostFactor *Amount
	costFactor         *big.Rat
}

// NewFeeBasis constructs a FeeBasis from a price-per-cost-factor amount and
// a cost factor expressed as an exact rational (e.g. gas units, or vsize in
// kilobytes as a fraction).
func NewFeeBasis(pricePerCostFactor *Amount, costFactor *big.Rat) *FeeBasis {
	return &FeeBasis{pricePerCostFactor: pricePerCostFactor, costFactor: new(big.Rat).Set(costFactor)}
}

// NewFeeBasisFromUnits is a convenience constructor for integral cost
// factors (gas limit, byte count).
func NewFeeBasisFromUnits(pricePerCostFactor *Amount, costFactorUnits int64, costFactorDenominator int64) *FeeBasis {
	if costFactorDenominator == 0 {
		costFactorDenominator = 1
	}
	return NewFeeBasis(pricePerCostFactor, big.NewRat(costFactorUnits, costFactorDenominator))
}

func (f *FeeBasis) PricePerCostFactor() *Amount { return f.pricePerCostFactor }
func (f *FeeBasis) CostFactor() *big.Rat        { return new(big.Rat).Set(f.costFactor) }

// Fee computes price_per_cost_factor * cost_factor exactly in the currency's
// base integer unit, rounding to the nearest base unit (ties away from
// zero). This satisfies the invariant f.fee == f.price_per_cost_factor *
// f.cost_factor exactly whenever the product is itself integral, which is
// the case for every cost factor the handlers in this module construct.
func (f *FeeBasis) Fee() (*Amount, bool) {
	priceRat := new(big.Rat).SetInt(f.pricePerCostFactor.BaseInt())
	product := new(big.Rat).Mul(priceRat, f.costFactor)

	num := product.Num()
	den := product.Denom()

	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		// Round half away from zero.
		twiceR := new(big.Int).Lsh(new(big.Int).Abs(r), 1)
		if twiceR.Cmp(den) >= 0 {
			if num.Sign() < 0 {
				q.Sub(q, big.NewInt(1))
			} else {
				q.Add(q, big.NewInt(1))
			}
		}
	}

	return NewAmountFromBaseInt(q, f.pricePerCostFactor.Unit())
}
