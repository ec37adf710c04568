package walletkit

import (
	"math/big"
	"testing"
)

func TestFeeBasisExactIntegralProduct(t *testing.T) {
	c := NewCurrency("bitcoin", "BTC", "Bitcoin")
	base := NewUnitAsBase(c, "SAT", "Satoshi", "sat")

	price, ok := NewAmountFromInt64(20, base) // 20 sat/vbyte
	if !ok {
		t.Fatalf("failed to construct price amount")
	}

	fb := NewFeeBasisFromUnits(price, 250, 1) // 250 vbytes
	fee, ok := fb.Fee()
	if !ok {
		t.Fatalf("expected Fee() to succeed")
	}
	if fee.BaseInt().Int64() != 5000 {
		t.Errorf("expected fee 20*250=5000, got %s", fee.BaseInt().String())
	}
}

func TestFeeBasisRoundsHalfAwayFromZero(t *testing.T) {
	c := NewCurrency("ethereum", "ETH", "Ether")
	base := NewUnitAsBase(c, "WEI", "Wei", "wei")

	price, ok := NewAmountFromInt64(3, base)
	if !ok {
		t.Fatalf("failed to construct price amount")
	}

	// cost factor 1/2 -> product 3 * 0.5 = 1.5 -> rounds to 2.
	fb := NewFeeBasis(price, big.NewRat(1, 2))
	fee, ok := fb.Fee()
	if !ok {
		t.Fatalf("expected Fee() to succeed")
	}
	if fee.BaseInt().Int64() != 2 {
		t.Errorf("expected 1.5 to round away from zero to 2, got %s", fee.BaseInt().String())
	}
}

func TestFeeBasisCostFactorIsIndependentCopy(t *testing.T) {
	c := NewCurrency("bitcoin", "BTC", "Bitcoin")
	base := NewUnitAsBase(c, "SAT", "Satoshi", "sat")
	price, _ := NewAmountFromInt64(1, base)

	fb := NewFeeBasis(price, big.NewRat(3, 1))
	cf := fb.CostFactor()
	cf.Mul(cf, big.NewRat(1000, 1))

	if fb.CostFactor().Cmp(big.NewRat(3, 1)) != 0 {
		t.Errorf("expected FeeBasis internal cost factor to be unaffected by mutating a returned copy")
	}
}
