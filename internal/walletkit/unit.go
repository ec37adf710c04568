package walletkit

import "fmt"

// Unit describes one denomination of a Currency: either the base unit (the
// smallest indivisible amount the chain tracks, decimalOffset 0 relative to
// itself) or a derived display unit some decimalOffset above the base.
type Unit struct {
	uids         string // currency_uids ":" code
	currency     *Currency
	name         string
	symbol       string
	decimalOffset uint8
	base         *Unit // nil iff this Unit is itself the base unit
}

// NewUnitAsBase constructs the base unit for a Currency (e.g. "satoshi",
// "wei"). Every Currency must have exactly one base unit.
func NewUnitAsBase(currency *Currency, code, name, symbol string) *Unit {
	u := &Unit{
		uids:     currency.Uids() + ":" + code,
		currency: currency,
		name:     name,
		symbol:   symbol,
	}
	u.base = u
	return u
}

// NewUnit constructs a derived display unit some decimalOffset above base
// (e.g. "bitcoin" is 8 decimals above "satoshi").
func NewUnit(currency *Currency, code, name, symbol string, decimalOffset uint8, base *Unit) *Unit {
	return &Unit{
		uids:          currency.Uids() + ":" + code,
		currency:      currency,
		name:          name,
		symbol:        symbol,
		decimalOffset: decimalOffset,
		base:          base,
	}
}

func (u *Unit) Uids() string           { return u.uids }
func (u *Unit) Currency() *Currency    { return u.currency }
func (u *Unit) Name() string           { return u.name }
func (u *Unit) Symbol() string         { return u.symbol }
func (u *Unit) DecimalOffset() uint8   { return u.decimalOffset }

// IsBase reports whether this Unit is the currency's base unit.
func (u *Unit) IsBase() bool {
	return u.base == u
}

// Base returns the currency's base unit.
func (u *Unit) Base() *Unit {
	if u.base == nil {
		return u
	}
	return u.base
}

// HasCurrency reports whether this Unit belongs to currency.
func (u *Unit) HasCurrency(currency *Currency) bool {
	return u.currency.Equal(currency)
}

// Equal compares two Units by uids.
func (u *Unit) Equal(other *Unit) bool {
	if u == nil || other == nil {
		return u == other
	}
	return u.uids == other.uids
}

func (u *Unit) String() string {
	return fmt.Sprintf("Unit(%s)", u.uids)
}
