package walletkit

import "fmt"

// Currency is an immutable value type identified by its uids, produced by
// NewCurrency and referenced by Units and Amounts. Two Currencies with the
// same uids are considered the same currency.
type Currency struct {
	uids   string
	code   string // e.g. "BTC", "ETH"
	name   string // e.g. "Bitcoin", "Ether"
	issuer string // non-empty for issued assets on account-based chains
}

// NewCurrency constructs a Currency. uids is opaque and stable; code/name
// are display metadata.
func NewCurrency(uids, code, name string) *Currency {
	return &Currency{uids: uids, code: code, name: name}
}

// NewIssuedCurrency constructs a Currency for an asset issued by a specific
// account on an account-based chain (e.g. a token).
func NewIssuedCurrency(uids, code, name, issuer string) *Currency {
	return &Currency{uids: uids, code: code, name: name, issuer: issuer}
}

func (c *Currency) Uids() string  { return c.uids }
func (c *Currency) Code() string  { return c.code }
func (c *Currency) Name() string  { return c.name }
func (c *Currency) Issuer() string { return c.issuer }

// Equal compares two Currencies by uids.
func (c *Currency) Equal(other *Currency) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.uids == other.uids
}

func (c *Currency) String() string {
	return fmt.Sprintf("Currency(%s:%s)", c.uids, c.code)
}
