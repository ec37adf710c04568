package walletkit

// AddressScheme distinguishes the rendering variant of an address within a
// single chain (e.g. Bitcoin legacy vs. segwit vs. taproot).
type AddressScheme string

const (
	SchemeDefault     AddressScheme = ""
	SchemeLegacy      AddressScheme = "legacy"
	SchemeSegWit      AddressScheme = "segwit"
	SchemeNestedSegWit AddressScheme = "nested-segwit"
	SchemeTaproot     AddressScheme = "taproot"
)

// Address is an immutable, type-tagged chain address. Two addresses are
// equal iff they share a chain type and render to the same string.
type Address struct {
	networkType NetworkType
	scheme      AddressScheme
	encoded     string
}

// NewAddress constructs an Address from its already-rendered string form.
// Handlers are responsible for validating the string before calling this.
func NewAddress(networkType NetworkType, scheme AddressScheme, encoded string) *Address {
	return &Address{networkType: networkType, scheme: scheme, encoded: encoded}
}

func (a *Address) NetworkType() NetworkType { return a.networkType }
func (a *Address) Scheme() AddressScheme    { return a.scheme }

// String returns the chain-specific rendered form (base58check, bech32,
// hex-with-0x-prefix, etc. depending on the owning handler).
func (a *Address) String() string { return a.encoded }

// Equal compares two addresses by chain type and rendered string.
func (a *Address) Equal(other *Address) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.networkType == other.networkType && a.encoded == other.encoded
}
