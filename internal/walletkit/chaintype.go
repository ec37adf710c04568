package walletkit

import "sort"

// NetworkType is the closed enumeration of supported chains. It is the one
// place chain identity is allowed to leak outside a handler implementation;
// every other component consumes handlers purely by this tag.
type NetworkType string

const (
	NetworkBTC NetworkType = "btc"
	NetworkBCH NetworkType = "bch"
	NetworkLTC NetworkType = "ltc"
	NetworkDOGE NetworkType = "doge"
	NetworkETH NetworkType = "eth"
	NetworkXRP NetworkType = "xrp"
	NetworkHBAR NetworkType = "hbar"
	NetworkXLM NetworkType = "xlm"
	NetworkXTZ NetworkType = "xtz"
	NetworkSOL NetworkType = "sol"
)

// LedgerModel distinguishes UTXO chains from account-based chains; the
// reconciliation engine (internal/reconcile) branches on this, not on
// NetworkType directly, so adding a new chain of an existing ledger model
// needs no reconciliation changes.
type LedgerModel int

const (
	LedgerUTXO LedgerModel = iota
	LedgerAccount
)

// ledgerModels records, per NetworkType, which accounting model the chain
// uses. Populated by handler registration (see handler.go RegisterHandler).
var ledgerModels = map[NetworkType]LedgerModel{}

func registerLedgerModel(t NetworkType, m LedgerModel) {
	ledgerModels[t] = m
}

// LedgerModelOf returns the ledger model for a registered chain type,
// registering the built-in chain handlers on first call if they have not
// been already.
func LedgerModelOf(t NetworkType) (LedgerModel, bool) {
	ensureBuiltinHandlersRegistered()
	m, ok := ledgerModels[t]
	return m, ok
}

func sortNetworkTypes(types []NetworkType) []NetworkType {
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
