package walletkit

import (
	"fmt"
	"sync"
)

// AccountHandler derives a chain's public material from a shared 64-byte
// seed. It never touches private key material directly; signing is the
// responsibility of TransferHandler, which is handed a signer callback
// rather than raw key bytes.
type AccountHandler interface {
	DerivePublicMaterial(seed []byte) ([]byte, error)
}

// AddressHandler renders and validates addresses for a chain, given the
// account's public material for that chain.
type AddressHandler interface {
	DeriveAddress(material []byte, scheme AddressScheme, index uint32, isInternal bool) (*Address, error)
	ValidateAddress(encoded string) bool
	DefaultScheme() AddressScheme
}

// FeeHandler builds a FeeBasis from an observed price and a raw cost factor
// (vsize in bytes for UTXO chains, gas units for account chains).
type FeeHandler interface {
	EstimateFeeBasis(price *Amount, costFactor float64) (*FeeBasis, error)
}

// TransferHandler builds, signs, and validates chain-specific transfers. It
// is deliberately decoupled from any particular signing mechanism: Sign
// takes a Signer so hardware wallets and external collaborators (the
// supplemented Connector) can stand in for an in-process private key.
type TransferHandler interface {
	// MinimumConfirmations is the number of confirmations after which a
	// transfer is considered final enough to stop tracking reorg risk.
	MinimumConfirmations() uint64
	// SerializeForSubmission returns the wire bytes submit_transaction should
	// broadcast: t's stored payload once Sign has populated it.
	SerializeForSubmission(t *Transfer) ([]byte, error)
	// SerializeForFeeEstimation returns a draft encoding of t whose length is
	// the cost_factor EstimateFeeBasis expects (vsize for UTXO chains, an RLP
	// encoding sized by the same field layout the signed form will use for
	// account chains).
	SerializeForFeeEstimation(t *Transfer) ([]byte, error)
	// Sign completes t's payload using signer for whatever keys BuildTransfer
	// recorded against it, transitioning t to SIGNED on success.
	Sign(t *Transfer, signer Signer) error
	// Equal reports whether a and b represent the same on-chain transfer.
	Equal(a, b *Transfer) bool
}

// TransferOutput is one (address, amount) pair in a constructed transfer.
// BuildTransfer accepts a slice so one call handles both the single-output
// and multi-output (batch payment) cases.
type TransferOutput struct {
	Target *Address
	Amount *Amount
}

// WalletHandler performs the per-chain operations §4.2 assigns to a wallet's
// vtable entry: everything that needs the chain's address/script rules but
// operates on an already-constructed Wallet rather than a bare seed.
type WalletHandler interface {
	// ReceiveAddress derives (and records in w's address book) the next
	// external receive address for scheme, from the account's public
	// material.
	ReceiveAddress(w *Wallet, material []byte, scheme AddressScheme) (*Address, error)
	// ApplicableAttributes enumerates the chain-specific transfer attributes
	// relevant when sending to target (e.g. an XRP destination tag); nil for
	// chains with none.
	ApplicableAttributes(target *Address) []string
	// ValidateAttribute reports whether value is well-formed for the named
	// attribute.
	ValidateAttribute(key, value string) bool
	// BuildTransfer constructs an unsigned, CREATED-state Transfer paying
	// outputs from w's spendable funds (UTXO selection, or the account's
	// next nonce), deducting feeBasis from the paying side.
	BuildTransfer(w *Wallet, material []byte, outputs []TransferOutput, feeBasis *FeeBasis) (*Transfer, error)
	// UsedAddresses enumerates every address ever observed active for w, for
	// HD-recovery gap-limit scanning.
	UsedAddresses(w *Wallet) []*Address
	// Equal reports whether a and b are the same (chain, currency, uids)
	// wallet.
	Equal(a, b *Wallet) bool
}

// Signer produces a signature over a digest using the key material
// identified by derivation path, without exposing the key itself.
type Signer interface {
	Sign(path []uint32, digest []byte) ([]byte, error)
}

// ChainHandler is the full vtable a chain implementation registers for a
// NetworkType. Fields are nil-checked by callers; a handler may omit
// capabilities it does not support (e.g. a read-only chain omits Transfer).
type ChainHandler struct {
	NetworkType NetworkType
	LedgerModel LedgerModel
	Account     AccountHandler
	Address     AddressHandler
	Fee         FeeHandler
	Transfer    TransferHandler
	Wallet      WalletHandler
}

var (
	registryMu sync.RWMutex
	registry   = make(map[NetworkType]*ChainHandler)
	initOnce   sync.Once
)

// ensureBuiltinHandlersRegistered registers every chain package's built-in
// handler exactly once, on first use, rather than at module-load time (no
// handler package uses init() for this; registration is a run-once side
// effect of the first call into the registry, per the global-initialization
// design note).
func ensureBuiltinHandlersRegistered() {
	initOnce.Do(func() {
		registerBuiltinUTXOHandlers()
		registerBuiltinEVMHandlers()
	})
}

// RegisterHandler adds (or replaces) the handler for a chain type. Chain
// packages call this from their run-once registration function; tests may
// call it directly to install fakes.
func RegisterHandler(h *ChainHandler) {
	if h == nil {
		panic("walletkit: nil handler registered")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[h.NetworkType] = h
	registerLedgerModel(h.NetworkType, h.LedgerModel)
}

// GetHandler returns the registered handler for a chain type, registering
// the built-in chain handlers on first call if they have not been already.
func GetHandler(nt NetworkType) (*ChainHandler, bool) {
	ensureBuiltinHandlersRegistered()
	registryMu.RLock()
	defer registryMu.RUnlock()
	h, ok := registry[nt]
	return h, ok
}

// RegisteredTypes returns every chain type with a registered handler, sorted
// for deterministic iteration.
func RegisteredTypes() []NetworkType {
	ensureBuiltinHandlersRegistered()
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]NetworkType, 0, len(registry))
	for nt := range registry {
		types = append(types, nt)
	}
	return sortNetworkTypes(types)
}

// MustGetHandler is GetHandler for call sites that have already validated
// the chain type is supported and want a hard failure otherwise.
func MustGetHandler(nt NetworkType) *ChainHandler {
	h, ok := GetHandler(nt)
	if !ok {
		panic(fmt.Sprintf("walletkit: no handler registered for %s", nt))
	}
	return h
}
