package walletkit

import (
	"fmt"
	"sync"
)

// UTXO is a single unspent output tracked by a UTXO-ledger wallet. Account
// chains never populate this; their balance comes directly from transfer
// reconciliation instead.
type UTXO struct {
	Hash   *Hash
	Index  uint32
	Amount *Amount
	Script []byte
	// Path is the BIP32 path (change, index) that owns this output, recorded
	// so a WalletHandler's BuildTransfer can tell Sign which key signs the
	// input it spends.
	Path []uint32
}

func (u UTXO) identity() string {
	return fmt.Sprintf("%s:%d", u.Hash.String(), u.Index)
}

// Wallet owns a (manager, currency) pair's Transfer set, address book, and
// (for UTXO chains) unspent output set. It never holds a strong or weak
// reference to its owning manager; the manager layer holds wallets, not the
// other way around, which keeps the ownership graph strictly downward
// without needing a cross-package weak reference.
type Wallet struct {
	uids        string
	networkType NetworkType
	currency    *Currency
	defaultUnit *Unit
	baseUnit    *Unit

	mu          sync.RWMutex
	transfers   map[string]*Transfer
	unresolved  map[string]*Transfer
	addresses   []*Address
	utxos       map[string]UTXO

	selfRef Ref[Wallet]
}

// NewWallet constructs an empty Wallet.
func NewWallet(uids string, networkType NetworkType, currency *Currency, defaultUnit, baseUnit *Unit) *Wallet {
	w := &Wallet{
		uids:        uids,
		networkType: networkType,
		currency:    currency,
		defaultUnit: defaultUnit,
		baseUnit:    baseUnit,
		transfers:   make(map[string]*Transfer),
		unresolved:  make(map[string]*Transfer),
		utxos:       make(map[string]UTXO),
	}
	w.selfRef = NewRef(w, nil)
	return w
}

// Ref returns a freshly counted strong reference to this wallet, for callers
// (Transfer construction, event publication) that need to hand out a
// reference rather than the bare pointer.
func (w *Wallet) Ref() Ref[Wallet] {
	return w.selfRef.Take()
}

// WeakRef returns a reference suitable for publishing into an event record:
// it upgrades only if the wallet is still alive, matching the
// no-upward-strong-reference rule events follow.
func (w *Wallet) WeakRef() Ref[Wallet] {
	r, ok := w.selfRef.TakeWeak()
	if !ok {
		return Ref[Wallet]{}
	}
	return r
}

func (w *Wallet) Uids() string             { return w.uids }
func (w *Wallet) NetworkType() NetworkType  { return w.networkType }
func (w *Wallet) Currency() *Currency       { return w.currency }
func (w *Wallet) DefaultUnit() *Unit        { return w.defaultUnit }
func (w *Wallet) BaseUnit() *Unit           { return w.baseUnit }

// Transfer looks up a transfer by its chain-specific identity tag.
func (w *Wallet) Transfer(identity string) (*Transfer, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	t, ok := w.transfers[identity]
	return t, ok
}

// Transfers returns every resolved (non-parked) transfer.
func (w *Wallet) Transfers() []*Transfer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Transfer, 0, len(w.transfers))
	for _, t := range w.transfers {
		out = append(out, t)
	}
	return out
}

// PutTransfer inserts or replaces a transfer by identity, reporting whether
// it is new (for CREATED vs CHANGED event emission by the reconciliation
// engine, which owns that decision and calls this as a pure store op).
func (w *Wallet) PutTransfer(t *Transfer) (isNew bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, existed := w.transfers[t.Identity()]
	w.transfers[t.Identity()] = t
	return !existed
}

// RemoveTransfer drops a transfer from the set, used when reconciliation
// determines it has disappeared from the source of truth.
func (w *Wallet) RemoveTransfer(identity string) (*Transfer, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.transfers[identity]
	if ok {
		delete(w.transfers, identity)
	}
	return t, ok
}

// ParkUnresolved sets aside a transfer whose referenced inputs/outputs are
// not yet known, per the "unresolved pending list" invariant.
func (w *Wallet) ParkUnresolved(t *Transfer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unresolved[t.Identity()] = t
}

// Unresolved returns every currently parked transfer.
func (w *Wallet) Unresolved() []*Transfer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Transfer, 0, len(w.unresolved))
	for _, t := range w.unresolved {
		out = append(out, t)
	}
	return out
}

// ResolveUnresolved moves a previously parked transfer into the resolved
// set, called once its referenced inputs/outputs become known.
func (w *Wallet) ResolveUnresolved(identity string) (*Transfer, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.unresolved[identity]
	if !ok {
		return nil, false
	}
	delete(w.unresolved, identity)
	w.transfers[identity] = t
	return t, true
}

// Addresses returns the wallet's address book.
func (w *Wallet) Addresses() []*Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Address, len(w.addresses))
	copy(out, w.addresses)
	return out
}

// AddAddress appends an address to the wallet's address book if not already
// present.
func (w *Wallet) AddAddress(a *Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, existing := range w.addresses {
		if existing.Equal(a) {
			return
		}
	}
	w.addresses = append(w.addresses, a)
}

// Owns reports whether addr is in the wallet's address book.
func (w *Wallet) Owns(addr *Address) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, existing := range w.addresses {
		if existing.Equal(addr) {
			return true
		}
	}
	return false
}

// SetUTXOs replaces the wallet's entire UTXO set, as computed by the owning
// chain handler from the latest sync state.
func (w *Wallet) SetUTXOs(utxos []UTXO) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.utxos = make(map[string]UTXO, len(utxos))
	for _, u := range utxos {
		w.utxos[u.identity()] = u
	}
}

// UTXOs returns the wallet's current unspent output set.
func (w *Wallet) UTXOs() []UTXO {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]UTXO, 0, len(w.utxos))
	for _, u := range w.utxos {
		out = append(out, u)
	}
	return out
}

// Balance computes the wallet's current balance. UTXO-ledger wallets sum
// their unspent output set directly, since that is what the chain handler
// maintains as ground truth; account-ledger wallets sum direction * amount
// - attributable fee over every non-ERRORED, non-DELETED transfer.
func (w *Wallet) Balance() (*Amount, bool) {
	model, ok := LedgerModelOf(w.networkType)
	if !ok {
		return nil, false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if model == LedgerUTXO {
		total, ok := NewAmountFromInt64(0, w.baseUnit)
		if !ok {
			return nil, false
		}
		for _, u := range w.utxos {
			var sumOK bool
			total, sumOK = total.Add(u.Amount)
			if !sumOK {
				return nil, false
			}
		}
		return total, true
	}

	total, ok := NewAmountFromInt64(0, w.baseUnit)
	if !ok {
		return nil, false
	}
	for _, t := range w.transfers {
		status := t.Status()
		if status.Kind == TransferErrored || status.Kind == TransferDeleted {
			continue
		}

		signed := t.Amount()
		if t.Direction() == DirectionSent {
			signed = signed.Negate()
		}

		var sumOK bool
		total, sumOK = total.Add(signed)
		if !sumOK {
			return nil, false
		}

		if status.Kind == TransferIncluded && status.Included != nil && status.Included.FeeBasisConfirmed != nil && t.Direction() == DirectionSent {
			fee, feeOK := status.Included.FeeBasisConfirmed.Fee()
			if feeOK {
				total, sumOK = total.Sub(fee)
				if !sumOK {
					return nil, false
				}
			}
		}
	}
	return total, true
}
