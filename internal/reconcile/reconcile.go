// Package reconcile merges raw bundles (API client deliveries) and parsed
// peer transactions (P2P deliveries) into a consistent set of per-wallet
// Transfers, per §4.4.
package reconcile

import (
	"math/big"
	"sort"

	"github.com/klingon-exchange/walletcore/internal/listener"
	"github.com/klingon-exchange/walletcore/internal/persist"
	"github.com/klingon-exchange/walletcore/internal/walletkit"
	"github.com/klingon-exchange/walletcore/pkg/logging"
)

// TransferBundle is a per-wallet credit/debit record delivered by the API
// client: sender, receiver, amount, currency id, fee, attributes, and
// inclusion metadata (§4.4). SendBase/ReceiveBase carry the UTXO-chain
// wallet-handler computation (§4.4 "Direction and amount (UTXO)"); AmountBase
// carries the account-chain bundle amount used when the sender/receiver
// match is done directly against the bundle's own addresses. A UTXO bundle
// leaves AmountBase nil; an account bundle leaves SendBase/ReceiveBase nil.
type TransferBundle struct {
	Identity         string // hash, or hash+subindex, or (hash, wallet) encoded by the caller
	NetworkType      walletkit.NetworkType
	CurrencyUids     string
	Hash             string
	Sender           string
	Receiver         string
	AmountBase       *big.Int
	SendBase         *big.Int
	ReceiveBase      *big.Int
	FeeBase          *big.Int
	Attributes       map[string]string
	BlockNumber      uint64
	BlockTimestamp   int64
	TransactionIndex uint32
	IncludeStatus    walletkit.IncludeStatus
	IncludeDetail    string
	Confirmed        bool // true once the chain considers this final enough to report block info
}

// WalletSource locates or creates the Wallet that owns a currency, or
// reports false if the currency is unknown/untracked (in which case the
// bundle is dropped, per the malformed-or-unknown-currency propagation
// policy).
type WalletSource interface {
	LocateOrCreateWallet(currencyUids string) (*walletkit.Wallet, bool)
}

// Engine merges bundles and parsed P2P transaction events into Wallet /
// Transfer state and publishes the resulting events.
type Engine struct {
	wallets WalletSource
	events  *listener.Listener
	log     *logging.Logger
	store   *persist.Service
}

// New constructs a reconciliation Engine. events may be nil for tests that
// only care about resulting state, not the event stream.
func New(wallets WalletSource, events *listener.Listener, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	return &Engine{wallets: wallets, events: events, log: log}
}

// SetStore attaches the File Service the engine durably records reconciled
// bundles through (§4.7, §4.8: the Wallet Manager "owns... a File
// Service"). Exists separately from New for the same reason
// manager.Manager.SetDriver does: the Service is rooted at the owning
// Manager's on-disk directory, which is only known once the Manager itself
// has been constructed around this Engine. A nil store (the default) makes
// persistence a no-op, which every existing test relies on.
func (e *Engine) SetStore(s *persist.Service) {
	e.store = s
}

// ReconcileBundles ingests a batch of Transfer Bundles per the API path
// (§4.4 steps 1-4): sort, locate wallet, locate-or-create transfer, merge
// state, emit events.
func (e *Engine) ReconcileBundles(bundles []TransferBundle) {
	sorted := make([]TransferBundle, len(bundles))
	copy(sorted, bundles)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].BlockNumber != sorted[j].BlockNumber {
			return sorted[i].BlockNumber < sorted[j].BlockNumber
		}
		if sorted[i].TransactionIndex != sorted[j].TransactionIndex {
			return sorted[i].TransactionIndex < sorted[j].TransactionIndex
		}
		return sorted[i].Identity < sorted[j].Identity
	})

	for _, b := range sorted {
		e.reconcileOne(b)
	}
}

func (e *Engine) reconcileOne(b TransferBundle) {
	wallet, ok := e.wallets.LocateOrCreateWallet(b.CurrencyUids)
	if !ok {
		e.log.Warn("reconcile: dropping bundle for unknown currency", "currency", b.CurrencyUids)
		return
	}

	senderAddr := walletkit.NewAddress(b.NetworkType, walletkit.SchemeDefault, b.Sender)
	receiverAddr := walletkit.NewAddress(b.NetworkType, walletkit.SchemeDefault, b.Receiver)

	ownsSender := wallet.Owns(senderAddr)
	ownsReceiver := wallet.Owns(receiverAddr)

	if !ownsSender && !ownsReceiver {
		existing, found := wallet.Transfer(b.Identity)
		if !found {
			e.log.Debug("reconcile: parking bundle, no owned address yet", "identity", b.Identity)
			return
		}
		e.applyBundle(wallet, existing, b, false)
		return
	}

	existing, found := wallet.Transfer(b.Identity)
	if !found {
		existing, found = wallet.ResolveUnresolved(b.Identity)
	}

	if !found {
		direction, amountBase := directionAndAmount(b, ownsSender, ownsReceiver)
		amount, ok := walletkit.NewAmountFromBaseInt(amountBase, wallet.BaseUnit())
		if !ok {
			e.log.Warn("reconcile: dropping bundle with unrepresentable amount", "identity", b.Identity)
			return
		}
		t := walletkit.NewTransfer(b.Identity, wallet.WeakRef(), senderAddr, receiverAddr, amount, direction, nil)
		isNew := wallet.PutTransfer(t)
		e.applyBundle(wallet, t, b, isNew)
		return
	}

	e.applyBundle(wallet, existing, b, false)
}

// directionAndAmount implements §4.4's two direction/amount rules. UTXO
// chains compute direction from the wallet-owned send/receive/fee totals the
// driver derived from the raw transaction; account chains match the
// bundle's sender/receiver fields directly against owned addresses.
func directionAndAmount(b TransferBundle, ownsSender, ownsReceiver bool) (walletkit.Direction, *big.Int) {
	if model, ok := walletkit.LedgerModelOf(b.NetworkType); ok && model == walletkit.LedgerUTXO {
		send, receive, fee := b.SendBase, b.ReceiveBase, b.FeeBase
		if send == nil {
			send = big.NewInt(0)
		}
		if receive == nil {
			receive = big.NewInt(0)
		}
		if fee == nil {
			fee = big.NewInt(0)
		}
		sendLessFee := new(big.Int).Sub(send, fee)

		switch {
		case send.Sign() == 0:
			return walletkit.DirectionReceived, receive
		case sendLessFee.Cmp(receive) == 0:
			return walletkit.DirectionRecovered, send
		case sendLessFee.Cmp(receive) > 0:
			return walletkit.DirectionSent, new(big.Int).Sub(sendLessFee, receive)
		default:
			return walletkit.DirectionReceived, receive
		}
	}

	switch {
	case ownsSender && ownsReceiver:
		return walletkit.DirectionRecovered, b.AmountBase
	case ownsSender:
		return walletkit.DirectionSent, b.AmountBase
	default:
		return walletkit.DirectionReceived, b.AmountBase
	}
}

func (e *Engine) applyBundle(wallet *walletkit.Wallet, t *walletkit.Transfer, b TransferBundle, isNew bool) {
	changed := isNew

	if b.Hash != "" {
		hash, err := walletkit.ParseHash(b.NetworkType, b.Hash)
		if err == nil {
			if hc, _ := t.SetHash(hash); hc {
				changed = true
			}
		}
	}

	var next walletkit.TransferStatus
	switch {
	case b.Confirmed:
		var feeBasis *walletkit.FeeBasis
		if b.FeeBase != nil {
			feeAmount, ok := walletkit.NewAmountFromBaseInt(b.FeeBase, wallet.BaseUnit())
			if ok {
				feeBasis = walletkit.NewFeeBasisFromUnits(feeAmount, 1, 1)
			}
		}
		next = walletkit.TransferStatus{
			Kind: walletkit.TransferIncluded,
			Included: &walletkit.IncludedInfo{
				BlockNumber:         b.BlockNumber,
				BlockTimestamp:      b.BlockTimestamp,
				TransactionIndex:    b.TransactionIndex,
				FeeBasisConfirmed:   feeBasis,
				IncludeStatus:       b.IncludeStatus,
				IncludeStatusDetail: b.IncludeDetail,
			},
		}
	default:
		next = walletkit.TransferStatus{Kind: walletkit.TransferSubmitted}
	}

	current := t.Status()
	if current.Kind != next.Kind {
		if current.Kind == walletkit.TransferCreated && next.Kind == walletkit.TransferSubmitted {
			t.TransitionTo(walletkit.TransferStatus{Kind: walletkit.TransferSigned})
			t.TransitionTo(next)
			changed = true
		} else if current.Kind == walletkit.TransferSubmitted && next.Kind == walletkit.TransferIncluded {
			if ok, _ := t.TransitionTo(next); ok {
				changed = true
			}
		} else if current.Kind == walletkit.TransferCreated && next.Kind == walletkit.TransferIncluded {
			t.TransitionTo(walletkit.TransferStatus{Kind: walletkit.TransferSigned})
			t.TransitionTo(walletkit.TransferStatus{Kind: walletkit.TransferSubmitted})
			if ok, _ := t.TransitionTo(next); ok {
				changed = true
			}
		} else if ok, _ := t.TransitionTo(next); ok {
			changed = true
		}
	}

	if changed || isNew {
		e.persistBundle(b)
	}

	if e.events == nil {
		return
	}
	kind := walletkit.TransferEventChanged
	if isNew {
		kind = walletkit.TransferEventCreated
	}
	if changed || isNew {
		e.events.PublishTransfer(walletkit.TransferEvent{Kind: kind, Transfer: t.WeakRef(), NewState: t.Status()})
	}
}

// persistBundle durably records the bundle that produced an observable
// Transfer change, keyed by a content hash of its encoded form, so a
// restarted manager can tell "already reconciled this" from "never seen
// this" without re-deriving it from the Transfer it produced. A nil store
// (the common case in tests) makes this a no-op.
func (e *Engine) persistBundle(b TransferBundle) {
	if e.store == nil {
		return
	}
	record := persist.BundleRecord{
		Identity:         b.Identity,
		NetworkType:      string(b.NetworkType),
		CurrencyUids:     b.CurrencyUids,
		Hash:             b.Hash,
		Sender:           b.Sender,
		Receiver:         b.Receiver,
		BlockNumber:      b.BlockNumber,
		BlockTimestamp:   b.BlockTimestamp,
		TransactionIndex: b.TransactionIndex,
		IncludeStatus:    string(b.IncludeStatus),
		IncludeDetail:    b.IncludeDetail,
		Confirmed:        b.Confirmed,
	}
	if b.AmountBase != nil {
		record.AmountBase = b.AmountBase.String()
	}
	if b.SendBase != nil {
		record.SendBase = b.SendBase.String()
	}
	if b.ReceiveBase != nil {
		record.ReceiveBase = b.ReceiveBase.String()
	}
	if b.FeeBase != nil {
		record.FeeBase = b.FeeBase.String()
	}

	data, err := persist.EncodeBundleRecord(record)
	if err != nil {
		e.log.Warn("reconcile: failed to encode bundle record, not persisted", "identity", b.Identity, "error", err)
		return
	}
	id := persist.ContentID([]byte(b.Identity))
	if err := e.store.Save(persist.TypeBundles, 1, id, data); err != nil {
		e.log.Warn("reconcile: failed to persist bundle record", "identity", b.Identity, "error", err)
	}
}

// DeleteMissing removes every transfer in wallet whose identity is absent
// from knownIdentities, for the subset the caller has authoritative
// coverage of (e.g. every transfer touching a queried address range). Each
// removed transfer is first transitioned to DELETED so its recorded state
// reflects why it left the set, then emits TRANSFER_DELETED.
func (e *Engine) DeleteMissing(wallet *walletkit.Wallet, knownIdentities map[string]bool) {
	for _, t := range wallet.Transfers() {
		if knownIdentities[t.Identity()] {
			continue
		}
		t.TransitionTo(walletkit.TransferStatus{Kind: walletkit.TransferDeleted})
		wallet.RemoveTransfer(t.Identity())
		if e.events != nil {
			e.events.PublishTransfer(walletkit.TransferEvent{Kind: walletkit.TransferEventDeleted, Transfer: t.WeakRef(), NewState: t.Status()})
		}
	}
}
