package reconcile

import (
	"math/big"

	"github.com/klingon-exchange/walletcore/internal/walletkit"
)

// P2PTxAdded mirrors the peer-manager's tx_added event: a newly observed
// transaction touching one of the wallet's owned addresses. AmountBase is
// used for account-ledger chains; SendBase/ReceiveBase/FeeBase carry the
// UTXO-chain totals the §4.4 direction formula needs (AmountBase is left
// nil for a UTXO announcement and vice versa, matching TransferBundle).
type P2PTxAdded struct {
	NetworkType  walletkit.NetworkType
	CurrencyUids string
	Identity     string
	Hash         string
	Sender       string
	Receiver     string
	AmountBase   *big.Int
	SendBase     *big.Int
	ReceiveBase  *big.Int
	FeeBase      *big.Int
}

// P2PTxUpdated mirrors tx_updated(hashes, block_height, timestamp): a batch
// of previously seen transactions just got confirmed at a height.
type P2PTxUpdated struct {
	Identities     []string
	BlockHeight    uint64
	BlockTimestamp int64
}

// P2PTxDeleted mirrors tx_deleted(hash, notify, recommend_rescan): a
// previously seen transaction was reorged out.
type P2PTxDeleted struct {
	Identity        string
	Notify          bool
	RecommendRescan bool
}

// HandleTxAdded translates a P2P tx_added event into Transfer CREATED,
// following the same wallet-ownership direction rules as the API path.
func (e *Engine) HandleTxAdded(currencyUids string, ev P2PTxAdded) {
	e.reconcileOne(TransferBundle{
		Identity:     ev.Identity,
		NetworkType:  ev.NetworkType,
		CurrencyUids: currencyUids,
		Hash:         ev.Hash,
		Sender:       ev.Sender,
		Receiver:     ev.Receiver,
		AmountBase:   ev.AmountBase,
		SendBase:     ev.SendBase,
		ReceiveBase:  ev.ReceiveBase,
		FeeBase:      ev.FeeBase,
		Confirmed:    false,
	})
}

// HandleTxUpdated moves every named transfer to INCLUDED at the given
// height, if it is currently tracked.
func (e *Engine) HandleTxUpdated(wallet *walletkit.Wallet, ev P2PTxUpdated) {
	for _, identity := range ev.Identities {
		t, ok := wallet.Transfer(identity)
		if !ok {
			continue
		}
		next := walletkit.TransferStatus{
			Kind: walletkit.TransferIncluded,
			Included: &walletkit.IncludedInfo{
				BlockNumber:    ev.BlockHeight,
				BlockTimestamp: ev.BlockTimestamp,
				IncludeStatus:  walletkit.IncludeSuccess,
			},
		}
		if t.Status().Kind == walletkit.TransferCreated {
			t.TransitionTo(walletkit.TransferStatus{Kind: walletkit.TransferSigned})
			t.TransitionTo(walletkit.TransferStatus{Kind: walletkit.TransferSubmitted})
		}
		if ok, _ := t.TransitionTo(next); ok && e.events != nil {
			e.events.PublishTransfer(walletkit.TransferEvent{Kind: walletkit.TransferEventChanged, Transfer: t.WeakRef(), NewState: t.Status()})
		}
	}
}

// HandleTxDeleted removes a reorged-out transfer and, when ev.Notify is set,
// publishes TRANSFER_DELETED. ev.RecommendRescan is not acted on: neither
// this method nor its caller (p2pmanager) publishes a SYNC_RECOMMENDED event.
func (e *Engine) HandleTxDeleted(wallet *walletkit.Wallet, ev P2PTxDeleted) {
	t, ok := wallet.RemoveTransfer(ev.Identity)
	if !ok {
		return
	}
	t.TransitionTo(walletkit.TransferStatus{Kind: walletkit.TransferDeleted})
	if ev.Notify && e.events != nil {
		e.events.PublishTransfer(walletkit.TransferEvent{Kind: walletkit.TransferEventDeleted, Transfer: t.WeakRef(), NewState: t.Status()})
	}
}

// HandleBalanceChanged recomputes and publishes the wallet's balance. For
// UTXO chains the caller must have already called wallet.SetUTXOs with the
// refreshed set before invoking this.
func (e *Engine) HandleBalanceChanged(wallet *walletkit.Wallet) {
	balance, ok := wallet.Balance()
	if !ok || e.events == nil {
		return
	}
	e.events.PublishWallet(walletkit.WalletEvent{Kind: walletkit.WalletEventBalanceUpdated, Wallet: wallet.WeakRef(), Balance: balance})
}
