package reconcile

import (
	"math/big"
	"testing"

	"github.com/klingon-exchange/walletcore/internal/listener"
	"github.com/klingon-exchange/walletcore/internal/walletkit"
)

func TestHandleTxAddedCreatesTransfer(t *testing.T) {
	src := newFakeWalletSource()
	e := New(src, nil, nil)
	wallet, _ := src.LocateOrCreateWallet("btc")

	own := "bc1qmine"
	wallet.AddAddress(walletkit.NewAddress(walletkit.NetworkBTC, walletkit.SchemeDefault, own))

	e.HandleTxAdded("btc", P2PTxAdded{
		NetworkType: walletkit.NetworkBTC,
		Identity:    "p2p-tx-1",
		Sender:      "bc1qtheirs",
		Receiver:    own,
		AmountBase:  big.NewInt(777),
	})

	transfer, ok := wallet.Transfer("p2p-tx-1")
	if !ok {
		t.Fatalf("expected HandleTxAdded to create the transfer")
	}
	if transfer.Status().Kind != walletkit.TransferCreated {
		t.Errorf("expected unconfirmed tx_added to leave the transfer in CREATED, got %s", transfer.Status().Kind)
	}
}

func TestHandleTxUpdatedTransitionsToIncluded(t *testing.T) {
	src := newFakeWalletSource()
	e := New(src, nil, nil)
	wallet, _ := src.LocateOrCreateWallet("btc")

	own := "bc1qmine"
	wallet.AddAddress(walletkit.NewAddress(walletkit.NetworkBTC, walletkit.SchemeDefault, own))
	e.HandleTxAdded("btc", P2PTxAdded{
		NetworkType: walletkit.NetworkBTC,
		Identity:    "p2p-tx-2",
		Sender:      "bc1qtheirs",
		Receiver:    own,
		AmountBase:  big.NewInt(100),
	})

	e.HandleTxUpdated(wallet, P2PTxUpdated{
		Identities:     []string{"p2p-tx-2"},
		BlockHeight:    42,
		BlockTimestamp: 1700000000,
	})

	transfer, _ := wallet.Transfer("p2p-tx-2")
	status := transfer.Status()
	if status.Kind != walletkit.TransferIncluded {
		t.Fatalf("expected INCLUDED, got %s", status.Kind)
	}
	if status.Included.BlockNumber != 42 {
		t.Errorf("expected block height 42, got %d", status.Included.BlockNumber)
	}
}

func TestHandleTxUpdatedIgnoresUnknownIdentity(t *testing.T) {
	src := newFakeWalletSource()
	e := New(src, nil, nil)
	wallet, _ := src.LocateOrCreateWallet("btc")

	// Must not panic when asked to update a transfer the wallet never saw.
	e.HandleTxUpdated(wallet, P2PTxUpdated{Identities: []string{"never-seen"}, BlockHeight: 1})
}

func TestHandleTxDeletedRemovesTransfer(t *testing.T) {
	src := newFakeWalletSource()
	e := New(src, nil, nil)
	wallet, _ := src.LocateOrCreateWallet("btc")

	own := "bc1qmine"
	wallet.AddAddress(walletkit.NewAddress(walletkit.NetworkBTC, walletkit.SchemeDefault, own))
	e.HandleTxAdded("btc", P2PTxAdded{
		NetworkType: walletkit.NetworkBTC,
		Identity:    "p2p-tx-3",
		Sender:      "bc1qtheirs",
		Receiver:    own,
		AmountBase:  big.NewInt(5),
	})

	e.HandleTxDeleted(wallet, P2PTxDeleted{Identity: "p2p-tx-3", Notify: true})

	if _, ok := wallet.Transfer("p2p-tx-3"); ok {
		t.Errorf("expected transfer to be removed after HandleTxDeleted")
	}
}

func TestHandleBalanceChangedPublishesBalance(t *testing.T) {
	src := newFakeWalletSource()
	wallet, _ := src.LocateOrCreateWallet("btc")

	amt, _ := walletkit.NewAmountFromInt64(500, wallet.BaseUnit())
	wallet.SetUTXOs([]walletkit.UTXO{{
		Hash:   walletkit.NewHash(walletkit.NetworkBTC, []byte{1}),
		Amount: amt,
	}})

	var captured *walletkit.Amount
	events := listener.New(listener.Callbacks{
		Wallet: func(ev walletkit.WalletEvent) { captured = ev.Balance },
	}, 4, nil)
	e := New(src, events, nil)

	e.HandleBalanceChanged(wallet)
	events.Stop()

	if captured == nil {
		t.Fatalf("expected a balance event to be published")
	}
	if captured.BaseInt().Int64() != 500 {
		t.Errorf("expected published balance 500, got %s", captured.BaseInt().String())
	}
}
