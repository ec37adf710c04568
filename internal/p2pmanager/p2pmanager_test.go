package p2pmanager

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/klingon-exchange/walletcore/internal/manager"
	"github.com/klingon-exchange/walletcore/internal/persist"
	"github.com/klingon-exchange/walletcore/internal/reconcile"
	"github.com/klingon-exchange/walletcore/internal/walletkit"
)

type fakeWalletSource struct {
	wallet *walletkit.Wallet
}

func (f *fakeWalletSource) LocateOrCreateWallet(currencyUids string) (*walletkit.Wallet, bool) {
	return f.wallet, true
}

func testDriver(t *testing.T, own string) (*Driver, *walletkit.Wallet) {
	t.Helper()
	c := walletkit.NewCurrency("eth", "ETH", "Ether")
	base := walletkit.NewUnitAsBase(c, "WEI", "Wei", "wei")
	wallet := walletkit.NewWallet("wallet-1", walletkit.NetworkETH, c, base, base)
	wallet.AddAddress(walletkit.NewAddress(walletkit.NetworkETH, walletkit.SchemeDefault, own))

	network := walletkit.NewNetwork("eth-mainnet", walletkit.NetworkETH, true, c)
	engine := reconcile.New(&fakeWalletSource{wallet: wallet}, nil, nil)

	d := New(nil, network, engine, func() *walletkit.Wallet { return wallet }, "eth", "eth-txs", nil)
	return d, wallet
}

func TestHandleMessageAddedCreatesTransfer(t *testing.T) {
	own := "0xOWN"
	d, wallet := testDriver(t, own)

	msg := []byte(`{"kind":"added","identity":"tx-a","hash":"0xabc","sender":"0xTHEIRS","receiver":"0xOWN","amount_base":"1000"}`)
	d.handleMessage(msg)

	transfer, ok := wallet.Transfer("tx-a")
	if !ok {
		t.Fatalf("expected transfer tx-a to be created")
	}
	if transfer.Direction() != walletkit.DirectionReceived {
		t.Errorf("expected RECEIVED, got %s", transfer.Direction())
	}
	if transfer.Amount().BaseInt().Int64() != 1000 {
		t.Errorf("expected amount 1000, got %s", transfer.Amount().BaseInt().String())
	}
}

func TestHandleMessageUpdatedIncludesTransferAndBumpsHeight(t *testing.T) {
	own := "0xOWN"
	d, wallet := testDriver(t, own)

	d.handleMessage([]byte(`{"kind":"added","identity":"tx-b","sender":"0xTHEIRS","receiver":"0xOWN","amount_base":"500"}`))
	d.handleMessage([]byte(`{"kind":"updated","identity":"tx-b","block_height":777,"block_timestamp":1700000000}`))

	transfer, _ := wallet.Transfer("tx-b")
	if transfer.Status().Kind != walletkit.TransferIncluded {
		t.Fatalf("expected INCLUDED, got %s", transfer.Status().Kind)
	}
	if d.network.Height() != 777 {
		t.Errorf("expected network height to be updated to 777, got %d", d.network.Height())
	}
}

func TestHandleMessageDeletedRemovesTransfer(t *testing.T) {
	own := "0xOWN"
	d, wallet := testDriver(t, own)

	d.handleMessage([]byte(`{"kind":"added","identity":"tx-c","sender":"0xTHEIRS","receiver":"0xOWN","amount_base":"10"}`))
	d.handleMessage([]byte(`{"kind":"deleted","identity":"tx-c"}`))

	if _, ok := wallet.Transfer("tx-c"); ok {
		t.Errorf("expected tx-c to be removed")
	}
}

func TestHandleMessageMalformedJSONIsIgnored(t *testing.T) {
	d, _ := testDriver(t, "0xOWN")
	// Must not panic on malformed input.
	d.handleMessage([]byte(`not json`))
}

func TestHandleMessageUnparseableAmountIsDropped(t *testing.T) {
	own := "0xOWN"
	d, wallet := testDriver(t, own)

	d.handleMessage([]byte(`{"kind":"added","identity":"tx-d","sender":"0xTHEIRS","receiver":"0xOWN","amount_base":"not-a-number"}`))

	if _, ok := wallet.Transfer("tx-d"); ok {
		t.Errorf("expected the announcement with an unparseable amount to be dropped")
	}
}

func TestSetStoreWiresPersistence(t *testing.T) {
	d, _ := testDriver(t, "0xOWN")
	store := persist.New(t.TempDir(), "manager-1")
	d.SetStore(store)
	if d.store != store {
		t.Fatalf("expected SetStore to assign the driver's store")
	}
}

func TestIPAndPortExtractsIPv4TCP(t *testing.T) {
	addr, err := multiaddr.NewMultiaddr("/ip4/192.0.2.1/tcp/4001")
	if err != nil {
		t.Fatalf("unexpected error building multiaddr: %v", err)
	}
	ip, port, ok := ipAndPort(addr)
	if !ok {
		t.Fatalf("expected ipAndPort to succeed")
	}
	if ip.String() != "192.0.2.1" {
		t.Errorf("expected IP 192.0.2.1, got %s", ip)
	}
	if port != 4001 {
		t.Errorf("expected port 4001, got %d", port)
	}
}

func TestIPAndPortRejectsAddrWithoutTCP(t *testing.T) {
	addr, err := multiaddr.NewMultiaddr("/ip4/192.0.2.1/udp/4001/quic")
	if err != nil {
		t.Fatalf("unexpected error building multiaddr: %v", err)
	}
	if _, _, ok := ipAndPort(addr); ok {
		t.Errorf("expected ipAndPort to reject a non-TCP multiaddr")
	}
}

func TestPersistPeerWithNilStoreDoesNotPanic(t *testing.T) {
	d, _ := testDriver(t, "0xOWN")
	// No SetStore call and no node: must not attempt to dereference d.node.
	d.persistPeer(peer.ID("fake-peer"))
}

func TestSupportsModeP2POnlyAndAPISync(t *testing.T) {
	d, _ := testDriver(t, "0xOWN")
	if !d.SupportsMode(manager.ModeP2POnly) {
		t.Errorf("expected P2P_ONLY to be supported")
	}
	if !d.SupportsMode(manager.ModeP2PWithAPISync) {
		t.Errorf("expected P2P_WITH_API_SYNC to be supported")
	}
	if d.SupportsMode(manager.ModeAPIOnly) {
		t.Errorf("expected API_ONLY to not be supported")
	}
}
