package qrymanager

import (
	"context"
	"errors"
	"testing"

	"github.com/klingon-exchange/walletcore/internal/backend"
	"github.com/klingon-exchange/walletcore/internal/manager"
	"github.com/klingon-exchange/walletcore/internal/persist"
	"github.com/klingon-exchange/walletcore/internal/reconcile"
	"github.com/klingon-exchange/walletcore/internal/walletkit"
)

type fakeBackend struct {
	height     int64
	txsByAddr  map[string][]backend.Transaction
	fee        *backend.FeeEstimate
	broadcastH string
	broadcastE error
	header     *backend.BlockHeader
}

func (f *fakeBackend) Type() backend.Type                     { return "fake" }
func (f *fakeBackend) Connect(ctx context.Context) error       { return nil }
func (f *fakeBackend) Close() error                            { return nil }
func (f *fakeBackend) IsConnected() bool                       { return true }
func (f *fakeBackend) GetAddressInfo(ctx context.Context, address string) (*backend.AddressInfo, error) {
	return &backend.AddressInfo{Address: address}, nil
}
func (f *fakeBackend) GetAddressUTXOs(ctx context.Context, address string) ([]backend.UTXO, error) {
	return nil, nil
}
func (f *fakeBackend) GetAddressTxs(ctx context.Context, address string, lastSeenTxID string) ([]backend.Transaction, error) {
	return f.txsByAddr[address], nil
}
func (f *fakeBackend) GetTransaction(ctx context.Context, txID string) (*backend.Transaction, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeBackend) GetRawTransaction(ctx context.Context, txID string) ([]byte, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	return f.broadcastH, f.broadcastE
}
func (f *fakeBackend) GetBlockHeight(ctx context.Context) (int64, error) { return f.height, nil }
func (f *fakeBackend) GetBlockHeader(ctx context.Context, hashOrHeight string) (*backend.BlockHeader, error) {
	if f.header != nil {
		return f.header, nil
	}
	return nil, errors.New("not implemented")
}
func (f *fakeBackend) GetFeeEstimates(ctx context.Context) (*backend.FeeEstimate, error) {
	return f.fee, nil
}

type fakeWalletSource struct {
	wallet *walletkit.Wallet
}

func (f *fakeWalletSource) LocateOrCreateWallet(currencyUids string) (*walletkit.Wallet, bool) {
	return f.wallet, true
}

func testSetup(t *testing.T, own string) (*Driver, *walletkit.Wallet, *fakeBackend) {
	t.Helper()
	c := walletkit.NewCurrency("btc", "BTC", "Bitcoin")
	base := walletkit.NewUnitAsBase(c, "SAT", "Satoshi", "sat")
	wallet := walletkit.NewWallet("wallet-1", walletkit.NetworkBTC, c, base, base)
	wallet.AddAddress(walletkit.NewAddress(walletkit.NetworkBTC, walletkit.SchemeDefault, own))

	network := walletkit.NewNetwork("btc-mainnet", walletkit.NetworkBTC, true, c)
	engine := reconcile.New(&fakeWalletSource{wallet: wallet}, nil, nil)
	fb := &fakeBackend{height: 850000, txsByAddr: map[string][]backend.Transaction{}}

	d := New(fb, network, engine, "btc", func() []string { return []string{own} }, nil)
	return d, wallet, fb
}

func TestSyncFromUpdatesNetworkHeight(t *testing.T) {
	d, _, fb := testSetup(t, "bc1qmine")
	fb.height = 900321

	if err := d.SyncFrom(context.Background(), manager.DepthFromLastConfirmedSend); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.network.Height() != 900321 {
		t.Errorf("expected network height 900321, got %d", d.network.Height())
	}
}

func TestSyncFromReconcilesReceivedTransaction(t *testing.T) {
	own := "bc1qmine"
	d, wallet, fb := testSetup(t, own)
	fb.txsByAddr[own] = []backend.Transaction{{
		TxID:      "tx-1",
		Fee:       500,
		Confirmed: true,
		BlockHeight: 123,
		Inputs: []backend.TxInput{
			{PrevOut: &backend.TxOutput{ScriptPubKeyAddr: "bc1qtheirs", Value: 0}},
		},
		Outputs: []backend.TxOutput{
			{ScriptPubKeyAddr: own, Value: 50000},
		},
	}}

	if err := d.SyncFrom(context.Background(), manager.DepthFromLastConfirmedSend); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	transfer, ok := wallet.Transfer("tx-1")
	if !ok {
		t.Fatalf("expected transfer tx-1 to be reconciled")
	}
	if transfer.Direction() != walletkit.DirectionReceived {
		t.Errorf("expected RECEIVED, got %s", transfer.Direction())
	}
	if transfer.Amount().BaseInt().Int64() != 50000 {
		t.Errorf("expected amount 50000, got %s", transfer.Amount().BaseInt().String())
	}
}

func TestSupportsModeAPIOnlyAndP2PSend(t *testing.T) {
	d, _, _ := testSetup(t, "bc1qmine")
	if !d.SupportsMode(manager.ModeAPIOnly) {
		t.Errorf("expected API_ONLY to be supported")
	}
	if !d.SupportsMode(manager.ModeAPIWithP2PSend) {
		t.Errorf("expected API_WITH_P2P_SEND to be supported")
	}
	if d.SupportsMode(manager.ModeP2POnly) {
		t.Errorf("expected P2P_ONLY to not be supported")
	}
}

func TestEstimateTransactionFeeUsesHalfHourFee(t *testing.T) {
	d, _, fb := testSetup(t, "bc1qmine")
	fb.fee = &backend.FeeEstimate{HalfHourFee: 42}

	cost, err := d.EstimateTransactionFee(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cost != 42 {
		t.Errorf("expected cost 42, got %v", cost)
	}
}

func TestSubmitTransactionWrapsBackendError(t *testing.T) {
	d, _, fb := testSetup(t, "bc1qmine")
	fb.broadcastE = errors.New("rejected by mempool")

	_, err := d.SubmitTransaction(context.Background(), "deadbeef")
	if err == nil {
		t.Fatalf("expected an error")
	}
	var clientErr walletkit.ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("expected a walletkit.ClientError, got %T", err)
	}
	if clientErr.Kind != walletkit.ClientErrorSubmission {
		t.Errorf("expected ClientErrorSubmission, got %v", clientErr.Kind)
	}
}

func TestSyncFromPersistsBlockHeaderAndTransactions(t *testing.T) {
	own := "bc1qmine"
	d, _, fb := testSetup(t, own)
	fb.header = &backend.BlockHeader{Hash: "00000000deadbeef", Height: 123}
	fb.txsByAddr[own] = []backend.Transaction{{
		TxID:        "tx-1",
		Fee:         500,
		Confirmed:   true,
		BlockHeight: 123,
		BlockTime:   1700000000,
		Hex:         "deadbeef",
		Outputs: []backend.TxOutput{
			{ScriptPubKeyAddr: own, Value: 50000},
		},
	}}

	store := persist.New(t.TempDir(), "manager-1")
	d.SetStore(store)

	if err := d.SyncFrom(context.Background(), manager.DepthFromLastConfirmedSend); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	blockData, err := store.Load(persist.TypeBlocks, 1, "00000000deadbeef")
	if err != nil {
		t.Fatalf("expected block header to be persisted: %v", err)
	}
	_, height, err := persist.DecodeBlockRecord(blockData)
	if err != nil {
		t.Fatalf("unexpected error decoding block record: %v", err)
	}
	if height != 123 {
		t.Errorf("expected persisted block height 123, got %d", height)
	}

	txData, err := store.Load(persist.TypeTransactions, 1, "tx-1")
	if err != nil {
		t.Fatalf("expected transaction to be persisted: %v", err)
	}
	body, blockHeight, timestamp, err := persist.DecodeTransactionRecord(txData)
	if err != nil {
		t.Fatalf("unexpected error decoding transaction record: %v", err)
	}
	if string(body) != "\xde\xad\xbe\xef" {
		t.Errorf("expected raw tx body to round-trip, got %x", body)
	}
	if blockHeight != 123 || timestamp != 1700000000 {
		t.Errorf("expected block height 123 and timestamp 1700000000, got %d/%d", blockHeight, timestamp)
	}
}

func TestSyncFromWithNilStoreDoesNotPersist(t *testing.T) {
	own := "bc1qmine"
	d, _, fb := testSetup(t, own)
	fb.header = &backend.BlockHeader{Hash: "00000000deadbeef", Height: 123}

	// No SetStore call: SyncFrom must not attempt to use a nil store.
	if err := d.SyncFrom(context.Background(), manager.DepthFromLastConfirmedSend); err != nil {
		t.Fatalf("unexpected error with nil store: %v", err)
	}
}
