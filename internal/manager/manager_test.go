package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/klingon-exchange/walletcore/internal/listener"
	"github.com/klingon-exchange/walletcore/internal/walletkit"
)

type fakeDriver struct {
	mu          sync.Mutex
	calls       int
	syncErr     error
	supportsAll bool
	block       chan struct{}
}

func (d *fakeDriver) SyncFrom(ctx context.Context, depth Depth) error {
	d.mu.Lock()
	d.calls++
	block := d.block
	d.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return d.syncErr
}

func (d *fakeDriver) SupportsMode(mode Mode) bool { return d.supportsAll }

func (d *fakeDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testCurrency() *walletkit.Currency {
	return walletkit.NewCurrency("btc", "BTC", "Bitcoin")
}

func TestManagerLifecycleEventOrdering(t *testing.T) {
	var mu sync.Mutex
	var kinds []walletkit.ManagerEventKind
	var walletKinds []walletkit.WalletEventKind

	events := listener.New(listener.Callbacks{
		Manager: func(e walletkit.ManagerEvent) {
			mu.Lock()
			kinds = append(kinds, e.Kind)
			mu.Unlock()
		},
		Wallet: func(e walletkit.WalletEvent) {
			mu.Lock()
			walletKinds = append(walletKinds, e.Kind)
			mu.Unlock()
		},
	}, 64, nil)

	driver := &fakeDriver{supportsAll: true}
	network := walletkit.NewNetwork("btc-mainnet", walletkit.NetworkBTC, true, testCurrency())
	m := New("mgr-1", walletkit.NetworkBTC, "btc", nil, network, driver, events, nil)

	m.Connect(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for m.State() != walletkit.ManagerConnected && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	events.Stop()

	mu.Lock()
	defer mu.Unlock()

	if len(kinds) < 3 {
		t.Fatalf("expected at least MGR_CREATED, MGR_WALLET_ADDED, MGR_CHANGED(created->connected); got %v", kinds)
	}
	if kinds[0] != walletkit.ManagerEventCreated {
		t.Errorf("expected first manager event to be MGR_CREATED, got %s", kinds[0])
	}
	if len(walletKinds) == 0 || walletKinds[0] != walletkit.WalletEventCreated {
		t.Errorf("expected a WALLET_CREATED event for the native currency before connect, got %v", walletKinds)
	}

	foundWalletAdded := false
	foundCreatedToConnected := false
	for _, k := range kinds {
		if k == walletkit.ManagerEventWalletAdded {
			foundWalletAdded = true
		}
	}
	for i := 1; i < len(kinds); i++ {
		if kinds[i] == walletkit.ManagerEventChanged {
			foundCreatedToConnected = true
			break
		}
	}
	if !foundWalletAdded {
		t.Errorf("expected MGR_WALLET_ADDED among events, got %v", kinds)
	}
	if !foundCreatedToConnected {
		t.Errorf("expected a MGR_CHANGED event after MGR_CREATED, got %v", kinds)
	}
	if driver.callCount() == 0 {
		t.Errorf("expected Connect to have triggered at least one sync pass")
	}
}

func TestManagerDisconnectWhileDisconnectedIsIdempotent(t *testing.T) {
	var mu sync.Mutex
	var changedCount int

	events := listener.New(listener.Callbacks{
		Manager: func(e walletkit.ManagerEvent) {
			if e.Kind == walletkit.ManagerEventChanged {
				mu.Lock()
				changedCount++
				mu.Unlock()
			}
		},
	}, 64, nil)

	network := walletkit.NewNetwork("btc-mainnet", walletkit.NetworkBTC, true, testCurrency())
	m := New("mgr-2", walletkit.NetworkBTC, "", nil, network, &fakeDriver{supportsAll: true}, events, nil)

	// Never connected: still CREATED. Disconnect must be a no-op.
	m.Disconnect(walletkit.DisconnectReason{Kind: walletkit.ReasonRequested})
	m.Disconnect(walletkit.DisconnectReason{Kind: walletkit.ReasonRequested})
	events.Stop()

	mu.Lock()
	defer mu.Unlock()
	if changedCount != 0 {
		t.Errorf("expected no MGR_CHANGED events from disconnecting an already-CREATED manager, got %d", changedCount)
	}
	if m.State() != walletkit.ManagerCreated {
		t.Errorf("expected state to remain CREATED, got %s", m.State())
	}
}

func TestManagerConnectThenDisconnectThenReconnect(t *testing.T) {
	network := walletkit.NewNetwork("btc-mainnet", walletkit.NetworkBTC, true, testCurrency())
	driver := &fakeDriver{supportsAll: true}
	m := New("mgr-3", walletkit.NetworkBTC, "", nil, network, driver, nil, nil)

	m.Connect(context.Background())
	waitForState(t, m, walletkit.ManagerConnected)

	m.Disconnect(walletkit.DisconnectReason{Kind: walletkit.ReasonRequested})
	if m.State() != walletkit.ManagerDisconnected {
		t.Fatalf("expected DISCONNECTED after Disconnect, got %s", m.State())
	}

	m.Connect(context.Background())
	waitForState(t, m, walletkit.ManagerConnected)
}

func TestManagerSyncCoalescesWhileSyncing(t *testing.T) {
	block := make(chan struct{})
	driver := &fakeDriver{supportsAll: true, block: block}
	network := walletkit.NewNetwork("btc-mainnet", walletkit.NetworkBTC, true, testCurrency())
	m := New("mgr-4", walletkit.NetworkBTC, "", nil, network, driver, nil, nil)

	m.Connect(context.Background())
	waitForState(t, m, walletkit.ManagerSyncing)

	// A Sync call while already syncing must not launch a second pass.
	m.Sync(context.Background())
	time.Sleep(20 * time.Millisecond)
	if driver.callCount() != 1 {
		t.Errorf("expected exactly one in-flight sync pass, got %d calls", driver.callCount())
	}

	close(block)
	waitForState(t, m, walletkit.ManagerConnected)
}

func waitForState(t *testing.T, m *Manager, want walletkit.ManagerState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, m.State())
}

func TestManagerLocateOrCreateWalletIsIdempotent(t *testing.T) {
	network := walletkit.NewNetwork("btc-mainnet", walletkit.NetworkBTC, true, testCurrency())
	m := New("mgr-5", walletkit.NetworkBTC, "", nil, network, &fakeDriver{supportsAll: true}, nil, nil)

	w1, _ := m.LocateOrCreateWallet("usdt")
	w2, _ := m.LocateOrCreateWallet("usdt")
	if w1 != w2 {
		t.Errorf("expected LocateOrCreateWallet to return the same wallet for a repeated currency")
	}
	if len(m.Wallets()) != 1 {
		t.Errorf("expected exactly one wallet, got %d", len(m.Wallets()))
	}
}
