package system

import (
	"context"
	"testing"
	"time"

	"github.com/klingon-exchange/walletcore/internal/manager"
	"github.com/klingon-exchange/walletcore/internal/walletkit"
)

type noopDriver struct{}

func (noopDriver) SyncFrom(ctx context.Context, depth manager.Depth) error { return nil }
func (noopDriver) SupportsMode(mode manager.Mode) bool                     { return true }

func testManager(t *testing.T, uids string) *manager.Manager {
	t.Helper()
	c := walletkit.NewCurrency("btc", "BTC", "Bitcoin")
	network := walletkit.NewNetwork("btc-mainnet", walletkit.NetworkBTC, true, c)
	return manager.New(uids, walletkit.NetworkBTC, "", nil, network, noopDriver{}, nil, nil)
}

func TestSystemAddAndLookupManager(t *testing.T) {
	acct := &walletkit.Account{}
	s := New("/tmp/wallets", acct, nil)

	m := testManager(t, "mgr-1")
	s.AddManager(m)

	got, ok := s.Manager("mgr-1")
	if !ok || got != m {
		t.Fatalf("expected to look up the added manager")
	}
	if len(s.Managers()) != 1 {
		t.Errorf("expected exactly one manager, got %d", len(s.Managers()))
	}
}

func TestSystemManagerPathIsolatesPerManager(t *testing.T) {
	s := New("/data/wallets", nil, nil)
	p1 := s.ManagerPath("mgr-a")
	p2 := s.ManagerPath("mgr-b")
	if p1 == p2 {
		t.Errorf("expected distinct on-disk paths per manager")
	}
}

func TestSystemConnectAndDisconnectFanOut(t *testing.T) {
	s := New("/tmp/wallets", nil, nil)
	m1 := testManager(t, "mgr-1")
	m2 := testManager(t, "mgr-2")
	s.AddManager(m1)
	s.AddManager(m2)

	s.Start()
	s.Connect(context.Background())

	waitForState(t, m1, walletkit.ManagerConnected)
	waitForState(t, m2, walletkit.ManagerConnected)

	s.Disconnect(walletkit.DisconnectReason{Kind: walletkit.ReasonRequested})
	if m1.State() != walletkit.ManagerDisconnected {
		t.Errorf("expected mgr-1 to be DISCONNECTED, got %s", m1.State())
	}
	if m2.State() != walletkit.ManagerDisconnected {
		t.Errorf("expected mgr-2 to be DISCONNECTED, got %s", m2.State())
	}
}

func waitForState(t *testing.T, m *manager.Manager, want walletkit.ManagerState) {
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
