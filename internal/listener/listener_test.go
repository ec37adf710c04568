package listener

import (
	"sync"
	"testing"
	"time"

	"github.com/klingon-exchange/walletcore/internal/walletkit"
)

func TestListenerDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var kinds []walletkit.ManagerEventKind

	l := New(Callbacks{
		Manager: func(e walletkit.ManagerEvent) {
			mu.Lock()
			kinds = append(kinds, e.Kind)
			mu.Unlock()
		},
	}, 16, nil)

	l.PublishManager(walletkit.ManagerEvent{Kind: walletkit.ManagerEventCreated})
	l.PublishManager(walletkit.ManagerEvent{Kind: walletkit.ManagerEventWalletAdded})
	l.PublishManager(walletkit.ManagerEvent{Kind: walletkit.ManagerEventChanged})
	l.Stop()

	mu.Lock()
	defer mu.Unlock()
	want := []walletkit.ManagerEventKind{
		walletkit.ManagerEventCreated,
		walletkit.ManagerEventWalletAdded,
		walletkit.ManagerEventChanged,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(kinds), kinds)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("event %d: expected %v, got %v", i, k, kinds[i])
		}
	}
}

func TestListenerRoutesToMatchingCallbackOnly(t *testing.T) {
	var walletCalls, transferCalls int
	var mu sync.Mutex

	l := New(Callbacks{
		Wallet: func(walletkit.WalletEvent) {
			mu.Lock()
			walletCalls++
			mu.Unlock()
		},
		Transfer: func(walletkit.TransferEvent) {
			mu.Lock()
			transferCalls++
			mu.Unlock()
		},
	}, 16, nil)

	l.PublishWallet(walletkit.WalletEvent{Kind: walletkit.WalletEventCreated})
	l.PublishTransfer(walletkit.TransferEvent{Kind: walletkit.TransferEventCreated})
	l.Stop()

	mu.Lock()
	defer mu.Unlock()
	if walletCalls != 1 {
		t.Errorf("expected exactly one wallet callback, got %d", walletCalls)
	}
	if transferCalls != 1 {
		t.Errorf("expected exactly one transfer callback, got %d", transferCalls)
	}
}

func TestListenerNilCallbackIsIgnoredNotFatal(t *testing.T) {
	l := New(Callbacks{}, 4, nil)
	l.PublishSystem(walletkit.SystemEvent{})

	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Stop did not return; dispatch goroutine likely blocked on a nil callback")
	}
}
