// Package manager implements the Wallet Manager state machine (§4.3): the
// per-account, per-network component that owns a set of Wallets and drives
// them through CREATED -> CONNECTED <-> SYNCING -> DISCONNECTED, plus
// terminal DELETED.
package manager

import (
	"context"
	"sync"

	"github.com/klingon-exchange/walletcore/internal/listener"
	"github.com/klingon-exchange/walletcore/internal/persist"
	"github.com/klingon-exchange/walletcore/internal/reconcile"
	"github.com/klingon-exchange/walletcore/internal/walletkit"
	"github.com/klingon-exchange/walletcore/pkg/logging"
)

// Mode is the closed set of sync transport combinations (§4.3 set_mode).
type Mode int

const (
	ModeAPIOnly Mode = iota
	ModeAPIWithP2PSend
	ModeP2PWithAPISync
	ModeP2POnly
)

// Depth selects where a forced resync should start from (§4.3
// sync_to_depth).
type Depth int

const (
	DepthFromLastConfirmedSend Depth = iota
	DepthFromLastTrustedBlock
	DepthFromCreation
)

// Driver performs the chain-specific I/O for one sync pass. qrymanager and
// p2pmanager each implement this for their transport; Manager is unaware of
// which one it is driving.
type Driver interface {
	// SyncFrom runs one sync pass starting at depth, reporting bundles and
	// height updates through the Engine/Network the driver was constructed
	// with. It blocks until the pass completes, is canceled via ctx, or
	// fails.
	SyncFrom(ctx context.Context, depth Depth) error
	// SupportsMode reports whether this driver can operate under mode; an
	// unsupported mode request is silently ignored per spec.
	SupportsMode(mode Mode) bool
}

// Manager is one Wallet Manager: one account, one network, a set of
// currency-keyed Wallets, and the sync machinery driving them.
type Manager struct {
	uids        string
	networkType walletkit.NetworkType
	account     *walletkit.Account
	network     *walletkit.Network
	engine      *reconcile.Engine
	events      *listener.Listener
	log         *logging.Logger

	mu      sync.Mutex
	state   walletkit.ManagerState
	mode    Mode
	driver  Driver
	store   *persist.Service
	wallets map[string]*walletkit.Wallet
	syncing bool
	cancel  context.CancelFunc
	started bool
}

// New constructs a Manager in the CREATED state and immediately creates the
// Wallet for the network's native currency (every network tracks at least
// its own currency from construction, per the observed event ordering:
// MGR_CREATED, WALLET_CREATED, MGR_WALLET_ADDED all precede the first
// Connect). It does not start sync; call Start then Connect.
func New(uids string, networkType walletkit.NetworkType, nativeCurrencyUids string, account *walletkit.Account, network *walletkit.Network, driver Driver, events *listener.Listener, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	m := &Manager{
		uids:        uids,
		networkType: networkType,
		account:     account,
		network:     network,
		driver:      driver,
		events:      events,
		log:         log,
		state:       walletkit.ManagerCreated,
		mode:        ModeAPIOnly,
		wallets:     make(map[string]*walletkit.Wallet),
	}
	m.engine = reconcile.New(m, events, log)
	if events != nil {
		events.PublishManager(walletkit.ManagerEvent{Kind: walletkit.ManagerEventCreated, NewState: walletkit.ManagerCreated})
	}
	if nativeCurrencyUids != "" {
		m.LocateOrCreateWallet(nativeCurrencyUids)
	}
	return m
}

func (m *Manager) Uids() string                    { return m.uids }
func (m *Manager) ManagerUids() string             { return m.uids }
func (m *Manager) NetworkType() walletkit.NetworkType { return m.networkType }

// Engine returns the reconciliation engine this manager feeds bundles
// through. A Driver constructed after New needs this to reconcile against
// the same wallet set the manager exposes via LocateOrCreateWallet.
func (m *Manager) Engine() *reconcile.Engine { return m.engine }

// Network returns the chain descriptor this manager was constructed with.
func (m *Manager) Network() *walletkit.Network { return m.network }

// SetDriver attaches the sync driver. Exists separately from New because a
// Driver typically needs the Manager's own Engine, which only exists once
// the Manager has already been constructed.
func (m *Manager) SetDriver(d Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driver = d
}

// SetStore attaches the File Service this manager owns (§4.8: the Wallet
// Manager "owns... a File Service"), wiring it straight through to the
// reconciliation engine so reconciled bundles are durably recorded. Exists
// separately from New for the same two-phase-setup reason as SetDriver: the
// Service is rooted at this manager's own on-disk directory, which the
// caller only knows how to build once the Manager exists (see
// system.System.ManagerPath).
func (m *Manager) SetStore(s *persist.Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = s
	m.engine.SetStore(s)
}

// State returns the current lifecycle state.
func (m *Manager) State() walletkit.ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start makes the manager willing to process events. Idempotent.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
}

// LocateOrCreateWallet implements reconcile.WalletSource: it is also the
// embedder-visible way to add a currency under this manager, so a first
// reconciled bundle for a previously untracked currency creates its
// Wallet and emits MGR_WALLET_ADDED / WALLET_CREATED.
func (m *Manager) LocateOrCreateWallet(currencyUids string) (*walletkit.Wallet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.wallets[currencyUids]; ok {
		return w, true
	}

	currency := walletkit.NewCurrency(currencyUids, currencyUids, currencyUids)
	base := walletkit.NewUnitAsBase(currency, currencyUids, currencyUids, currencyUids)
	w := walletkit.NewWallet(currencyUids, m.networkType, currency, base, base)
	m.wallets[currencyUids] = w

	if m.events != nil {
		m.events.PublishWallet(walletkit.WalletEvent{Kind: walletkit.WalletEventCreated, Wallet: w.WeakRef()})
		m.events.PublishManager(walletkit.ManagerEvent{Kind: walletkit.ManagerEventWalletAdded, Wallet: w.WeakRef()})
	}
	return w, true
}

// Wallets returns every currently tracked wallet.
func (m *Manager) Wallets() []*walletkit.Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*walletkit.Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		out = append(out, w)
	}
	return out
}

func (m *Manager) transition(from, to walletkit.ManagerState) {
	m.state = to
	if m.events != nil {
		m.events.PublishManager(walletkit.ManagerEvent{Kind: walletkit.ManagerEventChanged, OldState: from, NewState: to})
	}
}

// Connect moves CREATED/DISCONNECTED -> CONNECTED and starts a sync pass,
// which further moves CONNECTED -> SYNCING. A call while already SYNCING
// coalesces to a no-op, matching the reentrant-connect invariant.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.state == walletkit.ManagerSyncing {
		m.mu.Unlock()
		return
	}
	if m.state != walletkit.ManagerCreated && m.state != walletkit.ManagerDisconnected {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.transition(from, walletkit.ManagerConnected)
	m.mu.Unlock()

	m.startSync(ctx, DepthFromLastConfirmedSend)
}

func (m *Manager) startSync(ctx context.Context, depth Depth) {
	m.mu.Lock()
	if m.state != walletkit.ManagerConnected {
		m.mu.Unlock()
		return
	}
	syncCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.syncing = true
	if m.events != nil {
		m.events.PublishManager(walletkit.ManagerEvent{Kind: walletkit.ManagerEventSyncStarted})
	}
	from := m.state
	m.transition(from, walletkit.ManagerSyncing)
	driver := m.driver
	m.mu.Unlock()

	go func() {
		var err error
		if driver != nil {
			err = driver.SyncFrom(syncCtx, depth)
		}
		m.finishSync(err)
	}()
}

func (m *Manager) finishSync(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != walletkit.ManagerSyncing {
		return
	}
	m.syncing = false

	if err != nil {
		if m.events != nil {
			m.events.PublishManager(walletkit.ManagerEvent{
				Kind:    walletkit.ManagerEventSyncStopped,
				Stopped: &walletkit.StopReason{Kind: walletkit.ReasonUnknown},
			})
		}
		from := m.state
		m.transition(from, walletkit.ManagerDisconnected)
		return
	}

	if m.events != nil {
		m.events.PublishManager(walletkit.ManagerEvent{
			Kind:    walletkit.ManagerEventSyncStopped,
			Stopped: &walletkit.StopReason{Kind: walletkit.ReasonComplete},
		})
	}
	from := m.state
	m.transition(from, walletkit.ManagerConnected)
}

// Sync forces a fresh pass from the previously completed height. Valid in
// CONNECTED or SYNCING (a no-op while already syncing, since one pass is
// already in flight); in DISCONNECTED it behaves like Connect.
func (m *Manager) Sync(ctx context.Context) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch state {
	case walletkit.ManagerDisconnected, walletkit.ManagerCreated:
		m.Connect(ctx)
	case walletkit.ManagerConnected:
		m.startSync(ctx, DepthFromLastConfirmedSend)
	case walletkit.ManagerSyncing:
		// Coalesced: one pass already in flight.
	}
}

// SyncToDepth rewinds the sync starting point to depth. For P2P chains the
// driver is responsible for translating depth to a concrete block number
// using the network's checkpoint list.
func (m *Manager) SyncToDepth(ctx context.Context, depth Depth) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch state {
	case walletkit.ManagerDisconnected, walletkit.ManagerCreated:
		m.mu.Lock()
		from := m.state
		m.transition(from, walletkit.ManagerConnected)
		m.mu.Unlock()
		m.startSync(ctx, depth)
	default:
		m.startSync(ctx, depth)
	}
}

// SetMode switches transport mode. Switching while SYNCING performs an
// orderly stop then restart under the new mode; unsupported combinations
// for the current driver are silently ignored.
func (m *Manager) SetMode(ctx context.Context, mode Mode) {
	m.mu.Lock()
	if m.driver != nil && !m.driver.SupportsMode(mode) {
		m.mu.Unlock()
		return
	}
	wasSyncing := m.state == walletkit.ManagerSyncing
	m.mode = mode
	if wasSyncing && m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	if wasSyncing {
		m.startSync(ctx, DepthFromLastConfirmedSend)
	}
}

// Disconnect stops any running sync and moves to DISCONNECTED. Idempotent:
// calling it while already DISCONNECTED (or CREATED) emits nothing.
func (m *Manager) Disconnect(reason walletkit.DisconnectReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == walletkit.ManagerDisconnected || m.state == walletkit.ManagerCreated || m.state == walletkit.ManagerDeleted {
		return
	}

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.syncing = false

	from := m.state
	m.state = walletkit.ManagerDisconnected
	if m.events != nil {
		m.events.PublishManager(walletkit.ManagerEvent{Kind: walletkit.ManagerEventChanged, OldState: from, NewState: walletkit.ManagerDisconnected, Disconn: &reason})
	}
}

// Stop halts event handling without disconnecting, used at teardown.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	if m.events != nil {
		m.events.Stop()
	}
}
