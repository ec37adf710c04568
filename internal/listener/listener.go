// Package listener fans event records out to embedder-supplied callbacks on
// a dedicated per-manager goroutine, preserving delivery order and never
// reentering the embedder from more than one goroutine at a time.
package listener

import (
	"github.com/klingon-exchange/walletcore/internal/walletkit"
	"github.com/klingon-exchange/walletcore/pkg/logging"
)

// Callbacks is the five-signature bundle a manager publishes events to
// (§6.2): system, network, manager, wallet, transfer.
type Callbacks struct {
	System   func(walletkit.SystemEvent)
	Network  func(walletkit.NetworkEvent)
	Manager  func(walletkit.ManagerEvent)
	Wallet   func(walletkit.WalletEvent)
	Transfer func(walletkit.TransferEvent)
}

type envelope struct {
	system   *walletkit.SystemEvent
	network  *walletkit.NetworkEvent
	manager  *walletkit.ManagerEvent
	wallet   *walletkit.WalletEvent
	transfer *walletkit.TransferEvent
}

// Listener owns one FIFO queue and one dispatch goroutine per manager. Every
// Publish call from any goroutine enqueues without blocking on the
// embedder's callback; the dispatch goroutine drains the queue strictly in
// order, so CREATED for an entity always reaches the embedder before
// CHANGED or DELETED for the same entity.
type Listener struct {
	callbacks Callbacks
	queue     chan envelope
	done      chan struct{}
	log       *logging.Logger
}

// New starts a Listener's dispatch goroutine immediately. depth bounds how
// far Publish can run ahead of the embedder before it starts blocking
// publishers; callers size it to the burst they expect from one sync pass.
func New(callbacks Callbacks, depth int, log *logging.Logger) *Listener {
	if log == nil {
		log = logging.Default()
	}
	if depth <= 0 {
		depth = 256
	}
	l := &Listener{
		callbacks: callbacks,
		queue:     make(chan envelope, depth),
		done:      make(chan struct{}),
		log:       log,
	}
	go l.dispatch()
	return l
}

func (l *Listener) dispatch() {
	defer close(l.done)
	for env := range l.queue {
		switch {
		case env.system != nil:
			if l.callbacks.System != nil {
				l.callbacks.System(*env.system)
			}
		case env.network != nil:
			if l.callbacks.Network != nil {
				l.callbacks.Network(*env.network)
			}
		case env.manager != nil:
			if l.callbacks.Manager != nil {
				l.callbacks.Manager(*env.manager)
			}
		case env.wallet != nil:
			if l.callbacks.Wallet != nil {
				l.callbacks.Wallet(*env.wallet)
			}
		case env.transfer != nil:
			if l.callbacks.Transfer != nil {
				l.callbacks.Transfer(*env.transfer)
			}
		default:
			l.log.Warn("listener: dropped empty event envelope")
		}
	}
}

func (l *Listener) PublishSystem(e walletkit.SystemEvent)     { l.queue <- envelope{system: &e} }
func (l *Listener) PublishNetwork(e walletkit.NetworkEvent)   { l.queue <- envelope{network: &e} }
func (l *Listener) PublishManager(e walletkit.ManagerEvent)   { l.queue <- envelope{manager: &e} }
func (l *Listener) PublishWallet(e walletkit.WalletEvent)     { l.queue <- envelope{wallet: &e} }
func (l *Listener) PublishTransfer(e walletkit.TransferEvent) { l.queue <- envelope{transfer: &e} }

// Stop closes the queue and waits for the dispatch goroutine to drain it.
// No further Publish calls are permitted after Stop returns.
func (l *Listener) Stop() {
	close(l.queue)
	<-l.done
}
