// Package system implements the top-level System aggregate (§4.8): the root
// on-disk path, the shared Account, and the set of Wallet Managers running
// under it.
package system

import (
	"context"
	"fmt"
	"sync"

	"github.com/klingon-exchange/walletcore/internal/manager"
	"github.com/klingon-exchange/walletcore/internal/walletkit"
	"github.com/klingon-exchange/walletcore/pkg/logging"
)

// System owns every Wallet Manager sharing one Account and one on-disk
// root. The account's public material is shared and read-only after
// construction; the on-disk tree for one manager is accessed only by that
// manager, per the shared-resources note.
type System struct {
	root    string
	account *walletkit.Account

	mu       sync.RWMutex
	managers map[string]*manager.Manager
	log      *logging.Logger
}

// New constructs an empty System rooted at root for account.
func New(root string, account *walletkit.Account, log *logging.Logger) *System {
	if log == nil {
		log = logging.Default()
	}
	return &System{root: root, account: account, managers: make(map[string]*manager.Manager), log: log}
}

func (s *System) Root() string                { return s.root }
func (s *System) Account() *walletkit.Account { return s.account }

// AddManager registers a manager under this system, keyed by its uids.
func (s *System) AddManager(m *manager.Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.managers[m.Uids()] = m
}

// Manager looks up a manager by uids.
func (s *System) Manager(uids string) (*manager.Manager, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.managers[uids]
	return m, ok
}

// Managers returns every manager under this system.
func (s *System) Managers() []*manager.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*manager.Manager, 0, len(s.managers))
	for _, m := range s.managers {
		out = append(out, m)
	}
	return out
}

// ManagerPath returns the on-disk root for one manager's File Service,
// isolated from every other manager under this system.
func (s *System) ManagerPath(uids string) string {
	return fmt.Sprintf("%s/%s", s.root, uids)
}

// Start calls Start on every manager under this system.
func (s *System) Start() {
	for _, m := range s.Managers() {
		m.Start()
	}
}

// Connect calls Connect on every manager under this system.
func (s *System) Connect(ctx context.Context) {
	for _, m := range s.Managers() {
		m.Connect(ctx)
	}
}

// Disconnect calls Disconnect on every manager under this system.
func (s *System) Disconnect(reason walletkit.DisconnectReason) {
	for _, m := range s.Managers() {
		m.Disconnect(reason)
	}
}

// Stop calls Stop on every manager under this system.
func (s *System) Stop() {
	for _, m := range s.Managers() {
		m.Stop()
	}
}
