package walletkit

import "sync"

// Checkpoint anchors a known (block height, timestamp) pair, used to bound
// how far back a sync needs to scan for a wallet created after that height.
type Checkpoint struct {
	Height    uint64
	Timestamp int64
	Hash      *Hash
}

// Network describes one chain's identity and mutable chain-tip state. Unlike
// Currency and Unit, Network carries state (current height) that changes
// over the life of a process, so it is guarded by its own lock rather than
// treated as a value type.
type Network struct {
	uids        string
	networkType NetworkType
	isMainnet   bool
	currency    *Currency

	mu          sync.RWMutex
	height      uint64
	checkpoints []Checkpoint
}

// NewNetwork constructs a Network at height 0 with no checkpoints.
func NewNetwork(uids string, networkType NetworkType, isMainnet bool, currency *Currency) *Network {
	return &Network{
		uids:        uids,
		networkType: networkType,
		isMainnet:   isMainnet,
		currency:    currency,
	}
}

func (n *Network) Uids() string            { return n.uids }
func (n *Network) NetworkType() NetworkType { return n.networkType }
func (n *Network) IsMainnet() bool         { return n.isMainnet }
func (n *Network) Currency() *Currency     { return n.currency }

// Height returns the most recently observed chain tip.
func (n *Network) Height() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.height
}

// SetHeight advances the known chain tip. Callers (query/P2P managers) are
// expected to only ever move it forward; SetHeight enforces that silently by
// ignoring attempts to move it backward, since a transient stale peer report
// must never regress sync progress for every wallet manager sharing this
// Network.
func (n *Network) SetHeight(height uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if height > n.height {
		n.height = height
	}
}

// AddCheckpoint records a new known-good anchor point, keeping checkpoints
// sorted by height.
func (n *Network) AddCheckpoint(cp Checkpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, existing := range n.checkpoints {
		if existing.Height == cp.Height {
			n.checkpoints[i] = cp
			return
		}
		if existing.Height > cp.Height {
			n.checkpoints = append(n.checkpoints[:i], append([]Checkpoint{cp}, n.checkpoints[i:]...)...)
			return
		}
	}
	n.checkpoints = append(n.checkpoints, cp)
}

// CheckpointBefore returns the latest checkpoint at or before timestamp, the
// standard way a wallet created at a known time bounds how far back sync
// needs to look instead of scanning from genesis.
func (n *Network) CheckpointBefore(timestamp int64) (Checkpoint, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	var best Checkpoint
	found := false
	for _, cp := range n.checkpoints {
		if cp.Timestamp <= timestamp && (!found || cp.Timestamp > best.Timestamp) {
			best = cp
			found = true
		}
	}
	return best, found
}
