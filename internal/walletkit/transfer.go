package walletkit

import (
	"fmt"
	"sync"
)

// Direction is the sign of a Transfer relative to the owning Wallet.
type Direction string

const (
	DirectionSent      Direction = "SENT"
	DirectionReceived  Direction = "RECEIVED"
	DirectionRecovered Direction = "RECOVERED"
)

// TransferStateKind is the tag half of Transfer's sum-type state.
type TransferStateKind int

const (
	TransferCreated TransferStateKind = iota
	TransferSigned
	TransferSubmitted
	TransferIncluded
	TransferErrored
	TransferDeleted
)

func (k TransferStateKind) String() string {
	switch k {
	case TransferCreated:
		return "CREATED"
	case TransferSigned:
		return "SIGNED"
	case TransferSubmitted:
		return "SUBMITTED"
	case TransferIncluded:
		return "INCLUDED"
	case TransferErrored:
		return "ERRORED"
	case TransferDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// IncludeStatus is the success/failure sub-state of an INCLUDED transfer.
type IncludeStatus string

const (
	IncludeSuccess                  IncludeStatus = "SUCCESS"
	IncludeInsufficientNetworkCost  IncludeStatus = "INSUFFICIENT_NETWORK_COST_UNIT"
	IncludeReverted                 IncludeStatus = "REVERTED"
	IncludeUnknown                  IncludeStatus = "UNKNOWN"
)

// IncludedInfo is the payload attached to the INCLUDED state.
type IncludedInfo struct {
	BlockNumber         uint64
	BlockTimestamp      int64
	TransactionIndex    uint32
	FeeBasisConfirmed   *FeeBasis
	IncludeStatus       IncludeStatus
	IncludeStatusDetail string // truncated to 31 bytes by SetIncluded
}

// SubmitErrorKind distinguishes an opaque failure from one carrying a POSIX
// errno, mirroring what a local API client or P2P broadcast can actually
// report back.
type SubmitErrorKind int

const (
	SubmitErrorUnknown SubmitErrorKind = iota
	SubmitErrorPOSIX
)

// SubmitError is the payload attached to the ERRORED state.
type SubmitError struct {
	Kind  SubmitErrorKind
	Errno int
}

func (e SubmitError) String() string {
	if e.Kind == SubmitErrorPOSIX {
		return fmt.Sprintf("POSIX(%d)", e.Errno)
	}
	return "UNKNOWN"
}

// ErroredInfo is the payload attached to the ERRORED state.
type ErroredInfo struct {
	SubmitError SubmitError
}

// TransferStatus is Transfer's full sum-type state: a kind tag plus the
// payload that kind carries, if any.
type TransferStatus struct {
	Kind    TransferStateKind
	Included *IncludedInfo
	Errored  *ErroredInfo
}

// legalTransitions enumerates every transition TransitionTo will accept.
// INCLUDED -> SUBMITTED models a re-org; it does not appear reflexively
// because re-announcing the same INCLUDED payload is not a transition, it is
// a no-op the caller should detect before calling TransitionTo. DELETED is
// reachable from every non-terminal state: reconciliation may discover a
// transfer has disappeared from the source of truth (re-org dropping a
// SUBMITTED transaction, a P2P tx_deleted with no replacement) regardless of
// which state it was last observed in.
var legalTransitions = map[TransferStateKind]map[TransferStateKind]bool{
	TransferCreated:   {TransferSigned: true, TransferDeleted: true},
	TransferSigned:    {TransferSubmitted: true, TransferDeleted: true},
	TransferSubmitted: {TransferIncluded: true, TransferErrored: true, TransferDeleted: true},
	TransferIncluded:  {TransferSubmitted: true, TransferDeleted: true},
	TransferErrored:   {TransferDeleted: true},
}

// Transfer is a single state-machine instance describing a value movement.
// A Transfer never migrates between wallets: the owning Wallet is fixed at
// construction and held only as a weak reference for event publication, per
// the no-upward-strong-reference rule.
type Transfer struct {
	identity string // chain-specific identity tag: hash + optional sub-index
	wallet   Ref[Wallet]

	source    *Address
	target    *Address
	amount    *Amount
	direction Direction

	feeBasisEstimated *FeeBasis

	mu         sync.Mutex
	status     TransferStatus
	hash       *Hash
	attributes map[string]string
	payload      []byte
	inputPaths   [][]uint32
	inputScripts [][]byte

	selfRef Ref[Transfer]
}

// NewTransfer constructs a Transfer in the CREATED state, owned by wallet.
func NewTransfer(identity string, wallet Ref[Wallet], source, target *Address, amount *Amount, direction Direction, feeBasisEstimated *FeeBasis) *Transfer {
	t := &Transfer{
		identity:          identity,
		wallet:            wallet,
		source:            source,
		target:            target,
		amount:            amount,
		direction:         direction,
		feeBasisEstimated: feeBasisEstimated,
		status:            TransferStatus{Kind: TransferCreated},
		attributes:        make(map[string]string),
	}
	t.selfRef = NewRef(t, nil)
	return t
}

// WeakRef returns a reference suitable for publishing into an event record;
// it upgrades only if the transfer is still alive.
func (t *Transfer) WeakRef() Ref[Transfer] {
	r, ok := t.selfRef.TakeWeak()
	if !ok {
		return Ref[Transfer]{}
	}
	return r
}

func (t *Transfer) Identity() string            { return t.identity }
func (t *Transfer) Source() *Address            { return t.source }
func (t *Transfer) Target() *Address            { return t.target }
func (t *Transfer) Amount() *Amount              { return t.amount }
func (t *Transfer) Direction() Direction         { return t.direction }
func (t *Transfer) FeeBasisEstimated() *FeeBasis { return t.feeBasisEstimated }

// Wallet returns a strong reference to the owning wallet if it is still
// alive, following the weak-upward-reference rule.
func (t *Transfer) Wallet() (Ref[Wallet], bool) {
	return t.wallet.TakeWeak()
}

// Hash returns the transfer's hash, or nil if it has not yet been assigned
// (the common case before SUBMITTED for the one chain whose hash is
// network-assigned).
func (t *Transfer) Hash() *Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hash
}

// SetHash assigns the transfer's hash exactly once. A second call with a
// different hash is rejected; an identical repeat is a silent no-op, since
// reconciliation may observe the same bundle more than once.
func (t *Transfer) SetHash(h *Hash) (changed bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hash == nil {
		t.hash = h
		return true, true
	}
	if t.hash.Equal(h) {
		return false, true
	}
	return false, false
}

// Status returns the current state.
func (t *Transfer) Status() TransferStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// TransitionTo moves the transfer to a new state, validating it against the
// legal-transitions table. It returns false without error if the requested
// state equals the current one (a no-op the caller should not treat as a
// CHANGED event).
func (t *Transfer) TransitionTo(next TransferStatus) (changed bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if next.Kind == t.status.Kind {
		return false, nil
	}

	allowed := legalTransitions[t.status.Kind]
	if !allowed[next.Kind] {
		return false, fmt.Errorf("walletkit: illegal transfer transition %s -> %s", t.status.Kind, next.Kind)
	}
	if next.Kind == TransferIncluded && next.Included == nil {
		return false, fmt.Errorf("walletkit: INCLUDED transition requires IncludedInfo")
	}
	if next.Kind == TransferErrored && next.Errored == nil {
		return false, fmt.Errorf("walletkit: ERRORED transition requires ErroredInfo")
	}
	if next.Included != nil && len(next.Included.IncludeStatusDetail) > 31 {
		next.Included.IncludeStatusDetail = next.Included.IncludeStatusDetail[:31]
	}

	t.status = next
	return true, nil
}

// Payload returns the chain-specific serialized form a WalletHandler's
// BuildTransfer recorded (an unsigned or signed raw transaction, depending on
// how far Sign has progressed). Only the owning chain's TransferHandler
// interprets these bytes.
func (t *Transfer) Payload() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.payload
}

// SetPayload replaces the transfer's chain-specific serialized form.
func (t *Transfer) SetPayload(p []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payload = p
}

// InputPaths returns the per-input BIP32 derivation paths a UTXO
// WalletHandler recorded at BuildTransfer time, so Sign knows which key
// signs which input. Empty for account chains, which sign once.
func (t *Transfer) InputPaths() [][]uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputPaths
}

// SetInputPaths records the per-input signing paths.
func (t *Transfer) SetInputPaths(paths [][]uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputPaths = paths
}

// InputScripts returns the per-input previous-output pubkey scripts a UTXO
// WalletHandler recorded at BuildTransfer time, needed to compute each
// input's signature hash at Sign time.
func (t *Transfer) InputScripts() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputScripts
}

// SetInputScripts records the per-input previous-output pubkey scripts.
func (t *Transfer) SetInputScripts(scripts [][]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputScripts = scripts
}

// Attribute returns a chain-specific key/value attribute (e.g. XRP
// destination tag, memo text).
func (t *Transfer) Attribute(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.attributes[key]
	return v, ok
}

// SetAttribute sets a chain-specific attribute.
func (t *Transfer) SetAttribute(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attributes[key] = value
}
