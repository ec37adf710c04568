package walletkit

import "fmt"

// SweepRequest asks to drain every spendable value at a source (a
// PaperWallet or any address the embedder controls outside the normal
// wallet address book) into a wallet the manager already tracks.
type SweepRequest struct {
	Source *PaperWallet
	Target *Wallet
}

// SweepResult reports the outcome of a sweep attempt. Amount and FeeBasis
// are only meaningful when Status is SweepSuccess.
type SweepResult struct {
	Status   SweepStatus
	Amount   *Amount
	FeeBasis *FeeBasis
}

// Sweeper drains a source key's funds into a tracked wallet in one
// transfer, built against whatever UTXOs or account balance the handler
// reports for the source address. It only prepares the transfer; the
// caller signs and submits it like any other Transfer.
type Sweeper struct {
	handler *ChainHandler
}

// NewSweeper binds a Sweeper to the chain handler responsible for the
// source's NetworkType.
func NewSweeper(networkType NetworkType) (*Sweeper, error) {
	h, ok := GetHandler(networkType)
	if !ok {
		return nil, fmt.Errorf("walletkit: no handler for %s", networkType)
	}
	return &Sweeper{handler: h}, nil
}

// Prepare validates a SweepRequest against everything that can be checked
// without network access, returning the SweepStatus an embedder should act
// on before attempting the actual balance lookup and transfer construction.
func (s *Sweeper) Prepare(req SweepRequest) SweepResult {
	if req.Source == nil {
		return SweepResult{Status: SweepInvalidKey}
	}
	if req.Target == nil {
		return SweepResult{Status: SweepInvalidSourceWallet}
	}
	if req.Source.NetworkType != req.Target.NetworkType() {
		return SweepResult{Status: SweepUnsupportedCurrency}
	}
	if s.handler.Transfer == nil {
		return SweepResult{Status: SweepIllegalOperation}
	}
	return SweepResult{Status: SweepSuccess}
}

// Finalize builds the swept transfer amount given the source's observed
// spendable balance and the fee that must be subtracted from it (a sweep
// sends balance-minus-fee, since there is no separate source to pay the fee
// from).
func (s *Sweeper) Finalize(spendable *Amount, feeBasis *FeeBasis) SweepResult {
	if spendable == nil || spendable.IsZero() {
		return SweepResult{Status: SweepNoTransfersFound}
	}
	fee, ok := feeBasis.Fee()
	if !ok {
		return SweepResult{Status: SweepUnableToSweep}
	}
	net, ok := spendable.Sub(fee)
	if !ok || net.IsNegative() || net.IsZero() {
		return SweepResult{Status: SweepInsufficientFunds}
	}
	return SweepResult{Status: SweepSuccess, Amount: net, FeeBasis: feeBasis}
}
