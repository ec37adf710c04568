package walletkit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ConnectorRequestKind distinguishes the operations a paired external
// signer (hardware wallet, mobile companion app) can be asked to perform,
// mirroring the WalletConnect-style pairing flow the original SDK exposes
// as an external collaborator of its signing path.
type ConnectorRequestKind int

const (
	ConnectorRequestSignTransfer ConnectorRequestKind = iota
	ConnectorRequestSignDigest
)

// ConnectorRequest is one pending ask sent to the paired peer.
type ConnectorRequest struct {
	ID     string
	Kind   ConnectorRequestKind
	Path   []uint32
	Digest []byte
}

// ConnectorTransport is the one method a pairing transport (QR-paired
// websocket session, Bluetooth link, etc.) must provide: send a request and
// block for its matching response.
type ConnectorTransport interface {
	Send(ctx context.Context, req ConnectorRequest) ([]byte, error)
}

// Connector is a Signer backed by a paired external device rather than
// in-process key material. It implements the same Signer interface a
// TransferHandler expects, so the reconciliation and manager layers never
// need to know whether a signature came from a local seed or a remote
// peer.
type Connector struct {
	pairingID string
	transport ConnectorTransport
}

// NewConnector pairs a Connector with transport under a fresh pairing ID.
func NewConnector(transport ConnectorTransport) *Connector {
	return &Connector{
		pairingID: uuid.NewString(),
		transport: transport,
	}
}

// PairingID identifies this Connector's session to the remote peer (the
// value encoded in the pairing QR code or deep link).
func (c *Connector) PairingID() string { return c.pairingID }

// Sign implements Signer by round-tripping a sign-digest request through
// the paired transport.
func (c *Connector) Sign(path []uint32, digest []byte) ([]byte, error) {
	req := ConnectorRequest{
		ID:     uuid.NewString(),
		Kind:   ConnectorRequestSignDigest,
		Path:   path,
		Digest: digest,
	}

	sig, err := c.transport.Send(context.Background(), req)
	if err != nil {
		return nil, fmt.Errorf("walletkit: connector sign request %s: %w", req.ID, err)
	}
	return sig, nil
}
