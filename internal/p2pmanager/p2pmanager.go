// Package p2pmanager drives a Wallet Manager's sync in P2P mode: it wraps
// an internal/node.Node and translates its libp2p pubsub traffic into the
// four P2P events the reconciliation engine understands (tx_added,
// tx_updated, tx_deleted, balance_changed), per §4.4.
package p2pmanager

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/klingon-exchange/walletcore/internal/manager"
	"github.com/klingon-exchange/walletcore/internal/node"
	"github.com/klingon-exchange/walletcore/internal/persist"
	"github.com/klingon-exchange/walletcore/internal/reconcile"
	"github.com/klingon-exchange/walletcore/internal/walletkit"
	"github.com/klingon-exchange/walletcore/pkg/logging"
)

// txAnnouncement is the wire shape published on the chain's transaction
// topic; it carries enough of a Transfer Bundle to reconstruct direction
// and amount without a second round trip to an API.
type txAnnouncement struct {
	Kind           string `json:"kind"` // "added", "updated", "deleted"
	Identity       string `json:"identity"`
	Hash           string `json:"hash"`
	Sender         string `json:"sender"`
	Receiver       string `json:"receiver"`
	AmountBase     string `json:"amount_base,omitempty"`
	SendBase       string `json:"send_base,omitempty"`
	ReceiveBase    string `json:"receive_base,omitempty"`
	FeeBase        string `json:"fee_base,omitempty"`
	BlockHeight    uint64 `json:"block_height"`
	BlockTimestamp int64  `json:"block_timestamp"`
	RecommendRescan bool  `json:"recommend_rescan,omitempty"`
}

// Driver implements manager.Driver against an internal/node.Node's pubsub
// transport for one currency's transaction topic.
type Driver struct {
	node         *node.Node
	network      *walletkit.Network
	engine       *reconcile.Engine
	wallet       func() *walletkit.Wallet
	currencyUids string
	topicName    string
	peer         *peer.AddrInfo
	log          *logging.Logger
	store        *persist.Service
}

// New constructs a P2P-mode sync driver bound to one currency's gossip
// topic on node.
func New(n *node.Node, network *walletkit.Network, engine *reconcile.Engine, wallet func() *walletkit.Wallet, currencyUids, topicName string, log *logging.Logger) *Driver {
	if log == nil {
		log = logging.Default()
	}
	return &Driver{node: n, network: network, engine: engine, wallet: wallet, currencyUids: currencyUids, topicName: topicName, log: log}
}

// SetPeer pins the transport to a specific endpoint, per the optional peer
// argument to connect().
func (d *Driver) SetPeer(pi *peer.AddrInfo) { d.peer = pi }

// SetStore attaches the File Service this driver records discovered peer
// addresses through (§4.7, §6.3). A nil store (the default in every
// existing test) makes persistence a no-op.
func (d *Driver) SetStore(s *persist.Service) {
	d.store = s
}

// SupportsMode reports P2P_ONLY and P2P_WITH_API_SYNC support.
func (d *Driver) SupportsMode(mode manager.Mode) bool {
	return mode == manager.ModeP2POnly || mode == manager.ModeP2PWithAPISync
}

// SyncFrom connects (pinning to the optional peer), subscribes to the
// currency's topic, and processes announcements until ctx is canceled.
// sync_to_depth's concrete block number translation happens via the
// network's checkpoint list before calling SyncFrom; the driver itself
// only needs the resulting height to decide what to request from peers on
// reconnect, which is out of scope for the gossip-only transport modeled
// here.
func (d *Driver) SyncFrom(ctx context.Context, depth manager.Depth) error {
	d.node.OnPeerConnected(d.persistPeer)

	if d.peer != nil {
		if err := d.node.Connect(ctx, *d.peer); err != nil {
			return fmt.Errorf("p2pmanager: connect to pinned peer: %w", err)
		}
	}

	topic := d.node.GetTopic(d.topicName)
	if topic == nil {
		return fmt.Errorf("p2pmanager: topic %q not available", d.topicName)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("p2pmanager: subscribe %q: %w", d.topicName, err)
	}
	defer sub.Cancel()

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("p2pmanager: subscription read: %w", err)
		}
		d.handleMessage(msg.Data)
	}
}

// persistPeer records a newly connected peer's address in the File Service
// (§6.3: "<root>/<manager-id>/peers/<ver>/<hex-id>"), keyed by the hex
// encoding of the peer ID's own bytes since libp2p peer IDs are already a
// stable content-derived identifier (a multihash of the peer's public key).
// A nil store, a peer with no known address yet, or an address that isn't a
// plain IP/TCP multiaddr (e.g. a relay or circuit address) is not an error:
// peer persistence is a reconnect aid, not a transport precondition.
func (d *Driver) persistPeer(id peer.ID) {
	if d.store == nil {
		return
	}
	addrs := d.node.Host().Peerstore().Addrs(id)
	if len(addrs) == 0 {
		return
	}
	ip, port, ok := ipAndPort(addrs[0])
	if !ok {
		return
	}
	record := persist.EncodePeerRecord(persist.PeerRecord{
		Address:   ip,
		Port:      port,
		Timestamp: uint64(time.Now().Unix()),
	})
	key := hex.EncodeToString([]byte(id))
	if err := d.store.Save(persist.TypePeers, 1, key, record); err != nil {
		d.log.Warn("p2pmanager: failed to persist peer", "peer", id.String(), "error", err)
	}
}

// ipAndPort extracts the IPv4/IPv6 address and TCP port from a multiaddr,
// the only shape the fixed-width PeerRecord layout can represent.
func ipAndPort(addr multiaddr.Multiaddr) (net.IP, uint16, bool) {
	var ipStr string
	for _, proto := range []int{multiaddr.P_IP4, multiaddr.P_IP6} {
		if v, err := addr.ValueForProtocol(proto); err == nil {
			ipStr = v
			break
		}
	}
	if ipStr == "" {
		return nil, 0, false
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, 0, false
	}
	portStr, err := addr.ValueForProtocol(multiaddr.P_TCP)
	if err != nil {
		return nil, 0, false
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, 0, false
	}
	return ip, uint16(port), true
}

func (d *Driver) handleMessage(data []byte) {
	var ann txAnnouncement
	if err := json.Unmarshal(data, &ann); err != nil {
		d.log.Warn("p2pmanager: dropping malformed announcement", "error", err)
		return
	}

	wallet := d.wallet()
	if wallet == nil {
		return
	}

	switch ann.Kind {
	case "added":
		added := reconcile.P2PTxAdded{
			NetworkType:  d.network.NetworkType(),
			CurrencyUids: d.currencyUids,
			Identity:     ann.Identity,
			Hash:         ann.Hash,
			Sender:       ann.Sender,
			Receiver:     ann.Receiver,
		}
		model, _ := walletkit.LedgerModelOf(d.network.NetworkType())
		if model == walletkit.LedgerUTXO {
			send, sendOK := parseBigInt(ann.SendBase)
			receive, receiveOK := parseBigInt(ann.ReceiveBase)
			fee, feeOK := parseBigInt(ann.FeeBase)
			if !sendOK || !receiveOK || !feeOK {
				d.log.Warn("p2pmanager: dropping announcement with unparseable UTXO totals", "identity", ann.Identity)
				return
			}
			added.SendBase, added.ReceiveBase, added.FeeBase = send, receive, fee
		} else {
			amount, ok := parseBigInt(ann.AmountBase)
			if !ok {
				d.log.Warn("p2pmanager: dropping announcement with unparseable amount", "identity", ann.Identity)
				return
			}
			added.AmountBase = amount
		}
		d.engine.HandleTxAdded(d.currencyUids, added)
	case "updated":
		d.network.SetHeight(ann.BlockHeight)
		d.engine.HandleTxUpdated(wallet, reconcile.P2PTxUpdated{
			Identities:     []string{ann.Identity},
			BlockHeight:    ann.BlockHeight,
			BlockTimestamp: ann.BlockTimestamp,
		})
		d.engine.HandleBalanceChanged(wallet)
	case "deleted":
		d.engine.HandleTxDeleted(wallet, reconcile.P2PTxDeleted{
			Identity:        ann.Identity,
			Notify:          true,
			RecommendRescan: ann.RecommendRescan,
		})
		d.engine.HandleBalanceChanged(wallet)
	default:
		d.log.Warn("p2pmanager: unknown announcement kind", "kind", ann.Kind)
	}
}

// parseBigInt parses s as a base-10 integer, treating an empty string as
// zero (a field the announcer legitimately omitted rather than malformed).
func parseBigInt(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}
	return new(big.Int).SetString(s, 10)
}
