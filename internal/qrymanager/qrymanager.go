// Package qrymanager drives a Wallet Manager's sync in API mode: it wraps a
// backend.Backend and translates its responses into the client callback
// interface described in §6.1 (get_block_number, get_transactions,
// get_transfers, submit_transaction, estimate_transaction_fee), feeding the
// results into the reconciliation engine.
package qrymanager

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/klingon-exchange/walletcore/internal/backend"
	"github.com/klingon-exchange/walletcore/internal/manager"
	"github.com/klingon-exchange/walletcore/internal/persist"
	"github.com/klingon-exchange/walletcore/internal/reconcile"
	"github.com/klingon-exchange/walletcore/internal/walletkit"
	"github.com/klingon-exchange/walletcore/pkg/logging"
)

// Driver implements manager.Driver against a backend.Backend.
type Driver struct {
	backend      backend.Backend
	network      *walletkit.Network
	engine       *reconcile.Engine
	currencyUids string
	addresses    func() []string
	log          *logging.Logger
	store        *persist.Service
}

// New constructs an API-mode sync driver. addresses is called fresh on
// every sync pass so newly derived addresses are picked up without the
// caller having to reconstruct the driver.
func New(b backend.Backend, network *walletkit.Network, engine *reconcile.Engine, currencyUids string, addresses func() []string, log *logging.Logger) *Driver {
	if log == nil {
		log = logging.Default()
	}
	return &Driver{backend: b, network: network, engine: engine, currencyUids: currencyUids, addresses: addresses, log: log}
}

// SetStore attaches the File Service this driver persists observed blocks
// and raw transactions through (§4.7, §6.3). A nil store (the default in
// every existing test) makes persistence a no-op.
func (d *Driver) SetStore(s *persist.Service) {
	d.store = s
}

// SupportsMode reports API_ONLY and API_WITH_P2P_SEND support; the latter
// still syncs over the API, it only differs in where submissions go.
func (d *Driver) SupportsMode(mode manager.Mode) bool {
	return mode == manager.ModeAPIOnly || mode == manager.ModeAPIWithP2PSend
}

// SyncFrom performs one API sync pass: fetch the current height, then fetch
// and reconcile transactions for every known address.
func (d *Driver) SyncFrom(ctx context.Context, depth manager.Depth) error {
	height, err := d.backend.GetBlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("qrymanager: get_block_number: %w", err)
	}
	d.network.SetHeight(uint64(height))
	d.persistBlockHeader(ctx, height)

	addrs := d.addresses()
	var bundles []reconcile.TransferBundle

	for _, addr := range addrs {
		txs, err := d.backend.GetAddressTxs(ctx, addr, "")
		if err != nil {
			d.log.Warn("qrymanager: get_transactions failed, dropping", "address", addr, "error", err)
			continue
		}
		d.persistTransactions(txs)
		bundles = append(bundles, d.transactionsToBundles(addr, txs)...)
	}

	d.engine.ReconcileBundles(bundles)
	return nil
}

// persistBlockHeader records the tip block's header in the File Service
// (§6.3: "<root>/<manager-id>/blocks/<ver>/<hex-hash>"), keyed by the
// block's own hash since that is already a content-derived identifier. A
// nil store or a backend that cannot answer get_block_header for this
// height is not an error: block persistence is a durability aid, not a
// sync precondition.
func (d *Driver) persistBlockHeader(ctx context.Context, height int64) {
	if d.store == nil {
		return
	}
	header, err := d.backend.GetBlockHeader(ctx, strconv.FormatInt(height, 10))
	if err != nil || header == nil || header.Hash == "" {
		return
	}
	body, err := json.Marshal(header)
	if err != nil {
		return
	}
	record := persist.EncodeBlockRecord(body, uint32(header.Height))
	if err := d.store.Save(persist.TypeBlocks, 1, header.Hash, record); err != nil {
		d.log.Warn("qrymanager: failed to persist block header", "hash", header.Hash, "error", err)
	}
}

// persistTransactions records every confirmed transaction whose raw hex the
// backend supplied (§6.3: "<root>/<manager-id>/transactions/<ver>/<hex-hash>").
// Unconfirmed transactions and backends that omit raw hex are skipped; both
// are common (mempool entries have no confirmed block yet, and some
// backends never return raw hex), not malformed input.
func (d *Driver) persistTransactions(txs []backend.Transaction) {
	if d.store == nil {
		return
	}
	for _, tx := range txs {
		if !tx.Confirmed || tx.Hex == "" {
			continue
		}
		raw, err := hex.DecodeString(tx.Hex)
		if err != nil {
			d.log.Warn("qrymanager: dropping transaction with unparseable hex, not persisted", "txid", tx.TxID)
			continue
		}
		record := persist.EncodeTransactionRecord(raw, uint32(tx.BlockHeight), uint32(tx.BlockTime))
		if err := d.store.Save(persist.TypeTransactions, 1, tx.TxID, record); err != nil {
			d.log.Warn("qrymanager: failed to persist transaction", "txid", tx.TxID, "error", err)
		}
	}
}

func (d *Driver) transactionsToBundles(address string, txs []backend.Transaction) []reconcile.TransferBundle {
	out := make([]reconcile.TransferBundle, 0, len(txs))
	for _, tx := range txs {
		sender, receiver, sent, received := directionalParties(address, tx)
		if sent == 0 && received == 0 {
			continue
		}
		out = append(out, reconcile.TransferBundle{
			Identity:         tx.TxID,
			NetworkType:      d.network.NetworkType(),
			CurrencyUids:     d.currencyUids,
			Hash:             tx.TxID,
			Sender:           sender,
			Receiver:         receiver,
			SendBase:         new(big.Int).SetUint64(sent),
			ReceiveBase:      new(big.Int).SetUint64(received),
			FeeBase:          new(big.Int).SetUint64(tx.Fee),
			BlockNumber:      uint64(maxInt64(tx.BlockHeight, 0)),
			TransactionIndex: 0,
			Confirmed:        tx.Confirmed,
			IncludeStatus:    walletkit.IncludeSuccess,
		})
	}
	return out
}

// directionalParties sums the wallet-owned side of a UTXO transaction's
// inputs and outputs relative to address, plus one representative
// non-owned counterparty address on each side (for the bundle's
// sender/receiver fields; the reconciliation engine's direction/amount
// itself comes from the send/received totals, per §4.4's UTXO formula, not
// from these representative addresses).
func directionalParties(address string, tx backend.Transaction) (sender, receiver string, sent, received uint64) {
	sender, receiver = address, address

	for _, in := range tx.Inputs {
		if in.PrevOut == nil {
			continue
		}
		if in.PrevOut.ScriptPubKeyAddr == address {
			sent += in.PrevOut.Value
		} else if sender == address {
			sender = in.PrevOut.ScriptPubKeyAddr
		}
	}
	for _, out := range tx.Outputs {
		if out.ScriptPubKeyAddr == address {
			received += out.Value
		} else if receiver == address {
			receiver = out.ScriptPubKeyAddr
		}
	}

	return sender, receiver, sent, received
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// SubmitTransaction implements the submit_transaction client callback.
func (d *Driver) SubmitTransaction(ctx context.Context, rawHex string) (hash string, err error) {
	h, err := d.backend.BroadcastTransaction(ctx, rawHex)
	if err != nil {
		return "", walletkit.ClientError{Kind: walletkit.ClientErrorSubmission, Detail: err.Error()}
	}
	return h, nil
}

// EstimateTransactionFee implements the estimate_transaction_fee client
// callback, returning cost units (sat/vbyte or gwei-equivalent) the caller
// combines with a FeeHandler to build a FeeBasis.
func (d *Driver) EstimateTransactionFee(ctx context.Context) (costUnits float64, err error) {
	est, err := d.backend.GetFeeEstimates(ctx)
	if err != nil {
		return 0, walletkit.ClientError{Kind: walletkit.ClientErrorUnavailable, Detail: err.Error()}
	}
	return float64(est.HalfHourFee), nil
}
