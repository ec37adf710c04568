package persist

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
)

// EncodeBlockRecord lays out a persisted block per §6.3: the chain-specific
// serialized block bytes followed by a 4-byte little-endian height.
func EncodeBlockRecord(serializedBlock []byte, height uint32) []byte {
	out := make([]byte, len(serializedBlock)+4)
	copy(out, serializedBlock)
	binary.LittleEndian.PutUint32(out[len(serializedBlock):], height)
	return out
}

// DecodeBlockRecord splits a block record back into its chain-specific body
// and height.
func DecodeBlockRecord(data []byte) (body []byte, height uint32, err error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("persist: block record too short")
	}
	split := len(data) - 4
	return data[:split], binary.LittleEndian.Uint32(data[split:]), nil
}

// PeerRecord is a persisted peer address (§6.3).
type PeerRecord struct {
	Address   net.IP
	Port      uint16
	Services  uint64
	Timestamp uint64
	Flags     byte
}

// EncodePeerRecord lays out: 16-byte address, 2-byte port BE, 8-byte
// services BE, 8-byte timestamp BE, 1-byte flags.
func EncodePeerRecord(p PeerRecord) []byte {
	out := make([]byte, 16+2+8+8+1)
	ip16 := p.Address.To16()
	copy(out[0:16], ip16)
	binary.BigEndian.PutUint16(out[16:18], p.Port)
	binary.BigEndian.PutUint64(out[18:26], p.Services)
	binary.BigEndian.PutUint64(out[26:34], p.Timestamp)
	out[34] = p.Flags
	return out
}

// DecodePeerRecord parses bytes produced by EncodePeerRecord.
func DecodePeerRecord(data []byte) (PeerRecord, error) {
	if len(data) != 35 {
		return PeerRecord{}, fmt.Errorf("persist: peer record must be 35 bytes, got %d", len(data))
	}
	return PeerRecord{
		Address:   net.IP(append([]byte(nil), data[0:16]...)),
		Port:      binary.BigEndian.Uint16(data[16:18]),
		Services:  binary.BigEndian.Uint64(data[18:26]),
		Timestamp: binary.BigEndian.Uint64(data[26:34]),
		Flags:     data[34],
	}, nil
}

// EncodeTransactionRecord lays out: chain-specific serialized transaction
// bytes, 4-byte little-endian block height, 4-byte little-endian timestamp.
func EncodeTransactionRecord(serializedTx []byte, blockHeight, timestamp uint32) []byte {
	out := make([]byte, len(serializedTx)+8)
	copy(out, serializedTx)
	binary.LittleEndian.PutUint32(out[len(serializedTx):len(serializedTx)+4], blockHeight)
	binary.LittleEndian.PutUint32(out[len(serializedTx)+4:], timestamp)
	return out
}

// DecodeTransactionRecord splits a transaction record back into its body,
// block height, and timestamp.
func DecodeTransactionRecord(data []byte) (body []byte, blockHeight, timestamp uint32, err error) {
	if len(data) < 8 {
		return nil, 0, 0, fmt.Errorf("persist: transaction record too short")
	}
	split := len(data) - 8
	return data[:split], binary.LittleEndian.Uint32(data[split : split+4]), binary.LittleEndian.Uint32(data[split+4:]), nil
}

// BundleRecord is a persisted Transfer Bundle (§4.4): the reconciliation
// engine's own record of what it merged into a Transfer, kept durable
// independently of the in-memory Transfer it produced so a restart can
// distinguish "never seen this bundle" from "already reconciled it".
// Unlike the block/peer/transaction layouts above, §6.3 does not fix a
// byte-exact wire format for bundles, so this reuses the same JSON style
// already used for the P2P gossip announcements (internal/p2pmanager's
// txAnnouncement).
type BundleRecord struct {
	Identity         string `json:"identity"`
	NetworkType      string `json:"network_type"`
	CurrencyUids     string `json:"currency_uids"`
	Hash             string `json:"hash"`
	Sender           string `json:"sender"`
	Receiver         string `json:"receiver"`
	AmountBase       string `json:"amount_base,omitempty"`
	SendBase         string `json:"send_base,omitempty"`
	ReceiveBase      string `json:"receive_base,omitempty"`
	FeeBase          string `json:"fee_base,omitempty"`
	BlockNumber      uint64 `json:"block_number"`
	BlockTimestamp   int64  `json:"block_timestamp"`
	TransactionIndex uint32 `json:"transaction_index"`
	IncludeStatus    string `json:"include_status,omitempty"`
	IncludeDetail    string `json:"include_detail,omitempty"`
	Confirmed        bool   `json:"confirmed"`
}

// EncodeBundleRecord marshals a BundleRecord for persist.Service.Save.
func EncodeBundleRecord(b BundleRecord) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("persist: encode bundle record: %w", err)
	}
	return data, nil
}

// DecodeBundleRecord parses bytes produced by EncodeBundleRecord.
func DecodeBundleRecord(data []byte) (BundleRecord, error) {
	var b BundleRecord
	if err := json.Unmarshal(data, &b); err != nil {
		return BundleRecord{}, fmt.Errorf("persist: decode bundle record: %w", err)
	}
	return b, nil
}
