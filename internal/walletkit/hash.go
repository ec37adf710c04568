package walletkit

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Hash is an immutable, type-tagged chain hash: a transaction id, block id,
// or similar. Equality requires byte-identical payload within the same
// chain type.
type Hash struct {
	networkType NetworkType
	bytes       []byte
}

// NewHash constructs a Hash from raw chain-specific bytes. The handler for
// networkType owns the byte layout (big vs little endian, length).
func NewHash(networkType NetworkType, raw []byte) *Hash {
	b := make([]byte, len(raw))
	copy(b, raw)
	return &Hash{networkType: networkType, bytes: b}
}

func (h *Hash) NetworkType() NetworkType { return h.networkType }

// Bytes returns a copy of the raw chain-specific bytes.
func (h *Hash) Bytes() []byte {
	b := make([]byte, len(h.bytes))
	copy(b, h.bytes)
	return b
}

// String renders the hash as lowercase hex, which is the encoding every
// handler in this module uses on the wire and in persisted filenames.
func (h *Hash) String() string {
	return hex.EncodeToString(h.bytes)
}

// ParseHash decodes a hex string produced by String back into a Hash.
func ParseHash(networkType NetworkType, s string) (*Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("walletkit: parse hash %q: %w", s, err)
	}
	return NewHash(networkType, b), nil
}

// Equal reports byte-identical payload on the same chain type.
func (h *Hash) Equal(other *Hash) bool {
	if h == nil || other == nil {
		return h == other
	}
	return h.networkType == other.networkType && bytes.Equal(h.bytes, other.bytes)
}
