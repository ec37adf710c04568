package walletkit

import (
	"strings"
	"testing"
)

func TestETHHandlerRegistered(t *testing.T) {
	h, ok := GetHandler(NetworkETH)
	if !ok {
		t.Fatalf("expected ETH handler to be registered")
	}
	if h.LedgerModel != LedgerAccount {
		t.Errorf("expected ETH to use the account ledger model")
	}
	if h.Transfer.MinimumConfirmations() != 12 {
		t.Errorf("expected 12 minimum confirmations for ETH, got %d", h.Transfer.MinimumConfirmations())
	}
}

func TestETHDeriveAddressIsChecksummedHex(t *testing.T) {
	h := MustGetHandler(NetworkETH)
	material, err := h.Account.DerivePublicMaterial(testSeed())
	if err != nil {
		t.Fatalf("unexpected error deriving material: %v", err)
	}

	addr, err := h.Address.DeriveAddress(material, SchemeDefault, 0, false)
	if err != nil {
		t.Fatalf("unexpected error deriving address: %v", err)
	}
	if !strings.HasPrefix(addr.String(), "0x") {
		t.Errorf("expected 0x-prefixed hex address, got %q", addr.String())
	}
	if len(addr.String()) != 42 {
		t.Errorf("expected a 20-byte hex address (42 chars with 0x prefix), got %d", len(addr.String()))
	}
	if !h.Address.ValidateAddress(addr.String()) {
		t.Errorf("expected derived address to validate")
	}
	if h.Address.ValidateAddress("not-an-address") {
		t.Errorf("expected an invalid address to be rejected")
	}
}

func TestETHDeriveAddressDeterministicPerIndex(t *testing.T) {
	h := MustGetHandler(NetworkETH)
	material, err := h.Account.DerivePublicMaterial(testSeed())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	addr0a, err := h.Address.DeriveAddress(material, SchemeDefault, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	addr0b, err := h.Address.DeriveAddress(material, SchemeDefault, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr0a.String() != addr0b.String() {
		t.Errorf("expected the same index to derive the same address twice")
	}

	addr1, err := h.Address.DeriveAddress(material, SchemeDefault, 1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr0a.String() == addr1.String() {
		t.Errorf("expected different indices to derive different addresses")
	}
}
