package walletkit

import (
	"bytes"
	"testing"
	"time"
)

func testSeed() []byte {
	seed := make([]byte, 64)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return seed
}

func TestAccountRoundTripsThroughSerialization(t *testing.T) {
	acct, err := NewAccountFromSeed(testSeed(), time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("unexpected error deriving account: %v", err)
	}
	if acct.Uids() == "" {
		t.Fatalf("expected a non-empty uids")
	}

	encoded := acct.Serialize()
	decoded, err := DeserializeAccount(encoded)
	if err != nil {
		t.Fatalf("unexpected error deserializing: %v", err)
	}

	if decoded.Uids() != acct.Uids() {
		t.Errorf("expected uids to round-trip, got %q want %q", decoded.Uids(), acct.Uids())
	}
	if !decoded.Timestamp().Equal(acct.Timestamp()) {
		t.Errorf("expected timestamp to round-trip, got %v want %v", decoded.Timestamp(), acct.Timestamp())
	}
	if !ValidateSerialization(acct, encoded) {
		t.Errorf("expected ValidateSerialization to accept a fresh serialization")
	}

	for _, nt := range RegisteredTypes() {
		want, ok := acct.PublicMaterial(nt)
		if !ok {
			continue
		}
		got, ok := decoded.PublicMaterial(nt)
		if !ok || !bytes.Equal(got, want) {
			t.Errorf("material for %s did not round-trip", nt)
		}
	}
}

func TestAccountDeserializeRejectsCorruptedChecksum(t *testing.T) {
	acct, err := NewAccountFromSeed(testSeed(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	encoded := acct.Serialize()

	corrupted := make([]byte, len(encoded))
	copy(corrupted, encoded)
	corrupted[len(corrupted)-1] ^= 0xFF

	if _, err := DeserializeAccount(corrupted); err == nil {
		t.Errorf("expected checksum mismatch to be rejected")
	}
	if ValidateSerialization(acct, corrupted) {
		t.Errorf("expected ValidateSerialization to reject a corrupted serialization")
	}
}

func TestAccountDeserializeRejectsTruncatedInput(t *testing.T) {
	acct, err := NewAccountFromSeed(testSeed(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	encoded := acct.Serialize()

	if _, err := DeserializeAccount(encoded[:len(encoded)-10]); err == nil {
		t.Errorf("expected truncated serialization to be rejected")
	}
}

func TestAccountDeserializeRejectsUnsupportedVersion(t *testing.T) {
	if _, err := DeserializeAccount([]byte{0x00, 0x00}); err == nil {
		t.Errorf("expected too-short input to be rejected")
	}
}

func TestAccountSeedLengthValidated(t *testing.T) {
	if _, err := NewAccountFromSeed(make([]byte, 32), time.Now()); err == nil {
		t.Errorf("expected a non-64-byte seed to be rejected")
	}
}
