package walletkit

import "testing"

func testTransferUnit() *Unit {
	c := NewCurrency("test-btc", "BTC", "Bitcoin")
	return NewUnitAsBase(c, "SAT", "Satoshi", "sat")
}

func testTransfer() *Transfer {
	unit := testTransferUnit()
	amount, _ := NewAmountFromInt64(1000, unit)
	src := NewAddress(NetworkBTC, SchemeSegWit, "bc1qsrc")
	dst := NewAddress(NetworkBTC, SchemeSegWit, "bc1qdst")
	return NewTransfer("txid:0", Ref[Wallet]{}, src, dst, amount, DirectionSent, nil)
}

func TestTransferLegalTransitions(t *testing.T) {
	tr := testTransfer()

	changed, err := tr.TransitionTo(TransferStatus{Kind: TransferSigned})
	if err != nil || !changed {
		t.Fatalf("CREATED -> SIGNED should be legal, got changed=%v err=%v", changed, err)
	}

	changed, err = tr.TransitionTo(TransferStatus{Kind: TransferSubmitted})
	if err != nil || !changed {
		t.Fatalf("SIGNED -> SUBMITTED should be legal, got changed=%v err=%v", changed, err)
	}

	if _, err := tr.TransitionTo(TransferStatus{Kind: TransferIncluded}); err == nil {
		t.Errorf("expected SUBMITTED -> INCLUDED with nil IncludedInfo to fail")
	}

	changed, err = tr.TransitionTo(TransferStatus{
		Kind:     TransferIncluded,
		Included: &IncludedInfo{BlockNumber: 100, IncludeStatus: IncludeSuccess},
	})
	if err != nil || !changed {
		t.Fatalf("SUBMITTED -> INCLUDED with payload should be legal, got changed=%v err=%v", changed, err)
	}
}

func TestTransferIllegalTransitionRejected(t *testing.T) {
	tr := testTransfer()

	if _, err := tr.TransitionTo(TransferStatus{Kind: TransferSubmitted}); err == nil {
		t.Errorf("expected CREATED -> SUBMITTED to be rejected")
	}
	if tr.Status().Kind != TransferCreated {
		t.Errorf("status must not change on a rejected transition")
	}
}

func TestTransferReorgFromIncludedToSubmitted(t *testing.T) {
	tr := testTransfer()
	tr.TransitionTo(TransferStatus{Kind: TransferSigned})
	tr.TransitionTo(TransferStatus{Kind: TransferSubmitted})
	tr.TransitionTo(TransferStatus{
		Kind:     TransferIncluded,
		Included: &IncludedInfo{BlockNumber: 10},
	})

	changed, err := tr.TransitionTo(TransferStatus{Kind: TransferSubmitted})
	if err != nil || !changed {
		t.Fatalf("INCLUDED -> SUBMITTED (re-org) should be legal, got changed=%v err=%v", changed, err)
	}
}

func TestTransferSameStateIsNoop(t *testing.T) {
	tr := testTransfer()
	changed, err := tr.TransitionTo(TransferStatus{Kind: TransferCreated})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Errorf("transitioning to the same kind must report changed=false")
	}
}

func TestTransferIncludeStatusDetailTruncated(t *testing.T) {
	tr := testTransfer()
	tr.TransitionTo(TransferStatus{Kind: TransferSigned})
	tr.TransitionTo(TransferStatus{Kind: TransferSubmitted})

	long := "this detail string is deliberately much longer than 31 bytes"
	_, err := tr.TransitionTo(TransferStatus{
		Kind: TransferIncluded,
		Included: &IncludedInfo{
			BlockNumber:         1,
			IncludeStatus:       IncludeSuccess,
			IncludeStatusDetail: long,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	detail := tr.Status().Included.IncludeStatusDetail
	if len(detail) != 31 {
		t.Errorf("expected truncation to 31 bytes, got %d (%q)", len(detail), detail)
	}
}

func TestTransferSetHashOnceThenIdempotent(t *testing.T) {
	tr := testTransfer()
	h1 := NewHash(NetworkBTC, []byte{1, 2, 3})
	h2 := NewHash(NetworkBTC, []byte{4, 5, 6})

	changed, ok := tr.SetHash(h1)
	if !changed || !ok {
		t.Fatalf("first SetHash should succeed and report changed")
	}

	changed, ok = tr.SetHash(h1)
	if changed || !ok {
		t.Fatalf("repeat SetHash with identical hash should be a no-op-true, got changed=%v ok=%v", changed, ok)
	}

	changed, ok = tr.SetHash(h2)
	if changed || ok {
		t.Fatalf("SetHash with a different hash after one is set must be rejected, got changed=%v ok=%v", changed, ok)
	}
}

func TestTransferAttributes(t *testing.T) {
	tr := testTransfer()
	if _, ok := tr.Attribute("destination-tag"); ok {
		t.Fatalf("expected no attribute set yet")
	}
	tr.SetAttribute("destination-tag", "12345")
	v, ok := tr.Attribute("destination-tag")
	if !ok || v != "12345" {
		t.Errorf("expected destination-tag=12345, got %q (ok=%v)", v, ok)
	}
}
