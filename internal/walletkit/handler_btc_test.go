package walletkit

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/walletcore/internal/chain"
)

func TestBTCHandlerRegistered(t *testing.T) {
	h, ok := GetHandler(NetworkBTC)
	if !ok {
		t.Fatalf("expected BTC handler to be registered")
	}
	if h.LedgerModel != LedgerUTXO {
		t.Errorf("expected BTC to use the UTXO ledger model")
	}
	if h.Transfer.MinimumConfirmations() != 6 {
		t.Errorf("expected 6 minimum confirmations for BTC, got %d", h.Transfer.MinimumConfirmations())
	}
}

func TestBTCDeriveAddressIsDeterministicAndSchemeVaries(t *testing.T) {
	h := MustGetHandler(NetworkBTC)
	material, err := h.Account.DerivePublicMaterial(testSeed())
	if err != nil {
		t.Fatalf("unexpected error deriving material: %v", err)
	}

	addr1, err := h.Address.DeriveAddress(material, SchemeSegWit, 0, false)
	if err != nil {
		t.Fatalf("unexpected error deriving address: %v", err)
	}
	addr2, err := h.Address.DeriveAddress(material, SchemeSegWit, 0, false)
	if err != nil {
		t.Fatalf("unexpected error deriving address: %v", err)
	}
	if addr1.String() != addr2.String() {
		t.Errorf("expected deterministic derivation, got %q then %q", addr1.String(), addr2.String())
	}

	legacy, err := h.Address.DeriveAddress(material, SchemeLegacy, 0, false)
	if err != nil {
		t.Fatalf("unexpected error deriving legacy address: %v", err)
	}
	if legacy.String() == addr1.String() {
		t.Errorf("expected legacy and segwit renderings of the same key to differ")
	}

	if !h.Address.ValidateAddress(addr1.String()) {
		t.Errorf("expected a derived segwit address to validate")
	}
	if h.Address.ValidateAddress("not-a-valid-address") {
		t.Errorf("expected an invalid address string to be rejected")
	}
}

func TestBTCDeriveAddressInternalChainDiffers(t *testing.T) {
	h := MustGetHandler(NetworkBTC)
	material, err := h.Account.DerivePublicMaterial(testSeed())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	external, err := h.Address.DeriveAddress(material, SchemeSegWit, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	internal, err := h.Address.DeriveAddress(material, SchemeSegWit, 0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if external.String() == internal.String() {
		t.Errorf("expected external and internal chain addresses to differ")
	}
}

func TestBTCFeeHandlerComputesExactFee(t *testing.T) {
	h := MustGetHandler(NetworkBTC)
	c := NewCurrency("bitcoin", "BTC", "Bitcoin")
	base := NewUnitAsBase(c, "SAT", "Satoshi", "sat")
	price, _ := NewAmountFromInt64(15, base)

	fb, err := h.Fee.EstimateFeeBasis(price, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fee, ok := fb.Fee()
	if !ok {
		t.Fatalf("expected fee computation to succeed")
	}
	if fee.BaseInt().Int64() != 3000 {
		t.Errorf("expected fee 15*200=3000, got %s", fee.BaseInt().String())
	}
}

// TestBTCUTXOBalanceStableAcrossFeedOrder exercises the 4 real testnet
// transactions from testCrypto.c's transferTests[] (mnemonic "ginger settle
// marine tissue robot crane night number ramp coast roast critic") the way
// transferTestsBalance() does: compute the resulting UTXO set 3 different
// ways (everything at once, one at a time forward, one at a time reverse)
// and assert they all converge on the same balance. tx2 spends tx0's
// output and tx3 spends tx1's and tx2's outputs, so the reverse feed order
// genuinely exercises spending a UTXO before its funding transaction has
// been registered.
func TestBTCUTXOBalanceStableAcrossFeedOrder(t *testing.T) {
	rawHexes := []string{
		// recv 200000000 at mm7DDq...
		"01000000000101c4e3cb5f65d651d4c4c80c5ebdf0d8fa6360e9637f4ac8f624cbf56a1f32b5f10100000017160014bc755823b44e38d765020cd944e668c8992e86feffffffff0200c2eb0b000000001976a9143d533b77b6c288b41c7d94859401e201dcb188b488ac433838220b00000017a91486619a6825cbb20976e75b3563f4795cf2ceff53870247304402203ff43de94394e3ceb7227da8517e98d1364b4711eccda773ba1379faef36ccb00220586c62ef88b7603c74a5a061cb1019523e0b4d1b0fcd65a4cc909bea65ab914a0121023ceb81082ba53a11ab5ab5591f103f43c518fb10770a0876666a4aa569e9254000000000",
		// recv 100000000 at mm7DDq...
		"01000000000101b52458f98187f71e5056660ae74a255242d95b08ce305dd66c8ef39e464adc2501000000171600149c89b47eef6454e350a8da516e4b78f0156ed94fffffffff0200e1f505000000001976a9143d533b77b6c288b41c7d94859401e201dcb188b488accc09457b0a00000017a9149e720b9c90893dd69e23957294501e756b47a2d78702483045022100f355621b5203ebe40b80a0f5050fa6f225b5c8c7d5e00cb2530444a40d13da47022041bcb9e865beb6d8b54ac0a2fa0e0334b61eaf43d4dab8fb32670c701dd84d0f012103c2ed9a20ee302c26674211f9dbf775cc17cacbdb1f8625a5f14930cc5c1ee96700000000",
		// spends tx0's output; sends to 2N8hwP..., change 199395200 to mfpbW4...
		"01000000015f74a32f699ac476d4d75f200c27424d0dddf401b1b8fd7feefee065c759b30e000000006a47304402203eb5187c9e2463faa8bcf55fa461116c18c75cf2556205ba096fc482dde8e55d02203666c48b47abf7a244f40b6eaf0a80d9eb7e52d451234f37cb8c1fc45c7ae60a012102919c3832438df35734c714f76e7dc4a8c1b2f81812c3a08c99ef14cac4c14394ffffffff028087e20b000000001976a91403562150956f194d2dba88a271f2feabecc2102b88acc02709000000000017a914a9974100aeee974a20cda9a2f545704a0ab54fdc8700000000",
		// spends tx1's and tx2's outputs; sends to mvdGvb..., change to mwEdSY...
		"01000000026d0257b048f71ad16266143492abe415e1316484192872d904def9a9d355d0ee000000006b4830450221009766181ecbc32fb9b5b08d7fe48f16067d8171695ba8fd15dc4eba310e00f54e02204bef6b60dc9e3c9b4c39a5b5751db6c50c348fd14ac39e97b4aba730314d5ffc012102919c3832438df35734c714f76e7dc4a8c1b2f81812c3a08c99ef14cac4c14394ffffffffea8154e5507630fe937a5ad76600a398da15ff60f9ad9f406f830cf3be9cab16000000006a4730440220765a9e2374b39b92b8da8b3c634622241483e5cece3815c92400d2f4fbfd9c1402200aa22d2435d5ff7e5404f96377100f26d6630e9404fb2c2c8e8ff3bd5c594b9d012102b173d5f2f39cdb935ba149d464e9d659726674df92430d82c56648fed56fce33ffffffff02a878e20b000000001976a914ac6b9e72cd4b52483241d1ca4dc796af619206fb88ac00e1f505000000001976a914a5bbef25bb37f8a87322a915225b7b3b1e6e6bd788ac00000000",
	}

	var txs []*wire.MsgTx
	for i, h := range rawHexes {
		raw, err := hex.DecodeString(h)
		if err != nil {
			t.Fatalf("tx %d: failed to decode hex: %v", i, err)
		}
		tx := wire.NewMsgTx(wire.TxVersion)
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			t.Fatalf("tx %d: failed to deserialize: %v", i, err)
		}
		txs = append(txs, tx)
	}

	params, ok := chain.Get("BTC", chain.Testnet)
	if !ok {
		t.Fatalf("expected BTC testnet chain params to be registered")
	}
	cfgParams := chaincfgParams(params)

	// This wallet's own addresses across the 4 transactions: the external
	// receiving address reused for both incoming payments, plus the two
	// internal change addresses its own later sends return leftover
	// funds to. Knowing which addresses are ours is external wallet
	// state a real HD wallet discovers via gap-limit address scanning
	// against its own account key, not something recoverable from a
	// single isolated transaction's bytes; the balances and spend
	// relationships this test exercises, by contrast, come entirely from
	// decoding the real raw transactions above.
	mineAddrs := map[string]bool{
		"mm7DDqVkFd35XcWecFipfTYM5dByBzn7nq": true,
		"mfpbW4DXp3T7JBAKFWijHX96cktfWPR9z3": true,
		"mwEdSYVjXMCAkGZG2DRaaha1JedTh3s2u8": true,
	}
	isOurs := func(out *wire.TxOut) bool {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, cfgParams)
		if err != nil || len(addrs) != 1 {
			return false
		}
		return mineAddrs[addrs[0].EncodeAddress()]
	}

	sum := func(utxos map[string]int64) int64 {
		var total int64
		for _, v := range utxos {
			total += v
		}
		return total
	}

	// batch processes every output across the whole set before removing
	// any spent ones, so list order cannot make a spend race its own
	// funding transaction.
	batch := func(order []*wire.MsgTx) int64 {
		utxos := map[string]int64{}
		for _, tx := range order {
			txid := tx.TxHash().String()
			for vout, out := range tx.TxOut {
				if isOurs(out) {
					utxos[fmt.Sprintf("%s:%d", txid, vout)] = out.Value
				}
			}
		}
		for _, tx := range order {
			for _, in := range tx.TxIn {
				delete(utxos, fmt.Sprintf("%s:%d", in.PreviousOutPoint.Hash.String(), in.PreviousOutPoint.Index))
			}
		}
		return sum(utxos)
	}

	// incremental registers transactions one at a time in the given
	// order; spent tracks a prevout as gone even if its funding
	// transaction has not been registered yet, so a forward-reference
	// spend (reverse order hits tx2/tx3 before tx0/tx1) is handled
	// correctly instead of leaking a UTXO that later turns out spent.
	incremental := func(order []*wire.MsgTx) int64 {
		utxos := map[string]int64{}
		spent := map[string]bool{}
		for _, tx := range order {
			txid := tx.TxHash().String()
			for vout, out := range tx.TxOut {
				key := fmt.Sprintf("%s:%d", txid, vout)
				if spent[key] || !isOurs(out) {
					continue
				}
				utxos[key] = out.Value
			}
			for _, in := range tx.TxIn {
				key := fmt.Sprintf("%s:%d", in.PreviousOutPoint.Hash.String(), in.PreviousOutPoint.Index)
				delete(utxos, key)
				spent[key] = true
			}
		}
		return sum(utxos)
	}

	reversed := make([]*wire.MsgTx, len(txs))
	for i, tx := range txs {
		reversed[len(txs)-1-i] = tx
	}

	allAtOnce := batch(txs)
	forward := incremental(txs)
	reverse := incremental(reversed)

	if allAtOnce == 0 {
		t.Fatalf("expected a non-zero balance from the 4 real transactions")
	}
	if forward != allAtOnce {
		t.Errorf("expected forward-order balance %d to match all-at-once balance %d", forward, allAtOnce)
	}
	if reverse != allAtOnce {
		t.Errorf("expected reverse-order balance %d to match all-at-once balance %d", reverse, allAtOnce)
	}
}
