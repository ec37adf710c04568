package walletkit

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/walletcore/internal/chain"
)

type evmChainConfig struct {
	networkType NetworkType
	symbol      string
	network     chain.Network
}

type evmAccountHandler struct{ cfg evmChainConfig }

// DerivePublicMaterial derives the account-level extended public key
// (m/44'/60'/0') exactly as the UTXO handlers do; the same BIP32 account key
// format is reused since btcsuite's hdkeychain has no notion of EVM vs.
// UTXO, only of key paths.
func (h evmAccountHandler) DerivePublicMaterial(seed []byte) ([]byte, error) {
	params, ok := chain.Get(h.cfg.symbol, h.cfg.network)
	if !ok {
		return nil, fmt.Errorf("walletkit: no chain params for %s", h.cfg.symbol)
	}

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("walletkit: master key: %w", err)
	}
	purposeKey, err := master.Derive(hdkeychain.HardenedKeyStart + params.DefaultPurpose)
	if err != nil {
		return nil, fmt.Errorf("walletkit: derive purpose: %w", err)
	}
	coinKey, err := purposeKey.Derive(hdkeychain.HardenedKeyStart + params.CoinType)
	if err != nil {
		return nil, fmt.Errorf("walletkit: derive coin type: %w", err)
	}
	accountKey, err := coinKey.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, fmt.Errorf("walletkit: derive account: %w", err)
	}
	neutered, err := accountKey.Neuter()
	if err != nil {
		return nil, fmt.Errorf("walletkit: neuter account key: %w", err)
	}
	return []byte(neutered.String()), nil
}

type evmAddressHandler struct{ cfg evmChainConfig }

func (h evmAddressHandler) DefaultScheme() AddressScheme { return SchemeDefault }

// DeriveAddress derives change/index from the account public material and
// renders the standard EIP-55 checksummed hex address. isInternal has no
// meaning on account chains (there is one address per account index), but
// the path is still walked so index collisions with a UTXO-style caller
// behave consistently.
func (h evmAddressHandler) DeriveAddress(material []byte, scheme AddressScheme, index uint32, isInternal bool) (*Address, error) {
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

	uncompressed := pubKey.SerializeUncompressed()
	ecdsaPub, err := crypto.UnmarshalPubkey(uncompressed)
	if err != nil {
		return nil, fmt.Errorf("walletkit: invalid secp256k1 point from hdkeychain: %w", err)
	}
	ethAddr := crypto.PubkeyToAddress(*ecdsaPub)

	return NewAddress(h.cfg.networkType, SchemeDefault, ethAddr.Hex()), nil
}

func (h evmAddressHandler) ValidateAddress(encoded string) bool {
	return ethcommon.IsHexAddress(encoded)
}

type evmFeeHandler struct{ cfg evmChainConfig }

// EstimateFeeBasis treats costFactor as gas limit; price is gas price
// expressed as an Amount in the chain's base unit (wei).
func (h evmFeeHandler) EstimateFeeBasis(price *Amount, costFactor float64) (*FeeBasis, error) {
	return NewFeeBasisFromUnits(price, int64(costFactor), 1), nil
}

type evmTransferHandler struct{ minConfirmations uint64 }

func (h evmTransferHandler) MinimumConfirmations() uint64 { return h.minConfirmations }

func registerEVMHandler(cfg evmChainConfig, minConfirmations uint64) {
	RegisterHandler(&ChainHandler{
		NetworkType: cfg.networkType,
		LedgerModel: LedgerAccount,
		Account:     evmAccountHandler{cfg: cfg},
		Address:     evmAddressHandler{cfg: cfg},
		Fee:         evmFeeHandler{cfg: cfg},
		Transfer:    evmTransferHandler{minConfirmations: minConfirmations},
	})
}

// registerBuiltinEVMHandlers installs the EVM-family chain handlers. Called
// once from ensureBuiltinHandlersRegistered on first use of the registry, not
// from an init() function.
func registerBuiltinEVMHandlers() {
	registerEVMHandler(evmChainConfig{networkType: NetworkETH, symbol: "ETH", network: chain.Mainnet}, 12)
}
