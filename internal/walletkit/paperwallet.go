package walletkit

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// PaperWallet is an exportable, print-ready key pair: a WIF-encoded private
// key and its corresponding address, generated once and never re-derived
// from the account's seed (a paper wallet is meant to live outside the HD
// tree so its compromise does not implicate the rest of the account).
type PaperWallet struct {
	NetworkType NetworkType
	Address     *Address
	WIF         string
}

// NewPaperWallet generates a fresh random key pair for networkType and
// renders it as a PaperWallet. isTestnet selects WIF/address version bytes.
func NewPaperWallet(networkType NetworkType, isTestnet bool) (*PaperWallet, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("walletkit: generate paper wallet key: %w", err)
	}

	params := &chaincfg.MainNetParams
	if isTestnet {
		params = &chaincfg.TestNet3Params
	}

	wif, err := btcutil.NewWIF(priv, params, true)
	if err != nil {
		return nil, fmt.Errorf("walletkit: encode WIF: %w", err)
	}

	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(priv.PubKey().SerializeCompressed()), params)
	if err != nil {
		return nil, fmt.Errorf("walletkit: encode address: %w", err)
	}

	return &PaperWallet{
		NetworkType: networkType,
		Address:     NewAddress(networkType, SchemeLegacy, addr.EncodeAddress()),
		WIF:         wif.String(),
	}, nil
}

// ImportPaperWallet parses a previously exported WIF string back into its
// key material's address, so an embedder can verify a paper wallet before
// sweeping it.
func ImportPaperWallet(networkType NetworkType, wifStr string, isTestnet bool) (*PaperWallet, error) {
	params := &chaincfg.MainNetParams
	if isTestnet {
		params = &chaincfg.TestNet3Params
	}

	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, fmt.Errorf("walletkit: decode WIF: %w", err)
	}

	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(wif.PrivKey.PubKey().SerializeCompressed()), params)
	if err != nil {
		return nil, fmt.Errorf("walletkit: encode address: %w", err)
	}

	return &PaperWallet{
		NetworkType: networkType,
		Address:     NewAddress(networkType, SchemeLegacy, addr.EncodeAddress()),
		WIF:         wifStr,
	}, nil
}
