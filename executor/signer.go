package executor

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer wraps the process-wide private key every submission signs with
// (spec.md §9 "Global state... initialised once at startup and immutable
// thereafter; thread through constructors rather than relying on ambient
// context").
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	eip155  types.Signer
}

// NewSigner loads a hex-encoded secp256k1 private key and binds it to a
// chain id.
func NewSigner(privateKeyHex string, chainID *big.Int) (*Signer, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		eip155:  types.NewEIP155Signer(chainID),
	}, nil
}

// Address returns the signer's on-chain address.
func (s *Signer) Address() common.Address { return s.address }

// SignLegacyTx signs a fixed-gas legacy transaction. Both executors pin gas
// limit and gas price per spec.md §4.6/§4.7/§4.8 ("gas limit 1,500,000, gas
// price 1 Gwei"), so the caller supplies only nonce, target and calldata.
func (s *Signer) SignLegacyTx(nonce uint64, to common.Address, data []byte) (*types.Transaction, error) {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      GasLimit,
		GasPrice: GasPriceWei,
		Data:     data,
	})
	signed, err := types.SignTx(tx, s.eip155, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// GasLimit and GasPriceWei are fixed for every liquidation submission, pooled
// and CDP alike (spec.md §4.6, §4.7, §4.8).
const GasLimit = uint64(1_500_000)

var GasPriceWei = big.NewInt(1_000_000_000) // 1 Gwei
