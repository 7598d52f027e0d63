package interfaces

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultHDPath is the first Ethereum account under BIP44.
const DefaultHDPath = "m/44'/60'/0'/0/0"

// EthTransaction is a legacy (pre EIP-1559) Ethereum transaction as accepted
// for signing. Amounts are big-endian unsigned integers on the wire.
type EthTransaction struct {
	ChainID  uint64          `cbor:"1,keyasint" json:"chain_id"`
	Nonce    uint64          `cbor:"2,keyasint" json:"nonce"`
	GasPrice *big.Int        `cbor:"3,keyasint" json:"gas_price"`
	Gas      uint64          `cbor:"4,keyasint" json:"gas"`
	To       *common.Address `cbor:"5,keyasint,omitempty" json:"to,omitempty"`
	Value    *big.Int        `cbor:"6,keyasint" json:"value"`
	Data     []byte          `cbor:"7,keyasint,omitempty" json:"data,omitempty"`
}

// Validate checks the fields that cannot be defaulted.
func (tx *EthTransaction) Validate() error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", ErrInvalidInput)
	}
	if tx.ChainID == 0 {
		return fmt.Errorf("%w: chain id must be non-zero", ErrInvalidInput)
	}
	if tx.GasPrice != nil && tx.GasPrice.Sign() < 0 {
		return fmt.Errorf("%w: negative gas price", ErrInvalidInput)
	}
	if tx.Value != nil && tx.Value.Sign() < 0 {
		return fmt.Errorf("%w: negative value", ErrInvalidInput)
	}
	return nil
}

// WalletInfo is the public, non-secret view of a wallet.
type WalletInfo struct {
	WalletID         string `cbor:"1,keyasint" json:"wallet_id"`
	CreatedAt        int64  `cbor:"2,keyasint" json:"created_at"`
	LastUsedAt       int64  `cbor:"3,keyasint" json:"last_used_at"`
	DerivationsCount uint32 `cbor:"4,keyasint" json:"derivations_count"`
}
