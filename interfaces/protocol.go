package interfaces

import "fmt"

// CommandID selects a trusted application handler.
type CommandID uint32

const (
	CmdHello      CommandID = 0
	CmdEcho       CommandID = 1
	CmdGetVersion CommandID = 2

	CmdCreateWallet    CommandID = 10
	CmdRemoveWallet    CommandID = 11
	CmdDeriveAddress   CommandID = 12
	CmdSignTransaction CommandID = 13
	CmdGetWalletInfo   CommandID = 14
	CmdListWallets     CommandID = 15
	CmdTestSecurity    CommandID = 16

	CmdCreateHybridAccount CommandID = 20
	CmdSignWithHybridKey   CommandID = 21
	CmdVerifySecurityState CommandID = 22
)

var commandNames = map[CommandID]string{
	CmdHello:               "hello",
	CmdEcho:                "echo",
	CmdGetVersion:          "get_version",
	CmdCreateWallet:        "create_wallet",
	CmdRemoveWallet:        "remove_wallet",
	CmdDeriveAddress:       "derive_address",
	CmdSignTransaction:     "sign_transaction",
	CmdGetWalletInfo:       "get_wallet_info",
	CmdListWallets:         "list_wallets",
	CmdTestSecurity:        "test_security",
	CmdCreateHybridAccount: "create_hybrid_account",
	CmdSignWithHybridKey:   "sign_with_hybrid_key",
	CmdVerifySecurityState: "verify_security_state",
}

func (c CommandID) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command_%d", uint32(c))
}

// Output buffer bounds for a single command invocation.
const (
	MinOutputBufferSize     = 1024
	MaxOutputBufferSize     = 4096
	DefaultOutputBufferSize = MaxOutputBufferSize
)

// Payloads exchanged through the TA parameter buffers, CBOR encoded with
// integer keys.

type HelloOutput struct {
	Message string `cbor:"1,keyasint"`
}

type EchoInput struct {
	Message string `cbor:"1,keyasint"`
}

type EchoOutput struct {
	Message string `cbor:"1,keyasint"`
}

type VersionOutput struct {
	Version   string `cbor:"1,keyasint"`
	BuildInfo string `cbor:"2,keyasint"`
}

// CreateWalletInput optionally names a recipient for the mnemonic export.
// With a PEM-encoded P-256 public key the phrase is returned only in
// encrypted form.
type CreateWalletInput struct {
	RecipientPublicKeyPEM []byte `cbor:"1,keyasint,omitempty"`
}

type CreateWalletOutput struct {
	WalletID          string `cbor:"1,keyasint"`
	Mnemonic          string `cbor:"2,keyasint,omitempty"`
	EncryptedMnemonic []byte `cbor:"3,keyasint,omitempty"`
}

type WalletIDInput struct {
	WalletID string `cbor:"1,keyasint"`
}

type RemoveWalletOutput struct {
	Removed bool `cbor:"1,keyasint"`
}

type DeriveAddressInput struct {
	WalletID string `cbor:"1,keyasint"`
	HDPath   string `cbor:"2,keyasint"`
}

type DeriveAddressOutput struct {
	Address   [20]byte `cbor:"1,keyasint"`
	PublicKey []byte   `cbor:"2,keyasint"`
}

type SignTransactionInput struct {
	WalletID    string         `cbor:"1,keyasint"`
	HDPath      string         `cbor:"2,keyasint"`
	Transaction EthTransaction `cbor:"3,keyasint"`
}

type SignTransactionOutput struct {
	Signature      []byte   `cbor:"1,keyasint"`
	RawTransaction []byte   `cbor:"2,keyasint"`
	TxHash         [32]byte `cbor:"3,keyasint"`
}

type ListWalletsOutput struct {
	WalletIDs []string `cbor:"1,keyasint"`
}

type TestSecurityOutput struct {
	Passed bool     `cbor:"1,keyasint"`
	Checks []string `cbor:"2,keyasint"`
}

type CreateHybridAccountInput struct {
	UserEmail        string `cbor:"1,keyasint"`
	PasskeyPublicKey []byte `cbor:"2,keyasint"`
	CredentialID     string `cbor:"3,keyasint,omitempty"`
}

type CreateHybridAccountOutput struct {
	AccountID       string   `cbor:"1,keyasint"`
	EthereumAddress [20]byte `cbor:"2,keyasint"`
	CreatedAt       int64    `cbor:"3,keyasint"`
}

type SignWithHybridKeyInput struct {
	AccountID       string   `cbor:"1,keyasint"`
	TransactionHash [32]byte `cbor:"2,keyasint"`
}

type SignWithHybridKeyOutput struct {
	Signature [65]byte `cbor:"1,keyasint"`
}

type VerifySecurityStateOutput struct {
	SecurityVerified bool   `cbor:"1,keyasint"`
	StatusMessage    string `cbor:"2,keyasint"`
}
