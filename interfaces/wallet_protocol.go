package interfaces

// WalletCommandType names a host-facing wallet command.
type WalletCommandType string

const (
	WalletCreate          WalletCommandType = "create_wallet"
	WalletDeriveAddress   WalletCommandType = "derive_address"
	WalletSignTransaction WalletCommandType = "sign_transaction"
	WalletRemove          WalletCommandType = "remove_wallet"
)

// WalletCommand is the tagged union of host-facing commands. Fields not used
// by Type are ignored.
type WalletCommand struct {
	Type     WalletCommandType `json:"type"`
	WalletID string            `json:"wallet_id,omitempty"`
	HDPath   string            `json:"hd_path,omitempty"`
	// TxBytes is the CBOR encoding of an EthTransaction.
	TxBytes []byte `json:"tx_bytes,omitempty"`
	// RecipientPublicKey is a PEM-encoded P-256 key used to encrypt the
	// mnemonic returned by create_wallet.
	RecipientPublicKey string `json:"recipient_public_key,omitempty"`
}

// WalletRequest wraps a command with a caller-chosen correlation id.
type WalletRequest struct {
	RequestID string        `json:"request_id"`
	Command   WalletCommand `json:"command"`
}

// WalletResponse carries the outcome of a WalletCommand. On failure Success is
// false and Error holds a message free of secret material.
type WalletResponse struct {
	Type              WalletCommandType `json:"type"`
	Success           bool              `json:"success"`
	WalletID          string            `json:"wallet_id,omitempty"`
	Mnemonic          string            `json:"mnemonic,omitempty"`
	EncryptedMnemonic []byte            `json:"encrypted_mnemonic,omitempty"`
	Address           string            `json:"address,omitempty"`
	PublicKey         string            `json:"public_key,omitempty"`
	Signature         string            `json:"signature,omitempty"`
	RawTransaction    string            `json:"raw_transaction,omitempty"`
	Error             string            `json:"error,omitempty"`
}

// WalletResponseEnvelope echoes the request id of the originating request.
type WalletResponseEnvelope struct {
	RequestID string         `json:"request_id"`
	Response  WalletResponse `json:"response"`
}
