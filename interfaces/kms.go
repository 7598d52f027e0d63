package interfaces

import "github.com/ethereum/go-ethereum/common"

// FactorySeedSource supplies the 32-byte per-device factory seed. Hardware
// builds read it from one-time-programmable fuses; other builds derive it
// deterministically.
type FactorySeedSource interface {
	FactorySeed() ([32]byte, error)
	Name() string
}

// AccountSigner signs 32-byte digests on behalf of hybrid accounts. The
// private key never leaves the implementation.
type AccountSigner interface {
	// DeriveAccountAddress returns the Ethereum address of the account key
	// derived from the user's identity and the supplied TEE random.
	DeriveAccountAddress(email string, passkeyPublicKey []byte, teeRandom []byte) (common.Address, error)

	// SignDigest returns a 65-byte r||s||v signature over digest.
	SignDigest(email string, passkeyPublicKey []byte, teeRandom []byte, digest []byte) ([65]byte, error)
}
