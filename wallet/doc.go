// Package wallet implements BIP39/BIP32 HD wallets whose keys never leave
// the process.
//
// A Core holds 32 bytes of entropy. Its mnemonic, 64-byte seed and every
// derived private key are rebuilt on demand and zeroed after use; the seed
// expansion can be shared through a seedcache.Cache. Addresses use the
// standard Ethereum scheme, Keccak-256 of the uncompressed public key, and
// transactions are signed as EIP-155 protected legacy transactions.
//
// Manager persists wallets in an interfaces.SecureStore. The store receives
// raw entropy and must be sealed.
package wallet
