// Package kms derives and uses the hybrid account keys held inside the TEE.
//
// A HybridEntropyEngine combines three inputs into every account key:
//
//   - a 32-byte factory seed provisioned with the device (FactorySeedSource)
//   - a 32-byte TEE random drawn from the hardware RNG
//   - the account's user email and passkey public key
//
// The derivation input is assembled in locked scratch memory and hashed with
// SHA-256 to produce a secp256k1 private key. Neither the factory seed nor any
// derived key ever leaves the engine; callers receive addresses and
// signatures only.
//
// Both entropy sources are checked on Initialize. An all-zero source or one
// whose bit balance falls outside [64, 192] set bits is rejected with
// interfaces.ErrInsufficientEntropy and audited as a security violation.
//
// # Accounts
//
// AccountRegistry persists HybridAccount records in an interfaces.SecureStore.
// Each account keeps its own TEE random, so its key can be re-derived after a
// restart with DeriveUserAccountKeyWithRandom. The store must be sealed (see
// storage.SealedStore) since records contain that random.
//
// # Sealing keys
//
// SealingKey derives purpose-bound 32-byte keys from the factory seed with
// HKDF-SHA256. walletd uses them to seal its storage backends.
package kms
