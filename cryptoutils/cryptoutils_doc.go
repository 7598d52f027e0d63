// Package cryptoutils provides the symmetric sealing and export primitives
// shared by the storage and audit layers.
//
// # Sealing
//
// SealAESGCM/OpenAESGCM protect wallet blobs at rest. SealXChaCha/OpenXChaCha
// protect encrypted audit records. Both emit the nonce as a prefix:
//
//	[nonce][ciphertext+tag]
//
// Additional data binds a ciphertext to its context (for example the store
// key it was written under), so blobs cannot be swapped between keys.
//
// # Key derivation
//
// DeriveSubkey expands a root secret (the factory seed inside the TEE) into
// independent purpose-bound keys with HKDF-SHA256.
//
// # Export
//
// EncryptForRecipient implements ECIES over P-256 (ephemeral ECDH,
// HKDF-SHA256, AES-256-GCM) for handing secret exports such as a freshly
// generated mnemonic to a recipient key held outside the TEE:
//
//	[ephemeral key length (2 bytes)][ephemeral key][nonce (12 bytes)][ciphertext]
package cryptoutils
