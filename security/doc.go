// Package security provides the primitives every secret in the wallet core
// passes through.
//
// SecureBytes and SecureMemory hold secrets and zero them on Destroy (and,
// as a backstop, when garbage collected). Their String, Format and LogValue
// methods never reveal contents, so a secret accidentally passed to fmt or
// slog prints as a redacted placeholder.
//
// SecureRng is a ChaCha20 generator seeded once from the OS entropy source
// that ratchets its state on every fill. ConstantTimeEq compares secrets
// without data-dependent early exits.
//
// KeyDerivationManager derives keys from passwords with Argon2id, PBKDF2 or
// scrypt. Manager ties the primitives to the audit log: allocations,
// generator initialisation and violations are recorded there.
package security
