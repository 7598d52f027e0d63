// Package interfaces defines the contracts and shared types of the wallet
// key-management core, keeping the TA-side packages and the host-side packages
// decoupled from each other's implementations.
//
// # Storage
//
//   - SecureStore: namespaced key-value storage for sealed wallet state
//
// # Key management
//
//   - FactorySeedSource: supplies the per-device factory seed
//   - AccountSigner: hybrid-account address derivation and digest signing
//
// # Wire types
//
// Command identifiers and the CBOR payloads exchanged between the host and
// the trusted application live in protocol.go. The host-facing wallet request
// and response envelopes live in wallet_protocol.go.
//
// # Errors
//
// errors.go carries the sentinel errors every component wraps with %w, so
// callers can classify failures with errors.Is regardless of which layer
// produced them.
package interfaces
