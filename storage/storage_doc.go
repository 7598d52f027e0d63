// Package storage provides the persistence backends behind
// interfaces.SecureStore.
//
// Wallet records, the wallet index and hybrid account records are stored as
// opaque blobs under slash-separated keys ("wallets/<id>", "accounts/index").
// Backends never interpret the values. Secrets are expected to reach a
// backend already sealed, either by the caller or by wrapping the backend in
// a SealedStore.
//
// # Location URIs
//
// Backends are configured with location URIs:
//
//	memory://
//	file:///var/lib/walletd/store
//	sqlite:///var/lib/walletd/wallets.db
//	vault://vault.internal:8200/secret/walletd
//	s3://bucket-name/walletd?region=us-west-2
//
// StoreFactory.CreateMultiStore combines several locations into a MultiStore
// that writes to every reachable backend and reads from the first one that
// has the key.
package storage
