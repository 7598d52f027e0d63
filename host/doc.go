// Package host is the untrusted side of the TA boundary.
//
// SessionManager opens TA sessions through a Transport, serialises commands
// per session and expires idle sessions. WalletClient builds the
// host-facing JSON wallet protocol on top of it.
package host
