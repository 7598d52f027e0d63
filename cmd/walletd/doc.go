// Command walletd runs the wallet trusted application in-process behind the
// host session layer.
//
// `walletd serve` loads the configuration, brings the TA up against the
// configured stores and serves health, status and Prometheus metrics until
// interrupted. `walletd selftest` runs the same wiring against an in-memory
// store and drives one wallet through create, derive, sign and remove.
package main
