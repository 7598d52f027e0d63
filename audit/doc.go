// Package audit records security-relevant events of the wallet core.
//
// A Logger fans each Entry out to its sinks (console, append-only file,
// encrypted file, slog) and keeps the most recent entries in a ring buffer
// for in-process queries such as SecurityEvents and EventsByComponent.
//
// Sink failures are reported on a fallback writer (stderr by default) and
// never propagate to the operation being audited.
//
// Entries describe what happened, never the secrets involved: signing events
// carry the digest, key generation events carry sizes and timings.
package audit
