// Package common holds process-wide constants and logger setup.
package common

// Version is overridden at build time with -ldflags "-X .../common.Version=...".
var Version = "dev"

// PackageName is used as the metrics namespace and default log service.
const PackageName = "walletd"
