package kms

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/security"
)

// DefaultFactoryDomain is the derivation input of the non-hardware factory seed.
const DefaultFactoryDomain = "AirAccount-TestFactory-Seed-v1.0-SecureEntropy"

// Hamming-weight bounds for 256-bit entropy inputs.
const (
	minEntropyBits = 64
	maxEntropyBits = 192
)

// DomainFactorySeed derives a deterministic factory seed from a domain string
// for builds without programmed OTP fuses:
//
//	base    = SHA-256(domain)
//	seed[i] = base[i] ^ base[(i+16) % 32] ^ i ^ 0x5A
type DomainFactorySeed struct {
	Domain string
}

func (s DomainFactorySeed) FactorySeed() ([32]byte, error) {
	domain := s.Domain
	if domain == "" {
		domain = DefaultFactoryDomain
	}
	base := sha256.Sum256([]byte(domain))
	var seed [32]byte
	for i := range seed {
		seed[i] = base[i] ^ base[(i+16)%32] ^ byte(i) ^ 0x5A
	}
	return seed, nil
}

func (s DomainFactorySeed) Name() string { return "domain" }

// OTPFactorySeed reads the 32-byte seed from a fuse image, such as a device
// node or a file exported by the secure monitor.
type OTPFactorySeed struct {
	Path string
}

func (s OTPFactorySeed) FactorySeed() ([32]byte, error) {
	var seed [32]byte
	f, err := os.Open(s.Path)
	if err != nil {
		return seed, fmt.Errorf("failed to open OTP image: %w", err)
	}
	defer f.Close()
	if _, err := io.ReadFull(f, seed[:]); err != nil {
		return seed, fmt.Errorf("failed to read OTP image: %w", err)
	}
	return seed, nil
}

func (s OTPFactorySeed) Name() string { return "otp" }

var _ interfaces.FactorySeedSource = DomainFactorySeed{}
var _ interfaces.FactorySeedSource = OTPFactorySeed{}

var (
	errAllZero    = errors.New("all-zero value")
	errBitBalance = errors.New("hamming weight outside acceptable range")
)

// checkEntropy rejects all-zero inputs and inputs whose Hamming weight falls
// outside [64, 192] bits.
func checkEntropy(b []byte) error {
	zero := make([]byte, len(b))
	if security.ConstantTimeEq(b, zero) {
		return errAllZero
	}
	if w := security.HammingWeight(b); w < minEntropyBits || w > maxEntropyBits {
		return fmt.Errorf("%w: %d bits set", errBitBalance, w)
	}
	return nil
}
