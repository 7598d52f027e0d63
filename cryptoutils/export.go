package cryptoutils

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
)

const exportPurpose = "wallet-export-v1"

// EncryptForRecipient encrypts data to a P-256 public key in PKIX PEM form
// (ECIES: ephemeral ECDH, HKDF-SHA256, AES-256-GCM). It is used to hand
// secret exports such as mnemonics to a recipient outside the TEE.
//
// Output format: [ephemeral key length (2 bytes)][ephemeral key][nonce][ciphertext]
func EncryptForRecipient(publicKeyPEM []byte, data []byte) ([]byte, error) {
	recipient, err := parseRecipientKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	shared, err := ephemeral.ECDH(recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to agree on shared secret: %w", err)
	}

	ephemeralPub := ephemeral.PublicKey().Bytes()
	key, err := DeriveSubkey(shared, ephemeralPub, exportPurpose, 32)
	if err != nil {
		return nil, err
	}
	sealed, err := SealAESGCM(key, data, ephemeralPub)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 2, 2+len(ephemeralPub)+len(sealed))
	binary.BigEndian.PutUint16(out, uint16(len(ephemeralPub)))
	out = append(out, ephemeralPub...)
	return append(out, sealed...), nil
}

// DecryptAsRecipient reverses EncryptForRecipient with the recipient's
// SEC1 ("EC PRIVATE KEY") or PKCS#8 private key PEM.
func DecryptAsRecipient(privateKeyPEM []byte, encrypted []byte) ([]byte, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}
	var priv *ecdsa.PrivateKey
	if k, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		priv = k
	} else {
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		var ok bool
		if priv, ok = parsed.(*ecdsa.PrivateKey); !ok {
			return nil, errors.New("not an ECDSA private key")
		}
	}
	ecdhPriv, err := priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("unsupported private key: %w", err)
	}

	if len(encrypted) < 2 {
		return nil, errors.New("encrypted data too short")
	}
	keyLen := int(binary.BigEndian.Uint16(encrypted[:2]))
	if len(encrypted) < 2+keyLen {
		return nil, errors.New("encrypted data has invalid format")
	}
	ephemeralPub := encrypted[2 : 2+keyLen]
	peer, err := ecdh.P256().NewPublicKey(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ephemeral public key: %w", err)
	}
	shared, err := ecdhPriv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("failed to agree on shared secret: %w", err)
	}
	key, err := DeriveSubkey(shared, ephemeralPub, exportPurpose, 32)
	if err != nil {
		return nil, err
	}
	return OpenAESGCM(key, encrypted[2+keyLen:], ephemeralPub)
}

func parseRecipientKey(publicKeyPEM []byte) (*ecdh.PublicKey, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA public key")
	}
	return pub.ECDH()
}

// ValidateRecipientKey reports whether publicKeyPEM is usable with
// EncryptForRecipient.
func ValidateRecipientKey(publicKeyPEM []byte) error {
	_, err := parseRecipientKey(publicKeyPEM)
	return err
}
