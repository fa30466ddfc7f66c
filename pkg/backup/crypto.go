package backup

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/lokivault/pkg/crypto"
)

const (
	// SaltLength is the length of the export salt in bytes.
	SaltLength = crypto.SaltLength

	// HMACLength is the length of the HMAC-SHA256 in bytes.
	HMACLength = sha256.Size

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = crypto.KeyLength
)

// HKDF info strings for key derivation.
const (
	hkdfInfoEncryption = "lokivault-export-encryption"
	hkdfInfoMAC        = "lokivault-export-mac"
)

// deriveKeys derives independent encryption and MAC keys from the export
// password.
func deriveKeys(password string, kdf KDFParams) (encKey, macKey []byte, err error) {
	if password == "" {
		return nil, nil, ErrEmptyPassword
	}

	masterKey, err := crypto.DeriveKey(password, kdf.Salt, kdf.Iterations, kdf.KeyLength)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(masterKey)

	encKey, err = deriveHKDF(masterKey, hkdfInfoEncryption)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: failed to derive encryption key: %w", err)
	}
	macKey, err = deriveHKDF(masterKey, hkdfInfoMAC)
	if err != nil {
		crypto.SecureWipe(encKey)
		return nil, nil, fmt.Errorf("backup: failed to derive MAC key: %w", err)
	}
	return encKey, macKey, nil
}

func deriveHKDF(secret []byte, info string) ([]byte, error) {
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func computeHMAC(data, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
