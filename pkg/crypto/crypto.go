// Package crypto provides cryptographic primitives for lokivault.
//
// This package implements AES-256-GCM authenticated encryption and
// PBKDF2-HMAC-SHA256 key derivation.
//
// # Security Features
//
//   - AES-256-GCM authenticated encryption with a fresh nonce per call
//   - PBKDF2-HMAC-SHA256 key derivation (100,000 iterations by default)
//   - NFC-normalized password encoding so equivalent passwords derive equal keys
//   - Constant-time comparison and secure memory wiping
//
// # Example Usage
//
//	salt, err := crypto.GenerateSalt()
//	key, err := crypto.DeriveKey("password", salt, crypto.DefaultIterations, crypto.KeyLength)
//
//	// Encrypt data
//	blob, err := crypto.Encrypt(key, plaintext)
//
//	// Decrypt data
//	plaintext, err := crypto.Decrypt(key, blob)
//
//	// Securely wipe sensitive data
//	crypto.SecureWipe(key)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"runtime"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

// Key derivation and cipher parameters.
const (
	// DefaultIterations is the PBKDF2 iteration count for vault and export keys.
	DefaultIterations = 100_000

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// SaltLength is the length of generated salts in bytes.
	SaltLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidInput indicates the password or derivation parameters are unusable.
	ErrInvalidInput = errors.New("crypto: invalid input")

	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrDecryptionFailed is returned for every decryption failure. A wrong key
	// and tampered data are deliberately reported the same way.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

// Blob is the unit of persistence for one encrypted payload.
type Blob struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

// PasswordBytes encodes a password for hashing or key derivation.
// The password must be valid UTF-8; it is normalized to NFC so that visually
// identical input typed on different keyboards yields the same bytes.
// Callers should SecureWipe the result when done.
func PasswordBytes(password string) ([]byte, error) {
	if !utf8.ValidString(password) {
		return nil, fmt.Errorf("%w: password is not valid UTF-8", ErrInvalidInput)
	}
	return []byte(norm.NFC.String(password)), nil
}

// DeriveKey derives a symmetric key from a password using PBKDF2-HMAC-SHA256.
//
// The function is deterministic: the same password, salt, iteration count and
// length always produce the same key.
func DeriveKey(password string, salt []byte, iterations, keyLength int) ([]byte, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", ErrInvalidInput)
	}
	if iterations < 1 || keyLength < 1 {
		return nil, fmt.Errorf("%w: iterations and key length must be positive", ErrInvalidInput)
	}

	pw, err := PasswordBytes(password)
	if err != nil {
		return nil, err
	}
	defer SecureWipe(pw)

	return pbkdf2.Key(pw, salt, iterations, keyLength, sha256.New), nil
}

// GenerateSalt returns SaltLength bytes from a cryptographically secure source.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// Encrypt encrypts plaintext using AES-256-GCM authenticated encryption.
//
// A cryptographically secure random 12-byte nonce is generated for every call,
// so encrypting the same plaintext twice yields different blobs.
func Encrypt(key, plaintext []byte) (*Blob, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	// Authentication tag is appended to the ciphertext
	return &Blob{
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
	}, nil
}

// Decrypt verifies and decrypts a blob produced by Encrypt.
//
// Returns ErrDecryptionFailed when the key is wrong, the nonce or ciphertext
// was modified, or the blob is malformed.
func Decrypt(key []byte, blob *Blob) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if blob == nil || len(blob.Nonce) != NonceLength || len(blob.Ciphertext) < gcm.Overhead() {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := gcm.Open(nil, blob.Nonce, blob.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Hash returns the SHA-256 digest of data.
// It is used for master password verification only, never for confidentiality.
func Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Equal reports whether a and b are equal without early exit on the first
// differing byte.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the writes are not optimized away
	runtime.KeepAlive(b)
}
