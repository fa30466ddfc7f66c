// Package backup moves the whole vault in and out of a password-protected
// export file.
//
// Format:
//
//	magic "LOKI_EXP" | u32 len | header JSON | nonce | u32 len | ciphertext | HMAC-SHA256
//
// Security:
//   - A fresh salt is generated for each export; the vault salt is never reused
//   - The export password goes through PBKDF2, then HKDF splits encryption and MAC keys
//   - The HMAC covers everything before it, header included
//   - Decrypted payloads are wiped with SecureWipe once decoded
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forest6511/lokivault/pkg/crypto"
	"github.com/forest6511/lokivault/pkg/vault"
)

// Options tunes Export.
type Options struct {
	// Iterations is the PBKDF2 cost (default crypto.DefaultIterations).
	Iterations int
	// Now stamps the export (default time.Now).
	Now func() time.Time
}

// ImportResult contains the result of an import.
type ImportResult struct {
	// ItemCount is the number of records imported across all kinds.
	ItemCount int
	// Categories and Tags are the number of metadata entries imported.
	Categories int
	Tags       int
	// ExportedAt is when the file was produced.
	ExportedAt time.Time
}

// VerifyResult contains the result of a verify operation.
type VerifyResult struct {
	// Valid indicates the export passed all integrity checks.
	Valid bool
	// Version is the export format version.
	Version int
	// CreatedAt is when the export was created.
	CreatedAt time.Time
	// ItemCount is the number of records in the export.
	ItemCount int
	// Error is set if verification failed.
	Error string
}

type payload struct {
	vault.Snapshot
	ExportedAt time.Time `json:"exportDate"`
}

// Export encrypts every collection, category and tag of repo under password.
func Export(repo *vault.Repository, password string, opts ...Options) ([]byte, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Iterations <= 0 {
		o.Iterations = crypto.DefaultIterations
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if password == "" {
		return nil, ErrEmptyPassword
	}

	snapshot, err := repo.Snapshot()
	if err != nil {
		return nil, err
	}
	return seal(snapshot, password, o)
}

// seal encrypts snapshot into a complete export file.
func seal(snapshot *vault.Snapshot, password string, o Options) ([]byte, error) {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	kdf := KDFParams{
		Algorithm:  kdfAlgorithm,
		Iterations: o.Iterations,
		KeyLength:  KeyLength,
		Salt:       salt,
	}
	encKey, macKey, err := deriveKeys(password, kdf)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	now := o.Now().UTC()
	plaintext, err := json.Marshal(payload{Snapshot: *snapshot, ExportedAt: now})
	if err != nil {
		return nil, fmt.Errorf("backup: failed to marshal payload: %w", err)
	}
	defer crypto.SecureWipe(plaintext)

	blob, err := crypto.Encrypt(encKey, plaintext)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to encrypt payload: %w", err)
	}

	pkg := &Package{
		Header: Header{
			Version:   FormatVersion,
			CreatedAt: now,
			Cipher:    cipherAlgorithm,
			KDF:       kdf,
			ItemCount: snapshot.Count(),
		},
		EncryptedData: *blob,
	}
	data, err := pkg.marshal()
	if err != nil {
		return nil, err
	}
	return append(data, computeHMAC(data, macKey)...), nil
}

// Import replaces the contents of repo with those of an export file.
//
// A wrong password and a tampered file both yield ErrDecryptionFailed. The
// repository is only touched once the whole file has been authenticated and
// decoded. Records with empty or duplicate ids, or modified before they were
// created, fail with vault.ErrInvalidItem and leave the vault unchanged.
func Import(ctx context.Context, repo *vault.Repository, data []byte, password string) (*ImportResult, error) {
	_, p, err := open(data, password)
	if err != nil {
		return nil, err
	}

	if err := repo.Replace(ctx, &p.Snapshot); err != nil {
		if errors.Is(err, vault.ErrInvalidItem) {
			return nil, fmt.Errorf("backup: export contents rejected: %w", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrPartialImport, err)
	}

	return &ImportResult{
		ItemCount:  p.Count(),
		Categories: len(p.Categories),
		Tags:       len(p.Tags),
		ExportedAt: p.ExportedAt,
	}, nil
}

// Verify checks export integrity without importing.
func Verify(data []byte, password string) (*VerifyResult, error) {
	pkg, p, err := open(data, password)
	if err != nil {
		return &VerifyResult{Valid: false, Error: err.Error()}, nil
	}
	return &VerifyResult{
		Valid:     true,
		Version:   pkg.Header.Version,
		CreatedAt: pkg.Header.CreatedAt,
		ItemCount: p.Count(),
	}, nil
}

// open parses, authenticates and decrypts an export file.
func open(data []byte, password string) (*Package, *payload, error) {
	if password == "" {
		return nil, nil, ErrEmptyPassword
	}

	pkg, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}

	encKey, macKey, err := deriveKeys(password, pkg.Header.KDF)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	if !crypto.Equal(computeHMAC(pkg.signed, macKey), pkg.MAC) {
		return nil, nil, ErrDecryptionFailed
	}

	plaintext, err := crypto.Decrypt(encKey, &pkg.EncryptedData)
	if err != nil {
		return nil, nil, ErrDecryptionFailed
	}
	defer crypto.SecureWipe(plaintext)

	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, nil, ErrDecryptionFailed
	}
	return pkg, &p, nil
}
