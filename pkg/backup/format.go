package backup

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forest6511/lokivault/pkg/crypto"
)

// MagicNumber starts every export file: "LOKI_EXP"
var MagicNumber = [8]byte{'L', 'O', 'K', 'I', '_', 'E', 'X', 'P'}

// Current export format version.
const FormatVersion = 1

// FileExtension is the conventional extension for export files.
const FileExtension = ".lokivault"

const (
	kdfAlgorithm    = "pbkdf2-sha256"
	cipherAlgorithm = "aes-256-gcm"

	maxHeaderSize = 1024 * 1024
	maxIterations = 10_000_000
)

// KDFParams describes how the export key was derived from the password.
type KDFParams struct {
	Algorithm  string `json:"algorithm"`
	Iterations int    `json:"iterations"`
	KeyLength  int    `json:"key_length"`
	Salt       []byte `json:"salt"` // Base64 in JSON
}

// Header contains export file metadata. It is authenticated but not encrypted.
type Header struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Cipher    string    `json:"cipher"`
	KDF       KDFParams `json:"kdf"`
	ItemCount int       `json:"item_count"`
}

// Package is a parsed export file.
type Package struct {
	Header        Header
	EncryptedData crypto.Blob
	MAC           []byte

	// signed is the prefix of the file covered by MAC.
	signed []byte
}

// marshal frames the package:
//
//	magic | u32 len | header JSON | nonce | u32 len | ciphertext
//
// The HMAC over these bytes is appended by the caller.
func (p *Package) marshal() ([]byte, error) {
	headerJSON, err := json.Marshal(p.Header)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to marshal header: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(MagicNumber) + 8 + len(headerJSON) + len(p.EncryptedData.Nonce) +
		len(p.EncryptedData.Ciphertext) + HMACLength)
	buf.Write(MagicNumber[:])
	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(headerJSON))))
	buf.Write(headerJSON)
	buf.Write(p.EncryptedData.Nonce)
	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(p.EncryptedData.Ciphertext))))
	buf.Write(p.EncryptedData.Ciphertext)
	return buf.Bytes(), nil
}

// Parse decodes the framing and header of an export file without the
// password. The MAC is not checked.
func Parse(data []byte) (*Package, error) {
	if len(data) < len(MagicNumber) || !bytes.Equal(data[:len(MagicNumber)], MagicNumber[:]) {
		return nil, ErrInvalidMagic
	}
	r := reader{data: data, off: len(MagicNumber)}

	headerLen, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("%w: header too large: %d bytes", ErrInvalidPackage, headerLen)
	}
	headerJSON, err := r.next(int(headerLen))
	if err != nil {
		return nil, err
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	if header.Version < 1 || header.Version > FormatVersion {
		return nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}
	if err := header.validate(); err != nil {
		return nil, err
	}

	nonce, err := r.next(crypto.NonceLength)
	if err != nil {
		return nil, err
	}
	ctLen, err := r.uint32()
	if err != nil {
		return nil, err
	}
	ciphertext, err := r.next(int(ctLen))
	if err != nil {
		return nil, err
	}
	signedEnd := r.off
	mac, err := r.next(HMACLength)
	if err != nil {
		return nil, err
	}
	if r.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidPackage, len(data)-r.off)
	}

	return &Package{
		Header: header,
		EncryptedData: crypto.Blob{
			Ciphertext: append([]byte{}, ciphertext...),
			Nonce:      append([]byte{}, nonce...),
		},
		MAC:    append([]byte{}, mac...),
		signed: data[:signedEnd],
	}, nil
}

func (h *Header) validate() error {
	switch {
	case h.Cipher != cipherAlgorithm:
		return fmt.Errorf("%w: unknown cipher %q", ErrInvalidPackage, h.Cipher)
	case h.KDF.Algorithm != kdfAlgorithm:
		return fmt.Errorf("%w: unknown key derivation %q", ErrInvalidPackage, h.KDF.Algorithm)
	case h.KDF.Iterations < 1 || h.KDF.Iterations > maxIterations:
		return fmt.Errorf("%w: iteration count %d out of range", ErrInvalidPackage, h.KDF.Iterations)
	case h.KDF.KeyLength != KeyLength:
		return fmt.Errorf("%w: key length %d", ErrInvalidPackage, h.KDF.KeyLength)
	case len(h.KDF.Salt) != SaltLength:
		return fmt.Errorf("%w: salt length %d", ErrInvalidPackage, len(h.KDF.Salt))
	}
	return nil
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) next(n int) ([]byte, error) {
	if n < 0 || len(r.data)-r.off < n {
		return nil, fmt.Errorf("%w: file truncated", ErrInvalidPackage)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}
