package backup

import "errors"

// Export/Import errors
var (
	// ErrInvalidMagic indicates the data does not start with the export magic number.
	ErrInvalidMagic = errors.New("backup: invalid export file: magic number mismatch")

	// ErrUnsupportedVersion indicates the export format version is not supported.
	ErrUnsupportedVersion = errors.New("backup: unsupported export format version")

	// ErrInvalidPackage indicates the export framing or header is malformed.
	ErrInvalidPackage = errors.New("backup: malformed export file")

	// ErrDecryptionFailed covers a wrong password and any tampering alike.
	ErrDecryptionFailed = errors.New("backup: invalid password or corrupted data")

	// ErrEmptyPassword indicates an empty password was provided.
	ErrEmptyPassword = errors.New("backup: password cannot be empty")

	// ErrPartialImport indicates some collections could not be written.
	ErrPartialImport = errors.New("backup: import partially failed")
)
