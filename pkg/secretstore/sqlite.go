package secretstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/forest6511/lokivault/pkg/secretstore/migrations"

	_ "modernc.org/sqlite"
)

// Constants
const (
	DBFileName = "vault.db"
	FileMode   = 0600 // Owner read/write only
	DirMode    = 0700 // Owner read/write/execute only

	// Disk capacity thresholds
	MinDiskSpaceBytes  = 10 * 1024 * 1024 // 10 MB minimum free space
	DiskWarningPercent = 90               // Warn when disk is 90% full

	// MaxValueSize bounds a single entry; a full collection blob stays well below it.
	MaxValueSize = 64 * 1024 * 1024
)

// ErrValueTooLarge is returned by Save for values above MaxValueSize.
var ErrValueTooLarge = errors.New("secretstore: value too large")

// gooseMu serializes goose's package-level configuration.
var gooseMu sync.Mutex

// SQLiteStore is a Store backed by a single SQLite database file.
type SQLiteStore struct {
	mu     sync.Mutex
	dir    string
	db     *sql.DB
	logger *zap.Logger
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithLogger sets the logger used for migrations and disk warnings.
func WithLogger(l *zap.Logger) SQLiteOption {
	return func(s *SQLiteStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// OpenSQLite opens (creating if needed) the store database inside dir and
// applies pending schema migrations.
func OpenSQLite(ctx context.Context, dir string, opts ...SQLiteOption) (*SQLiteStore, error) {
	s := &SQLiteStore{dir: dir, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, fmt.Errorf("secretstore: failed to create directory: %w", err)
	}

	dbPath := filepath.Join(dir, DBFileName)
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("secretstore: failed to open database: %w", err)
	}

	// Single-connection mode avoids "database is locked" errors for CLI usage
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := runMigrations(ctx, db, s.logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(dbPath, FileMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("secretstore: failed to set database permissions: %w", err)
	}

	s.db = db
	s.logger.Debug("secret store opened", zap.String("dir", dir))
	return s, nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(&gooseLogger{logger: logger.Named("goose")})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("secretstore: failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("secretstore: failed to run migrations: %w", err)
	}
	return nil
}

// Dir returns the directory holding the database.
func (s *SQLiteStore) Dir() string {
	return s.dir
}

// Close closes the database. Further calls return ErrClosed.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

// Save upserts value under key.
func (s *SQLiteStore) Save(ctx context.Context, key string, value []byte, requireBiometric bool) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if len(value) > MaxValueSize {
		return ErrValueTooLarge
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	if err := s.checkDiskSpaceForWrite(len(value)); err != nil {
		return err
	}

	if value == nil {
		value = []byte{}
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO secrets (key, value, biometric, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			biometric = excluded.biometric,
			updated_at = CURRENT_TIMESTAMP`,
		key, value, requireBiometric)
	if err != nil {
		return fmt.Errorf("secretstore: failed to save %q: %w", key, err)
	}
	return nil
}

// Retrieve returns the value for key, or (nil, nil) if absent.
// Biometric-gated entries return ErrBiometricRequired.
func (s *SQLiteStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	return s.retrieve(ctx, key, false)
}

// RetrieveWithBiometric returns the value for key including biometric-gated entries.
// The caller is responsible for having completed the biometric check.
func (s *SQLiteStore) RetrieveWithBiometric(ctx context.Context, key string) ([]byte, error) {
	return s.retrieve(ctx, key, true)
}

func (s *SQLiteStore) retrieve(ctx context.Context, key string, biometric bool) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var value []byte
	var gated bool
	err = db.QueryRowContext(ctx, "SELECT value, biometric FROM secrets WHERE key = ?", key).
		Scan(&value, &gated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secretstore: failed to read %q: %w", key, err)
	}
	if gated && !biometric {
		return nil, ErrBiometricRequired
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Delete removes key. Absent keys are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM secrets WHERE key = ?", key); err != nil {
		return fmt.Errorf("secretstore: failed to delete %q: %w", key, err)
	}
	return nil
}

// Exists reports whether key has an entry.
func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	db, err := s.conn()
	if err != nil {
		return false, err
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(1) FROM secrets WHERE key = ?", key).Scan(&n); err != nil {
		return false, fmt.Errorf("secretstore: failed to check %q: %w", key, err)
	}
	return n > 0, nil
}

// IntegrityCheck runs SQLite's integrity check and returns its verdict.
func (s *SQLiteStore) IntegrityCheck(ctx context.Context) (string, error) {
	db, err := s.conn()
	if err != nil {
		return "", err
	}
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return "", fmt.Errorf("secretstore: integrity check failed: %w", err)
	}
	return result, nil
}

// DiskSpaceInfo contains disk usage information
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`     // Total disk space in bytes
	Free      uint64 `json:"free"`      // Free disk space in bytes
	Available uint64 `json:"available"` // Available to non-root users
	UsedPct   int    `json:"used_pct"`  // Percentage of disk used
}

// CheckDiskSpace returns disk space information for the store directory.
func (s *SQLiteStore) CheckDiskSpace() (*DiskSpaceInfo, error) {
	return diskSpace(s.dir)
}

// checkDiskSpaceForWrite verifies sufficient disk space before write operations
func (s *SQLiteStore) checkDiskSpaceForWrite(dataSize int) error {
	info, err := s.CheckDiskSpace()
	if err != nil {
		// Don't block the write on a stat failure
		s.logger.Warn("failed to check disk space", zap.Error(err))
		return nil
	}

	// Need at least MinDiskSpaceBytes or 2x the data size, whichever is larger
	required := uint64(MinDiskSpaceBytes)
	if uint64(dataSize)*2 > required {
		required = uint64(dataSize) * 2
	}

	if info.Available < required {
		return fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficientDisk,
			info.Available/(1024*1024),
			required/(1024*1024))
	}

	if info.UsedPct >= DiskWarningPercent {
		s.logger.Warn("disk is almost full", zap.Int("used_pct", info.UsedPct))
	}
	return nil
}

// gooseLogger routes goose output through zap.
type gooseLogger struct {
	logger *zap.Logger
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	// goose calls Fatalf on unrecoverable migration errors; the error is also
	// returned from UpContext, so it is logged rather than exiting the process.
	l.logger.Error(fmt.Sprintf(format, v...))
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}
