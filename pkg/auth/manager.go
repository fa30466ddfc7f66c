// Package auth owns the master password and the lock state of the vault.
//
// A Manager verifies the master password against a stored salted hash,
// counts failed attempts with escalating lockouts, unlocks the vault
// repository into a Session, and locks it again on request or after an idle
// timeout. Optionally the master password is also kept behind a biometric
// gate so the vault can be unlocked without typing it.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forest6511/lokivault/pkg/audit"
	"github.com/forest6511/lokivault/pkg/biometric"
	"github.com/forest6511/lokivault/pkg/crypto"
	"github.com/forest6511/lokivault/pkg/secretstore"
	"github.com/forest6511/lokivault/pkg/vault"
)

// Storage keys
const (
	keyPasswordHash     = "master.password.hash"
	keyPasswordSalt     = "master.password.salt"
	keyBiometric        = "master.password.biometric"
	keyLockoutAttempts  = "lockout.attempts"
	keyLockoutUntil     = "lockout.until"
	keyAutoLock         = "settings.autolock.duration"
	keyBiometricEnabled = "settings.biometric.enabled"
)

// MinPasswordLength is the minimum master password length in characters.
const MinPasswordLength = 8

const biometricReason = "Unlock your vault"

// Manager is the authentication state machine. It is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	store     secretstore.Store
	bio       biometric.Authenticator
	audit     *audit.Logger
	logger    *zap.Logger
	now       func() time.Time
	repoOpts  []vault.Option
	afterFunc func(time.Duration, func()) stopper

	session  *Session
	timer    stopper
	timerGen uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithAuthenticator sets the biometric authenticator (default biometric.Unavailable).
func WithAuthenticator(a biometric.Authenticator) Option {
	return func(m *Manager) {
		if a != nil {
			m.bio = a
		}
	}
}

// WithAudit records authentication events and keys the audit chain on unlock.
func WithAudit(l *audit.Logger) Option {
	return func(m *Manager) { m.audit = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock sets the time source used for lockouts and timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIterations overrides the vault key derivation cost. Tests only.
func WithIterations(n int) Option {
	return func(m *Manager) { m.repoOpts = append(m.repoOpts, vault.WithIterations(n)) }
}

// New creates a Manager over store. The vault starts locked.
func New(store secretstore.Store, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		bio:       biometric.Unavailable,
		logger:    zap.NewNop(),
		now:       time.Now,
		afterFunc: realAfterFunc,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.repoOpts = append(m.repoOpts, vault.WithLogger(m.logger), vault.WithClock(m.now))
	return m
}

// ValidatePassword rejects master passwords shorter than MinPasswordLength.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// IsSetup reports whether a master password exists.
func (m *Manager) IsSetup(ctx context.Context) (bool, error) {
	return m.store.Exists(ctx, keyPasswordHash)
}

// SetupMasterPassword stores the first master password and unlocks the vault.
func (m *Manager) SetupMasterPassword(ctx context.Context, password string) (*Session, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	exists, err := m.store.Exists(ctx, keyPasswordHash)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read credential: %w", err)
	}
	if exists {
		return nil, ErrAlreadySetup
	}

	if err := m.storeCredentialLocked(ctx, password); err != nil {
		return nil, err
	}
	if err := m.clearLockState(ctx); err != nil {
		return nil, err
	}

	m.logger.Info("master password created")
	return m.openSessionLocked(ctx, password, audit.OpVaultSetup)
}

// Authenticate verifies password and unlocks the vault.
//
// Below the attempt threshold a wrong password yields *IncorrectPasswordError;
// the failure that reaches it and every attempt during the lockout yield
// *LockedOutError.
func (m *Manager) Authenticate(ctx context.Context, password string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.verifyLocked(ctx, password); err != nil {
		return nil, err
	}
	return m.openSessionLocked(ctx, password, audit.OpVaultUnlock)
}

// AuthenticateWithBiometric unlocks the vault with the master password held
// behind the biometric gate.
//
// The Manager is not locked while the prompt is pending, so status queries
// and Logout proceed meanwhile. A biometric failure does not count as a
// failed password attempt.
func (m *Manager) AuthenticateWithBiometric(ctx context.Context) (*Session, error) {
	if err := m.biometricPreflight(ctx); err != nil {
		return nil, err
	}

	if err := m.bio.Authenticate(ctx, biometricReason); err != nil {
		m.auditLog(audit.OpVaultUnlockFailed, audit.ResultError,
			&audit.ErrorInfo{Code: "BIOMETRIC_FAILED", Message: "biometric authentication failed"}, nil)
		return nil, fmt.Errorf("%w: %w", ErrBiometricFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.loadLockState(ctx)
	if err != nil {
		return nil, err
	}
	if remaining := state.Remaining(m.now()); remaining > 0 {
		return nil, &LockedOutError{Remaining: remaining}
	}

	hash, salt, err := m.credentialLocked(ctx)
	if err != nil {
		return nil, err
	}
	pw, err := m.store.RetrieveWithBiometric(ctx, keyBiometric)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBiometricFailed, err)
	}
	if pw == nil {
		return nil, ErrBiometricFailed
	}
	defer crypto.SecureWipe(pw)

	if !crypto.Equal(credentialHash(pw, salt), hash) {
		m.logger.Warn("biometric entry does not match the master password")
		return nil, ErrBiometricFailed
	}
	if state.FailedAttempts > 0 {
		if err := m.clearLockState(ctx); err != nil {
			return nil, err
		}
	}
	return m.openSessionLocked(ctx, string(pw), audit.OpVaultUnlock)
}

func (m *Manager) biometricPreflight(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	enabled, err := m.biometricEnabledLocked(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return ErrBiometricNotEnabled
	}
	if !m.bio.Available() {
		return ErrBiometricUnavailable
	}
	state, err := m.loadLockState(ctx)
	if err != nil {
		return err
	}
	if remaining := state.Remaining(m.now()); remaining > 0 {
		return &LockedOutError{Remaining: remaining}
	}
	return nil
}

// ChangeMasterPassword re-encrypts the vault under newPassword.
//
// The current password is verified first under the usual lockout rules and
// leaves the vault unlocked. The biometric entry, if any, is rewritten.
func (m *Manager) ChangeMasterPassword(ctx context.Context, currentPassword, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.verifyLocked(ctx, currentPassword); err != nil {
		return err
	}
	if m.session == nil {
		if _, err := m.openSessionLocked(ctx, currentPassword, audit.OpVaultUnlock); err != nil {
			return err
		}
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	if err := m.session.repo.Rekey(ctx, newPassword); err != nil {
		m.auditLog(audit.OpPasswordChange, audit.ResultError,
			&audit.ErrorInfo{Code: "REKEY_FAILED", Message: err.Error()}, nil)
		return err
	}
	if err := m.storeCredentialLocked(ctx, newPassword); err != nil {
		// The credential still accepts currentPassword; put the vault back under it.
		if rerr := m.session.repo.Rekey(ctx, currentPassword); rerr != nil {
			err = errors.Join(err, fmt.Errorf("auth: failed to restore vault key: %w", rerr))
		}
		m.auditLog(audit.OpPasswordChange, audit.ResultError,
			&audit.ErrorInfo{Code: "CREDENTIAL_SAVE_FAILED", Message: err.Error()}, nil)
		return err
	}

	enabled, err := m.biometricEnabledLocked(ctx)
	if err != nil {
		return err
	}
	if enabled {
		if err := m.storeBiometricLocked(ctx, newPassword); err != nil {
			return err
		}
	}

	m.armLocked(ctx)
	m.auditLog(audit.OpPasswordChange, audit.ResultSuccess, nil, nil)
	m.logger.Info("master password changed")
	return nil
}

// EnableBiometric stores the master password behind the biometric gate.
// password is verified under the usual lockout rules.
func (m *Manager) EnableBiometric(ctx context.Context, password string) error {
	if !m.bio.Available() {
		return ErrBiometricUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.verifyLocked(ctx, password); err != nil {
		return err
	}
	if err := m.storeBiometricLocked(ctx, password); err != nil {
		return err
	}
	if err := m.setBiometricEnabledLocked(ctx, true); err != nil {
		return err
	}
	m.auditLog(audit.OpBiometricEnable, audit.ResultSuccess, nil, nil)
	return nil
}

// DisableBiometric removes the biometric copy of the master password.
func (m *Manager) DisableBiometric(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Delete(ctx, keyBiometric); err != nil {
		return fmt.Errorf("auth: failed to delete biometric entry: %w", err)
	}
	if err := m.setBiometricEnabledLocked(ctx, false); err != nil {
		return err
	}
	m.auditLog(audit.OpBiometricDisable, audit.ResultSuccess, nil, nil)
	return nil
}

// BiometricEnabled reports whether biometric unlock is turned on.
func (m *Manager) BiometricEnabled(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.biometricEnabledLocked(ctx)
}

// Logout locks the vault. Calling it while locked is a no-op.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logoutLocked(audit.OpVaultLock)
}

// Session returns the open session, or ErrLocked.
func (m *Manager) Session() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, ErrLocked
	}
	return m.session, nil
}

// IsUnlocked reports whether a session is open.
func (m *Manager) IsUnlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// LockState returns the persisted failed-attempt state.
func (m *Manager) LockState(ctx context.Context) (LockState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLockState(ctx)
}

// Status summarizes the authentication state.
type Status struct {
	Setup              bool          `json:"setup"`
	Unlocked           bool          `json:"unlocked"`
	FailedAttempts     int           `json:"failed_attempts"`
	LockoutRemaining   time.Duration `json:"lockout_remaining"`
	BiometricEnabled   bool          `json:"biometric_enabled"`
	BiometricAvailable bool          `json:"biometric_available"`
	AutoLock           time.Duration `json:"auto_lock"`
}

// Status returns a snapshot of the authentication state.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	setup, err := m.store.Exists(ctx, keyPasswordHash)
	if err != nil {
		return nil, err
	}
	state, err := m.loadLockState(ctx)
	if err != nil {
		return nil, err
	}
	enabled, err := m.biometricEnabledLocked(ctx)
	if err != nil {
		return nil, err
	}
	autoLock, err := m.autoLockDurationLocked(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Setup:              setup,
		Unlocked:           m.session != nil,
		FailedAttempts:     state.FailedAttempts,
		LockoutRemaining:   state.Remaining(m.now()),
		BiometricEnabled:   enabled,
		BiometricAvailable: m.bio.Available(),
		AutoLock:           autoLock,
	}, nil
}

// verifyLocked checks password against the stored credential and updates the
// failed-attempt state.
func (m *Manager) verifyLocked(ctx context.Context, password string) error {
	hash, salt, err := m.credentialLocked(ctx)
	if err != nil {
		return err
	}

	state, err := m.loadLockState(ctx)
	if err != nil {
		return err
	}
	if remaining := state.Remaining(m.now()); remaining > 0 {
		return &LockedOutError{Remaining: remaining}
	}

	pw, err := crypto.PasswordBytes(password)
	if err != nil {
		return m.recordFailureLocked(ctx, state)
	}
	defer crypto.SecureWipe(pw)

	if !crypto.Equal(credentialHash(pw, salt), hash) {
		return m.recordFailureLocked(ctx, state)
	}
	if state.FailedAttempts > 0 {
		return m.clearLockState(ctx)
	}
	return nil
}

func (m *Manager) credentialLocked(ctx context.Context) (hash, salt []byte, err error) {
	hash, err = m.store.Retrieve(ctx, keyPasswordHash)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: failed to read credential: %w", err)
	}
	salt, err = m.store.Retrieve(ctx, keyPasswordSalt)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: failed to read credential: %w", err)
	}
	if hash == nil || salt == nil {
		return nil, nil, ErrNotSetup
	}
	return hash, salt, nil
}

// storeCredentialLocked writes a fresh salt and the matching hash. The salt
// goes first so that a missing hash always means "not set up". If the hash
// cannot be written the previous salt is put back, leaving the old
// credential intact.
func (m *Manager) storeCredentialLocked(ctx context.Context, password string) error {
	pw, err := crypto.PasswordBytes(password)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(pw)

	prevSalt, err := m.store.Retrieve(ctx, keyPasswordSalt)
	if err != nil {
		return fmt.Errorf("auth: failed to read credential: %w", err)
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	if err := m.store.Save(ctx, keyPasswordSalt, salt, false); err != nil {
		return fmt.Errorf("auth: failed to save credential: %w", err)
	}
	if err := m.store.Save(ctx, keyPasswordHash, credentialHash(pw, salt), false); err != nil {
		err = fmt.Errorf("auth: failed to save credential: %w", err)
		var rerr error
		if prevSalt == nil {
			rerr = m.store.Delete(ctx, keyPasswordSalt)
		} else {
			rerr = m.store.Save(ctx, keyPasswordSalt, prevSalt, false)
		}
		if rerr != nil {
			err = errors.Join(err, fmt.Errorf("auth: failed to restore credential: %w", rerr))
		}
		return err
	}
	return nil
}

func (m *Manager) storeBiometricLocked(ctx context.Context, password string) error {
	pw, err := crypto.PasswordBytes(password)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(pw)

	if err := m.store.Save(ctx, keyBiometric, pw, true); err != nil {
		return fmt.Errorf("auth: failed to save biometric entry: %w", err)
	}
	return nil
}

func (m *Manager) biometricEnabledLocked(ctx context.Context) (bool, error) {
	raw, err := m.store.Retrieve(ctx, keyBiometricEnabled)
	if err != nil {
		return false, fmt.Errorf("auth: failed to read biometric setting: %w", err)
	}
	if raw == nil {
		return false, nil
	}
	var enabled bool
	if err := json.Unmarshal(raw, &enabled); err != nil {
		return false, fmt.Errorf("auth: failed to parse biometric setting: %w", err)
	}
	return enabled, nil
}

func (m *Manager) setBiometricEnabledLocked(ctx context.Context, enabled bool) error {
	raw, err := json.Marshal(enabled)
	if err != nil {
		return err
	}
	if err := m.store.Save(ctx, keyBiometricEnabled, raw, false); err != nil {
		return fmt.Errorf("auth: failed to save biometric setting: %w", err)
	}
	return nil
}

// openSessionLocked loads the vault and replaces any open session.
func (m *Manager) openSessionLocked(ctx context.Context, password, op string) (*Session, error) {
	repo := vault.New(m.store, m.repoOpts...)
	if err := repo.Initialize(ctx, password); err != nil {
		return nil, err
	}

	if m.session != nil {
		m.session.repo.Close()
	}
	s := &Session{
		ID:        uuid.NewString(),
		StartedAt: m.now(),
		repo:      repo,
	}
	m.session = s
	m.armLocked(ctx)

	if m.audit != nil {
		key, err := repo.DeriveSubkey(audit.KeyInfo)
		if err == nil {
			err = m.audit.SetHMACKey(key)
			crypto.SecureWipe(key)
		}
		if err != nil {
			m.logger.Warn("audit chain unavailable", zap.Error(err))
		}
	}
	m.auditLog(op, audit.ResultSuccess, nil, nil)
	m.logger.Info("vault unlocked", zap.String("session", s.ID))
	return s, nil
}

func (m *Manager) logoutLocked(op string) {
	m.disarmLocked()
	if m.session == nil {
		return
	}
	m.session.repo.Close()
	m.session = nil

	m.auditLog(op, audit.ResultSuccess, nil, nil)
	if m.audit != nil {
		m.audit.ClearHMACKey()
	}
	m.logger.Info("vault locked", zap.String("reason", op))
}

func (m *Manager) auditLog(op, result string, errInfo *audit.ErrorInfo, details map[string]string) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(op, result, errInfo, details); err != nil {
		m.logger.Warn("failed to write audit event", zap.String("op", op), zap.Error(err))
	}
}

func credentialHash(password, salt []byte) []byte {
	buf := make([]byte, 0, len(password)+len(salt))
	buf = append(buf, password...)
	buf = append(buf, salt...)
	defer crypto.SecureWipe(buf)
	return crypto.Hash(buf)
}
