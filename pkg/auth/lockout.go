package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/forest6511/lokivault/pkg/audit"
)

// Unlock attempt limits
const (
	MaxFailedAttempts = 5
)

// lockoutDurations escalates with every failure past the threshold and caps
// at the last entry.
var lockoutDurations = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
}

// LockoutDuration returns the lockout imposed after the given number of
// consecutive failures, or 0 below the threshold.
func LockoutDuration(failedAttempts int) time.Duration {
	if failedAttempts < MaxFailedAttempts {
		return 0
	}
	return lockoutDurations[min(failedAttempts-MaxFailedAttempts, len(lockoutDurations)-1)]
}

// LockState is the persisted failed-attempt counter.
//
// LockoutUntil is only set once FailedAttempts reached MaxFailedAttempts, and
// only a successful authentication clears either field.
type LockState struct {
	FailedAttempts int       `json:"failed_attempts"`
	LockoutUntil   time.Time `json:"lockout_until"`
}

// Remaining returns how long the lockout still lasts at now.
func (s LockState) Remaining(now time.Time) time.Duration {
	if s.LockoutUntil.IsZero() || !now.Before(s.LockoutUntil) {
		return 0
	}
	return s.LockoutUntil.Sub(now)
}

func (m *Manager) loadLockState(ctx context.Context) (LockState, error) {
	var state LockState

	raw, err := m.store.Retrieve(ctx, keyLockoutAttempts)
	if err != nil {
		return state, fmt.Errorf("auth: failed to read lock state: %w", err)
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &state.FailedAttempts); err != nil {
			return state, fmt.Errorf("auth: failed to parse lock state: %w", err)
		}
	}

	raw, err = m.store.Retrieve(ctx, keyLockoutUntil)
	if err != nil {
		return state, fmt.Errorf("auth: failed to read lock state: %w", err)
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &state.LockoutUntil); err != nil {
			return state, fmt.Errorf("auth: failed to parse lock state: %w", err)
		}
		// A lockout implies the threshold was reached, even if the counter
		// entry predates this field or was lost.
		if state.FailedAttempts < MaxFailedAttempts {
			state.FailedAttempts = MaxFailedAttempts
		}
	}
	return state, nil
}

func (m *Manager) saveLockState(ctx context.Context, state LockState) error {
	raw, err := json.Marshal(state.FailedAttempts)
	if err != nil {
		return err
	}
	if err := m.store.Save(ctx, keyLockoutAttempts, raw, false); err != nil {
		return fmt.Errorf("auth: failed to save lock state: %w", err)
	}
	if state.LockoutUntil.IsZero() {
		return nil
	}
	raw, err = json.Marshal(state.LockoutUntil)
	if err != nil {
		return err
	}
	if err := m.store.Save(ctx, keyLockoutUntil, raw, false); err != nil {
		return fmt.Errorf("auth: failed to save lock state: %w", err)
	}
	return nil
}

func (m *Manager) clearLockState(ctx context.Context) error {
	if err := m.store.Delete(ctx, keyLockoutAttempts); err != nil {
		return fmt.Errorf("auth: failed to clear lock state: %w", err)
	}
	if err := m.store.Delete(ctx, keyLockoutUntil); err != nil {
		return fmt.Errorf("auth: failed to clear lock state: %w", err)
	}
	return nil
}

// recordFailureLocked counts one failed attempt and returns the error to
// surface: a LockedOutError once the threshold is reached, otherwise an
// IncorrectPasswordError.
func (m *Manager) recordFailureLocked(ctx context.Context, state LockState) error {
	state.FailedAttempts++
	d := LockoutDuration(state.FailedAttempts)
	if d > 0 {
		state.LockoutUntil = m.now().Add(d)
	}
	if err := m.saveLockState(ctx, state); err != nil {
		return err
	}

	if d > 0 {
		m.logger.Warn("lockout engaged",
			zap.Int("failed_attempts", state.FailedAttempts),
			zap.Duration("duration", d))
		m.auditLog(audit.OpVaultLockout, audit.ResultError, nil, map[string]string{
			"attempts": fmt.Sprint(state.FailedAttempts),
			"seconds":  fmt.Sprint(int(d / time.Second)),
		})
		return &LockedOutError{Remaining: d}
	}

	m.auditLog(audit.OpVaultUnlockFailed, audit.ResultError,
		&audit.ErrorInfo{Code: "AUTH_FAILED", Message: "incorrect password"}, nil)
	return &IncorrectPasswordError{AttemptsRemaining: MaxFailedAttempts - state.FailedAttempts}
}
