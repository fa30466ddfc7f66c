package auth

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotSetup             = errors.New("auth: master password not set up")
	ErrAlreadySetup         = errors.New("auth: master password already set up")
	ErrWeakPassword         = errors.New("auth: password must be at least 8 characters")
	ErrIncorrectPassword    = errors.New("auth: incorrect password")
	ErrLockedOut            = errors.New("auth: too many failed attempts")
	ErrLocked               = errors.New("auth: vault is locked")
	ErrBiometricNotEnabled  = errors.New("auth: biometric unlock not enabled")
	ErrBiometricUnavailable = errors.New("auth: biometric authentication not available on this device")
	ErrBiometricFailed      = errors.New("auth: biometric authentication failed")
)

// IncorrectPasswordError reports a wrong password below the lockout threshold.
type IncorrectPasswordError struct {
	AttemptsRemaining int
}

func (e *IncorrectPasswordError) Error() string {
	if e.AttemptsRemaining > 0 {
		return fmt.Sprintf("auth: incorrect password, %d attempts remaining", e.AttemptsRemaining)
	}
	return ErrIncorrectPassword.Error()
}

// Is makes errors.Is(err, ErrIncorrectPassword) match.
func (e *IncorrectPasswordError) Is(target error) bool {
	return target == ErrIncorrectPassword
}

// LockedOutError reports that authentication is refused until the lockout ends.
type LockedOutError struct {
	Remaining time.Duration
}

// Seconds returns the remaining lockout in whole seconds.
func (e *LockedOutError) Seconds() int {
	return int(e.Remaining / time.Second)
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("auth: too many failed attempts, try again in %s", e.Remaining.Truncate(time.Second))
}

// Is makes errors.Is(err, ErrLockedOut) match.
func (e *LockedOutError) Is(target error) bool {
	return target == ErrLockedOut
}
