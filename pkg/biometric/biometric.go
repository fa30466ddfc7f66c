// Package biometric defines the boundary to a platform biometric sensor.
//
// lokivault never talks to biometric hardware directly. Hosts that have a
// sensor supply an Authenticator; everyone else gets Unavailable.
package biometric

import (
	"context"
	"errors"
)

// Errors returned by Authenticator implementations.
var (
	ErrNotAvailable = errors.New("biometric: not available on this device")
	ErrNotEnrolled  = errors.New("biometric: no biometric identity enrolled")
	ErrLockout      = errors.New("biometric: sensor locked out after too many attempts")
	ErrCancelled    = errors.New("biometric: authentication cancelled")
	ErrFailed       = errors.New("biometric: authentication failed")
)

// Authenticator performs a user-presence check.
//
// Authenticate blocks until the user completes or abandons the prompt, or ctx
// is done. It returns nil only on a successful match.
type Authenticator interface {
	Available() bool
	Authenticate(ctx context.Context, reason string) error
}

// Unavailable is the Authenticator for hosts without a sensor.
var Unavailable Authenticator = unavailable{}

type unavailable struct{}

func (unavailable) Available() bool { return false }

func (unavailable) Authenticate(context.Context, string) error { return ErrNotAvailable }

// Func adapts a function to an Authenticator that is always available.
type Func func(ctx context.Context, reason string) error

// Available reports true.
func (f Func) Available() bool { return true }

// Authenticate calls f, mapping a done context to ErrCancelled.
func (f Func) Authenticate(ctx context.Context, reason string) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrCancelled, err)
	}
	return f(ctx, reason)
}
