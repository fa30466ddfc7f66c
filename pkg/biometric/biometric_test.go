package biometric

import (
	"context"
	"errors"
	"testing"
)

func TestUnavailable(t *testing.T) {
	if Unavailable.Available() {
		t.Error("Unavailable.Available() = true, want false")
	}
	if err := Unavailable.Authenticate(context.Background(), "unlock"); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("Unavailable.Authenticate() error = %v, want %v", err, ErrNotAvailable)
	}
}

func TestFunc(t *testing.T) {
	var gotReason string
	f := Func(func(ctx context.Context, reason string) error {
		gotReason = reason
		return nil
	})

	if !f.Available() {
		t.Error("Func.Available() = false, want true")
	}
	if err := f.Authenticate(context.Background(), "unlock lokivault"); err != nil {
		t.Fatalf("Func.Authenticate() error = %v", err)
	}
	if gotReason != "unlock lokivault" {
		t.Errorf("reason = %q, want %q", gotReason, "unlock lokivault")
	}
}

func TestFuncCancelledContext(t *testing.T) {
	called := false
	f := Func(func(ctx context.Context, reason string) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Authenticate(ctx, "unlock")
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Func.Authenticate() error = %v, want %v", err, ErrCancelled)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Func.Authenticate() error = %v, want wrapped %v", err, context.Canceled)
	}
	if called {
		t.Error("Func should not be invoked with a done context")
	}
}

func TestFuncPropagatesErrors(t *testing.T) {
	tests := []error{ErrNotEnrolled, ErrLockout, ErrFailed}
	for _, want := range tests {
		t.Run(want.Error(), func(t *testing.T) {
			f := Func(func(context.Context, string) error { return want })
			if err := f.Authenticate(context.Background(), "unlock"); !errors.Is(err, want) {
				t.Errorf("Func.Authenticate() error = %v, want %v", err, want)
			}
		})
	}
}
