package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/lokivault/pkg/auth"
)

func init() {
	rootCmd.AddCommand(passwordCmd)
	rootCmd.AddCommand(biometricCmd)
	rootCmd.AddCommand(autolockCmd)

	passwordCmd.AddCommand(passwordChangeCmd)
	biometricCmd.AddCommand(biometricEnableCmd)
	biometricCmd.AddCommand(biometricDisableCmd)
}

// passwordCmd is the parent command for password operations.
var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Master password operations",
}

// passwordChangeCmd changes the master password.
var passwordChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the master password",
	Long: `Change the master password by re-encrypting every collection under a
key derived from the new password.

This operation:
  1. Verifies the current password
  2. Re-encrypts all records with the new key
  3. Rolls back to the old key if any write fails`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Changing master password...")

		// 1. Prompt for current password (for verification)
		current, err := readPassword("Enter current password: ")
		if err != nil {
			return err
		}

		// 2. Prompt for new password
		newPassword, err := readNewPassword("Enter new password: ")
		if err != nil {
			return err
		}
		if current == newPassword {
			return errors.New("new password must be different from current password")
		}
		if err := auth.ValidatePassword(newPassword); err != nil {
			return describeAuthError(err)
		}

		// 3. Execute password change
		if err := app.auth.ChangeMasterPassword(cmd.Context(), current, newPassword); err != nil {
			var incorrect *auth.IncorrectPasswordError
			if errors.As(err, &incorrect) {
				return fmt.Errorf("current password is incorrect (%d attempts remaining before lockout)", incorrect.AttemptsRemaining)
			}
			return describeAuthError(err)
		}

		fmt.Fprintln(out, "Password changed successfully!")
		return nil
	},
}

// biometricCmd is the parent command for biometric unlock.
var biometricCmd = &cobra.Command{
	Use:   "biometric",
	Short: "Biometric unlock settings",
}

var biometricEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable biometric unlock",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword("Enter master password: ")
		if err != nil {
			return err
		}
		if err := app.auth.EnableBiometric(cmd.Context(), password); err != nil {
			return describeAuthError(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Biometric unlock enabled")
		return nil
	},
}

var biometricDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable biometric unlock",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := app.unlock(cmd.Context()); err != nil {
			return err
		}
		if err := app.auth.DisableBiometric(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Biometric unlock disabled")
		return nil
	},
}

// autolockCmd shows or sets the idle timeout
var autolockCmd = &cobra.Command{
	Use:   "autolock [duration|off]",
	Short: "Shows or sets the auto-lock timeout",
	Long: `Shows or sets how long an unlocked vault stays open without activity.

The value is a Go duration (90s, 5m, 1h), a number of seconds, or "off".
Changing the setting requires the master password.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			d, err := app.auth.AutoLockDuration(ctx)
			if err != nil {
				return err
			}
			if d == 0 {
				fmt.Fprintln(out, "Auto-lock: off")
			} else {
				fmt.Fprintf(out, "Auto-lock: %s\n", d)
			}
			return nil
		}

		d, err := parseAutoLock(args[0])
		if err != nil {
			return err
		}
		if _, err := app.unlock(ctx); err != nil {
			return err
		}
		if err := app.auth.SetAutoLockDuration(ctx, d); err != nil {
			return err
		}
		if d == 0 {
			fmt.Fprintln(out, "Auto-lock disabled")
		} else {
			fmt.Fprintf(out, "Auto-lock set to %s\n", d)
		}
		return nil
	},
}

// parseAutoLock accepts "off", whole seconds, or a Go duration.
func parseAutoLock(s string) (time.Duration, error) {
	if s == "off" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("auto-lock must not be negative: %d", n)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid auto-lock value %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("auto-lock must not be negative: %s", d)
	}
	return d.Truncate(time.Second), nil
}
