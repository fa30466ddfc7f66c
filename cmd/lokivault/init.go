package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forest6511/lokivault/internal/config"
	"github.com/forest6511/lokivault/pkg/auth"
)

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
}

// initCmd sets up the master password of a new vault
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes a new vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		setup, err := app.auth.IsSetup(ctx)
		if err != nil {
			return err
		}
		if setup {
			return fmt.Errorf("vault already initialized at %s", app.dir)
		}

		fmt.Fprintln(out, "Initializing new vault...")

		// 1. Prompt for master password
		password, err := readNewPassword("Enter master password: ")
		if err != nil {
			return err
		}

		// 2. Validate before touching the store
		if err := auth.ValidatePassword(password); err != nil {
			return describeAuthError(err)
		}

		// 3. Store the credential and create the vault
		if _, err := app.auth.SetupMasterPassword(ctx, password); err != nil {
			if errors.Is(err, auth.ErrAlreadySetup) {
				return fmt.Errorf("vault already initialized at %s", app.dir)
			}
			return fmt.Errorf("failed to initialize vault: %w", err)
		}

		// 4. Apply the configured auto-lock and write a config file if none exists
		if err := app.auth.SetAutoLockDuration(ctx, app.cfg.AutoLock()); err != nil {
			return err
		}
		if _, err := os.Stat(filepath.Join(app.dir, config.FileName)); errors.Is(err, os.ErrNotExist) {
			if err := config.Save(app.dir, app.cfg); err != nil {
				return err
			}
		}

		fmt.Fprintf(out, "Vault initialized successfully at %s\n", app.dir)
		return nil
	},
}

// statusCmd reports the lock and lockout state without unlocking
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows vault status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		status, err := app.auth.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Vault:       %s\n", app.dir)
		if !status.Setup {
			fmt.Fprintln(out, "Status:      not initialized")
			return nil
		}
		fmt.Fprintln(out, "Status:      initialized")

		switch {
		case status.LockoutRemaining > 0:
			fmt.Fprintf(out, "Lockout:     active, %s remaining (%d failed attempts)\n", formatRemaining(status.LockoutRemaining), status.FailedAttempts)
		case status.FailedAttempts > 0:
			fmt.Fprintf(out, "Lockout:     none (%d failed attempts)\n", status.FailedAttempts)
		default:
			fmt.Fprintln(out, "Lockout:     none")
		}

		if status.AutoLock == 0 {
			fmt.Fprintln(out, "Auto-lock:   off")
		} else {
			fmt.Fprintf(out, "Auto-lock:   %s\n", status.AutoLock)
		}

		biometric := "disabled"
		if status.BiometricEnabled {
			biometric = "enabled"
		}
		if !status.BiometricAvailable {
			biometric += " (unavailable on this device)"
		}
		fmt.Fprintf(out, "Biometric:   %s\n", biometric)

		auditState := "off"
		if app.audit != nil {
			auditState = app.audit.Path()
		}
		fmt.Fprintf(out, "Audit log:   %s\n", auditState)
		return nil
	},
}
