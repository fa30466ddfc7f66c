package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/lokivault/pkg/audit"
	"github.com/forest6511/lokivault/pkg/backup"
	"github.com/forest6511/lokivault/pkg/vault"
)

var (
	exportForce      bool
	importVerifyOnly bool
	importForce      bool
)

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	exportCmd.Flags().BoolVarP(&exportForce, "force", "f", false, "Overwrite existing file")
	importCmd.Flags().BoolVar(&importVerifyOnly, "verify-only", false, "Check integrity without importing")
	importCmd.Flags().BoolVarP(&importForce, "force", "f", false, "Skip confirmation prompt")
	initCompetitorImportFlags()
}

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Exports the vault to a password-protected file",
	Long: `Exports every record, category and tag to an encrypted file.

The export password is independent of the master password. The file
extension ` + backup.FileExtension + ` is added when missing.

Examples:
  lokivault export ~/vault-2026
  lokivault export backup.lokivault --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if filepath.Ext(path) != backup.FileExtension {
			path += backup.FileExtension
		}

		// Check if file exists
		if !exportForce {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("output file already exists: %s (use --force to overwrite)", path)
			}
		}

		// 1. Unlock vault
		session, err := app.unlock(cmd.Context())
		if err != nil {
			return err
		}

		// 2. Prompt for export password
		password, err := readNewPassword("Enter export password: ")
		if err != nil {
			return err
		}

		// 3. Encrypt and write
		data, err := backup.Export(session.Vault(), password)
		if err == nil {
			err = writeFileAtomic(path, data)
		}
		app.record(audit.OpVaultExport, err, map[string]string{"items": strconv.Itoa(totalRecords(session.Vault().Counts()))})
		if err != nil {
			if errors.Is(err, backup.ErrEmptyPassword) {
				return errors.New("export password must not be empty")
			}
			return fmt.Errorf("export failed: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Vault exported to %s\n", path)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Imports an export file or another password manager's export",
	Long: `Imports an export file, replacing every record, category and tag.

Use --verify-only to check the file and password without touching the vault.

With --from, reads an unencrypted export from another password manager
and adds its records to the vault. Existing records are kept.

Examples:
  lokivault import backup.lokivault
  lokivault import --from bitwarden bitwarden_export.json --tag imported
  lokivault import --from lastpass lastpass.csv --only "bank*" --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if isCompetitorImport() {
			if importVerifyOnly {
				return errors.New("--verify-only cannot be combined with --from")
			}
			return executeCompetitorImport(cmd, args[0])
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read export file: %w", err)
		}

		if importVerifyOnly {
			password, err := readPassword("Enter export password: ")
			if err != nil {
				return err
			}
			result, err := backup.Verify(data, password)
			if err != nil {
				return err
			}
			if !result.Valid {
				return fmt.Errorf("verification failed: %s", result.Error)
			}
			fmt.Fprintln(out, "Export file is valid")
			fmt.Fprintf(out, "  Version:  %d\n", result.Version)
			fmt.Fprintf(out, "  Created:  %s\n", result.CreatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "  Records:  %d\n", result.ItemCount)
			return nil
		}

		// 1. Unlock vault
		session, err := app.unlock(cmd.Context())
		if err != nil {
			return err
		}

		// 2. Confirm replacement
		if !importForce {
			ok, err := confirm("This replaces ALL records, categories and tags. Continue?")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, "Cancelled")
				return nil
			}
		}

		// 3. Decrypt and replace
		password, err := readPassword("Enter export password: ")
		if err != nil {
			return err
		}
		result, err := backup.Import(cmd.Context(), session.Vault(), data, password)
		details := map[string]string{}
		if result != nil {
			details["items"] = strconv.Itoa(result.ItemCount)
		}
		app.record(audit.OpVaultImport, err, details)
		if err != nil {
			switch {
			case errors.Is(err, backup.ErrDecryptionFailed):
				return errors.New("import failed: wrong export password or corrupted file")
			case errors.Is(err, backup.ErrInvalidMagic), errors.Is(err, backup.ErrInvalidPackage):
				return fmt.Errorf("import failed: %s is not a lokivault export file", args[0])
			}
			return fmt.Errorf("import failed: %w", err)
		}

		fmt.Fprintf(out, "Imported %d records, %d categories, %d tags (exported %s)\n",
			result.ItemCount, result.Categories, result.Tags, result.ExportedAt.Local().Format(time.DateTime))
		return nil
	},
}

func totalRecords(counts map[vault.Kind]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}

// writeFileAtomic writes data to a 0600 temp file beside path and renames it
// into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(path), backup.FileExtension)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close export: %w", err)
	}
	return os.Rename(tmpPath, path)
}
