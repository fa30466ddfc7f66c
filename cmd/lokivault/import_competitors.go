package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/lokivault/internal/cli"
	"github.com/forest6511/lokivault/pkg/audit"
	"github.com/forest6511/lokivault/pkg/importer"
)

// Competitor import flags.
var (
	importFrom   string
	importOnly   []string
	importTag    string
	importDryRun bool
)

// initCompetitorImportFlags adds competitor import flags to the import command.
func initCompetitorImportFlags() {
	importCmd.Flags().StringVar(&importFrom, "from", "", "Import source: "+strings.Join(importer.ValidSources(), ", "))
	importCmd.Flags().StringSliceVar(&importOnly, "only", nil, "Import only titles matching these patterns (glob, case-insensitive)")
	importCmd.Flags().StringVar(&importTag, "tag", "", "Add tag to all imported records")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Show what would be imported without saving")
}

// isCompetitorImport checks if this is a competitor import based on flags.
func isCompetitorImport() bool {
	return importFrom != ""
}

// executeCompetitorImport merges records from another password manager's
// export into the vault.
func executeCompetitorImport(cmd *cobra.Command, filePath string) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	// Validate --from flag
	parser, err := importer.GetParser(importer.Source(strings.ToLower(importFrom)))
	if err != nil {
		return fmt.Errorf("invalid --from value '%s': must be one of %v", importFrom, importer.ValidSources())
	}

	// Read and validate file
	data, err := readCompetitorFile(filePath)
	if err != nil {
		return err
	}

	// Parse the file
	result, err := parser.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s file: %w", importFrom, err)
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(errOut, "Warning: %s\n", warning)
	}
	for _, skipped := range result.Skipped {
		fmt.Fprintf(errOut, "Skipped: %s (%s)\n", skipped.OriginalName, skipped.Reason)
	}

	// Filter by title patterns if specified
	if len(importOnly) > 0 {
		matches, err := cli.MatchPatterns(importOnly, result.Titles())
		if err != nil {
			return err
		}
		keep := make(map[int]bool, len(matches))
		for _, i := range matches {
			keep[i] = true
		}
		result.Filter(func(i int) bool { return keep[i] })
	}

	if result.Count() == 0 {
		fmt.Fprintln(out, "No records found in file")
		return nil
	}
	result.AddTag(importTag)

	if importDryRun {
		for _, title := range result.Titles() {
			fmt.Fprintf(out, "[dry-run] Would import: %s\n", title)
		}
		fmt.Fprintf(out, "%d records would be imported\n", result.Count())
		return nil
	}

	session, err := app.unlock(cmd.Context())
	if err != nil {
		return err
	}

	saved, err := importer.Apply(cmd.Context(), session.Vault(), result)
	app.record(audit.OpVaultImport, err, map[string]string{
		"source": string(parser.Source()),
		"items":  strconv.Itoa(saved),
	})
	if err != nil {
		return fmt.Errorf("import failed after %d of %d records: %w", saved, result.Count(), err)
	}

	fmt.Fprintf(out, "Imported %d records from %s (%d skipped, %d warnings)\n",
		saved, parser.Source(), len(result.Skipped), len(result.Warnings))
	return nil
}

// readCompetitorFile reads and validates a competitor export file.
func readCompetitorFile(filePath string) ([]byte, error) {
	// Validate file path
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	// Check file exists
	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", filePath)
		}
		return nil, fmt.Errorf("failed to access file: %w", err)
	}

	// Security check: reject symlinks
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("security: refusing to read symlink: %s", absPath)
	}
	if info.Size() > importer.MaxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", importer.ErrFileTooLarge, filePath, info.Size())
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	// The size check above can race with a growing file
	data, err := io.ReadAll(io.LimitReader(f, importer.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > importer.MaxFileSize {
		return nil, fmt.Errorf("%w: %s", importer.ErrFileTooLarge, filePath)
	}
	return data, nil
}
