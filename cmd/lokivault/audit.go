package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/lokivault/internal/cli"
	"github.com/forest6511/lokivault/pkg/audit"
)

// Audit flags
var (
	auditLimit int
	auditSince string
	auditJSON  bool
)

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show events since duration (e.g., 30m, 24h, 7d, 2w, 3mo, 1y)")
	auditVerifyCmd.Flags().BoolVar(&auditJSON, "json", false, "Print the result as JSON")
}

// requireAudit fails when the audit trail is disabled in config.yaml
func requireAudit() (*audit.Logger, error) {
	if app.audit == nil {
		return nil, errors.New("audit log is disabled: set audit.enabled: true in config.yaml")
	}
	return app.audit, nil
}

// auditCmd is the parent command for audit operations
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

// auditListCmd lists audit log entries
var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		logger, err := requireAudit()
		if err != nil {
			return err
		}

		// 1. Unlock vault so buffered events are chained
		if _, err := app.unlock(cmd.Context()); err != nil {
			return err
		}

		// 2. Parse since duration
		var since time.Time
		if auditSince != "" {
			duration, err := parseDuration(auditSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-duration)
		}

		// 3. Get audit events
		events, err := logger.ListEvents(auditLimit, since)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}
		if len(events) == 0 {
			fmt.Fprintln(out, "No audit events found")
			return nil
		}

		// 4. Display events
		for _, event := range events {
			// Format: TIMESTAMP SOURCE OPERATION RESULT [k=v ...] [error:CODE]
			line := fmt.Sprintf("%s %-4s %-22s %s", event.Timestamp, event.Source, event.Operation, event.Result)
			if len(event.Context) > 0 {
				keys := cli.MapKeys(event.Context)
				pairs := make([]string, len(keys))
				for i, k := range keys {
					pairs[i] = k + "=" + event.Context[k]
				}
				line += " " + strings.Join(pairs, " ")
			}
			if event.Error != nil {
				line += fmt.Sprintf(" error:%s", event.Error.Code)
			}
			fmt.Fprintln(out, line)
		}

		fmt.Fprintf(out, "\nTotal: %d events\n", len(events))
		return nil
	},
}

// auditVerifyCmd verifies audit log integrity
var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log HMAC chain integrity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		logger, err := requireAudit()
		if err != nil {
			return err
		}

		// 1. Unlock vault to derive the HMAC key
		if _, err := app.unlock(cmd.Context()); err != nil {
			return err
		}

		// 2. Run verification
		result, err := logger.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}

		// 3. Display result
		if auditJSON {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		} else if result.Valid {
			fmt.Fprintf(out, "✓ Audit log verified: %d records, chain intact\n", result.RecordsTotal)
		} else {
			fmt.Fprintln(out, "✗ Audit log verification FAILED")
			fmt.Fprintf(out, "  Records total: %d\n", result.RecordsTotal)
			fmt.Fprintf(out, "  Records verified: %d\n", result.RecordsVerified)
			fmt.Fprintln(out, "  Errors:")
			for _, e := range result.Errors {
				fmt.Fprintf(out, "    - %s\n", e)
			}
		}
		if !result.Valid {
			return errors.New("audit log integrity check failed")
		}
		return nil
	},
}
