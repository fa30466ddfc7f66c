package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/forest6511/lokivault/internal/config"
	"github.com/forest6511/lokivault/internal/logging"
	"github.com/forest6511/lokivault/pkg/audit"
	"github.com/forest6511/lokivault/pkg/auth"
	"github.com/forest6511/lokivault/pkg/secretstore"
)

var (
	vaultDir string
	app      *appContext
)

// stdin backs prompts when input is not a terminal
var stdin = bufio.NewReader(os.Stdin)

// appContext is everything a command needs, opened once per invocation.
type appContext struct {
	dir    string
	cfg    *config.Config
	logger *zap.Logger
	store  *secretstore.SQLiteStore
	audit  *audit.Logger
	auth   *auth.Manager
}

var rootCmd = &cobra.Command{
	Use:   "lokivault",
	Short: "lokivault is a local encrypted vault",
	Long: `A local vault for logins, secure notes, payment cards, identities,
Wi-Fi passwords and API keys, encrypted with a master password.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE runs before every subcommand and opens the vault
	// directory. Nothing is unlocked yet.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		source := audit.SourceCLI
		if cmd.Name() == "mcp-server" {
			source = audit.SourceMCP
		}
		a, err := openApp(cmd.Context(), vaultDir, source)
		if err != nil {
			return err
		}
		app = a
		return nil
	},
}

// execute runs the command line and releases whatever PersistentPreRunE
// opened, whether or not the command succeeded.
func execute() error {
	err := rootCmd.Execute()
	if app != nil {
		err = errors.Join(err, app.close())
		app = nil
	}
	return err
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&vaultDir, "vault-dir", "", "Vault directory (default $LOKIVAULT_DIR or ~/.lokivault)")
}

// openApp loads config and opens the store, audit trail and auth manager
// for dir.
func openApp(ctx context.Context, dir, source string) (*appContext, error) {
	if dir == "" {
		dir = config.DefaultDir()
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	store, err := secretstore.OpenSQLite(ctx, dir, secretstore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open vault at %s: %w", dir, err)
	}

	a := &appContext{dir: dir, cfg: cfg, logger: logger, store: store}
	opts := []auth.Option{auth.WithLogger(logger)}
	if cfg.Audit.Enabled {
		auditDir := filepath.Join(dir, "audit")
		if err := os.MkdirAll(auditDir, 0700); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
		a.audit = audit.NewLogger(auditDir, audit.WithSource(source), audit.WithLogger(logger))
		opts = append(opts, auth.WithAudit(a.audit))
	}
	a.auth = auth.New(store, opts...)
	return a, nil
}

// close locks the vault, spools unchained audit events and releases the
// store.
func (a *appContext) close() error {
	a.auth.Logout()
	var errs []error
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	errs = append(errs, a.store.Close())
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// unlock returns the open session, prompting for the master password when
// the vault is locked.
func (a *appContext) unlock(ctx context.Context) (*auth.Session, error) {
	if session, err := a.auth.Session(); err == nil {
		return session, nil
	}

	password, err := readPassword("Enter master password: ")
	if err != nil {
		return nil, err
	}
	session, err := a.auth.Authenticate(ctx, password)
	if err != nil {
		return nil, describeAuthError(err)
	}
	return session, nil
}

// record appends an audit event for a CLI-level operation. Audit failures
// are logged, never returned.
func (a *appContext) record(op string, opErr error, details map[string]string) {
	if a.audit == nil {
		return
	}
	var err error
	if opErr != nil {
		err = a.audit.Log(op, audit.ResultError, &audit.ErrorInfo{Code: "OPERATION_FAILED", Message: opErr.Error()}, details)
	} else {
		err = a.audit.Log(op, audit.ResultSuccess, nil, details)
	}
	if err != nil {
		a.logger.Warn("audit log failed", zap.String("op", op), zap.Error(err))
	}
}

// describeAuthError turns auth errors into user-facing messages.
func describeAuthError(err error) error {
	var incorrect *auth.IncorrectPasswordError
	var lockedOut *auth.LockedOutError
	switch {
	case errors.Is(err, auth.ErrNotSetup):
		return errors.New("vault is not initialized: run 'lokivault init' first")
	case errors.As(err, &lockedOut):
		return fmt.Errorf("too many failed attempts: try again in %s", formatRemaining(lockedOut.Remaining))
	case errors.As(err, &incorrect):
		return fmt.Errorf("incorrect password (%d attempts remaining before lockout)", incorrect.AttemptsRemaining)
	case errors.Is(err, auth.ErrWeakPassword):
		return fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
	case errors.Is(err, auth.ErrBiometricUnavailable):
		return errors.New("biometric unlock is not available on this device")
	}
	return err
}

// formatRemaining rounds a lockout up to whole seconds.
func formatRemaining(d time.Duration) string {
	return (d + time.Second - 1).Truncate(time.Second).String()
}

// readPassword prompts on stderr and reads a line without echo. When stdin
// is not a terminal the line is read as-is, which lets scripts pipe input.
var readPassword = func(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readLine()
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// readNewPassword prompts twice and checks both entries match.
func readNewPassword(prompt string) (string, error) {
	first, err := readPassword(prompt)
	if err != nil {
		return "", err
	}
	second, err := readPassword("Confirm password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	return first, nil
}

// prompt prints label and reads one line of visible input.
func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	return readLine()
}

func readLine() (string, error) {
	line, err := stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", errors.New("unexpected end of input")
		}
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// confirm asks a yes/no question; anything but y or yes is no.
func confirm(question string) (bool, error) {
	answer, err := prompt(question + " [y/N]: ")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// parseDuration parses a duration string with support for days (d),
// weeks (w), months (mo, 30 days) and years (y) on top of time.ParseDuration.
// A bare m is minutes, as in time.ParseDuration.
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	const day = 24 * time.Hour
	var mult time.Duration
	var valueStr string
	switch {
	case strings.HasSuffix(s, "mo"):
		mult, valueStr = 30*day, strings.TrimSuffix(s, "mo")
	case strings.HasSuffix(s, "d"):
		mult, valueStr = day, strings.TrimSuffix(s, "d")
	case strings.HasSuffix(s, "w"):
		mult, valueStr = 7*day, strings.TrimSuffix(s, "w")
	case strings.HasSuffix(s, "y"):
		mult, valueStr = 365*day, strings.TrimSuffix(s, "y")
	default:
		return time.ParseDuration(s)
	}

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", valueStr)
	}
	return time.Duration(value) * mult, nil
}
