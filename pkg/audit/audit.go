// Package audit records security-relevant vault events in an append-only,
// HMAC-chained JSONL log.
//
// Each record carries the HMAC of the previous one, so deleting, reordering
// or editing a line breaks the chain. The HMAC key is derived from the vault
// key and is only known while the vault is unlocked; events logged while it is
// unknown (a failed unlock, a lockout) are held in memory, spooled to disk by
// Close, and chained as soon as the key is set.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forest6511/lokivault/pkg/crypto"
)

// KeyInfo is the HKDF info string used to derive the audit HMAC key.
const KeyInfo = "lokivault-audit-v1"

// maxPending bounds the events held while the HMAC key is unknown.
const maxPending = 256

// spoolFile holds events a Logger was closed with before the key was known.
const spoolFile = "pending.spool"

// Operation types for audit logging
const (
	OpVaultSetup        = "vault.setup"
	OpVaultUnlock       = "vault.unlock"
	OpVaultUnlockFailed = "vault.unlock_failed"
	OpVaultLockout      = "vault.lockout"
	OpVaultLock         = "vault.lock"
	OpVaultAutoLock     = "vault.auto_lock"

	OpPasswordChange   = "password.change"
	OpBiometricEnable  = "biometric.enable"
	OpBiometricDisable = "biometric.disable"

	OpRecordSave   = "record.save"
	OpRecordDelete = "record.delete"

	OpVaultExport = "vault.export"
	OpVaultImport = "vault.import"
)

// Source identifies where the operation originated
const (
	SourceCLI = "cli"
	SourceMCP = "mcp"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Errors
var (
	ErrKeyNotSet = errors.New("audit: HMAC key not set")
)

// Event is a single audit record.
type Event struct {
	Version   int               `json:"v"`
	ID        string            `json:"id"`
	Timestamp string            `json:"ts"` // RFC 3339 nanosecond precision
	Operation string            `json:"op"`
	Source    string            `json:"source"`
	SessionID string            `json:"session_id"`
	Result    string            `json:"result"`
	Error     *ErrorInfo        `json:"error,omitempty"`
	Context   map[string]string `json:"ctx,omitempty"`
	Chain     Chain             `json:"chain"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// chainState is persisted next to the log so the chain survives restarts.
type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

const genesis = "genesis"

// Logger appends chained events to monthly files in a directory.
type Logger struct {
	mu sync.Mutex

	path      string
	hmacKey   []byte
	sequence  int64
	prevHash  string
	sessionID string
	source    string
	pending   []Event

	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithSource sets the source stamped on every event (default SourceCLI).
func WithSource(source string) Option {
	return func(l *Logger) { l.source = source }
}

// WithClock sets the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(z *zap.Logger) Option {
	return func(l *Logger) {
		if z != nil {
			l.logger = z
		}
	}
}

// NewLogger creates an audit logger writing under path.
func NewLogger(path string, opts ...Option) *Logger {
	l := &Logger{
		path:      path,
		prevHash:  genesis,
		sessionID: uuid.NewString(),
		source:    SourceCLI,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the audit log directory path
func (l *Logger) Path() string {
	return l.path
}

// SetHMACKey installs the chain key, restores the chain position and writes
// any events logged while the key was unknown.
func (l *Logger) SetHMACKey(key []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(key) == 0 {
		return fmt.Errorf("audit: empty HMAC key")
	}
	if l.hmacKey != nil {
		crypto.SecureWipe(l.hmacKey)
	}
	l.hmacKey = append([]byte{}, key...)

	if err := l.loadChainState(); err != nil {
		// First run
		l.sequence = 0
		l.prevHash = genesis
	}

	pending := append(l.loadSpool(), l.pending...)
	l.pending = nil
	for i := range pending {
		if err := l.appendLocked(&pending[i]); err != nil {
			l.pending = append(l.pending, pending[i:]...)
			return err
		}
	}
	return nil
}

// loadSpool returns and removes spooled events. Once read they live in
// memory until chained or spooled again by Close.
func (l *Logger) loadSpool() []Event {
	path := filepath.Join(l.path, spoolFile)
	events, err := readLogFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("audit spool unreadable, discarding", zap.Error(err))
			_ = os.Remove(path)
		}
		return nil
	}
	if err := os.Remove(path); err != nil {
		l.logger.Warn("failed to remove audit spool", zap.Error(err))
	}
	if len(events) > maxPending {
		events = events[len(events)-maxPending:]
	}
	return events
}

// Close writes events still waiting for the HMAC key to a spool file in the
// log directory. The next SetHMACKey on that directory chains them.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return nil
	}
	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(l.path, spoolFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open spool: %w", err)
	}
	defer f.Close()

	for i := range l.pending {
		data, err := json.Marshal(&l.pending[i])
		if err != nil {
			return fmt.Errorf("audit: failed to marshal event: %w", err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("audit: failed to write spool: %w", err)
		}
	}
	l.pending = nil
	return nil
}

// ClearHMACKey wipes the chain key. Later events are buffered again.
func (l *Logger) ClearHMACKey() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hmacKey != nil {
		crypto.SecureWipe(l.hmacKey)
		l.hmacKey = nil
	}
}

// Pending returns the number of events waiting for the HMAC key.
func (l *Logger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Log records an audit event. Context values must never contain secrets.
func (l *Logger) Log(op, result string, errInfo *ErrorInfo, ctx map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	event := Event{
		Version:   1,
		ID:        id.String(),
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Source:    l.source,
		SessionID: l.sessionID,
		Result:    result,
		Error:     errInfo,
		Context:   ctx,
	}

	if l.hmacKey == nil {
		if len(l.pending) >= maxPending {
			l.logger.Warn("audit buffer full, dropping oldest event", zap.String("op", l.pending[0].Operation))
			l.pending = l.pending[1:]
		}
		l.pending = append(l.pending, event)
		return nil
	}
	return l.appendLocked(&event)
}

func (l *Logger) appendLocked(event *Event) error {
	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}

	seq, prev := l.sequence+1, l.prevHash
	event.Chain = Chain{Sequence: seq, PrevHash: prev}
	event.Chain.HMAC = l.sign(event)

	if err := l.writeEvent(event); err != nil {
		return err
	}
	l.sequence = seq
	l.prevHash = event.Chain.HMAC
	return l.saveChainState()
}

func (l *Logger) sign(event *Event) string {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write(recordData(event))
	return hex.EncodeToString(mac.Sum(nil))
}

// recordData is the canonical byte form covered by a record's HMAC.
func recordData(event *Event) []byte {
	errorData := ""
	if event.Error != nil {
		errorData = event.Error.Code + "|" + event.Error.Message
	}

	var ctx strings.Builder
	keys := make([]string, 0, len(event.Context))
	for k := range event.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&ctx, "%s=%s|", k, event.Context[k])
	}

	return []byte(fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Source,
		event.SessionID,
		event.Result,
		errorData,
		ctx.String(),
		event.Chain.Sequence,
		event.Chain.PrevHash,
	))
}

// writeEvent appends an event to the file of the month it was recorded in.
func (l *Logger) writeEvent(event *Event) error {
	month := event.Timestamp
	if ts, err := time.Parse(time.RFC3339Nano, event.Timestamp); err == nil {
		month = ts.Format("2006-01")
	}
	path := filepath.Join(l.path, month+".jsonl")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.path, "audit.meta"))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.path, "audit.meta"), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}
