package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/forest6511/lokivault/pkg/auth"
	"github.com/forest6511/lokivault/pkg/vault"
)

// maxListLimit caps vault_list results
const maxListLimit = 500

// errVaultLocked tells the client why a tool stopped working mid-session.
var errVaultLocked = errors.New("vault is locked (auto-lock or logout); restart the MCP server to unlock it again")

// VaultStatusInput represents input for vault_status tool.
type VaultStatusInput struct{}

// VaultStatusOutput represents output for vault_status tool.
type VaultStatusOutput struct {
	Unlocked                bool           `json:"unlocked"`
	Items                   map[string]int `json:"items,omitempty"`
	TotalItems              int            `json:"total_items"`
	Categories              int            `json:"categories"`
	Tags                    int            `json:"tags"`
	AutoLockSeconds         int            `json:"auto_lock_seconds"`
	BiometricEnabled        bool           `json:"biometric_enabled"`
	FailedAttempts          int            `json:"failed_attempts"`
	LockoutRemainingSeconds int            `json:"lockout_remaining_seconds,omitempty"`
}

// VaultListInput represents input for vault_list tool.
type VaultListInput struct {
	Kind          string `json:"kind,omitempty"`
	Query         string `json:"query,omitempty"`
	Tag           string `json:"tag,omitempty"`
	FavoritesOnly bool   `json:"favorites_only,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

// VaultListOutput represents output for vault_list tool.
type VaultListOutput struct {
	Items     []vault.Summary `json:"items"`
	Total     int             `json:"total"`
	Truncated bool            `json:"truncated,omitempty"`
}

// handleVaultStatus handles the vault_status tool call.
func (s *Server) handleVaultStatus(ctx context.Context, _ *mcp.CallToolRequest, _ VaultStatusInput) (*mcp.CallToolResult, VaultStatusOutput, error) {
	status, err := s.auth.Status(ctx)
	if err != nil {
		return nil, VaultStatusOutput{}, fmt.Errorf("failed to read vault status: %w", err)
	}

	output := VaultStatusOutput{
		Unlocked:                status.Unlocked,
		AutoLockSeconds:         int(status.AutoLock.Seconds()),
		BiometricEnabled:        status.BiometricEnabled,
		FailedAttempts:          status.FailedAttempts,
		LockoutRemainingSeconds: int(status.LockoutRemaining.Seconds()),
	}

	session, err := s.auth.Session()
	if err != nil {
		return nil, output, nil
	}
	repo := session.Vault()
	output.Items = make(map[string]int, len(vault.Kinds))
	for kind, n := range repo.Counts() {
		output.Items[string(kind)] = n
		output.TotalItems += n
	}
	output.Categories = len(repo.Categories())
	output.Tags = len(repo.Tags())

	return nil, output, nil
}

// handleVaultList handles the vault_list tool call.
func (s *Server) handleVaultList(_ context.Context, _ *mcp.CallToolRequest, input VaultListInput) (*mcp.CallToolResult, VaultListOutput, error) {
	session, err := s.auth.Session()
	if err != nil {
		if errors.Is(err, auth.ErrLocked) {
			return nil, VaultListOutput{}, errVaultLocked
		}
		return nil, VaultListOutput{}, err
	}

	filter := vault.Filter{
		Query:         input.Query,
		Tag:           input.Tag,
		FavoritesOnly: input.FavoritesOnly,
	}
	if input.Kind != "" {
		kind, ok := vault.ParseKind(input.Kind)
		if !ok {
			return nil, VaultListOutput{}, fmt.Errorf("unknown kind %q", input.Kind)
		}
		filter.Kind = kind
	}

	items, err := session.Vault().List(filter, s.now())
	if err != nil {
		if errors.Is(err, vault.ErrNotInitialized) {
			return nil, VaultListOutput{}, errVaultLocked
		}
		return nil, VaultListOutput{}, fmt.Errorf("failed to list records: %w", err)
	}

	limit := input.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	output := VaultListOutput{Items: items, Total: len(items)}
	if len(items) > limit {
		output.Items = items[:limit]
		output.Truncated = true
	}

	s.logger.Debug("vault_list", zap.Int("results", len(output.Items)))
	return nil, output, nil
}
