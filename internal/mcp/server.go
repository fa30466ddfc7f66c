// Package mcp implements a read-only MCP (Model Context Protocol) server.
// AI agents can see what the vault holds (titles, kinds, masked details) but
// never receive passwords, card numbers, keys or note contents.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/forest6511/lokivault/pkg/auth"
)

// EnvPassword supplies the master password to a non-interactive server.
const EnvPassword = "LOKIVAULT_PASSWORD"

// Server represents the MCP server for lokivault.
type Server struct {
	server *mcp.Server
	auth   *auth.Manager
	logger *zap.Logger
	now    func() time.Time
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	// Manager owns the vault the server reads. Required.
	Manager *auth.Manager

	// Password is the master password for the vault.
	// If empty, the server reads and clears LOKIVAULT_PASSWORD.
	Password string

	// Logger receives server diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Version is reported to clients.
	Version string
}

// NewServer unlocks the vault and creates an MCP server over it.
func NewServer(ctx context.Context, opts *ServerOptions) (*Server, error) {
	if opts == nil || opts.Manager == nil {
		return nil, errors.New("mcp: auth manager is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	password := opts.Password
	if password == "" {
		password = os.Getenv(EnvPassword)
		// Clear the environment variable after reading for security
		os.Unsetenv(EnvPassword)
	}
	if password == "" {
		return nil, fmt.Errorf("no password provided: set %s environment variable", EnvPassword)
	}

	if _, err := opts.Manager.Authenticate(ctx, password); err != nil {
		return nil, fmt.Errorf("failed to unlock vault: %w", err)
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "lokivault",
			Version: version,
		},
		nil,
	)

	s := &Server{
		server: mcpServer,
		auth:   opts.Manager,
		logger: logger,
		now:    time.Now,
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	// vault_status - Lock state and record counts
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_status",
		Description: "Report whether the vault is unlocked, how many records of each kind it holds, and the auto-lock setting.",
	}, s.handleVaultStatus)

	// vault_list - Record summaries with masked details
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_list",
		Description: "List vault records by title, kind, tags and a masked detail (e.g. card '•••• 1234'). Filter by kind, title query, tag or favorites. Does NOT return passwords, card numbers, keys or note contents.",
	}, s.handleVaultList)
}

// Run serves MCP over stdio until ctx is done or the client disconnects.
// The vault is locked when Run returns.
func (s *Server) Run(ctx context.Context) error {
	defer s.auth.Logout()

	s.logger.Info("mcp server started")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close locks the vault.
func (s *Server) Close() error {
	s.auth.Logout()
	return nil
}
