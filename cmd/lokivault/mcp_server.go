package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/lokivault/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the read-only MCP server for AI assistants
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the read-only MCP server for AI assistant integration",
	Long: `Start an MCP server that lets AI assistants see what the vault holds
without ever receiving secret values.

The server implements the Model Context Protocol (MCP) over stdio transport.

Available tools:
  - vault_status: Lock state, record counts and auto-lock setting
  - vault_list:   Record titles, kinds, tags and masked details

Authentication:
  Set LOKIVAULT_PASSWORD before starting the server. The password is read
  once and immediately cleared from the environment. The session follows
  the vault auto-lock; once locked, restart the server to unlock again.

Enable the server with "mcp: {enabled: true}" in config.yaml.

Example MCP configuration:
  {
    "mcpServers": {
      "lokivault": {
        "type": "stdio",
        "command": "/path/to/lokivault",
        "args": ["mcp-server"],
        "env": {
          "LOKIVAULT_PASSWORD": "your-master-password"
        }
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer(cmd.Context())
	},
}

func runMCPServer(parent context.Context) error {
	if !app.cfg.MCP.Enabled {
		return errors.New("MCP server is disabled: set mcp.enabled: true in config.yaml")
	}

	server, err := mcp.NewServer(parent, &mcp.ServerOptions{
		Manager: app.auth,
		Logger:  app.logger,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", describeAuthError(err))
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	// Run the server
	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
