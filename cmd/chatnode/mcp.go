package main

import (
	"fmt"

	"github.com/spf13/cobra"

	chatmcp "github.com/leonletto/chatnode/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "MCP server integration",
	}

	cmd.AddCommand(mcpServeCmd())
	return cmd
}

func mcpServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start MCP stdio server for chat tools",
		Long: `Starts an MCP server on stdin/stdout exposing the node's chat operations
(send_message, get_history, node_status, wait_for_message) as tools.

Requires a running node at --addr. Example client configuration:
  {
    "mcpServers": {
      "chatnode": {
        "type": "stdio",
        "command": "chatnode",
        "args": ["mcp", "serve", "--addr", "localhost:8080"]
      }
    }
  }`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			s, err := chatmcp.NewServer(flagAddr, chatmcp.WithVersion(Version))
			if err != nil {
				return err
			}

			// Fail fast when no node is listening.
			client, err := getClient()
			if err != nil {
				return err
			}
			if _, err := client.Health(ctx); err != nil {
				return fmt.Errorf("chatnode is not running at %s. Start it with: chatnode serve\n  (%w)", flagAddr, err)
			}

			return s.Run(ctx)
		},
	}
	return cmd
}
