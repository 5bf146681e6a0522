// Package mcp exposes a node's chat operations as MCP tools over stdio.
package mcp

import (
	"context"
	"sync/atomic"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/leonletto/chatnode/internal/cli"
)

// Server is the chatnode MCP server. Every tool call goes to the node's
// HTTP surface through a cli.Client.
type Server struct {
	client  *cli.Client
	version string
	server  *gomcp.Server
	waiting atomic.Bool // a wait_for_message call is active
}

// Option configures the MCP server.
type Option func(*Server)

// WithVersion sets the server version string.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates an MCP server for the node at nodeAddr.
func NewServer(nodeAddr string, opts ...Option) (*Server, error) {
	client, err := cli.NewClient(nodeAddr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		client:  client,
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{
			Name:    "chatnode",
			Version: s.version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// Run serves MCP on stdin/stdout until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// registerTools registers all MCP tool handlers with the server.
func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "send_message",
		Description: "Send a chat message to another node. The message is archived locally even if the target is unreachable.",
	}, s.handleSendMessage)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_history",
		Description: "Read archived conversations, optionally limited to one counterparty",
	}, s.handleGetHistory)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "node_status",
		Description: "Report the node's name, uptime, conversation count and live viewer",
	}, s.handleNodeStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "wait_for_message",
		Description: "Block until the next message is archived or timeout expires. Takes over the node's live channel while waiting.",
	}, s.handleWaitForMessage)
}
