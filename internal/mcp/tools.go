package mcp

import (
	"context"
	"fmt"
	"sort"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/leonletto/chatnode/internal/identity"
)

const defaultHistoryLimit = 50

// handleSendMessage sends a message through the node.
func (s *Server) handleSendMessage(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input SendMessageInput,
) (*gomcp.CallToolResult, SendMessageOutput, error) {
	if input.To == "" {
		return nil, SendMessageOutput{}, fmt.Errorf("'to' is required")
	}
	if err := identity.ValidateNodeName(input.To); err != nil {
		return nil, SendMessageOutput{}, fmt.Errorf("invalid 'to': %w", err)
	}
	if input.Content == "" {
		return nil, SendMessageOutput{}, fmt.Errorf("'content' is required")
	}

	if err := s.client.Send(ctx, input.To, input.Content); err != nil {
		return nil, SendMessageOutput{}, fmt.Errorf("send message: %w", err)
	}

	return nil, SendMessageOutput{Status: "sent", To: input.To}, nil
}

// handleGetHistory returns archived conversations, newest messages last.
func (s *Server) handleGetHistory(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input GetHistoryInput,
) (*gomcp.CallToolResult, GetHistoryOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	snap, err := s.client.History(ctx)
	if err != nil {
		return nil, GetHistoryOutput{}, fmt.Errorf("get history: %w", err)
	}

	names := make([]string, 0, len(snap))
	for name := range snap {
		if input.With != "" && name != input.With {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := GetHistoryOutput{Conversations: make([]ConversationInfo, 0, len(names))}
	for _, name := range names {
		msgs := snap[name]
		start := max(0, len(msgs)-limit)

		conv := ConversationInfo{
			With:     name,
			Messages: make([]MessageInfo, 0, len(msgs)-start),
			Total:    len(msgs),
		}
		for _, m := range msgs[start:] {
			conv.Messages = append(conv.Messages, MessageInfo{Author: m.Author, Content: m.Content})
		}
		out.Conversations = append(out.Conversations, conv)
	}
	out.Count = len(out.Conversations)

	return nil, out, nil
}

// handleNodeStatus reports the node's health.
func (s *Server) handleNodeStatus(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input NodeStatusInput,
) (*gomcp.CallToolResult, NodeStatusOutput, error) {
	h, err := s.client.Health(ctx)
	if err != nil {
		return nil, NodeStatusOutput{}, fmt.Errorf("node status: %w", err)
	}
	return nil, NodeStatusOutput{
		Node:          h.Node,
		Status:        h.Status,
		Uptime:        h.Uptime,
		Conversations: h.Conversations,
		LiveChannel:   h.LiveChannel,
		Viewers:       h.Viewers,
	}, nil
}

// handleWaitForMessage blocks until a new message event arrives.
func (s *Server) handleWaitForMessage(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input WaitForMessageInput,
) (*gomcp.CallToolResult, WaitForMessageOutput, error) {
	// Enforce single-waiter
	if !s.waiting.CompareAndSwap(false, true) {
		return nil, WaitForMessageOutput{}, fmt.Errorf("another wait_for_message is already active")
	}
	defer s.waiting.Store(false)

	out, err := waitForMessage(ctx, s.client, input.Timeout)
	if err != nil {
		return nil, WaitForMessageOutput{}, err
	}
	return nil, *out, nil
}
