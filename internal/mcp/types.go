package mcp

// SendMessageInput is the input for the send_message MCP tool.
type SendMessageInput struct {
	To      string `json:"to" jsonschema:"Name of the node to send to"`
	Content string `json:"content" jsonschema:"Message text"`
}

// SendMessageOutput is the output for the send_message MCP tool.
type SendMessageOutput struct {
	Status string `json:"status" jsonschema:"sent: archived locally and handed to the target node"`
	To     string `json:"to"`
}

// GetHistoryInput is the input for the get_history MCP tool.
type GetHistoryInput struct {
	With  string `json:"with,omitempty" jsonschema:"Only the conversation with this node. Default: all conversations"`
	Limit int    `json:"limit,omitempty" jsonschema:"Most recent messages to return per conversation. Default 50"`
}

// MessageInfo is one archived message.
type MessageInfo struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

// ConversationInfo is the history with one counterparty.
type ConversationInfo struct {
	With     string        `json:"with"`
	Messages []MessageInfo `json:"messages"`
	Total    int           `json:"total" jsonschema:"Messages in the conversation, including ones cut by limit"`
}

// GetHistoryOutput is the output for the get_history MCP tool.
type GetHistoryOutput struct {
	Conversations []ConversationInfo `json:"conversations"`
	Count         int                `json:"count"`
}

// NodeStatusInput is the input for the node_status MCP tool.
type NodeStatusInput struct{}

// NodeStatusOutput is the output for the node_status MCP tool.
type NodeStatusOutput struct {
	Node          string `json:"node"`
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	Conversations int    `json:"conversations"`
	LiveChannel   string `json:"live_channel,omitempty"`
	Viewers       int    `json:"viewers"`
}

// WaitForMessageInput is the input for the wait_for_message MCP tool.
type WaitForMessageInput struct {
	Timeout int `json:"timeout,omitempty" jsonschema:"Max seconds to wait. Default 300, max 600"`
}

// NewMessageInfo is a message received while waiting.
type NewMessageInfo struct {
	Chat    string `json:"chat" jsonschema:"Conversation the message was filed under"`
	Author  string `json:"author"`
	Content string `json:"content"`
}

// WaitForMessageOutput is the output for the wait_for_message MCP tool.
type WaitForMessageOutput struct {
	Status        string          `json:"status" jsonschema:"Result: message_received, timeout or closed"`
	Message       *NewMessageInfo `json:"message,omitempty" jsonschema:"The received message if any"`
	WaitedSeconds int             `json:"waited_seconds" jsonschema:"How long the wait lasted in seconds"`
}
