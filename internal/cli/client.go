// Package cli holds the client side of chatnode's command line: an HTTP
// client for a running node, history formatting and the live watch stream.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leonletto/chatnode/internal/archive"
	"github.com/leonletto/chatnode/internal/chat"
)

// DefaultTimeout bounds a single request to the node.
const DefaultTimeout = 10 * time.Second

// Client talks to a node's local HTTP surface.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the node at addr. Addr may be "host:port"
// or a full http(s) URL.
func NewClient(addr string) (*Client, error) {
	base, err := baseURL(addr)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: DefaultTimeout},
	}, nil
}

func baseURL(addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("node address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid node address %q: %w", addr, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid node address %q: scheme must be http or https", addr)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid node address %q: missing host", addr)
	}
	return strings.TrimRight(u.Scheme+"://"+u.Host+u.Path, "/"), nil
}

// BaseURL returns the node's base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send asks the node to send message to target.
func (c *Client) Send(ctx context.Context, target, message string) error {
	body, err := json.Marshal(chat.NewSendRequest(target, message))
	if err != nil {
		return fmt.Errorf("encode send: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/messages", body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return statusError(resp)
	}
	return nil
}

// History fetches the node's whole archive.
func (c *Client) History(ctx context.Context) (archive.Archive, error) {
	resp, err := c.do(ctx, http.MethodGet, "/messages", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	r, err := chat.DecodeResponse(data)
	if err != nil {
		return nil, err
	}
	if r.Kind != chat.ResponseHistory {
		return nil, fmt.Errorf("unexpected %s response to history request", responseName(r.Kind))
	}
	if r.Messages == nil {
		return archive.Archive{}, nil
	}
	return r.Messages, nil
}

// HealthResponse is the node's /healthz body.
type HealthResponse struct {
	Status        string `json:"status"`
	Node          string `json:"node"`
	Uptime        string `json:"uptime"`
	Conversations int    `json:"conversations"`
	LiveChannel   string `json:"live_channel,omitempty"`
	Viewers       int    `json:"viewers"`
}

// Health reports the node's status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var h HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &h, nil
}

// WatchURL returns the node's live channel URL.
func (c *Client) WatchURL() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + "/ws"
	default:
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/ws"
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach node at %s: %w", c.baseURL, err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if text := strings.TrimSpace(string(msg)); text != "" {
		return fmt.Errorf("node returned %s: %s", resp.Status, text)
	}
	return fmt.Errorf("node returned %s", resp.Status)
}

func responseName(k chat.ResponseKind) string {
	switch k {
	case chat.ResponseAck:
		return "Ack"
	case chat.ResponseHistory:
		return "History"
	default:
		return "unknown"
	}
}
