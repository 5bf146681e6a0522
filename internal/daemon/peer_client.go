package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/leonletto/chatnode/internal/chat"
	"github.com/leonletto/chatnode/internal/identity"
	"github.com/leonletto/chatnode/internal/router"
)

// DefaultCallTimeout bounds a peer call whose context carries no deadline.
const DefaultCallTimeout = 5 * time.Second

// DialFunc opens a connection to a peer.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// PeerClient calls other nodes over the peer channel. It dials once per call.
type PeerClient struct {
	node    string
	peers   *PeerDirectory
	dial    DialFunc
	metrics *PeerMetrics
	logger  *slog.Logger
}

// NewPeerClient creates a client that calls peers as node.
func NewPeerClient(node string, peers *PeerDirectory, metrics *PeerMetrics, logger *slog.Logger) *PeerClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeerClient{
		node:    node,
		peers:   peers,
		dial:    (&net.Dialer{}).DialContext,
		metrics: metrics,
		logger:  logger.With("component", "peer_client"),
	}
}

// SetDialer replaces the dialer. Call before the client is in use.
func (c *PeerClient) SetDialer(dial DialFunc) {
	if dial != nil {
		c.dial = dial
	}
}

// Forward sends payload to target as a chat.request and waits for its
// response until ctx ends.
func (c *PeerClient) Forward(ctx context.Context, target string, payload []byte) (chat.Response, error) {
	addr, ok := c.peers.Lookup(target)
	if !ok {
		return chat.Response{}, fmt.Errorf("%w: %s", router.ErrUnknownPeer, target)
	}

	result, err := c.Call(ctx, addr, MethodChatRequest, ChatRequestParams{
		Source: c.node,
		Body:   json.RawMessage(payload),
	})
	if err != nil {
		return chat.Response{}, fmt.Errorf("forward to %s: %w", target, err)
	}

	resp, err := chat.DecodeResponse(result)
	if err != nil {
		return chat.Response{}, fmt.Errorf("forward to %s: %w", target, err)
	}

	c.peers.MarkSeen(target, time.Now())
	c.logger.DebugContext(ctx, "peer response", "target", target, "addr", addr, "bytes", len(result))
	return resp, nil
}

// NodeInfo asks the node at addr who it is.
func (c *PeerClient) NodeInfo(ctx context.Context, addr string) (*NodeInfo, error) {
	result, err := c.Call(ctx, addr, MethodNodeInfo, nil)
	if err != nil {
		return nil, err
	}

	var info NodeInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("unmarshal node info: %w", err)
	}
	return &info, nil
}

// Call makes one JSON-RPC call on a fresh connection to addr.
// A call that outlives ctx fails with router.ErrRemoteTimeout.
func (c *PeerClient) Call(ctx context.Context, addr, method string, params any) (json.RawMessage, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := c.call(ctx, addr, method, params)
	c.metrics.ObserveCall(method, callResult(err), time.Since(start))
	return result, err
}

func (c *PeerClient) call(ctx context.Context, addr, method string, params any) (json.RawMessage, error) {
	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: connect to %s: %v", router.ErrRemoteTimeout, addr, err)
		}
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	// Unblock reads on cancellation as well as on deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}

	id := identity.GenerateRequestID()
	data, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		return nil, c.ioError(ctx, addr, "write request", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, c.ioError(ctx, addr, "read response", err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if resp.Error != nil {
		return nil, &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if resp.ID != id {
		return nil, fmt.Errorf("response id %q does not match request %q", resp.ID, id)
	}

	return resp.Result, nil
}

func (c *PeerClient) ioError(ctx context.Context, addr, op string, err error) error {
	var ne net.Error
	if ctx.Err() != nil || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s %s: %v", router.ErrRemoteTimeout, op, addr, err)
	}
	return fmt.Errorf("%s %s: %w", op, addr, err)
}

func callResult(err error) string {
	var rpcErr *RPCError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, router.ErrRemoteTimeout):
		return "timeout"
	case errors.As(err, &rpcErr):
		return "rpc_error"
	default:
		return "error"
	}
}

// RPCError is an error response returned by a peer.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// rpcRequest is the JSON-RPC 2.0 request format used by the peer client.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// rpcResponse is the JSON-RPC 2.0 response format.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	ID      string          `json:"id"`
}
