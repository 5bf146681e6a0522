package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/leonletto/chatnode/internal/chat"
	"github.com/leonletto/chatnode/internal/identity"
	"github.com/leonletto/chatnode/internal/router"
	"github.com/leonletto/chatnode/internal/transport"
)

// Peer-channel methods.
const (
	MethodChatRequest = "chat.request"
	MethodNodeInfo    = "node.info"
)

// DefaultMaxLineBytes caps a single peer request line.
const DefaultMaxLineBytes = 1 << 20

// allowedPeerMethods is the whitelist of RPC methods served on the peer channel.
var allowedPeerMethods = map[string]bool{
	MethodChatRequest: true,
	MethodNodeInfo:    true,
}

// ChatRequestParams are the params of a chat.request call.
type ChatRequestParams struct {
	Source string          `json:"source"`
	Body   json.RawMessage `json:"body"`
}

// NodeInfo is the result of a node.info call.
type NodeInfo struct {
	Node      string    `json:"node"`
	StartedAt time.Time `json:"started_at"`
}

// Dispatcher runs chat commands to completion.
type Dispatcher interface {
	Node() string
	Dispatch(ctx context.Context, cmd router.Command) error
}

// PeerServerOptions configures a PeerServer. Zero values are usable.
type PeerServerOptions struct {
	Transport    transport.Transport // TransportPeer unless set
	Limiter      *PeerRateLimiter
	Metrics      *PeerMetrics
	Logger       *slog.Logger
	MaxLineBytes int
	StartedAt    time.Time
}

// PeerServer accepts newline-delimited JSON-RPC 2.0 requests from other nodes.
type PeerServer struct {
	dispatcher Dispatcher
	transport  transport.Transport
	limiter    *PeerRateLimiter
	metrics    *PeerMetrics
	logger     *slog.Logger
	maxLine    int
	startedAt  time.Time

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

// NewPeerServer creates a peer server that hands chat commands to d.
func NewPeerServer(d Dispatcher, opts PeerServerOptions) *PeerServer {
	if opts.Transport == transport.TransportUnknown {
		opts.Transport = transport.TransportPeer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	return &PeerServer{
		dispatcher: d,
		transport:  opts.Transport,
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With("component", "peer_server"),
		maxLine:    opts.MaxLineBytes,
		startedAt:  opts.StartedAt,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until Stop is called or ln fails.
func (s *PeerServer) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = ln.Close()
		return fmt.Errorf("peer server is shutting down")
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "peer channel listening", "addr", ln.Addr().String(), "transport", s.transport.String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		go func() {
			defer s.untrack(conn)
			s.ServeConn(ctx, conn)
		}()
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *PeerServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and open connections and waits for handlers to finish.
func (s *PeerServer) Stop() error {
	s.mu.Lock()
	s.shutdown = true
	ln := s.listener
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("close peer listener: %w", cerr)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("timed out waiting for peer connections to finish")
	}
	return err
}

func (s *PeerServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *PeerServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
	s.wg.Done()
}

// ServeConn reads requests from conn until it closes. Requests on one
// connection are answered in order.
func (s *PeerServer) ServeConn(ctx context.Context, conn net.Conn) {
	peerID := remoteHost(conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), s.maxLine)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp, ok := s.handleLine(ctx, peerID, line)
		if !ok {
			continue
		}
		if err := writePeerResponse(writer, resp); err != nil {
			s.logger.DebugContext(ctx, "write peer response", "peer", peerID, "error", err)
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.DebugContext(ctx, "peer connection ended", "peer", peerID, "error", err)
	}
}

// handleLine answers one request line. ok is false when nothing should be
// written back.
func (s *PeerServer) handleLine(ctx context.Context, peerID string, line []byte) (resp jsonRPCResponse, ok bool) {
	var req jsonRPCRequest
	if err := json.Unmarshal(line, &req); err != nil || req.Method == "" {
		s.metrics.RecordRequest("invalid", "dropped")
		s.logger.DebugContext(ctx, "dropping malformed peer envelope", "peer", peerID)
		return jsonRPCResponse{}, false
	}

	// Security boundary: only allow whitelisted methods
	if !allowedPeerMethods[req.Method] {
		s.metrics.RecordRequest("other", "not_found")
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method)), true
	}

	if err := s.limiter.Allow(peerID); err != nil {
		s.metrics.RecordRequest(req.Method, "rate_limited")
		s.logger.WarnContext(ctx, "peer rate limited", "peer", peerID, "method", req.Method)
		return errorResponse(req.ID, codeServerError, err.Error()), true
	}

	switch req.Method {
	case MethodNodeInfo:
		data, err := json.Marshal(NodeInfo{Node: s.dispatcher.Node(), StartedAt: s.startedAt})
		if err != nil {
			s.metrics.RecordRequest(req.Method, "error")
			return errorResponse(req.ID, codeInternalError, "internal error"), true
		}
		s.metrics.RecordRequest(req.Method, "ok")
		return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: data}, true
	default:
		return s.handleChatRequest(ctx, req)
	}
}

// handleChatRequest runs a chat command received from another node.
//
// The params carry the caller's own claim of which node it is. That claim is
// not checked against the connection: any host that can reach the peer
// listener can author messages as any node name. Deployments that need more
// should put the listener on a tailnet.
func (s *PeerServer) handleChatRequest(ctx context.Context, req jsonRPCRequest) (jsonRPCResponse, bool) {
	var params ChatRequestParams
	if err := json.Unmarshal(req.Params, &params); err != nil ||
		identity.ValidateNodeName(params.Source) != nil || len(params.Body) == 0 {
		s.metrics.RecordRequest(req.Method, "dropped")
		s.logger.DebugContext(ctx, "dropping chat request with bad params")
		return jsonRPCResponse{}, false
	}

	var reply *chat.Response
	cmd := router.Command{
		Source:    params.Source,
		Transport: s.transport,
		Raw:       params.Body,
		Reply: func(_ context.Context, resp chat.Response) error {
			reply = &resp
			return nil
		},
	}

	if err := s.dispatcher.Dispatch(ctx, cmd); err != nil {
		s.metrics.RecordRequest(req.Method, "error")
		return errorResponse(req.ID, codeServerError, err.Error()), true
	}

	// The body did not decode: the router dropped it and so do we.
	if reply == nil {
		s.metrics.RecordRequest(req.Method, "dropped")
		return jsonRPCResponse{}, false
	}

	data, err := json.Marshal(reply)
	if err != nil {
		s.metrics.RecordRequest(req.Method, "error")
		return errorResponse(req.ID, codeInternalError, "internal error"), true
	}
	s.metrics.RecordRequest(req.Method, "ok")
	return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: data}, true
}

func remoteHost(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// JSON-RPC 2.0 error codes.
const (
	codeMethodNotFound = -32601
	codeInternalError  = -32603
	codeServerError    = -32000
)

// JSON-RPC 2.0 request structure.
type jsonRPCRequest struct {
	JSONRPC string           `json:"jsonrpc"`
	Method  string           `json:"method"`
	Params  json.RawMessage  `json:"params,omitempty"`
	ID      *json.RawMessage `json:"id,omitempty"`
}

// JSON-RPC 2.0 response structure.
type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *jsonRPCError    `json:"error,omitempty"`
	ID      *json.RawMessage `json:"id,omitempty"`
}

// JSON-RPC 2.0 error structure.
type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func errorResponse(id *json.RawMessage, code int, msg string) jsonRPCResponse {
	return jsonRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonRPCError{Code: code, Message: msg},
	}
}

// writePeerResponse writes a JSON-RPC response as a newline-delimited JSON line.
func writePeerResponse(w *bufio.Writer, resp jsonRPCResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
