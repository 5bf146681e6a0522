// Package websocket is the local client surface of a node: the /messages HTTP
// endpoint, the /ws live channel, health, metrics and the optional web UI.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leonletto/chatnode/internal/archive"
	"github.com/leonletto/chatnode/internal/chat"
	"github.com/leonletto/chatnode/internal/identity"
	"github.com/leonletto/chatnode/internal/logging"
	"github.com/leonletto/chatnode/internal/router"
	"github.com/leonletto/chatnode/internal/transport"
)

// DefaultMaxRequestBytes caps POST bodies and WebSocket frames.
const DefaultMaxRequestBytes = 1 << 20

// Node is the part of a chat node this surface drives. *daemon.Loop
// implements it.
type Node interface {
	Node() string
	Dispatch(ctx context.Context, cmd router.Command) error
	OpenChannel(ctx context.Context, channelID string) error
	CloseChannel(ctx context.Context, channelID string) error
	Status(ctx context.Context) (router.Status, error)
	History(ctx context.Context) (archive.Archive, error)
}

// Options configures a Server. Zero values are usable.
type Options struct {
	// UIDir, when set, is served at / with index.html as SPA fallback.
	UIDir string
	// MaxRequestBytes caps POST bodies and frames. Defaults to DefaultMaxRequestBytes.
	MaxRequestBytes int64
	// Gatherer backs /metrics. No /metrics route when nil.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server serves the local client surface.
type Server struct {
	addr       string
	node       Node
	clients    *ClientRegistry
	upgrader   websocket.Upgrader
	httpServer *http.Server
	handler    http.Handler
	maxBody    int64
	logger     *slog.Logger
	startTime  time.Time

	mu       sync.RWMutex
	listener net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for node on addr ("host:port").
// Clients is the registry live events are delivered through; the node must
// have been built with the same registry as its live.Sender.
func NewServer(addr string, node Node, clients *ClientRegistry, opts Options) *Server {
	if clients == nil {
		clients = NewClientRegistry()
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		addr:      addr,
		node:      node,
		clients:   clients,
		maxBody:   opts.MaxRequestBytes,
		logger:    opts.Logger.With("component", "http"),
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			// Allow all origins for local development
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/messages", s.handleMessages)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if opts.UIDir != "" {
		uiFS := os.DirFS(opts.UIDir)

		// Static assets with long cache headers
		assetServer := http.FileServerFS(uiFS)
		mux.HandleFunc("/assets/", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "max-age=31536000, immutable")
			assetServer.ServeHTTP(w, r)
		})

		// SPA fallback for all other routes
		mux.HandleFunc("/", s.handleSPA(uiFS))
	}

	s.handler = logging.Middleware(s.logger, mux)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Clients returns the registry of connected viewers.
func (s *Server) Clients() *ClientRegistry {
	return s.clients
}

// handleSPA returns an HTTP handler that serves the SPA. It reads index.html
// once at startup and serves it from memory for all non-asset paths.
func (s *Server) handleSPA(uiFS fs.FS) http.HandlerFunc {
	indexHTML, err := fs.ReadFile(uiFS, "index.html")
	if err != nil {
		s.logger.Warn("ui index.html not found", "error", err)
		indexHTML = []byte("<!DOCTYPE html><html><body>UI not found</body></html>")
	}

	fileServer := http.FileServerFS(uiFS)

	return func(w http.ResponseWriter, r *http.Request) {
		// Try to serve the exact file from uiFS first (skip root path)
		path := r.URL.Path
		if path != "/" {
			if f, openErr := uiFS.Open(path[1:]); openErr == nil {
				_ = f.Close()
				fileServer.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(indexHTML)
	}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return fmt.Errorf("server is shutting down")
	}
	if s.listener != nil {
		return fmt.Errorf("server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.InfoContext(ctx, "listening", "addr", ln.Addr().String())
	return nil
}

// Stop closes viewer connections, shuts the HTTP server down and waits for
// connection handlers to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.clients.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("timed out waiting for websocket connections to finish")
	}
	return nil
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// handleMessages serves /messages.
//
// GET returns the archive. POST bodies are local commands: a History request
// is answered with 200 and the archive, anything else gets 201 with no body,
// including bodies that do not decode.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		snap, err := s.node.History(ctx)
		if err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		s.writeJSON(w, http.StatusOK, chat.HistoryResponse(snap))

	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(w, http.StatusRequestEntityTooLarge, err)
				return
			}
			s.writeError(w, http.StatusBadRequest, err)
			return
		}

		var reply *chat.Response
		cmd := router.Command{
			Source:    s.node.Node(),
			Transport: transport.TransportHTTP,
			Raw:       body,
			Reply: func(_ context.Context, resp chat.Response) error {
				reply = &resp
				return nil
			},
		}
		if err := s.node.Dispatch(ctx, cmd); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err)
			return
		}

		if reply != nil {
			s.writeJSON(w, http.StatusOK, reply)
			return
		}
		w.WriteHeader(http.StatusCreated)

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// HealthStatus is the /healthz body.
type HealthStatus struct {
	Status        string `json:"status"`
	Node          string `json:"node"`
	Uptime        string `json:"uptime"`
	Conversations int    `json:"conversations"`
	LiveChannel   string `json:"live_channel,omitempty"`
	Viewers       int    `json:"viewers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.node.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, HealthStatus{
		Status:        "ok",
		Node:          st.Node,
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
		Conversations: st.Conversations,
		LiveChannel:   st.LiveChannel,
		Viewers:       s.clients.Count(),
	})
}

// handleWebSocket upgrades the request and makes the connection the live channel.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Hold the read lock across both the shutdown check and wg.Add to prevent
	// a race where Stop() calls wg.Wait() between our check and our Add.
	s.mu.RLock()
	if s.shutdown {
		s.mu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.wg.Done()
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	go s.handleConnection(context.Background(), conn)
}

// handleConnection runs one viewer connection until either side closes it.
func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()

	channelID := identity.GenerateChannelID()
	wsConn := NewConnection(conn, channelID, s, s.maxBody)
	defer func() { _ = wsConn.Close() }()

	s.clients.Register(channelID, wsConn)
	defer s.clients.Unregister(channelID)

	if err := s.node.OpenChannel(ctx, channelID); err != nil {
		s.logger.WarnContext(ctx, "attach live channel", "channel", channelID, "error", err)
		return
	}
	// The live slot is left pointing at this channel after close.
	defer func() {
		if err := s.node.CloseChannel(context.Background(), channelID); err != nil {
			s.logger.Debug("close live channel", "channel", channelID, "error", err)
		}
	}()

	errCh := make(chan error, 2)
	go func() {
		errCh <- wsConn.ReadLoop(ctx)
	}()
	go func() {
		errCh <- wsConn.WriteLoop(ctx)
	}()

	if err := <-errCh; err != nil {
		s.logger.DebugContext(ctx, "websocket closed", "channel", channelID, "error", err)
	}
	_ = wsConn.Close()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("request failed", "status", status, "error", err)
	http.Error(w, err.Error(), status)
}
