package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leonletto/chatnode/internal/archive"
	"github.com/leonletto/chatnode/internal/config"
	"github.com/leonletto/chatnode/internal/live"
	"github.com/leonletto/chatnode/internal/router"
	"github.com/leonletto/chatnode/internal/transport"
)

// limiterSweepInterval is how often idle per-peer limiters are dropped.
const limiterSweepInterval = time.Minute

// NodeOption configures a Node.
type NodeOption func(*nodeOptions)

type nodeOptions struct {
	registerer prometheus.Registerer
	logger     *slog.Logger
	dial       DialFunc
	listener   net.Listener
	queueSize  int
}

// WithRegisterer registers node metrics on reg instead of the default registerer.
func WithRegisterer(reg prometheus.Registerer) NodeOption {
	return func(o *nodeOptions) { o.registerer = reg }
}

// WithLogger sets the node logger.
func WithLogger(l *slog.Logger) NodeOption {
	return func(o *nodeOptions) { o.logger = l }
}

// WithDialer overrides how the node reaches its peers.
func WithDialer(dial DialFunc) NodeOption {
	return func(o *nodeOptions) { o.dial = dial }
}

// WithPeerListener serves the peer channel on ln instead of listening on
// the configured address.
func WithPeerListener(ln net.Listener) NodeOption {
	return func(o *nodeOptions) { o.listener = ln }
}

// WithQueueSize sets the event loop queue size.
func WithQueueSize(n int) NodeOption {
	return func(o *nodeOptions) { o.queueSize = n }
}

// Node is one chat node: its router, event loop and peer channel.
type Node struct {
	cfg       config.Config
	loop      *Loop
	peers     *PeerDirectory
	client    *PeerClient
	server    *PeerServer
	limiter   *PeerRateLimiter
	listener  net.Listener
	logger    *slog.Logger
	startedAt time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan error
}

// NewNode assembles a node from cfg. Live events are delivered through sender.
func NewNode(cfg config.Config, sender live.Sender, opts ...NodeOption) (*Node, error) {
	o := nodeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("node", cfg.Node)

	peers, err := NewPeerDirectory(cfg.Peers)
	if err != nil {
		return nil, err
	}

	var (
		routerMetrics *router.Metrics
		peerMetrics   *PeerMetrics
	)
	if cfg.Metrics.Enabled {
		routerMetrics = router.NewMetrics(o.registerer)
		peerMetrics = NewPeerMetrics(o.registerer)
	}

	client := NewPeerClient(cfg.Node, peers, peerMetrics, logger)
	client.SetDialer(o.dial)

	r := router.New(cfg.Node, archive.NewStore(), live.NewRegistry(sender), client,
		router.WithForwardTimeout(cfg.ForwardTimeout),
		router.WithMetrics(routerMetrics),
		router.WithLogger(logger),
	)
	loop := NewLoop(r, o.queueSize, logger)

	var limiter *PeerRateLimiter
	if cfg.RateLimit.Enabled {
		limiter = NewPeerRateLimiter(cfg.RateLimit)
	}

	startedAt := time.Now().UTC()
	peerTransport := transport.TransportPeer
	if cfg.Tailscale.Enabled {
		peerTransport = transport.TransportTailscale
	}
	server := NewPeerServer(loop, PeerServerOptions{
		Transport:    peerTransport,
		Limiter:      limiter,
		Metrics:      peerMetrics,
		Logger:       logger,
		MaxLineBytes: cfg.MaxRequestBytes,
		StartedAt:    startedAt,
	})

	return &Node{
		cfg:       cfg,
		loop:      loop,
		peers:     peers,
		client:    client,
		server:    server,
		limiter:   limiter,
		listener:  o.listener,
		logger:    logger,
		startedAt: startedAt,
	}, nil
}

// Start opens the peer channel and starts the event loop.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return errors.New("node already started")
	}

	ln := n.listener
	if ln == nil {
		var err error
		ln, err = n.listen()
		if err != nil {
			return err
		}
		n.listener = ln
	}

	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.loopDone = make(chan error, 1)

	go func() {
		n.loopDone <- n.loop.Run(ctx)
	}()
	go func() {
		if err := n.server.Serve(ctx, ln); err != nil {
			n.logger.ErrorContext(ctx, "peer channel stopped", "error", err)
		}
	}()
	if n.limiter != nil {
		go n.sweepLimiters(ctx)
	}
	go n.ProbePeers(ctx)

	n.logger.InfoContext(ctx, "node started",
		"peer_addr", ln.Addr().String(), "peers", n.peers.Len(), "forward_timeout", n.cfg.ForwardTimeout)
	return nil
}

func (n *Node) listen() (net.Listener, error) {
	if n.cfg.Tailscale.Enabled {
		ts, err := NewTsnetServer(n.cfg.Tailscale)
		if err != nil {
			return nil, fmt.Errorf("start tailscale: %w", err)
		}
		n.client.SetDialer(ts.Dial)
		return ts, nil
	}

	ln, err := net.Listen("tcp", n.cfg.PeerAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", n.cfg.PeerAddr, err)
	}
	return ln, nil
}

// Stop closes the peer channel and stops the event loop.
func (n *Node) Stop() error {
	n.mu.Lock()
	cancel := n.cancel
	done := n.loopDone
	n.mu.Unlock()
	if cancel == nil {
		return nil
	}

	err := n.server.Stop()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		n.logger.Warn("timed out waiting for event loop to stop")
	}
	return err
}

// ProbePeers asks every known peer for node.info and logs who answered.
func (n *Node) ProbePeers(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for _, p := range n.peers.List() {
		info, err := n.client.NodeInfo(ctx, p.Address)
		if err == nil && info.Node != p.Name {
			err = fmt.Errorf("%s answers as %q", p.Address, info.Node)
		}
		results[p.Name] = err
		if err != nil {
			n.logger.WarnContext(ctx, "peer unreachable", "peer", p.Name, "addr", p.Address, "error", err)
			continue
		}
		n.logger.InfoContext(ctx, "peer reachable", "peer", p.Name, "addr", p.Address, "since", info.StartedAt)
	}
	return results
}

func (n *Node) sweepLimiters(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := n.limiter.CleanupStale(10 * limiterSweepInterval); removed > 0 {
				n.logger.DebugContext(ctx, "dropped idle peer limiters", "count", removed)
			}
		}
	}
}

// Name returns the node name.
func (n *Node) Name() string { return n.cfg.Node }

// Loop returns the node's event loop.
func (n *Node) Loop() *Loop { return n.loop }

// Peers returns the node's peer directory.
func (n *Node) Peers() *PeerDirectory { return n.peers }

// Client returns the node's peer client.
func (n *Node) Client() *PeerClient { return n.client }

// StartedAt returns when the node was created.
func (n *Node) StartedAt() time.Time { return n.startedAt }

// PeerAddr returns the bound peer-channel address, or nil before Start.
func (n *Node) PeerAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}
