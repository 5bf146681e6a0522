package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"tailscale.com/tsnet"

	"github.com/leonletto/chatnode/internal/config"
)

// TsnetListener wraps a tsnet server and its listener for peer connections.
// It is a net.Listener, and its Dial reaches other nodes on the same tailnet.
type TsnetListener struct {
	server   *tsnet.Server
	listener net.Listener
}

// NewTsnetServer creates a tsnet server and listener from the given config.
// The caller is responsible for calling Close() when done.
func NewTsnetServer(cfg config.TailscaleConfig) (*TsnetListener, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("tailscale is not enabled")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.StateDir != "" {
		if err := os.MkdirAll(cfg.StateDir, 0700); err != nil {
			return nil, fmt.Errorf("create tsnet state directory %s: %w", cfg.StateDir, err)
		}
	}

	srv := &tsnet.Server{
		Hostname: cfg.Hostname,
		AuthKey:  cfg.AuthKey,
		Dir:      cfg.StateDir,
	}

	// Set ControlURL for Headscale / self-hosted deployments
	if cfg.ControlURL != "" {
		srv.ControlURL = cfg.ControlURL
	}

	ln, err := srv.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("tsnet listen on :%d: %w", cfg.Port, err)
	}

	return &TsnetListener{
		server:   srv,
		listener: ln,
	}, nil
}

// Accept waits for and returns the next connection.
func (t *TsnetListener) Accept() (net.Conn, error) {
	return t.listener.Accept()
}

// Addr returns the listener's network address.
func (t *TsnetListener) Addr() net.Addr {
	return t.listener.Addr()
}

// Dial connects to addr through the tailnet.
func (t *TsnetListener) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	return t.server.Dial(ctx, network, addr)
}

// Close stops the tsnet server and listener.
func (t *TsnetListener) Close() error {
	lnErr := t.listener.Close()
	srvErr := t.server.Close()
	if lnErr != nil {
		return fmt.Errorf("close listener: %w", lnErr)
	}
	if srvErr != nil {
		return fmt.Errorf("close server: %w", srvErr)
	}
	return nil
}
