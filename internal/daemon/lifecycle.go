package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// HTTPServer is the local client surface. It is an interface to avoid an
// import cycle with the websocket package.
type HTTPServer interface {
	Start(ctx context.Context) error
	Stop() error
	Addr() string
}

// Lifecycle runs a node and its HTTP surface until a signal or Shutdown.
type Lifecycle struct {
	node         *Node
	httpServer   HTTPServer
	pidFile      string
	logger       *slog.Logger
	signals      chan os.Signal
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycle creates a new lifecycle manager.
// HTTPServer and pidFile are optional - pass nil and "" to skip them.
func NewLifecycle(node *Node, httpServer HTTPServer, pidFile string, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		node:       node,
		httpServer: httpServer,
		pidFile:    pidFile,
		logger:     logger.With("component", "lifecycle"),
		signals:    make(chan os.Signal, 1),
		shutdownCh: make(chan struct{}),
	}
}

// Run starts everything and blocks until SIGINT, SIGTERM, Shutdown or the
// end of ctx. It is the only place the node traps signals.
func (l *Lifecycle) Run(ctx context.Context) error {
	if l.pidFile != "" {
		// The lock outlives crashes that leave a stale PID file behind.
		lock, err := AcquireLock(l.pidFile + ".lock")
		if err != nil {
			return fmt.Errorf("failed to acquire node lock: %w", err)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				l.logger.Warn("failed to release lock", "error", err)
			}
		}()

		running, existing, err := CheckPIDFile(l.pidFile)
		if err != nil {
			// Corrupt or unreadable PID file: overwrite it.
			l.logger.Warn("failed to read existing PID file", "path", l.pidFile, "error", err)
		} else if running {
			return fmt.Errorf("node %q already running (PID %d)", existing.Node, existing.PID)
		}

		info := PIDInfo{
			PID:       os.Getpid(),
			Node:      l.node.Name(),
			PeerAddr:  l.node.cfg.PeerAddr,
			StartedAt: l.node.StartedAt(),
		}
		if l.httpServer != nil {
			info.HTTPAddr = l.httpServer.Addr()
		}
		if err := WritePIDFile(l.pidFile, info); err != nil {
			return err
		}
		defer func() {
			if err := RemovePIDFile(l.pidFile); err != nil {
				l.logger.Warn("failed to remove PID file", "error", err)
			}
		}()
	}

	if err := l.node.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	if l.httpServer != nil {
		if err := l.httpServer.Start(ctx); err != nil {
			_ = l.node.Stop()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	signal.Notify(l.signals, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(l.signals)
	go l.handleSignals(ctx)

	select {
	case <-l.shutdownCh:
	case <-ctx.Done():
	}

	return l.shutdown()
}

// handleSignals listens for OS signals and triggers shutdown.
func (l *Lifecycle) handleSignals(ctx context.Context) {
	select {
	case sig := <-l.signals:
		l.logger.Info("received signal, shutting down", "signal", sig.String())
		l.Shutdown()
	case <-l.shutdownCh:
	case <-ctx.Done():
	}
}

// shutdown stops the HTTP surface first so no new commands arrive, then the node.
func (l *Lifecycle) shutdown() error {
	l.logger.Info("starting graceful shutdown")

	var firstErr error
	if l.httpServer != nil {
		if err := l.httpServer.Stop(); err != nil {
			l.logger.Error("error stopping HTTP server", "error", err)
			firstErr = err
		}
	}

	if err := l.node.Stop(); err != nil {
		l.logger.Error("error stopping node", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	l.logger.Info("graceful shutdown complete")
	return firstErr
}

// Shutdown triggers a graceful shutdown (can be called programmatically).
func (l *Lifecycle) Shutdown() {
	l.shutdownOnce.Do(func() {
		close(l.shutdownCh)
	})
}
