package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/leonletto/chatnode/internal/config"
	"github.com/leonletto/chatnode/internal/daemon"
	"github.com/leonletto/chatnode/internal/logging"
	"github.com/leonletto/chatnode/internal/websocket"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [NODE]",
		Short: "Run a chat node",
		Long: `Run a chat node until interrupted.

Configuration comes from --config, the env file and CHATNODE_* variables;
flags given here override both.

Examples:
  chatnode serve alice --peer bob=10.0.0.2:9100
  chatnode serve --config alice.yaml
  CHATNODE_NODE=bob CHATNODE_PEERS=alice=10.0.0.1:9100 chatnode serve`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(flagEnvFile); err != nil {
				return err
			}
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if err := applyServeFlags(cmd, args, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().String("http-addr", "", "Local HTTP/WebSocket listen address")
	cmd.Flags().String("peer-addr", "", "Peer channel listen address")
	cmd.Flags().StringArray("peer", nil, "Peer as name=host:port (repeatable)")
	cmd.Flags().Duration("forward-timeout", 0, "How long to wait for a peer to acknowledge")
	cmd.Flags().String("ui-dir", "", "Directory with a web UI to serve at /")
	cmd.Flags().String("pid-file", "", "PID file; a second node with the same file refuses to start")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn or error")
	cmd.Flags().String("log-format", "", "Log format: text or json")
	return cmd
}

// applyServeFlags overlays explicitly set flags onto cfg.
func applyServeFlags(cmd *cobra.Command, args []string, cfg *config.Config) error {
	if len(args) == 1 {
		cfg.Node = args[0]
	}

	flags := cmd.Flags()
	strFlags := map[string]*string{
		"http-addr":  &cfg.HTTPAddr,
		"peer-addr":  &cfg.PeerAddr,
		"ui-dir":     &cfg.UIDir,
		"pid-file":   &cfg.PIDFile,
		"log-level":  &cfg.LogLevel,
		"log-format": &cfg.LogFormat,
	}
	for name, dst := range strFlags {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}

	if flags.Changed("forward-timeout") {
		cfg.ForwardTimeout, _ = flags.GetDuration("forward-timeout")
	}

	if flags.Changed("peer") {
		specs, _ := flags.GetStringArray("peer")
		if cfg.Peers == nil {
			cfg.Peers = make(map[string]string)
		}
		for _, spec := range specs {
			peers, err := config.ParsePeers(spec)
			if err != nil {
				return fmt.Errorf("--peer %q: %w", spec, err)
			}
			for name, addr := range peers {
				cfg.Peers[name] = addr
			}
		}
	}
	return nil
}

func runServe(cfg config.Config) error {
	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, nil)
	if err != nil {
		return err
	}

	nodeOpts := []daemon.NodeOption{daemon.WithLogger(logger)}
	wsOpts := websocket.Options{
		UIDir:           cfg.UIDir,
		MaxRequestBytes: int64(cfg.MaxRequestBytes),
		Logger:          logger,
	}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		nodeOpts = append(nodeOpts, daemon.WithRegisterer(reg))
		wsOpts.Gatherer = reg
	}

	clients := websocket.NewClientRegistry()
	node, err := daemon.NewNode(cfg, clients, nodeOpts...)
	if err != nil {
		return err
	}
	httpServer := websocket.NewServer(cfg.HTTPAddr, node.Loop(), clients, wsOpts)

	logger.Info("starting node",
		"node", cfg.Node, "http_addr", cfg.HTTPAddr, "peer_addr", cfg.PeerAddr,
		"peers", config.FormatPeers(cfg.Peers), "version", Version)
	// Lifecycle traps SIGINT and SIGTERM itself.
	return daemon.NewLifecycle(node, httpServer, cfg.PIDFile, logger).Run(context.Background())
}
