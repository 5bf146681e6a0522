// Package config loads node configuration from an optional file, a .env file
// and CHATNODE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/leonletto/chatnode/internal/identity"
	"github.com/leonletto/chatnode/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHATNODE"

// Config captures the node runtime parameters.
type Config struct {
	Node            string            `mapstructure:"node"`
	HTTPAddr        string            `mapstructure:"http_addr"`
	PeerAddr        string            `mapstructure:"peer_addr"`
	ForwardTimeout  time.Duration     `mapstructure:"forward_timeout"`
	MaxRequestBytes int               `mapstructure:"max_request_bytes"`
	LogLevel        string            `mapstructure:"log_level"`
	LogFormat       string            `mapstructure:"log_format"`
	UIDir           string            `mapstructure:"ui_dir"`
	PIDFile         string            `mapstructure:"pid_file"`
	Peers           map[string]string `mapstructure:"-"` // node name -> host:port
	RateLimit       RateLimitConfig   `mapstructure:"rate_limit"`
	Metrics         MetricsConfig     `mapstructure:"metrics"`
	Tailscale       TailscaleConfig   `mapstructure:"tailscale"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

const (
	defaultHTTPAddr        = "localhost:8080"
	defaultPeerAddr        = "localhost:9100"
	defaultForwardTimeout  = 5 * time.Second
	defaultMaxRequestBytes = 1 << 20
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
)

// LoadEnvFile loads KEY=value pairs from the given .env files (".env" when
// none are given) into the process environment. Missing files are ignored;
// variables already set are not overwritten.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with CHATNODE_ and override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("node", "")
	v.SetDefault("http_addr", defaultHTTPAddr)
	v.SetDefault("peer_addr", defaultPeerAddr)
	v.SetDefault("forward_timeout", defaultForwardTimeout.String())
	v.SetDefault("max_request_bytes", defaultMaxRequestBytes)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_format", defaultLogFormat)
	v.SetDefault("ui_dir", "")
	v.SetDefault("pid_file", "")
	v.SetDefault("peers", map[string]string{})
	v.SetDefault("metrics.enabled", true)
	setRateLimitDefaults(v)
	if err := bindTailscale(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	dur, err := time.ParseDuration(v.GetString("forward_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid forward_timeout: %w", err)
	}
	cfg.ForwardTimeout = dur

	// peers is a map in files and a "name=addr,..." string in the environment.
	peers, err := decodePeers(v.Get("peers"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid peers: %w", err)
	}
	cfg.Peers = peers

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if cfg.PeerAddr == "" {
		cfg.PeerAddr = defaultPeerAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}

	return cfg, nil
}

// Validate checks the configuration needed to run a node.
func (c *Config) Validate() error {
	if err := identity.ValidateNodeName(c.Node); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
		return fmt.Errorf("http_addr %q: %w", c.HTTPAddr, err)
	}
	if !c.Tailscale.Enabled {
		if _, _, err := net.SplitHostPort(c.PeerAddr); err != nil {
			return fmt.Errorf("peer_addr %q: %w", c.PeerAddr, err)
		}
	}
	if c.ForwardTimeout <= 0 {
		return fmt.Errorf("forward_timeout must be positive, got %v", c.ForwardTimeout)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}

	for name, addr := range c.Peers {
		if err := identity.ValidateNodeName(name); err != nil {
			return fmt.Errorf("peer: %w", err)
		}
		if name == c.Node {
			return fmt.Errorf("peer %q is this node", name)
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("peer %s address %q: %w", name, addr, err)
		}
	}

	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	return c.Tailscale.Validate()
}
