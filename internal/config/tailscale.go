package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// DefaultTailscalePort is the default port for the tsnet peer listener.
const DefaultTailscalePort = 9100

// DefaultTailscaleStateDir is where tsnet keeps its state when none is configured.
const DefaultTailscaleStateDir = ".chatnode/tsnet"

// TailscaleConfig holds configuration for the Tailscale tsnet peer listener.
type TailscaleConfig struct {
	Enabled    bool   `mapstructure:"enabled"`     // Whether the tailnet listener is used
	Hostname   string `mapstructure:"hostname"`    // tsnet hostname (e.g., "chatnode-alice")
	Port       int    `mapstructure:"port"`        // Peer listener port (default 9100)
	StateDir   string `mapstructure:"state_dir"`   // Directory for tsnet state persistence
	AuthKey    string `mapstructure:"auth_key"`    // Tailscale auth key
	ControlURL string `mapstructure:"control_url"` // Control plane URL (empty = Tailscale SaaS; set for Headscale)
}

// tailscaleEnv maps config keys to their short environment names.
//
// Environment variables:
//   - CHATNODE_TS_ENABLED: "true"/"1" to enable (default: false)
//   - CHATNODE_TS_HOSTNAME: tsnet hostname (required when enabled)
//   - CHATNODE_TS_PORT: listener port (default: 9100)
//   - CHATNODE_TS_AUTHKEY: Tailscale auth key (required when enabled)
//   - CHATNODE_TS_STATE_DIR: state directory (default: .chatnode/tsnet)
//   - CHATNODE_TS_CONTROL_URL: control plane URL (optional, for Headscale)
var tailscaleEnv = map[string]string{
	"tailscale.enabled":     "CHATNODE_TS_ENABLED",
	"tailscale.hostname":    "CHATNODE_TS_HOSTNAME",
	"tailscale.port":        "CHATNODE_TS_PORT",
	"tailscale.auth_key":    "CHATNODE_TS_AUTHKEY",
	"tailscale.state_dir":   "CHATNODE_TS_STATE_DIR",
	"tailscale.control_url": "CHATNODE_TS_CONTROL_URL",
}

func bindTailscale(v *viper.Viper) error {
	v.SetDefault("tailscale.enabled", false)
	v.SetDefault("tailscale.hostname", "")
	v.SetDefault("tailscale.port", DefaultTailscalePort)
	v.SetDefault("tailscale.state_dir", DefaultTailscaleStateDir)
	v.SetDefault("tailscale.auth_key", "")
	v.SetDefault("tailscale.control_url", "")

	for key, env := range tailscaleEnv {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

// Validate checks that the configuration is valid when enabled.
// Returns nil if disabled or valid.
func (c *TailscaleConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Hostname == "" {
		return fmt.Errorf("CHATNODE_TS_HOSTNAME is required when Tailscale is enabled")
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("CHATNODE_TS_PORT must be between 1 and 65535, got %d", c.Port)
	}

	if c.AuthKey == "" {
		return fmt.Errorf("CHATNODE_TS_AUTHKEY is required when Tailscale is enabled")
	}

	return nil
}
